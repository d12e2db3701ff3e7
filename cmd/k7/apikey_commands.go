package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/katakate/k7/pkg/apiserver"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys for the k7 HTTP control API",
}

var apikeyStorePath string
var apikeyTTL time.Duration

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Mint a new API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := apiserver.NewKeyStore(hostFS, apikeyStorePath)
		token, err := store.Create(args[0], apikeyTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := apiserver.NewKeyStore(hostFS, apikeyStorePath)
		records, err := store.List()
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%-20s created=%d last_used=%d\n", r.Name, r.CreatedAt, r.LastUsed)
		}
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <name>",
	Short: "Revoke every API key issued under a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := apiserver.NewKeyStore(hostFS, apikeyStorePath)
		n, err := store.Revoke(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("revoked %d key(s)\n", n)
		return nil
	},
}

func init() {
	apikeyCmd.PersistentFlags().StringVar(&apikeyStorePath, "store", apiserver.DefaultKeyStorePath, "Path to the API key store file")
	apikeyCreateCmd.Flags().DurationVar(&apikeyTTL, "ttl", 0, "Key lifetime (0 = never expires)")
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)
}
