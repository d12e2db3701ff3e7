package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	"github.com/katakate/k7/pkg/cluster"
	"github.com/katakate/k7/pkg/sandbox"
	"github.com/katakate/k7/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "k7 [command] [options]",
	Short: "k7 sandbox lifecycle controller CLI",
	Long: `
k7 manages short-lived, VM-isolated (kata) Kubernetes sandboxes.

  # show this help
  k7 -h

  # shows version information
  k7 --version

  # create a sandbox from a spec file
  k7 create -f sandbox.yaml

  # list sandboxes in a namespace
  k7 list --namespace default

  # delete a sandbox
  k7 delete myname --namespace default`,
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("version") {
			fmt.Println(version.Version)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print version information and quit")
	rootCmd.PersistentFlags().IntP("log-level", "", 2, "Set the log level (from 0 to 9)")
	rootCmd.PersistentFlags().StringP("kubeconfig", "", "", "Path to a kubeconfig file; defaults to the k3s/in-cluster/$KUBECONFIG cascade")
	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(createCmd, listCmd, getCmd, deleteCmd, deleteAllCmd, execCmd, metricsCmd, portForwardCmd, apikeyCmd)
}

func Execute() {
	cobra.OnInitialize(initLogging)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging() {
	logLevel := viper.GetInt("log-level")
	if logLevel < 0 {
		logLevel = 2
	}

	config := textlogger.NewConfig(
		textlogger.Output(os.Stderr),
		textlogger.Verbosity(logLevel),
	)
	klog.SetLoggerWithOptions(textlogger.NewLogger(config))

	flagSet := flag.NewFlagSet("k7", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	if err := flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)}); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing log level: %v\n", err)
	}
}

func newGateway() cluster.Gateway {
	return cluster.NewGateway(viper.GetString("kubeconfig"))
}

func newController() *sandbox.Controller {
	return sandbox.NewController(newGateway())
}

var hostFS = afero.NewOsFs()
