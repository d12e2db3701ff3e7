package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/katakate/k7/pkg/sandbox"
)

var outputFormat string

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, or yaml")
}

func printResult(v any, tableFn func()) {
	switch outputFormat {
	case "json":
		raw, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(raw))
	case "yaml":
		raw, _ := yaml.Marshal(v)
		fmt.Print(string(raw))
	default:
		tableFn()
	}
}

var specFile string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sandbox from a spec file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if specFile == "" {
			return fmt.Errorf("-f/--file is required")
		}
		spec, err := sandbox.LoadSpecYAML(hostFS, specFile)
		if err != nil {
			return err
		}

		var envVars map[string]string
		if spec.EnvFile != "" {
			envVars, err = sandbox.ParseEnvFile(hostFS, spec.EnvFile)
			if err != nil {
				return err
			}
		}

		sink := sandbox.ProgressSinkFunc(func(e sandbox.ProgressEvent) {
			klog.V(1).InfoS("sandbox progress", "stage", e.Stage, "status", e.Status, "message", e.Message)
		})

		info, err := newController().CreateSandboxWithEnv(cmd.Context(), spec, envVars, sink)
		if err != nil {
			return err
		}
		printResult(info, func() {
			fmt.Printf("sandbox %q created in namespace %q (status: %s)\n", info.Name, info.Namespace, info.Status)
		})
		return nil
	},
}

var listNamespace string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sandboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := sandbox.ListSandboxes(cmd.Context(), newGateway(), listNamespace)
		if err != nil {
			return err
		}
		printResult(infos, func() {
			fmt.Printf("%-20s %-12s %-10s %-6s %s\n", "NAME", "NAMESPACE", "STATUS", "READY", "IMAGE")
			for _, i := range infos {
				fmt.Printf("%-20s %-12s %-10s %-6s %s\n", i.Name, i.Namespace, i.Status, i.Ready, i.Image)
			}
		})
		return nil
	},
}

var getNamespace string

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Get a single sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := sandbox.ListSandboxes(cmd.Context(), newGateway(), getNamespace)
		if err != nil {
			return err
		}
		for _, i := range infos {
			if i.Name == args[0] {
				printResult(i, func() {
					fmt.Printf("%s\t%s\t%s\t%s\n", i.Name, i.Namespace, i.Status, i.Image)
				})
				return nil
			}
		}
		return &sandbox.NotFoundError{Kind: "Sandbox", Name: args[0]}
	},
}

var deleteNamespace string

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newController().DeleteSandbox(cmd.Context(), deleteNamespace, args[0]); err != nil {
			return err
		}
		fmt.Printf("sandbox %q deleted\n", args[0])
		return nil
	},
}

var deleteAllNamespace string

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every sandbox in a namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		reports, err := newController().DeleteAllSandboxes(cmd.Context(), deleteAllNamespace)
		if err != nil {
			return err
		}
		printResult(reports, func() {
			for _, r := range reports {
				status := "ok"
				if !r.Success {
					status = "failed: " + r.Error
				}
				fmt.Printf("%-20s %s\n", r.Name, status)
			}
		})
		return nil
	},
}

var execNamespace string

var execCmd = &cobra.Command{
	Use:   "exec <name> -- <command...>",
	Short: "Run a command inside a sandbox",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		command := []string{"/bin/sh", "-c", strings.Join(args[1:], " ")}
		result, err := sandbox.Exec(context.Background(), newGateway(), execNamespace, name, command)
		if err != nil {
			return err
		}
		fmt.Print(result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		os.Exit(result.ExitCode)
		return nil
	},
}

var metricsNamespace string

var metricsCmd = &cobra.Command{
	Use:   "metrics [name]",
	Short: "Show live resource usage for sandboxes with a Running pod",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := sandbox.GetMetrics(cmd.Context(), newGateway(), metricsNamespace)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			for _, m := range all {
				if m.Name == args[0] {
					printResult(m, func() {
						fmt.Printf("cpu: %s  memory: %s\n", m.CPUUsage, m.MemoryUsage)
					})
					return nil
				}
			}
			return &sandbox.NotFoundError{Kind: "Sandbox", Name: args[0]}
		}

		printResult(all, func() {
			fmt.Printf("%-20s %-12s %-10s %s\n", "NAME", "NAMESPACE", "CPU", "MEMORY")
			for _, m := range all {
				fmt.Printf("%-20s %-12s %-10s %s\n", m.Name, m.Namespace, m.CPUUsage, m.MemoryUsage)
			}
		})
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&specFile, "file", "f", "", "Path to a sandbox spec YAML file")
	addOutputFlag(createCmd)

	listCmd.Flags().StringVar(&listNamespace, "namespace", "", "Namespace to list (all namespaces if empty)")
	addOutputFlag(listCmd)

	getCmd.Flags().StringVar(&getNamespace, "namespace", "default", "Sandbox namespace")
	addOutputFlag(getCmd)

	deleteCmd.Flags().StringVar(&deleteNamespace, "namespace", "default", "Sandbox namespace")

	deleteAllCmd.Flags().StringVar(&deleteAllNamespace, "namespace", "default", "Namespace to clear")
	addOutputFlag(deleteAllCmd)

	execCmd.Flags().StringVar(&execNamespace, "namespace", "default", "Sandbox namespace")

	metricsCmd.Flags().StringVar(&metricsNamespace, "namespace", "default", "Sandbox namespace")
	addOutputFlag(metricsCmd)
}
