package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/katakate/k7/pkg/cluster"
	"github.com/katakate/k7/pkg/sandbox"
)

var portForwardNamespace string

var portForwardCmd = &cobra.Command{
	Use:   "port-forward <name> <localPort>:<podPort>",
	Short: "Forward a local port to a sandbox's pod",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, portSpec := args[0], args[1]
		gw := newGateway()

		pods, err := gw.ListPods(context.Background(), portForwardNamespace, "katakate.org/sandbox="+name)
		if err != nil {
			return err
		}
		if len(pods.Items) == 0 {
			return &sandbox.NotFoundError{Kind: "Sandbox pod", Name: name}
		}

		forwarder, ok := gw.(cluster.PortForwarder)
		if !ok {
			return fmt.Errorf("gateway does not support port-forward")
		}

		stopChan := make(chan struct{})
		readyChan := make(chan struct{})
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			close(stopChan)
		}()

		go func() {
			<-readyChan
			klog.V(0).Infof("forwarding %s to sandbox %s", portSpec, name)
		}()

		return forwarder.PortForward(cluster.PortForwardOptions{
			Namespace: portForwardNamespace,
			PodName:   pods.Items[0].Name,
			Ports:     []string{portSpec},
			ReadyChan: readyChan,
			StopChan:  stopChan,
			Out:       os.Stdout,
			ErrOut:    os.Stderr,
		})
	},
}

func init() {
	portForwardCmd.Flags().StringVar(&portForwardNamespace, "namespace", "default", "Sandbox namespace")
}
