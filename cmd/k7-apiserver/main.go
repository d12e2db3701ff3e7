package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	"github.com/katakate/k7/pkg/apiserver"
	"github.com/katakate/k7/pkg/cluster"
)

var rootCmd = &cobra.Command{
	Use:   "k7-apiserver [options]",
	Short: "HTTP control API for k7 sandboxes",
	Run: func(cmd *cobra.Command, args []string) {
		initLogging()

		hc := apiserver.NewHealthChecker()
		gw := cluster.NewGateway(viper.GetString("kubeconfig"))
		keyStorePath := viper.GetString("api-keys-file")
		if keyStorePath == "" {
			keyStorePath = apiserver.DefaultKeyStorePath
		}

		srv := apiserver.NewServer(gw, afero.NewOsFs(), keyStorePath, hc)

		addr := fmt.Sprintf(":%d", viper.GetInt("port"))
		httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			klog.V(0).Infof("k7-apiserver listening on %s", addr)
			hc.SetReady(true)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		select {
		case sig := <-sigChan:
			klog.V(0).Infof("received signal %v, shutting down", sig)
			hc.SetReady(false)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				klog.Errorf("error during shutdown: %v", err)
			}
		case err := <-errChan:
			klog.Errorf("server error: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	rootCmd.Flags().IntP("log-level", "", 2, "Set the log level (from 0 to 9)")
	rootCmd.Flags().String("kubeconfig", "", "Path to a kubeconfig file; defaults to the k3s/in-cluster/$KUBECONFIG cascade")
	rootCmd.Flags().String("api-keys-file", "", "Path to the API key store (defaults to /etc/k7/api_keys.json)")
	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindEnv("api-keys-file", "K7_API_KEYS_FILE")
}

func initLogging() {
	logLevel := viper.GetInt("log-level")
	if logLevel < 0 {
		logLevel = 2
	}
	config := textlogger.NewConfig(
		textlogger.Output(os.Stdout),
		textlogger.Verbosity(logLevel),
	)
	klog.SetLoggerWithOptions(textlogger.NewLogger(config))

	flagSet := flag.NewFlagSet("k7-apiserver", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	if err := flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)}); err != nil {
		fmt.Fprintf(os.Stdout, "error parsing log level: %v\n", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
