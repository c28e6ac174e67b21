// Command streamrpc runs a demo peer that serves and calls Adder over tcp,
// websocket or libp2p.
//
//	streamrpc serve --transport ws --listen :7070
//	streamrpc call add 5 3 --transport ws --dial ws://127.0.0.1:7070/rpc
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jibuji/go-stream-rpc/config"
	"github.com/spf13/cobra"
)

var (
	configFile    string
	transportKind string
	listenAddr    string
	dialAddr      string
	logLevel      string
	metricsAddr   string
	keepAlive     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "streamrpc",
	Short:         "Symmetric RPC peer over tcp, websocket or libp2p",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "JSON configuration file")
	flags.StringVarP(&transportKind, "transport", "t", "", "transport: tcp, ws or libp2p")
	flags.StringVar(&listenAddr, "listen", "", "listen address (host:port, or multiaddr for libp2p)")
	flags.StringVar(&dialAddr, "dial", "", "remote address (host:port, ws:// URL, or multiaddr with /p2p/<id>)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	flags.DurationVar(&keepAlive, "keep-alive", 0, "tcp keepalive / websocket ping interval")

	rootCmd.AddCommand(serveCmd, callCmd)
}

// loadConfig reads the config file, if any, and applies flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if flags.Changed("listen") {
		cfg.Transport.Listen = listenAddr
	}
	if flags.Changed("dial") {
		cfg.Transport.Dial = dialAddr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Listen = metricsAddr
	}
	if flags.Changed("keep-alive") {
		cfg.Transport.KeepAlive = config.Duration(keepAlive)
	}
	return cfg, cfg.Validate()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
