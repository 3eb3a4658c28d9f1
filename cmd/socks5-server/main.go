// Package main provides the socks5-server CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/socks5/internal/logging"
	"github.com/postalsys/socks5/internal/socks5"
)

func main() {
	var logLevel string
	var logFormat string
	var maxConnections int
	var idleTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "socks5-server [address]",
		Short: "Run a standalone SOCKS5 proxy server",
		Long: `socks5-server listens for SOCKS5 connections and relays CONNECT and
BIND requests to their destinations, per RFC 1928.

The listen address is the only positional argument; there is no config
file or environment variable support. Defaults to 127.0.0.1:4242.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := "127.0.0.1:4242"
			if len(args) == 1 {
				addr = args[0]
			}

			logger := logging.NewLogger(logLevel, logFormat)

			cfg := socks5.DefaultServerConfig().
				WithMaxConnections(maxConnections).
				WithLogger(logger)
			cfg.Address = addr
			cfg.IdleTimeout = idleTimeout

			srv := socks5.NewServer(cfg)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			fmt.Printf("socks5-server listening on %s\n", srv.Address())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			fmt.Printf("\nreceived signal %v, shutting down...\n", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.StopWithContext(ctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			fmt.Println("socks5-server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&logLevel, "log-level", "v", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format: text, json")
	cmd.Flags().IntVar(&maxConnections, "max-connections", 1000, "maximum concurrent sessions (0 = unlimited)")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 5*time.Minute, "handshake timeout, not applied once relaying (0 disables)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
