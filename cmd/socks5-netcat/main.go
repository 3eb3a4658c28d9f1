// Package main provides the socks5-netcat CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/socks5/internal/socks5"
)

func main() {
	cmd := &cobra.Command{
		Use:          "socks5-netcat SERVER_ADDR DEST_HOST DEST_PORT",
		Short:        "netcat-style stdin/stdout tunnel through a SOCKS5 CONNECT",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], args[2])
		},
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run is the same tunnel as socks5-client, but takes the destination host
// and port as separate arguments rather than a combined host:port string.
func run(serverAddr, destHost, destPortStr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	destPort, err := strconv.ParseUint(destPortStr, 10, 16)
	if err != nil {
		return fmt.Errorf("parse dest port %q: %w", destPortStr, err)
	}

	conn, err := socks5.Dial(ctx, serverAddr, socks5.ConnectRequest{
		DestAddr:         destHost,
		DestPort:         uint16(destPort),
		SupportedMethods: []socks5.AuthMethod{socks5.NoAuth},
	})
	if err != nil {
		return fmt.Errorf("connect via %s: %w", serverAddr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, os.Stdin)
		if hc, ok := conn.(interface{ CloseWrite() error }); ok {
			hc.CloseWrite()
		}
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, conn)
		errCh <- err
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil && !isClosedErr(err) {
			firstErr = err
		}
	}
	return firstErr
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
