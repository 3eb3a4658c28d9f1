// Package main provides the socks5-client CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
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
		Use:          "socks5-client SERVER_ADDR DEST_ADDR",
		Short:        "Tunnel stdin/stdout through a SOCKS5 CONNECT",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1])
		},
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run dials serverAddr, asks it to CONNECT to destAddr (host:port), and
// then pipes stdin to the tunnel and the tunnel to stdout until either
// side closes or a SIGINT/SIGTERM arrives.
func run(serverAddr, destAddr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	host, portStr, err := net.SplitHostPort(destAddr)
	if err != nil {
		return fmt.Errorf("parse dest addr %q: %w", destAddr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("parse dest port %q: %w", portStr, err)
	}

	conn, err := socks5.Dial(ctx, serverAddr, socks5.ConnectRequest{
		DestAddr: host,
		DestPort: uint16(port),
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
