package socks5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/postalsys/socks5/internal/logging"
)

// Dialer makes outbound TCP connections on behalf of CONNECT requests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DirectDialer dials destinations directly using the host's resolver and
// network stack.
type DirectDialer struct{}

// DialContext implements Dialer.
func (DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// Binder opens passive listeners on behalf of BIND requests.
type Binder interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

// DirectBinder opens listeners directly on the host network stack.
type DirectBinder struct{}

// Listen implements Binder.
func (DirectBinder) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, network, address)
}

// session drives one accepted connection through
// AwaitGreeting -> ChooseAuth -> AwaitRequest -> ServeRequest -> Terminal.
type session struct {
	conn   net.Conn
	dialer Dialer
	binder Binder
	logger *slog.Logger
	remote string
}

// serve runs the session to completion. It returns nothing: handshake and
// relay errors are logged and end this session only. serve does not
// recover panics itself; Server.handleConn does that around it.
func serve(conn net.Conn, dialer Dialer, binder Binder, logger *slog.Logger) {
	s := &session{
		conn:   conn,
		dialer: dialer,
		binder: binder,
		logger: logger,
		remote: conn.RemoteAddr().String(),
	}
	if err := s.run(); err != nil {
		s.logFailure(err)
	}
}

func (s *session) run() error {
	greeting, err := DecodeGreeting(s.conn)
	if err != nil {
		// AwaitGreeting: parse error or EOF is terminal. RFC 1928 has no
		// "malformed greeting" reply of its own, so the no-acceptable-method
		// choice is written on a best-effort basis (a peer that already
		// hung up will not read it) before the session closes.
		EncodeAuthChoice(s.conn, ServerAuthChoice{Chosen: NoAcceptable})
		return fmt.Errorf("await greeting: %w", err)
	}

	// ChooseAuth: NoAuth if offered, else refuse and close.
	if !offered(greeting.Methods, NoAuth) {
		EncodeAuthChoice(s.conn, ServerAuthChoice{Chosen: NoAcceptable})
		return ErrAuthNegotiationFailed
	}
	if err := EncodeAuthChoice(s.conn, ServerAuthChoice{Chosen: NoAuth}); err != nil {
		return fmt.Errorf("send auth choice: %w", err)
	}

	req, err := DecodeRequest(s.conn)
	if err != nil {
		s.replyFailure(StatusGeneralFailure)
		return fmt.Errorf("await request: %w", err)
	}

	switch req.Cmd {
	case CmdConnect:
		return s.serveConnect(req)
	case CmdBind:
		return s.serveBind(req)
	default:
		s.replyFailure(StatusCommandNotSupported)
		return fmt.Errorf("%w: command 0x%02x", ErrUnsupportedCommand, byte(req.Cmd))
	}
}

// serveConnect implements the CONNECT path of spec.md section 4.3: dial
// the destination, reply, and relay.
func (s *session) serveConnect(req ClientRequest) error {
	target := net.JoinHostPort(req.DestAddr.Network(), strconv.Itoa(int(req.DestPort)))

	targetConn, err := s.dialer.DialContext(context.Background(), "tcp", target)
	if err != nil {
		status := mapDialError(err)
		s.replyFailure(status)
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer targetConn.Close()

	if err := EncodeReply(s.conn, ServerReply{Status: StatusSuccess}); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	// The handshake deadline (if any) only bounds AwaitGreeting/AwaitRequest;
	// a relay has no business being killed mid-transfer just because it
	// outlives that window, so it's cleared before the copy loop starts.
	s.conn.SetDeadline(time.Time{})

	sent, recv, err := relayConn(s.conn, targetConn)
	s.logger.Debug("relay finished",
		logging.KeyRemoteAddr, s.remote,
		logging.KeyDestAddr, target,
		logging.KeyBytesSent, humanize.Bytes(uint64(sent)),
		logging.KeyBytesRecv, humanize.Bytes(uint64(recv)),
	)
	return err
}

// replyFailure writes a ServerReply with the IPv4 0.0.0.0:0 sentinel
// address, the "implementation-defined sentinel" spec.md permits for
// non-success replies.
func (s *session) replyFailure(status Status) {
	EncodeReply(s.conn, ServerReply{Status: status})
}

func (s *session) logFailure(err error) {
	var protoErr *ProtocolError
	switch {
	case errors.Is(err, ErrShortRead):
		s.logger.Debug("session ended", logging.KeyRemoteAddr, s.remote, logging.KeyError, err)
	case errors.Is(err, ErrAuthNegotiationFailed), errors.As(err, &protoErr):
		s.logger.Warn("session rejected", logging.KeyRemoteAddr, s.remote, logging.KeyError, err)
	default:
		s.logger.Warn("session failed", logging.KeyRemoteAddr, s.remote, logging.KeyError, err)
	}
}

// mapDialError maps a dial failure to the SOCKS5 reply status whose
// meaning is closest, per spec.md section 4.3: only the three errno
// classes below and a DNS lookup failure get their own status. A connect
// timeout is none of these (it is not host/network-unreachable or
// TTL-expired), so it falls through to StatusGeneralFailure along with
// everything else.
func mapDialError(err error) Status {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return StatusConnectionRefused
	case errors.Is(err, syscall.EHOSTUNREACH):
		return StatusHostUnreachable
	case errors.Is(err, syscall.ENETUNREACH):
		return StatusNetworkUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusHostUnreachable
	}
	return StatusGeneralFailure
}
