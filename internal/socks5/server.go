package socks5

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/socks5/internal/logging"
	"github.com/postalsys/socks5/internal/recovery"
)

// ServerConfig holds the listener's tunable behavior. There is no config
// file or environment variable binding for any of this: callers (the
// socks5-server command, or a test) build one of these directly.
type ServerConfig struct {
	// Address to listen on, e.g. "127.0.0.1:4242".
	Address string

	// MaxConnections limits concurrent sessions; 0 means unlimited.
	MaxConnections int

	// IdleTimeout bounds how long the greeting/auth/request handshake may
	// take before the conn deadline expires. It is cleared before a
	// session enters its relay loop, so an established CONNECT or BIND
	// relay runs with no timeout regardless of this value -- per spec,
	// the core enforces none once a connection is actually relaying.
	// 0 disables the handshake deadline entirely.
	IdleTimeout time.Duration

	// Dialer makes the outbound connection for CONNECT requests.
	Dialer Dialer

	// Binder opens the passive listener for BIND requests.
	Binder Binder

	// Logger receives per-session diagnostics. Defaults to a no-op
	// logger if nil.
	Logger *slog.Logger
}

// DefaultServerConfig returns the baseline a bare socks5-server invocation
// starts from.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        "127.0.0.1:4242",
		MaxConnections: 1000,
		IdleTimeout:    5 * time.Minute,
		Dialer:         DirectDialer{},
		Binder:         DirectBinder{},
		Logger:         logging.NopLogger(),
	}
}

// Server is a SOCKS5 proxy server: one listener, one session per accepted
// connection, per spec.md section 5.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	tracker  *connTracker[net.Conn]

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server from cfg, filling in DefaultServerConfig's
// values for any zero fields that must not be nil.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Dialer == nil {
		cfg.Dialer = DirectDialer{}
	}
	if cfg.Binder == nil {
		cfg.Binder = DirectBinder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	return &Server{
		cfg:     cfg,
		tracker: newConnTracker[net.Conn](),
		stopCh:  make(chan struct{}),
	}
}

// Start opens the listener and begins accepting. It returns once the
// listener is up; Accept runs in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("socks5: server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("socks5: listen: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every tracked session, then waits for the
// accept loop and in-flight sessions to unwind.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)

		if s.listener != nil {
			err = s.listener.Close()
		}
		s.tracker.closeAll()
	})

	s.wg.Wait()
	return err
}

// StopWithContext stops the server, giving up and returning ctx.Err() if
// ctx expires before shutdown finishes.
func (s *Server) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Address returns the listening address, or nil before Start.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of sessions currently in flight.
func (s *Server) ConnectionCount() int64 {
	return s.tracker.count()
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// acceptLoop accepts connections until the listener is closed.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.cfg.Logger.Warn("accept failed", "error", err)
				continue
			}
		}

		if s.cfg.MaxConnections > 0 && s.tracker.count() >= int64(s.cfg.MaxConnections) {
			conn.Close()
			continue
		}

		s.tracker.add(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn drives a single accepted connection through a session and
// guarantees its bookkeeping unwinds even if the session panics.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.tracker.remove(conn)
	defer conn.Close()
	defer recovery.RecoverWithLog(s.cfg.Logger, "socks5.session")

	if s.cfg.IdleTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}

	serve(conn, s.cfg.Dialer, s.cfg.Binder, s.cfg.Logger)
}

// WithDialer returns a copy of cfg using dialer for CONNECT requests.
func (cfg ServerConfig) WithDialer(dialer Dialer) ServerConfig {
	cfg.Dialer = dialer
	return cfg
}

// WithBinder returns a copy of cfg using binder for BIND requests.
func (cfg ServerConfig) WithBinder(binder Binder) ServerConfig {
	cfg.Binder = binder
	return cfg
}

// WithMaxConnections returns a copy of cfg capped at max concurrent
// sessions.
func (cfg ServerConfig) WithMaxConnections(max int) ServerConfig {
	cfg.MaxConnections = max
	return cfg
}

// WithLogger returns a copy of cfg logging through logger.
func (cfg ServerConfig) WithLogger(logger *slog.Logger) ServerConfig {
	cfg.Logger = logger
	return cfg
}
