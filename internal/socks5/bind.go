package socks5

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/postalsys/socks5/internal/logging"
)

// serveBind implements the secondary BIND path (spec.md section 4.4, RFC
// 1928 section 6): open a passive listener on the requested host with an
// OS-assigned port (the requested port is not used), report its bound
// address, wait for exactly one inbound connection,
// report the peer's address, then relay.
//
// This path is left partially exercised by conformance tests; conformance
// tests should target CONNECT (spec.md section 4.4).
func (s *session) serveBind(req ClientRequest) error {
	addr := net.JoinHostPort(req.DestAddr.Network(), "0")

	ln, err := s.binder.Listen(context.Background(), "tcp", addr)
	if err != nil {
		s.replyFailure(mapDialError(err))
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	defer ln.Close()

	boundAddr := ln.Addr().(*net.TCPAddr)
	if err := EncodeReply(s.conn, ServerReply{
		Status:    StatusSuccess,
		BoundAddr: Address{IP: boundAddr.IP},
		BoundPort: uint16(boundAddr.Port),
	}); err != nil {
		return fmt.Errorf("send first bind reply: %w", err)
	}

	peer, err := ln.Accept()
	if err != nil {
		s.replyFailure(StatusGeneralFailure)
		return fmt.Errorf("bind accept: %w", err)
	}
	defer peer.Close()

	peerAddr := peer.RemoteAddr().(*net.TCPAddr)
	if err := EncodeReply(s.conn, ServerReply{
		Status:    StatusSuccess,
		BoundAddr: Address{IP: peerAddr.IP},
		BoundPort: uint16(peerAddr.Port),
	}); err != nil {
		return fmt.Errorf("send second bind reply: %w", err)
	}

	// Clear the handshake deadline before handing off to the relay -- see
	// the matching comment in serveConnect.
	s.conn.SetDeadline(time.Time{})

	sent, recv, err := relayConn(s.conn, peer)
	s.logger.Debug("bind relay finished",
		logging.KeyRemoteAddr, s.remote,
		"peer_addr", peerAddr.String(),
		logging.KeyBytesSent, humanize.Bytes(uint64(sent)),
		logging.KeyBytesRecv, humanize.Bytes(uint64(recv)),
	)
	return err
}
