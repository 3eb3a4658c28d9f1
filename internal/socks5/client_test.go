package socks5

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// fakeServer runs fn against one side of a net.Pipe and hands the other
// side to the caller, standing in for a listening SOCKS5 server without a
// real socket.
func fakeServer(t *testing.T, fn func(conn net.Conn)) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go fn(server)
	return client
}

func TestHandshake_NegotiationFailure(t *testing.T) {
	// Scenario 2: client offers only UserPass, server has nothing to offer.
	conn := fakeServer(t, func(server net.Conn) {
		defer server.Close()
		g, err := DecodeGreeting(server)
		if err != nil {
			t.Errorf("server decode greeting: %v", err)
			return
		}
		if len(g.Methods) != 1 || g.Methods[0] != UserPass {
			t.Errorf("server got methods %v, want [UserPass]", g.Methods)
		}
		EncodeAuthChoice(server, ServerAuthChoice{Chosen: NoAcceptable})
	})
	defer conn.Close()

	err := handshake(conn, ConnectRequest{
		DestAddr:         "example.com",
		DestPort:         80,
		SupportedMethods: []AuthMethod{UserPass},
	})
	if !errors.Is(err, ErrAuthNegotiationFailed) {
		t.Fatalf("got %v, want ErrAuthNegotiationFailed", err)
	}
}

func TestHandshake_ConnectSuccess_DomainName(t *testing.T) {
	conn := fakeServer(t, func(server net.Conn) {
		defer server.Close()
		g, err := DecodeGreeting(server)
		if err != nil {
			t.Errorf("server decode greeting: %v", err)
			return
		}
		if !offered(g.Methods, NoAuth) {
			t.Errorf("server expected NoAuth offered, got %v", g.Methods)
		}
		if err := EncodeAuthChoice(server, ServerAuthChoice{Chosen: NoAuth}); err != nil {
			t.Errorf("server encode auth choice: %v", err)
			return
		}

		req, err := DecodeRequest(server)
		if err != nil {
			t.Errorf("server decode request: %v", err)
			return
		}
		if req.DestAddr.Domain != "example.com.uk" || req.DestPort != 80 {
			t.Errorf("server got %+v, want example.com.uk:80", req)
		}
		EncodeReply(server, ServerReply{Status: StatusSuccess})
	})
	defer conn.Close()

	err := handshake(conn, ConnectRequest{DestAddr: "example.com.uk", DestPort: 80})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
}

func TestHandshake_ProxyRejection_ConnectionRefused(t *testing.T) {
	conn := fakeServer(t, func(server net.Conn) {
		defer server.Close()
		DecodeGreeting(server)
		EncodeAuthChoice(server, ServerAuthChoice{Chosen: NoAuth})
		DecodeRequest(server)
		EncodeReply(server, ServerReply{Status: StatusConnectionRefused})
	})
	defer conn.Close()

	err := handshake(conn, ConnectRequest{DestAddr: "127.0.0.1", DestPort: 9})
	var proxyErr *ProxyError
	if !errors.As(err, &proxyErr) || proxyErr.Status != StatusConnectionRefused {
		t.Fatalf("got %v, want ProxyError{ConnectionRefused}", err)
	}
}

func TestHandshake_ServerChoosesUnrequestedMethod(t *testing.T) {
	conn := fakeServer(t, func(server net.Conn) {
		defer server.Close()
		DecodeGreeting(server)
		EncodeAuthChoice(server, ServerAuthChoice{Chosen: UserPass})
	})
	defer conn.Close()

	err := handshake(conn, ConnectRequest{DestAddr: "127.0.0.1", DestPort: 80})
	if !errors.Is(err, ErrAuthNegotiationFailed) {
		t.Fatalf("got %v, want ErrAuthNegotiationFailed", err)
	}
}

func TestClassifyAddress(t *testing.T) {
	cases := []struct {
		in      string
		wantIP  bool
		wantStr string
	}{
		{"127.0.0.1", true, "127.0.0.1"},
		{"::1", true, "::1"},
		{"example.com", false, "example.com"},
	}
	for _, tc := range cases {
		addr := classifyAddress(tc.in)
		if (addr.IP != nil) != tc.wantIP {
			t.Errorf("classifyAddress(%q): got IP set=%v, want %v", tc.in, addr.IP != nil, tc.wantIP)
		}
		if addr.Network() != tc.wantStr {
			t.Errorf("classifyAddress(%q).Network() = %q, want %q", tc.in, addr.Network(), tc.wantStr)
		}
	}
}

func TestDial_HandshakeFailureClosesConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	readAfter := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			readAfter <- err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(2 * time.Second))
		DecodeGreeting(conn)
		EncodeAuthChoice(conn, ServerAuthChoice{Chosen: NoAcceptable})
		_, err = conn.Read(make([]byte, 1))
		readAfter <- err
	}()

	_, err = Dial(context.Background(), ln.Addr().String(), ConnectRequest{
		DestAddr: "example.com",
		DestPort: 80,
	})
	if !errors.Is(err, ErrAuthNegotiationFailed) {
		t.Fatalf("got %v, want ErrAuthNegotiationFailed", err)
	}
	if err := <-readAfter; err != io.EOF {
		t.Fatalf("server read after failed handshake: got %v, want io.EOF (client closed)", err)
	}
}
