package socks5

import (
	"context"
	"fmt"
	"net"
)

// ConnectRequest describes a tunnel a caller wants established through a
// remote SOCKS5 gateway.
type ConnectRequest struct {
	// DestAddr is the final destination: an IPv4/IPv6 literal or a domain
	// name. Literals are classified locally; domain names are resolved by
	// the server, never by this driver.
	DestAddr string

	// DestPort is the final destination's port.
	DestPort uint16

	// SupportedMethods are the authentication methods offered in the
	// greeting, in order. Only NoAuth is currently usable past the
	// negotiation step; see Dial.
	SupportedMethods []AuthMethod
}

// DefaultSupportedMethods is the method list ConnectRequest uses when
// SupportedMethods is left empty.
var DefaultSupportedMethods = []AuthMethod{NoAuth}

// Dial connects to serverAddr, drives the SOCKS5 handshake for req, and on
// success returns the underlying TCP stream with ownership transferred to
// the caller: bytes exchanged on it from this point on are end-to-end
// application data to/from req.DestAddr. The returned net.Conn is never
// closed by Dial itself.
func Dial(ctx context.Context, serverAddr string, req ConnectRequest) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5: dial %s: %w", serverAddr, err)
	}

	if err := handshake(conn, req); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// handshake drives the greeting/negotiation/request exchange over an
// already-connected stream, per RFC 1928 sections 3-6.
func handshake(conn net.Conn, req ConnectRequest) error {
	methods := req.SupportedMethods
	if len(methods) == 0 {
		methods = DefaultSupportedMethods
	}

	if err := EncodeGreeting(conn, ClientGreeting{Methods: methods}); err != nil {
		return fmt.Errorf("socks5: send greeting: %w", err)
	}

	choice, err := DecodeAuthChoice(conn)
	if err != nil {
		return fmt.Errorf("socks5: read auth choice: %w", err)
	}
	if choice.Chosen == NoAcceptable || !offered(methods, choice.Chosen) {
		return ErrAuthNegotiationFailed
	}
	if choice.Chosen != NoAuth {
		return fmt.Errorf("%w: %s", ErrUnsupportedAuthMethod, choice.Chosen)
	}

	destAddr := classifyAddress(req.DestAddr)
	clientReq := ClientRequest{
		Cmd:      CmdConnect,
		DestAddr: destAddr,
		DestPort: req.DestPort,
	}
	if err := EncodeRequest(conn, clientReq); err != nil {
		return fmt.Errorf("socks5: send request: %w", err)
	}

	reply, err := DecodeReply(conn)
	if err != nil {
		return fmt.Errorf("socks5: read reply: %w", err)
	}
	if reply.Status != StatusSuccess {
		return &ProxyError{Status: reply.Status}
	}
	return nil
}

// classifyAddress parses s as an IPv4/IPv6 literal; anything else is
// treated as a domain name, to be resolved by the server. No DNS lookup is
// performed here.
func classifyAddress(s string) Address {
	if ip := net.ParseIP(s); ip != nil {
		return Address{IP: ip}
	}
	return Address{Domain: s}
}

func offered(methods []AuthMethod, m AuthMethod) bool {
	for _, cand := range methods {
		if cand == m {
			return true
		}
	}
	return false
}
