package socks5

import (
	"errors"
	"fmt"
)

// Sentinel errors for the handshake error taxonomy.
var (
	// ErrShortRead is returned when a peer disconnects mid-message.
	ErrShortRead = errors.New("socks5: short read")

	// ErrUnsupportedAddressType is returned for an ATYP outside {1,3,4}.
	ErrUnsupportedAddressType = errors.New("socks5: unsupported address type")

	// ErrAuthNegotiationFailed is returned by the client driver when the
	// server has no acceptable authentication method.
	ErrAuthNegotiationFailed = errors.New("socks5: no acceptable authentication method")

	// ErrUnsupportedAuthMethod is returned by the client driver when the
	// server chooses a method the driver does not implement.
	ErrUnsupportedAuthMethod = errors.New("socks5: unsupported authentication method")

	// ErrUnsupportedCommand is returned when a request names a command
	// this package does not serve.
	ErrUnsupportedCommand = errors.New("socks5: unsupported command")
)

// ProtocolError reports a malformed message: a bad version byte, a nonzero
// reserved byte, or similar. It is returned as a *ProtocolError with no Is
// method, so errors.Is matches only the same pointer; callers check it
// with errors.As.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("socks5: protocol violation: %s", e.Detail)
}

// ProxyError is returned by the client driver when the server's reply
// carries a non-success status.
type ProxyError struct {
	Status Status
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("socks5: proxy rejected request: %s", e.Status)
}
