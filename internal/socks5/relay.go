package socks5

import (
	"io"
	"net"
	"sync"
)

// relayBufSize is the size of the pooled copy buffers used by the portable
// relay path. Within the 8-64 KiB range spec.md recommends.
const relayBufSize = 32 * 1024

var relayBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, relayBufSize)
		return &buf
	},
}

// halfCloser is implemented by connections that support shutting down
// their write half while leaving the read half open (TCP, in particular).
type halfCloser interface {
	CloseWrite() error
}

// relayConn copies bytes bidirectionally between a (the client) and b (the
// dialed/bound destination) until both directions reach EOF or either
// errors, then returns the byte counts sent in each direction. It prefers
// the Linux splice(2) path when both ends are *net.TCPConn (see
// relay_linux.go); otherwise it falls back to the portable buffered copy
// below.
func relayConn(a, b net.Conn) (aToB, bToA int64, err error) {
	if n1, n2, ok, splitErr := trySplice(a, b); ok {
		return n1, n2, splitErr
	}
	return relayCopy(a, b)
}

// relayCopy is the portable relay path: two goroutines, each performing
// buffered read/write-all until EOF, with half-close propagation; an error
// in either direction closes both connections so the other ends too. Required
// on every platform; used directly on non-Linux and as the fallback when
// either endpoint is not a raw TCP socket.
func relayCopy(a, b net.Conn) (aToB, bToA int64, err error) {
	aToBErr := make(chan error, 1)
	bToAErr := make(chan error, 1)

	go func() {
		bufp := relayBufPool.Get().(*[]byte)
		defer relayBufPool.Put(bufp)
		n, copyErr := io.CopyBuffer(b, a, *bufp)
		aToB = n
		if hc, ok := b.(halfCloser); ok {
			hc.CloseWrite()
		}
		if copyErr != nil {
			a.Close()
			b.Close()
		}
		aToBErr <- copyErr
	}()

	go func() {
		bufp := relayBufPool.Get().(*[]byte)
		defer relayBufPool.Put(bufp)
		n, copyErr := io.CopyBuffer(a, b, *bufp)
		bToA = n
		if hc, ok := a.(halfCloser); ok {
			hc.CloseWrite()
		}
		if copyErr != nil {
			a.Close()
			b.Close()
		}
		bToAErr <- copyErr
	}()

	err1 := <-aToBErr
	err2 := <-bToAErr
	if err1 != nil {
		return aToB, bToA, err1
	}
	return aToB, bToA, err2
}
