//go:build linux

package socks5

import (
	"errors"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// spliceChunk is the maximum number of bytes moved into the pipe buffer by
// a single splice(2) call on the read side.
const spliceChunk = 64 * 1024

// trySplice relays a<->b via splice(2) when both ends are raw TCP sockets
// on Linux, moving bytes through an intermediate pipe without ever copying
// them into userspace. It reports ok=false (with zero counts and a nil
// error) when either endpoint isn't a *net.TCPConn, so the caller falls
// back to relayCopy.
func trySplice(a, b net.Conn) (aToB, bToA int64, ok bool, err error) {
	ta, aOK := a.(*net.TCPConn)
	tb, bOK := b.(*net.TCPConn)
	if !aOK || !bOK {
		return 0, 0, false, nil
	}

	aToBErr := make(chan error, 1)
	bToAErr := make(chan error, 1)

	// An error in one direction closes both sockets, so the other direction
	// stops waiting on its peer and the whole relay ends.
	go func() {
		n, spliceErr := spliceOneWay(ta, tb)
		aToB = n
		if spliceErr != nil {
			ta.Close()
			tb.Close()
		}
		aToBErr <- spliceErr
	}()
	go func() {
		n, spliceErr := spliceOneWay(tb, ta)
		bToA = n
		if spliceErr != nil {
			ta.Close()
			tb.Close()
		}
		bToAErr <- spliceErr
	}()

	err1 := <-aToBErr
	err2 := <-bToAErr
	if err1 != nil {
		return aToB, bToA, true, err1
	}
	return aToB, bToA, true, err2
}

// spliceOneWay drives one direction of the relay: it reads from src and
// writes to dst via an anonymous pipe, fully draining src to EOF (or an
// error) and then shutting down dst's write half, exactly mirroring the
// (num_buf, read_done) state machine of the original implementation this
// package was ported from. A direction that reaches EOF never cancels the
// other; an error in either one ends both (see trySplice).
func spliceOneWay(src, dst *net.TCPConn) (int64, error) {
	pr, pw, err := anonPipe()
	if err != nil {
		return 0, err
	}
	defer pr.Close()
	defer pw.Close()

	srcRaw, err := src.SyscallConn()
	if err != nil {
		return 0, err
	}
	dstRaw, err := dst.SyscallConn()
	if err != nil {
		return 0, err
	}

	var total int64
	var numBuf int64
	readDone := false

	for {
		for numBuf == 0 && !readDone {
			n, readErr := spliceInto(srcRaw, int(pw.Fd()))
			if readErr != nil {
				return total, readErr
			}
			if n == 0 {
				readDone = true
				break
			}
			numBuf += n
		}

		for numBuf > 0 {
			n, writeErr := spliceOutOf(int(pr.Fd()), dstRaw, numBuf)
			if writeErr != nil {
				return total, writeErr
			}
			numBuf -= n
			total += n
		}

		if numBuf == 0 && readDone {
			if hc, ok := any(dst).(halfCloser); ok {
				hc.CloseWrite()
			}
			return total, nil
		}
	}
}

// spliceInto moves up to spliceChunk bytes from the socket underlying
// srcRaw into the pipe write end pwFD, retrying on EAGAIN by waiting for
// the socket to become readable again. It returns n==0 only on EOF.
func spliceInto(srcRaw syscall.RawConn, pwFD int) (int64, error) {
	var n int64
	var opErr error
	for {
		pollErr := srcRaw.Read(func(fd uintptr) bool {
			n, opErr = unix.Splice(int(fd), nil, pwFD, nil, spliceChunk, unix.SPLICE_F_NONBLOCK)
			if errors.Is(opErr, syscall.EAGAIN) {
				return false // not ready, keep waiting
			}
			return true
		})
		if pollErr != nil {
			return 0, pollErr
		}
		if errors.Is(opErr, syscall.EAGAIN) {
			continue
		}
		if opErr != nil {
			return 0, opErr
		}
		return n, nil
	}
}

// spliceOutOf moves up to `avail` bytes from the pipe read end prFD to the
// socket underlying dstRaw, retrying on EAGAIN by waiting for the socket
// to become writable again.
func spliceOutOf(prFD int, dstRaw syscall.RawConn, avail int64) (int64, error) {
	var n int64
	var opErr error
	for {
		pollErr := dstRaw.Write(func(fd uintptr) bool {
			n, opErr = unix.Splice(prFD, nil, int(fd), nil, int(avail), unix.SPLICE_F_NONBLOCK)
			if errors.Is(opErr, syscall.EAGAIN) {
				return false
			}
			return true
		})
		if pollErr != nil {
			return 0, pollErr
		}
		if errors.Is(opErr, syscall.EAGAIN) {
			continue
		}
		if opErr != nil {
			return 0, opErr
		}
		return n, nil
	}
}

// anonPipe creates a pipe(2) pair with CLOEXEC and NONBLOCK set on both
// ends, as required for use as a splice(2) intermediary under the
// runtime's netpoller.
func anonPipe() (r, w *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "relay-pipe-r"), os.NewFile(uintptr(fds[1]), "relay-pipe-w"), nil
}
