//go:build !linux

package transport

import (
	"fmt"
	"io"
	"net"
	"time"
)

// netConnSocket falls back to net.Conn on platforms without MSG_MORE /
// MSG_DONTWAIT support. It cannot avoid short TCP segments the way the
// Linux socket can, and every call still blocks briefly on the
// underlying conn's read/write deadline, but it lets the issue engine
// build and run for local development off Linux.
type netConnSocket struct {
	conn net.Conn
}

// NewSocket is unavailable on non-Linux builds without an existing
// net.Conn; use Dial instead. Present so the package still compiles
// against the Socket-returning Config constructor other platforms use.
func NewSocket(cfg Config) (Socket, error) {
	return nil, fmt.Errorf("transport: raw fd construction not supported on this platform")
}

// Dial connects with the standard library and wraps the resulting
// net.Conn.
func Dial(network, addr string, timeout time.Duration) (Socket, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return &netConnSocket{conn: conn}, nil
}

func (s *netConnSocket) Send(data []byte, moreData bool) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	_ = moreData // no portable MSG_MORE equivalent
	s.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	n, err := s.conn.Write(data)
	if err != nil && isTimeout(err) {
		if n > 0 {
			return n, nil
		}
		return 0, ErrWouldBlock
	}
	return n, err
}

func (s *netConnSocket) Recv(buf []byte) (int, error) {
	s.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	n, err := s.conn.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, ErrWouldBlock
		}
		if err == io.EOF {
			return 0, io.EOF
		}
	}
	return n, err
}

func (s *netConnSocket) Fd() int { return -1 }

func (s *netConnSocket) Close() error { return s.conn.Close() }

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// Socketpair uses net.Pipe, a fully in-memory synchronous duplex
// connection, as the non-Linux test double for the socketpair-based
// tests (internal/transport, test/integration, test/e2e).
func Socketpair() (a, b Socket, err error) {
	ca, cb := net.Pipe()
	return &netConnSocket{conn: ca}, &netConnSocket{conn: cb}, nil
}
