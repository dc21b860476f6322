//go:build linux

package transport

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// linuxSocket is a non-blocking connected stream socket driven directly
// through golang.org/x/sys/unix, mirroring the teacher's preference for
// raw syscalls over net.Conn when a call needs flags (MSG_MORE,
// MSG_DONTWAIT) that the standard library does not expose.
type linuxSocket struct {
	fd int
}

// NewSocket wraps an already-connected, non-blocking file descriptor.
// Dialing and setting O_NONBLOCK is the caller's responsibility (see
// Dial in dial_linux.go).
func NewSocket(cfg Config) (Socket, error) {
	return &linuxSocket{fd: cfg.FD}, nil
}

func (s *linuxSocket) Send(data []byte, moreData bool) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.SendmsgN(s.fd, data, nil, nil, sendFlags(moreData))
		if err == nil {
			return n, nil
		}
		if isWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		if err == unix.EINTR {
			continue
		}
		return 0, err
	}
}

func (s *linuxSocket) Recv(buf []byte) (int, error) {
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, recvFlags())
		if err == nil {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if isWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		if err == unix.EINTR {
			continue
		}
		return 0, err
	}
}

func (s *linuxSocket) Fd() int { return s.fd }

func (s *linuxSocket) Close() error {
	return unix.Close(s.fd)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// socketpair returns two connected, non-blocking stream sockets for
// tests (internal/testserver and test/integration run the issue engine
// against one end with a responder driving the other).
func socketpair() (a, b Socket, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, nil, err
		}
	}
	sa, _ := NewSocket(Config{FD: fds[0]})
	sb, _ := NewSocket(Config{FD: fds[1]})
	return sa, sb, nil
}

// Socketpair exposes the platform socketpair helper for tests outside
// this package.
func Socketpair() (a, b Socket, err error) { return socketpair() }
