// Package transport provides the non-blocking socket primitive the issue
// engine sends requests over and receives replies from. It is a thin
// abstraction over a single connected stream fd: everything that knows
// about NBD wire semantics lives in internal/wire and internal/issue,
// not here.
package transport

import "errors"

// ErrWouldBlock is returned by Send/Recv when the fd is not currently
// ready for the requested direction. Callers retry after the next
// readiness notification (e.g. from poll/epoll).
var ErrWouldBlock = errors.New("transport: operation would block")

// Socket is the non-blocking I/O primitive a Connection drives. A single
// Socket is owned by exactly one goroutine at a time, matching the
// issue engine's single-owner contract (internal/issue.Machine).
type Socket interface {
	// Send writes data to the socket without blocking. moreData hints
	// that the caller has more bytes queued immediately behind this
	// write, so the implementation may set MSG_MORE (or equivalent) to
	// avoid sending a short TCP segment. Returns (0, ErrWouldBlock) if
	// the socket is not currently writable; any other non-nil error is
	// fatal to the connection.
	Send(data []byte, moreData bool) (n int, err error)

	// Recv reads data from the socket into buf without blocking.
	// Returns (0, ErrWouldBlock) if no data is currently available.
	// Returns (0, io.EOF) if the peer closed the connection cleanly.
	Recv(buf []byte) (n int, err error)

	// Fd returns the underlying file descriptor, for registration with
	// a poller.
	Fd() int

	// Close releases the socket's resources.
	Close() error
}

// Config configures the construction of a platform Socket.
type Config struct {
	// FD is a pre-connected, already non-blocking socket file
	// descriptor. Dial helpers set this up; tests may hand in a
	// socketpair fd directly.
	FD int
}
