//go:build linux

package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Dial connects to addr (host:port for TCP, or a path for a Unix
// socket) and returns a non-blocking Socket. It dials with the standard
// library (which already handles DNS, IPv4/IPv6 fallback and Unix
// socket paths) then takes over the raw fd so Send/Recv can use
// MSG_MORE/MSG_DONTWAIT directly instead of net.Conn's blocking API.
func Dial(network, addr string, timeout time.Duration) (Socket, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("transport: %T does not support SyscallConn", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var fd int
	ctrlErr := raw.Control(func(rawFd uintptr) {
		fd = int(rawFd)
	})
	if ctrlErr != nil {
		return nil, ctrlErr
	}

	// conn.Close() (deferred) would close the original fd out from
	// under us, so take a dup the deferred Close can't touch.
	dupFd, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("transport: dup socket fd: %w", err)
	}

	if err := unix.SetNonblock(dupFd, true); err != nil {
		unix.Close(dupFd)
		return nil, fmt.Errorf("transport: set nonblocking: %w", err)
	}

	return NewSocket(Config{FD: dupFd})
}
