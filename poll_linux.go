//go:build linux

package nbdclient

import (
	"time"

	"golang.org/x/sys/unix"
)

// waitReady blocks up to timeout for the fd to become readable and/or
// writable per the requested Direction, using poll(2) directly —
// grounded on the teacher's io_uring completion wait, generalized from
// "wait for a CQE" to "wait for a plain socket fd", per SPEC_FULL.md
// §4.2.
func waitReady(fd int, wantRead, wantWrite bool, timeout time.Duration) (readable, writable bool, err error) {
	if fd < 0 || (!wantRead && !wantWrite) {
		time.Sleep(timeout)
		return false, false, nil
	}
	var events int16
	if wantRead {
		events |= unix.POLLIN
	}
	if wantWrite {
		events |= unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return false, false, nil
		}
		return false, false, err
	}
	if n == 0 {
		return false, false, nil
	}
	re := fds[0].Revents
	return re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, re&unix.POLLOUT != 0, nil
}
