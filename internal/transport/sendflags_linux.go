//go:build linux

package transport

import "golang.org/x/sys/unix"

// sendFlags returns the per-call flags for a non-blocking Send. MSG_MORE
// tells the kernel more data is coming immediately, suppressing a short
// TCP segment; MSG_DONTWAIT makes the syscall itself non-blocking so we
// never need O_NONBLOCK toggling on a shared fd.
func sendFlags(moreData bool) int {
	flags := unix.MSG_DONTWAIT | unix.MSG_NOSIGNAL
	if moreData {
		flags |= unix.MSG_MORE
	}
	return flags
}

func recvFlags() int {
	return unix.MSG_DONTWAIT
}
