package issue

import "errors"

// Sender is the non-blocking send primitive the issue machine drives
// (spec §4.2). A single call attempts to write as much of data as the
// socket will currently accept without blocking.
//
// Contract:
//   - n is the number of bytes actually written, 0 <= n <= len(data).
//   - err == nil and n == len(data): full drain.
//   - err == nil and n < len(data): a short, non-fatal write; the
//     caller has more to send but the socket can't take it all right now.
//   - err == ErrWouldBlock: benign would-block, n == 0, cursor untouched.
//   - any other non-nil err: fatal; the connection must transition to DEAD.
//
// Implementations must retry EINTR internally and never surface it as
// fatal (spec §4.2 "retries interrupted calls internally").
type Sender interface {
	Send(data []byte, moreData bool) (n int, err error)
}

// ErrWouldBlock is the benign would-block sentinel a Sender returns
// when the socket has no room for any more bytes right now.
var ErrWouldBlock = errors.New("issue: send would block")
