// Package issue implements the non-blocking command-issue state machine
// that serialises outgoing NBD requests onto a connection's socket while
// the reply path drains incoming replies on the same socket.
package issue

import "github.com/nbd-go/nbdclient/internal/wire"

// noNext marks the end of an arena-indexed list, mirroring a nil pointer
// in the original intrusive singly-linked list.
const noNext int32 = -1

// Command is a single in-flight or queued NBD operation. Fields mirror
// the wire request header plus the bookkeeping the issue engine and
// arena need; `next` replaces the original's intrusive pointer with an
// arena slot index so queues are index lists rather than pointer chains.
type Command struct {
	Handle uint64
	Type   uint16
	Flags  uint16
	Offset uint64
	Count  uint32
	Data   []byte

	next int32 // arena index of next command in whichever list owns this slot
}

// RequiresWritePayload reports whether this command carries a payload
// that follows the header on the wire (only WRITE does).
func (c *Command) RequiresWritePayload() bool {
	return wire.HasWritePayload(c.Type)
}

// TypeName returns a human-readable command type, for logging.
func (c *Command) TypeName() string {
	return wire.CmdName(c.Type)
}
