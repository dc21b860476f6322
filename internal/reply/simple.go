package reply

import (
	"errors"
	"fmt"
	"io"

	"github.com/nbd-go/nbdclient/internal/issue"
	"github.com/nbd-go/nbdclient/internal/transport"
	"github.com/nbd-go/nbdclient/internal/wire"
)

// ErrProtocolMismatch is fatal: a reply arrived for a handle the engine
// has no record of in-flight (spec.md §7, "Protocol mismatch").
var ErrProtocolMismatch = errors.New("reply: reply for unknown handle")

// ResultFunc is called once per retired command with its final outcome.
// err is non-nil if the server reported a wire-level error (translated
// from the NBD errno in the reply) or a READ's payload could not be
// read. data is nil for anything but a successful READ.
type ResultFunc func(cmd *issue.Command, data []byte, err error)

// phase tracks where SimpleReceiver is within a single reply, so a
// partial Recv (spec.md's PAUSE_* problem, mirrored on the read side)
// resumes exactly where it left off instead of re-reading the header.
type phase int

const (
	phaseHeader phase = iota
	phasePayload
)

// SimpleReceiver decodes NBD simple replies (magic+error+handle,
// optionally followed by a READ's payload) off a transport.Socket. It
// does not understand structured replies (NBD_REPLY_MAGIC_STRUCTURED) —
// spec.md excludes structured-reply decoding, and this implementation
// exists only to let the test harness and cmd/nbd-bench drive a
// complete request/reply round trip end to end.
type SimpleReceiver struct {
	sock    transport.Socket
	retirer Retirer
	onResult ResultFunc

	phase     phase
	hdrBuf    [16]byte
	hdrFilled int

	pending    wire.SimpleReply
	payload    []byte
	payFilled  int
}

// NewSimpleReceiver constructs a receiver reading replies from sock and
// retiring commands through retirer, invoking onResult for each one.
func NewSimpleReceiver(sock transport.Socket, retirer Retirer, onResult ResultFunc) *SimpleReceiver {
	return &SimpleReceiver{sock: sock, retirer: retirer, onResult: onResult}
}

// OnReadable consumes as many complete replies as are currently
// available without blocking. It returns nil once the socket would
// block, or a fatal error (protocol mismatch, socket error, EOF).
func (r *SimpleReceiver) OnReadable() error {
	for {
		if r.phase == phaseHeader {
			done, err := r.fillHeader()
			if err != nil {
				return err
			}
			if !done {
				return nil
			}
			if err := r.startPayload(); err != nil {
				return err
			}
		}
		if r.phase == phasePayload {
			done, err := r.fillPayload()
			if err != nil {
				return err
			}
			if !done {
				return nil
			}
			r.deliver()
		}
	}
}

func (r *SimpleReceiver) fillHeader() (bool, error) {
	for r.hdrFilled < len(r.hdrBuf) {
		n, err := r.sock.Recv(r.hdrBuf[r.hdrFilled:])
		if err == transport.ErrWouldBlock {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, io.EOF
		}
		r.hdrFilled += n
	}
	if err := wire.Unmarshal(r.hdrBuf[:], &r.pending); err != nil {
		return false, err
	}
	if r.pending.Magic == wire.StructuredReplyMagic {
		return false, fmt.Errorf("reply: structured replies are not decoded by this receiver")
	}
	if r.pending.Magic != wire.SimpleReplyMagic {
		return false, fmt.Errorf("reply: bad reply magic %#x", r.pending.Magic)
	}
	return true, nil
}

// startPayload decides whether a READ's data follows the header it
// just parsed, consulting the in-flight record (still owned by the
// issue engine at this point — PeekInFlight, not Retire) since the
// reply header alone doesn't carry the command type.
func (r *SimpleReceiver) startPayload() error {
	cmd, ok := r.retirer.PeekInFlight(r.pending.Handle)
	if !ok {
		return fmt.Errorf("%w: handle=%d", ErrProtocolMismatch, r.pending.Handle)
	}
	if r.pending.Error == 0 && cmd.Type == wire.CmdRead {
		r.payload = make([]byte, cmd.Count)
		r.payFilled = 0
		r.phase = phasePayload
		return nil
	}
	r.payload = nil
	r.phase = phasePayload
	r.payFilled = 0
	return nil
}

func (r *SimpleReceiver) fillPayload() (bool, error) {
	for r.payFilled < len(r.payload) {
		n, err := r.sock.Recv(r.payload[r.payFilled:])
		if err == transport.ErrWouldBlock {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, io.EOF
		}
		r.payFilled += n
	}
	return true, nil
}

func (r *SimpleReceiver) deliver() {
	cmd, err := r.retirer.Retire(r.pending.Handle)
	if err != nil {
		// Retire only fails if the handle vanished between Peek and
		// here, which cannot happen under spec.md §5's single-owner
		// concurrency model; surfaced defensively rather than ignored.
		err = fmt.Errorf("%w: %v", ErrProtocolMismatch, err)
	} else if r.pending.Error != 0 {
		err = fmt.Errorf("reply: server returned errno %d for handle %d", r.pending.Error, r.pending.Handle)
	}

	data := r.payload
	if r.onResult != nil {
		r.onResult(cmd, data, err)
	}

	r.phase = phaseHeader
	r.hdrFilled = 0
	r.payload = nil
	r.payFilled = 0
}
