package testserver

import (
	"errors"
	"io"
	"time"

	"github.com/nbd-go/nbdclient/internal/transport"
	"github.com/nbd-go/nbdclient/internal/wire"
)

// NBD error numbers the responder can put on the wire, matching the
// protocol's Linux errno subset.
const (
	errNone    uint32 = 0
	errIO      uint32 = 5
	errInval   uint32 = 22
	errNoSpace uint32 = 28
)

// Responder serves transmission-phase NBD requests from a Memory
// backend over one end of a Socket. It is a test double, not a
// production server: it handles one connection, synchronously, and
// busy-polls ErrWouldBlock rather than integrating with a real event
// loop, the way the teacher's own test doubles trade efficiency for
// simplicity.
type Responder struct {
	sock transport.Socket
	mem  *Memory

	// InjectError, if set, is returned as the reply's error code for
	// every command of a matching type, for as long as the entry stays
	// in the map, instead of serving it, letting
	// tests exercise the issue engine's handling of a server-side
	// failure without corrupting the RAM disk.
	InjectError map[uint16]uint32
}

// NewResponder constructs a Responder over sock, backed by mem.
func NewResponder(sock transport.Socket, mem *Memory) *Responder {
	return &Responder{sock: sock, mem: mem}
}

// Serve runs the request/reply loop until the connection is closed or
// stop is closed. It is meant to run in its own goroutine, playing the
// role of "the remote NBD server" opposite a Connection under test.
func (r *Responder) Serve(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		var hdr [28]byte
		if err := r.readFull(hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var req wire.Request
		if err := wire.Unmarshal(hdr[:], &req); err != nil {
			return err
		}

		if err := r.handle(req); err != nil {
			return err
		}
	}
}

func (r *Responder) handle(req wire.Request) error {
	if req.Type == wire.CmdDisc {
		return nil
	}

	var payload []byte
	if wire.HasWritePayload(req.Type) {
		payload = make([]byte, req.Count)
		if err := r.readFull(payload); err != nil {
			return err
		}
	}

	errCode := errNone
	if injected, ok := r.InjectError[req.Type]; ok {
		errCode = injected
	}

	var readBack []byte
	if errCode == errNone {
		switch req.Type {
		case wire.CmdRead:
			readBack = make([]byte, req.Count)
			if err := r.mem.ReadAt(readBack, req.Offset); err != nil {
				errCode = errInval
				readBack = nil
			}
		case wire.CmdWrite:
			if err := r.mem.WriteAt(payload, req.Offset); err != nil {
				errCode = errInval
			}
		case wire.CmdTrim, wire.CmdWriteZeroes:
			if err := r.mem.ZeroRange(req.Offset, uint64(req.Count)); err != nil {
				errCode = errInval
			}
		case wire.CmdFlush, wire.CmdCache:
			// no-op on a RAM disk
		case wire.CmdBlockStatus:
			errCode = errInval // structured reply required; out of scope for this double
		}
	}

	reply := wire.SimpleReply{Magic: wire.SimpleReplyMagic, Error: errCode, Handle: req.Handle}
	buf := make([]byte, 16+len(readBack))
	copy(buf, wire.Marshal(&reply))
	copy(buf[16:], readBack)

	return r.writeFull(buf)
}

func (r *Responder) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.sock.Recv(buf[total:])
		if err == transport.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

func (r *Responder) writeFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.sock.Send(buf[total:], false)
		if err == transport.ErrWouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}
