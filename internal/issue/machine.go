package issue

import (
	"fmt"

	"github.com/nbd-go/nbdclient/internal/constants"
	"github.com/nbd-go/nbdclient/internal/interfaces"
	"github.com/nbd-go/nbdclient/internal/wire"
)

// State is a state of the issue-command machine (spec §4.1).
type State int

const (
	StateReady State = iota // external: idle, no active write
	StateStart
	StateSendRequest
	StatePauseSendRequest
	StatePrepareWritePayload
	StateSendWritePayload
	StatePauseWritePayload
	StateFinish
	StateDead // external: fatal I/O error, non-recoverable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateStart:
		return "START"
	case StateSendRequest:
		return "SEND_REQUEST"
	case StatePauseSendRequest:
		return "PAUSE_SEND_REQUEST"
	case StatePrepareWritePayload:
		return "PREPARE_WRITE_PAYLOAD"
	case StateSendWritePayload:
		return "SEND_WRITE_PAYLOAD"
	case StatePauseWritePayload:
		return "PAUSE_WRITE_PAYLOAD"
	case StateFinish:
		return "FINISH"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// pauseState is the tagged sum spec.md §9 recommends in place of the
// original's single in_write_payload boolean: it makes "paused, and on
// which buffer" a single value instead of a boolean that's only
// meaningful when wlen > 0 (an illegal/meaningless combination is no
// longer representable).
type pauseState int

const (
	pauseNone pauseState = iota
	pauseHeader
	pausePayload
)

// Outcome is the result of a Step call, per the collaborator interface
// spec §6 names: step_issue() -> Ready | Paused | Dead.
type Outcome int

const (
	Ready Outcome = iota
	Paused
	Dead
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "Ready"
	case Paused:
		return "Paused"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Config configures a Machine.
type Config struct {
	Sender Sender
	// CoalesceThreshold is the payload size below which a queued-behind
	// command still earns the "more data follows" send hint (spec §4.1
	// PREPARE_WRITE_PAYLOAD, §9 Open Question). Zero uses the package default.
	CoalesceThreshold uint32
	// ArenaHint sizes the initial command arena; zero uses a small default.
	ArenaHint int
	Logger    interfaces.Logger
	Observer  interfaces.Observer
}

// Machine is the per-connection issue-command state machine (spec §4.1).
// It is not safe for concurrent use: spec §5 requires at most one task
// operate on a connection at a time; pipelining comes from many commands
// in flight on one socket, not from parallel access to the Machine.
type Machine struct {
	arena    *Arena
	toIssue  *fifoQueue
	inFlight *flightSet

	sender            Sender
	coalesceThreshold uint32

	state State
	pause pauseState

	// header is the one reusable request-header buffer (spec §3, §9
	// "Header reuse"): never speculatively refilled while wlen > 0.
	header  [28]byte
	wbuf    []byte // current write cursor window; len(wbuf) == 0 iff no partial write
	hintMore bool  // "more data follows" flag for the next Send call

	headIdx int32 // arena index of the command currently being transmitted

	nextHandle uint64
	closed     bool
	fatalErr   error

	logger   interfaces.Logger
	observer interfaces.Observer
}

// NewMachine constructs a Machine ready to accept enqueues.
func NewMachine(cfg Config) *Machine {
	threshold := cfg.CoalesceThreshold
	if threshold == 0 {
		threshold = constants.DefaultPayloadCoalesceThreshold
	}
	arena := NewArena(cfg.ArenaHint)
	return &Machine{
		arena:             arena,
		toIssue:           newFifoQueue(arena),
		inFlight:          newFlightSet(arena),
		sender:            cfg.Sender,
		coalesceThreshold: threshold,
		state:             StateReady,
		headIdx:           noNext,
		nextHandle:        1,
		logger:            cfg.Logger,
		observer:          cfg.Observer,
	}
}

// Enqueue validates and admits a command to cmds_to_issue, returning the
// handle the caller uses to correlate a later retirement (spec §4.4).
func (m *Machine) Enqueue(cmdType uint16, flags uint16, offset uint64, count uint32, data []byte) (uint64, error) {
	if m.closed {
		return 0, fmt.Errorf("issue: connection closed")
	}
	if m.state == StateDead {
		return 0, fmt.Errorf("issue: connection dead: %w", m.fatalErr)
	}
	if count > constants.DefaultMaxPayload {
		return 0, fmt.Errorf("issue: count %d exceeds max payload %d", count, constants.DefaultMaxPayload)
	}
	if cmdType == wire.CmdWrite {
		if data == nil {
			return 0, fmt.Errorf("issue: WRITE requires non-nil data")
		}
		if uint32(len(data)) != count {
			return 0, fmt.Errorf("issue: WRITE count %d does not match data length %d", count, len(data))
		}
	}

	handle := m.nextHandle
	m.nextHandle++

	idx, cmd := m.arena.Alloc()
	cmd.Handle = handle
	cmd.Type = cmdType
	cmd.Flags = flags
	cmd.Offset = offset
	cmd.Count = count
	cmd.Data = data

	m.toIssue.pushTail(idx)

	if m.logger != nil {
		m.logger.Debugf("issue: enqueued handle=%d type=%s count=%d", handle, wire.CmdName(cmdType), count)
	}
	return handle, nil
}

// Step drives the machine forward. Callers invoke it when the direction
// advisor reports write interest and the socket is writable. It resumes
// any partial send exactly where it left off, transmits at most one
// command to completion per call, and returns the resulting Outcome.
func (m *Machine) Step() (Outcome, error) {
	if m.state == StateDead {
		return Dead, m.fatalErr
	}
	if m.state == StateReady {
		if m.toIssue.empty() {
			return Ready, nil
		}
		m.state = StateStart
	}
	// A caller re-entering after a PAUSE_* resumes through START, which
	// checks wlen and jumps back to the exact send state it paused in
	// without touching the header buffer (spec §4.1 START precondition).
	if m.state == StatePauseSendRequest || m.state == StatePauseWritePayload {
		m.state = StateStart
	}

	for {
		switch m.state {
		case StateStart:
			m.doStart()

		case StateSendRequest:
			if outcome := m.doSend(StatePauseSendRequest, StatePrepareWritePayload); outcome != nil {
				return *outcome, m.fatalErr
			}

		case StatePauseSendRequest:
			m.pause = pauseHeader
			return Paused, nil

		case StatePrepareWritePayload:
			m.doPrepareWritePayload()

		case StateSendWritePayload:
			if outcome := m.doSend(StatePauseWritePayload, StateFinish); outcome != nil {
				return *outcome, m.fatalErr
			}

		case StatePauseWritePayload:
			m.pause = pausePayload
			return Paused, nil

		case StateFinish:
			if err := m.doFinish(); err != nil {
				return m.toDead(err)
			}
			m.state = StateReady
			return Ready, nil

		default:
			return m.toDead(fmt.Errorf("issue: unreachable state %s", m.state))
		}
	}
}

// doStart implements the START transition (spec §4.1).
func (m *Machine) doStart() {
	if len(m.wbuf) > 0 {
		// Re-entered mid-send: resume without touching the header buffer.
		if m.pause == pausePayload {
			m.state = StateSendWritePayload
		} else {
			m.state = StateSendRequest
		}
		m.pause = pauseNone
		return
	}

	idx := m.toIssue.peekHead()
	cmd := m.arena.At(idx)
	m.headIdx = idx

	wire.MarshalRequestInto(m.header[:], &wire.Request{
		Magic:  wire.RequestMagic,
		Flags:  cmd.Flags,
		Type:   cmd.Type,
		Handle: cmd.Handle,
		Offset: cmd.Offset,
		Count:  cmd.Count,
	})

	m.wbuf = m.header[:]
	// "more data follows" if this is a WRITE (payload to come) or
	// another command is already queued behind it.
	m.hintMore = cmd.Type == wire.CmdWrite || m.toIssue.second() != noNext
	m.state = StateSendRequest
}

// doPrepareWritePayload implements PREPARE_WRITE_PAYLOAD.
func (m *Machine) doPrepareWritePayload() {
	cmd := m.arena.At(m.headIdx)

	if !cmd.RequiresWritePayload() {
		m.state = StateFinish
		return
	}

	m.wbuf = cmd.Data
	// Small payloads still earn the coalescing hint if something is
	// queued behind them; large payloads flush immediately (spec §4.1,
	// §9 Open Question — threshold is tunable via Config.CoalesceThreshold).
	m.hintMore = m.toIssue.second() != noNext && cmd.Count < m.coalesceThreshold
	m.state = StateSendWritePayload
}

// doSend runs one non-blocking send call against the write cursor and
// decides the next state. It returns a non-nil Outcome only when the
// caller must return immediately (a fatal error occurred).
func (m *Machine) doSend(onPause, onDone State) *Outcome {
	n, err := m.sender.Send(m.wbuf, m.hintMore)
	if err != nil {
		if err == ErrWouldBlock {
			m.state = onPause
			return nil
		}
		outcome, _ := m.toDead(fmt.Errorf("issue: send: %w", err))
		return &outcome
	}

	m.wbuf = m.wbuf[n:]
	if len(m.wbuf) == 0 {
		m.state = onDone
		return nil
	}
	// Short, non-fatal write: still more to send, not yet would-block.
	// Treat as a pause point so the caller yields to the reply path
	// before retrying, matching the spec's "short/zero send -> pause".
	m.state = onPause
	return nil
}

// doFinish implements FINISH: ownership transfer from to-issue to
// in-flight (spec §4.1, §9 "Self-referential command list").
func (m *Machine) doFinish() error {
	if len(m.wbuf) != 0 {
		return fmt.Errorf("issue: FINISH invariant violated: wlen != 0")
	}
	idx, ok := m.toIssue.popHead()
	if !ok || idx != m.headIdx {
		return fmt.Errorf("issue: FINISH invariant violated: head mismatch")
	}
	cmd := m.arena.At(idx)
	if m.logger != nil {
		m.logger.Debugf("issue: finished handle=%d type=%s", cmd.Handle, cmd.TypeName())
	}
	m.inFlight.pushHead(idx)
	m.headIdx = noNext
	m.pause = pauseNone
	return nil
}

// toDead transitions the connection into DEAD, the unrecoverable
// terminal state (spec §4.1, §7). All queued and in-flight commands
// are surfaced to the caller via Shutdown.
func (m *Machine) toDead(err error) (Outcome, error) {
	m.state = StateDead
	m.fatalErr = err
	if m.logger != nil {
		m.logger.Printf("issue: connection dead: %v", err)
	}
	return Dead, err
}

// State returns the machine's current state, for introspection and tests.
func (m *Machine) State() State { return m.state }

// IsReady reports whether the machine is idle with no active write.
func (m *Machine) IsReady() bool { return m.state == StateReady }

// IsDead reports whether the connection has suffered a fatal error.
func (m *Machine) IsDead() bool { return m.state == StateDead }

// IsClosed reports whether Shutdown has been called.
func (m *Machine) IsClosed() bool { return m.closed }

// HasInFlight reports whether any command is awaiting a reply.
func (m *Machine) HasInFlight() bool { return !m.inFlight.empty() }

// HasPendingWrite reports whether the write side wants to run (spec §4.3).
func (m *Machine) HasPendingWrite() bool {
	if m.state == StateDead {
		// A fatal transition abandons whatever was mid-flight; nothing
		// will ever drain it, so there is no further write interest.
		return false
	}
	if len(m.wbuf) > 0 {
		return true
	}
	switch m.state {
	// StateReady is included alongside the spec's listed active states:
	// immediately after FINISH the machine parks in READY even with
	// cmds_to_issue non-empty, and something must still tell the
	// caller's poll loop to invoke Step() again to pick up the next
	// command — otherwise a non-empty queue at rest would never drain.
	case StateReady, StateStart, StateSendRequest, StatePrepareWritePayload, StateSendWritePayload:
		return !m.toIssue.empty()
	default:
		return false
	}
}

// PeekInFlight returns the in-flight command for handle without
// detaching it, for a reply path that must inspect a command (e.g. to
// know whether a READ's payload follows the reply header) before it
// has consumed enough of the reply to call Retire.
func (m *Machine) PeekInFlight(handle uint64) (*Command, bool) {
	idx, ok := m.inFlight.peek(handle)
	if !ok {
		return nil, false
	}
	return m.arena.At(idx), true
}

// Retire is called by the reply path when a reply for handle arrives.
// It locates and detaches the command from cmds_in_flight (spec §4.4).
func (m *Machine) Retire(handle uint64) (*Command, error) {
	idx, ok := m.inFlight.remove(handle)
	if !ok {
		return nil, fmt.Errorf("issue: retire: unknown handle %d", handle)
	}
	cmd := *m.arena.At(idx)
	m.arena.Free(idx)
	return &cmd, nil
}

// Shutdown refuses further enqueues and reports every to-issue and
// in-flight command as cancelled (spec §4.4).
func (m *Machine) Shutdown() (cancelled []*Command) {
	m.closed = true
	for _, idx := range m.toIssue.drain() {
		cmd := *m.arena.At(idx)
		cancelled = append(cancelled, &cmd)
	}
	for _, idx := range m.inFlight.drain() {
		cmd := *m.arena.At(idx)
		cancelled = append(cancelled, &cmd)
	}
	return cancelled
}
