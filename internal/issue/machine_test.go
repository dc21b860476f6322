package issue

import (
	"bytes"
	"testing"

	"github.com/nbd-go/nbdclient/internal/wire"
)

// sendStep scripts one call's worth of mock socket behaviour.
type sendStep struct {
	n   int
	err error
}

// scriptedSender is a mock Sender: it consumes sendStep entries in
// order, then falls back to accepting everything once the script runs
// dry — mirroring a socket that was briefly unwritable and then drains
// normally.
type scriptedSender struct {
	steps     []sendStep
	out       bytes.Buffer
	moreFlags []bool
}

func (s *scriptedSender) Send(data []byte, moreData bool) (int, error) {
	s.moreFlags = append(s.moreFlags, moreData)

	if len(s.steps) == 0 {
		s.out.Write(data)
		return len(data), nil
	}

	step := s.steps[0]
	s.steps = s.steps[1:]

	if step.err != nil {
		return 0, step.err
	}
	n := step.n
	if n > len(data) {
		n = len(data)
	}
	s.out.Write(data[:n])
	return n, nil
}

func newTestMachine(sender Sender) *Machine {
	return NewMachine(Config{Sender: sender})
}

// S1 — Single READ.
func TestScenarioS1SingleRead(t *testing.T) {
	sender := &scriptedSender{}
	m := newTestMachine(sender)

	handle, err := m.Enqueue(wire.CmdRead, 0, 0, 512, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if handle != 1 {
		t.Fatalf("handle = %d, want 1", handle)
	}

	outcome, err := m.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Ready {
		t.Fatalf("outcome = %v, want Ready", outcome)
	}
	if !m.IsReady() {
		t.Error("expected machine to be READY")
	}

	want := []byte{
		0x25, 0x60, 0x95, 0x13,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x02, 0x00,
	}
	if !bytes.Equal(sender.out.Bytes(), want) {
		t.Errorf("socket output = % x, want % x", sender.out.Bytes(), want)
	}
	if !m.HasInFlight() {
		t.Error("expected the READ to be in flight awaiting its reply")
	}
	if _, err := m.Retire(handle); err != nil {
		t.Errorf("Retire: %v", err)
	}
}

// S2 — Single WRITE, clean.
func TestScenarioS2SingleWrite(t *testing.T) {
	sender := &scriptedSender{}
	m := newTestMachine(sender)

	data := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	handle, err := m.Enqueue(wire.CmdWrite, 0, 4096, 8, data)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	outcome, err := m.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Ready {
		t.Fatalf("outcome = %v, want Ready", outcome)
	}

	out := sender.out.Bytes()
	if len(out) != 28+8 {
		t.Fatalf("socket output length = %d, want 36", len(out))
	}
	if out[6] != 0x00 || out[7] != 0x01 {
		t.Errorf("type field = % x, want WRITE (0x0001)", out[6:8])
	}
	if !bytes.Equal(out[28:], data) {
		t.Errorf("payload = % x, want % x", out[28:], data)
	}

	// Retire to exercise the in-flight side without reaching into
	// unexported state from the test.
	cmd, err := m.Retire(handle)
	if err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if cmd.Handle != handle {
		t.Errorf("retired handle = %d, want %d", cmd.Handle, handle)
	}
}

// S3 — Short header send.
func TestScenarioS3ShortHeaderSend(t *testing.T) {
	sender := &scriptedSender{steps: []sendStep{
		{n: 10},
	}}
	m := newTestMachine(sender)

	if _, err := m.Enqueue(wire.CmdRead, 0, 0, 512, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	outcome, err := m.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Paused {
		t.Fatalf("outcome = %v, want Paused", outcome)
	}
	if m.State() != StatePauseSendRequest {
		t.Errorf("state = %v, want PAUSE_SEND_REQUEST", m.State())
	}
	if len(m.wbuf) != 18 {
		t.Errorf("wlen = %d, want 18", len(m.wbuf))
	}

	// On the next writable event the remaining bytes drain and the
	// machine reaches READY.
	outcome, err = m.Step()
	if err != nil {
		t.Fatalf("Step (resume): %v", err)
	}
	if outcome != Ready {
		t.Fatalf("outcome after resume = %v, want Ready", outcome)
	}
	if sender.out.Len() != 28 {
		t.Errorf("total bytes sent = %d, want 28", sender.out.Len())
	}
}

// S4 — Short payload send with reply interleave.
func TestScenarioS4ShortPayloadWithReplyInterleave(t *testing.T) {
	sender := &scriptedSender{steps: []sendStep{
		{n: 28},          // full header
		{n: 1024},        // partial payload
		{err: ErrWouldBlock},
	}}
	m := newTestMachine(sender)

	payload := make([]byte, 32*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeHandle, err := m.Enqueue(wire.CmdWrite, 0, 0, uint32(len(payload)), payload)
	if err != nil {
		t.Fatalf("Enqueue WRITE: %v", err)
	}

	// Manually inject an earlier in-flight command, as the scenario
	// requires ("a reply for an earlier in-flight command arrives").
	earlierIdx, earlierCmd := m.arena.Alloc()
	earlierCmd.Handle = 999
	earlierCmd.Type = wire.CmdRead
	m.inFlight.pushHead(earlierIdx)

	outcome, err := m.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if outcome != Paused {
		t.Fatalf("outcome = %v, want Paused", outcome)
	}
	if m.State() != StatePauseWritePayload {
		t.Errorf("state = %v, want PAUSE_WRITE_PAYLOAD", m.State())
	}
	if len(m.wbuf) != len(payload)-1024 {
		t.Errorf("wlen = %d, want %d", len(m.wbuf), len(payload)-1024)
	}

	// The reply path retires the earlier in-flight command while the
	// WRITE is paused — this must not disturb the paused write cursor.
	retired, err := m.Retire(999)
	if err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if retired.Handle != 999 {
		t.Errorf("retired wrong command: %+v", retired)
	}
	if len(m.wbuf) != len(payload)-1024 {
		t.Errorf("wlen changed after unrelated retire: got %d", len(m.wbuf))
	}

	// The first writable event after the short write hits the scripted
	// would-block: nothing is sent and the cursor stays where it was.
	outcome, err = m.Step()
	if err != nil {
		t.Fatalf("Step (would-block): %v", err)
	}
	if outcome != Paused {
		t.Fatalf("outcome after would-block = %v, want Paused", outcome)
	}
	if len(m.wbuf) != len(payload)-1024 {
		t.Errorf("wlen changed on would-block: got %d, want %d", len(m.wbuf), len(payload)-1024)
	}

	// The next writable event drains the remaining 31KiB.
	outcome, err = m.Step()
	if err != nil {
		t.Fatalf("Step (resume): %v", err)
	}
	if outcome != Ready {
		t.Fatalf("outcome after resume = %v, want Ready", outcome)
	}

	out := sender.out.Bytes()
	if !bytes.Equal(out[28:], payload) {
		t.Error("final payload bytes on the wire do not match the full command payload")
	}

	// The WRITE itself is now in flight, retirable by its own handle.
	if _, err := m.Retire(writeHandle); err != nil {
		t.Errorf("Retire(write): %v", err)
	}
}

// S5 — Fatal error mid-header.
func TestScenarioS5FatalErrorMidHeader(t *testing.T) {
	fatalErr := &testFatalError{}
	sender := &scriptedSender{steps: []sendStep{{err: fatalErr}}}
	m := newTestMachine(sender)

	if _, err := m.Enqueue(wire.CmdRead, 0, 0, 512, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	outcome, err := m.Step()
	if outcome != Dead {
		t.Fatalf("outcome = %v, want Dead", outcome)
	}
	if err == nil {
		t.Error("expected a non-nil error on fatal transition")
	}
	if !m.IsDead() {
		t.Error("expected machine to be DEAD")
	}
	if m.toIssue.empty() {
		t.Error("command should remain in cmds_to_issue after a fatal error mid-header")
	}
	if d := m.Direction(); d != DirNone {
		t.Errorf("direction after DEAD = %v, want none", d)
	}
}

type testFatalError struct{}

func (*testFatalError) Error() string { return "connection reset by peer" }

// S6 — Coalescing hint.
func TestScenarioS6CoalescingHint(t *testing.T) {
	sender := &scriptedSender{}
	m := newTestMachine(sender)

	if _, err := m.Enqueue(wire.CmdRead, 0, 0, 512, nil); err != nil {
		t.Fatalf("Enqueue first READ: %v", err)
	}
	if _, err := m.Enqueue(wire.CmdRead, 0, 512, 512, nil); err != nil {
		t.Fatalf("Enqueue second READ: %v", err)
	}

	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (first): %v", err)
	}
	if _, err := m.Step(); err != nil {
		t.Fatalf("Step (second): %v", err)
	}

	if len(sender.moreFlags) != 2 {
		t.Fatalf("expected 2 send calls, got %d", len(sender.moreFlags))
	}
	if !sender.moreFlags[0] {
		t.Error("first header send should carry the coalescing hint (a command is queued behind it)")
	}
	if sender.moreFlags[1] {
		t.Error("second header send should not carry the hint (nothing queued behind it)")
	}
}

func TestEnqueueValidation(t *testing.T) {
	m := newTestMachine(&scriptedSender{})

	if _, err := m.Enqueue(wire.CmdWrite, 0, 0, 8, nil); err == nil {
		t.Error("expected error for WRITE with nil data")
	}
	if _, err := m.Enqueue(wire.CmdWrite, 0, 0, 4, []byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("expected error for count/data length mismatch")
	}

	m.closed = true
	if _, err := m.Enqueue(wire.CmdRead, 0, 0, 1, nil); err == nil {
		t.Error("expected error enqueueing on a closed machine")
	}
}

func TestHandleUniqueness(t *testing.T) {
	m := newTestMachine(&scriptedSender{})
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		h, err := m.Enqueue(wire.CmdRead, 0, uint64(i*512), 512, nil)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if seen[h] {
			t.Fatalf("handle %d reused", h)
		}
		seen[h] = true
	}
}

func TestShutdownReportsCancelled(t *testing.T) {
	sender := &scriptedSender{steps: []sendStep{{n: 0, err: ErrWouldBlock}}}
	m := newTestMachine(sender)

	h1, _ := m.Enqueue(wire.CmdRead, 0, 0, 512, nil)
	h2, _ := m.Enqueue(wire.CmdRead, 0, 512, 512, nil)

	// h1 never ships (would-block immediately); both remain to-issue.
	if _, err := m.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	cancelled := m.Shutdown()
	if len(cancelled) != 2 {
		t.Fatalf("Shutdown returned %d cancelled commands, want 2", len(cancelled))
	}
	got := map[uint64]bool{cancelled[0].Handle: true, cancelled[1].Handle: true}
	if !got[h1] || !got[h2] {
		t.Errorf("cancelled handles = %v, want {%d,%d}", got, h1, h2)
	}

	if _, err := m.Enqueue(wire.CmdRead, 0, 0, 1, nil); err == nil {
		t.Error("expected enqueue to be refused after Shutdown")
	}
}
