package nbdclient

import (
	"io"
	"sync"

	"github.com/nbd-go/nbdclient/internal/transport"
)

// MockTransport is an in-memory transport.Socket for unit tests that
// need to drive a Connection without a real fd: Send appends to an
// internal outbox a caller can inspect, Recv serves bytes from an
// internal inbox a caller feeds via Feed. It tracks call counts the
// same way the teacher's MockBackend tracks ReadAt/WriteAt calls.
type MockTransport struct {
	mu sync.Mutex

	outbox []byte
	inbox  []byte

	closed    bool
	sendErr   error
	recvErr   error
	wouldBlockOnSend bool
	wouldBlockOnRecv bool

	// sendLimit, if non-zero, caps how many bytes of data a single Send
	// call accepts (the remainder is reported unsent, matching a real
	// socket's buffer-pressure short write), for tests that exercise the
	// SEND_REQUEST/PAUSE_SEND_REQUEST short-write path deterministically.
	sendLimit int

	sendCalls int
	recvCalls int
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Send implements transport.Socket.
func (m *MockTransport) Send(data []byte, moreData bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendCalls++
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	if m.wouldBlockOnSend {
		return 0, transport.ErrWouldBlock
	}
	if m.sendLimit > 0 && m.sendLimit < len(data) {
		m.outbox = append(m.outbox, data[:m.sendLimit]...)
		return m.sendLimit, nil
	}
	m.outbox = append(m.outbox, data...)
	return len(data), nil
}

// SetSendLimit caps how many bytes of a given buffer a single Send call
// accepts (0 clears the cap, accepting the full buffer again).
func (m *MockTransport) SetSendLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendLimit = n
}

// Recv implements transport.Socket.
func (m *MockTransport) Recv(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recvCalls++
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.recvErr != nil {
		return 0, m.recvErr
	}
	if len(m.inbox) == 0 {
		if m.wouldBlockOnRecv {
			return 0, transport.ErrWouldBlock
		}
		return 0, io.EOF
	}
	n := copy(buf, m.inbox)
	m.inbox = m.inbox[n:]
	return n, nil
}

// Fd implements transport.Socket. A MockTransport has no real fd.
func (m *MockTransport) Fd() int { return -1 }

// Close implements transport.Socket.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Feed appends bytes to the inbox for a subsequent Recv to serve.
func (m *MockTransport) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = append(m.inbox, data...)
}

// Outbox returns a copy of everything written via Send so far.
func (m *MockTransport) Outbox() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.outbox))
	copy(out, m.outbox)
	return out
}

// SetSendError makes every subsequent Send fail with err (nil clears it).
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetRecvError makes every subsequent Recv fail with err (nil clears it).
func (m *MockTransport) SetRecvError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvErr = err
}

// SetWouldBlockOnSend makes Send return transport.ErrWouldBlock until
// cleared, regardless of outbox contents.
func (m *MockTransport) SetWouldBlockOnSend(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wouldBlockOnSend = block
}

// SetWouldBlockOnRecv makes Recv return transport.ErrWouldBlock instead
// of io.EOF when the inbox is empty.
func (m *MockTransport) SetWouldBlockOnRecv(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wouldBlockOnRecv = block
}

// IsClosed reports whether Close has been called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CallCounts returns the number of times Send/Recv have been called.
func (m *MockTransport) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{"send": m.sendCalls, "recv": m.recvCalls}
}

// Reset clears call counters, buffered bytes, and injected errors, but
// leaves the closed flag untouched (mirroring MockBackend.Reset, which
// likewise never resurrects a closed backend).
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = nil
	m.inbox = nil
	m.sendErr = nil
	m.recvErr = nil
	m.wouldBlockOnSend = false
	m.wouldBlockOnRecv = false
	m.sendLimit = 0
	m.sendCalls = 0
	m.recvCalls = 0
}

var _ transport.Socket = (*MockTransport)(nil)

// NewConnectionForTesting wires a Connection around an already-connected
// transport.Socket, for test packages (e.g. test/integration) that need
// to drive a real Connection over a socketpair or MockTransport without
// going through Dial's network connect.
func NewConnectionForTesting(tag int, sock transport.Socket, cfg ConnConfig) *Connection {
	return newConnection(tag, sock, cfg)
}
