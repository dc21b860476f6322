package nbdclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-go/nbdclient/internal/constants"
	"github.com/nbd-go/nbdclient/internal/transport"
)

// Handle is a pool of parallel Connections against one export
// (SPEC_FULL.md §4.1's Multi-conn layer): each connection gets its own
// socket, issue.Machine, and queues sharing no mutable state, the way
// the teacher's Device owns one *queue.Runner per hardware queue.
type Handle struct {
	mu      sync.Mutex
	conns   []*Connection
	next    int // round-robin cursor for EnqueueRoutable

	metrics  *Metrics
	observer Observer

	runCancel context.CancelFunc
	runWg     sync.WaitGroup
	runErrs   []error
	runErrsMu sync.Mutex

	started bool
}

// Connect opens HandleConfig.NumConns connections to network/addr and
// returns a Handle ready to serve I/O, mirroring CreateAndServe's
// create-all-then-start-all shape: every connection is dialed before
// any of them starts running, and a dial failure partway through tears
// down everything already opened.
func Connect(ctx context.Context, network, addr string, cfg HandleConfig) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	numConns := cfg.NumConns
	if numConns <= 0 {
		numConns = 1
	}

	metrics := NewMetrics()
	observer := cfg.Conn.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	h := &Handle{
		metrics:  metrics,
		observer: observer,
	}

	for i := 0; i < numConns; i++ {
		connCfg := cfg.Conn
		connCfg.Observer = observer

		sock, err := dialWithRetry(ctx, network, addr, connCfg.DialTimeout)
		if err != nil {
			h.closeAll()
			return nil, WrapError("connect", fmt.Errorf("connection %d: %w", i, err))
		}
		h.conns = append(h.conns, newConnection(i, sock, connCfg))
	}

	return h, nil
}

// dialWithRetry retries a transient dial failure (e.g. a test server
// not listening yet) until constants.DialRetryTimeout elapses, the way
// backend.go's waitLive retries for /dev/ublkbN to appear.
func dialWithRetry(ctx context.Context, network, addr string, timeout time.Duration) (transport.Socket, error) {
	if timeout <= 0 {
		timeout = constants.DialRetryTimeout
	}
	deadline := time.Now().Add(constants.DialRetryTimeout)
	var lastErr error
	for {
		sock, err := transport.Dial(network, addr, timeout)
		if err == nil {
			return sock, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, lastErr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(constants.DialRetryInterval):
		}
	}
}

func (h *Handle) closeAll() {
	for _, c := range h.conns {
		if c != nil {
			c.Close()
		}
	}
	h.conns = nil
}

// Start launches each connection's readiness loop on its own goroutine.
// It returns immediately; use Shutdown to stop the loops and observe
// completion.
func (h *Handle) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true

	runCtx, cancel := context.WithCancel(ctx)
	h.runCancel = cancel

	for _, c := range h.conns {
		c := c
		h.runWg.Add(1)
		go func() {
			defer h.runWg.Done()
			if err := c.Run(runCtx); err != nil && runCtx.Err() == nil {
				h.runErrsMu.Lock()
				h.runErrs = append(h.runErrs, err)
				h.runErrsMu.Unlock()
			}
		}()
	}
}

// NumConns returns the number of connections in the pool.
func (h *Handle) NumConns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Conn returns the connection at index i, for callers that want to
// target a specific connection rather than round-robin.
func (h *Handle) Conn(i int) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.conns) {
		return nil
	}
	return h.conns[i]
}

// EnqueueRoutable admits a command on the least-recently-used
// connection (coarse round-robin, per SPEC_FULL.md §4.1's Handle
// routing policy) and returns which connection tag it landed on
// alongside the handle, since the two must be combined to retire the
// right command later.
func (h *Handle) EnqueueRoutable(cmdType uint16, flags uint16, offset uint64, count uint32, data []byte) (connTag int, handle uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return 0, 0, NewError("enqueue", ErrCodeConnectionDead, "handle has no connections")
	}
	start := h.next
	h.next = (h.next + 1) % len(h.conns)
	conns := h.conns

	// Try every connection once, starting at the round-robin cursor,
	// so a single congested connection doesn't stall routing entirely.
	for i := 0; i < len(conns); i++ {
		tag := (start + i) % len(conns)
		handle, err = conns[tag].Enqueue(cmdType, flags, offset, count, data)
		if err == nil {
			return tag, handle, nil
		}
	}
	return 0, 0, err
}

// Metrics returns the Handle's aggregate metrics (shared across every
// connection unless a custom per-connection Observer was configured).
func (h *Handle) Metrics() *Metrics { return h.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the Handle's metrics.
func (h *Handle) MetricsSnapshot() MetricsSnapshot {
	if h.metrics == nil {
		return MetricsSnapshot{}
	}
	return h.metrics.Snapshot()
}

// Shutdown cancels every connection's Run loop, waits for them to
// return (or ctx to expire), drains cancelled commands from each
// connection, and closes all sockets.
func (h *Handle) Shutdown(ctx context.Context) ([]*Command, error) {
	h.mu.Lock()
	cancel := h.runCancel
	conns := h.conns
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waited := make(chan struct{})
	go func() {
		h.runWg.Wait()
		close(waited)
	}()

	var waitErr error
	select {
	case <-waited:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	var cancelled []*Command
	for _, c := range conns {
		cancelled = append(cancelled, c.Shutdown()...)
		c.Close()
	}
	h.metrics.Stop()

	if waitErr != nil {
		return cancelled, waitErr
	}

	h.runErrsMu.Lock()
	defer h.runErrsMu.Unlock()
	if len(h.runErrs) > 0 {
		return cancelled, h.runErrs[0]
	}
	return cancelled, nil
}
