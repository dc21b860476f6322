// Package e2e drives a full Connection against internal/testserver's
// Responder over a real socketpair, exercising the spec's S1-S6 scenario
// catalog from the outside: Enqueue/Run/OnComplete only, no access to
// issue.Machine's internals. The byte-exact, state-by-state assertions
// for these same scenarios already live in internal/issue/machine_test.go
// against a controllable mock sender; this suite checks that the same
// behavior actually holds end to end over a real socket.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-go/nbdclient"
	"github.com/nbd-go/nbdclient/internal/testserver"
	"github.com/nbd-go/nbdclient/internal/transport"
)

const diskSize = 8 << 20 // 8MiB

type harness struct {
	t        *testing.T
	conn     *nbdclient.Connection
	responder *testserver.Responder
	cancel   context.CancelFunc
	results  chan completion
}

type completion struct {
	cmd  *nbdclient.Command
	data []byte
	err  error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clientSock, serverSock, err := transport.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}

	mem := testserver.NewMemory(diskSize)
	responder := testserver.NewResponder(serverSock, mem)

	h := &harness{
		t:         t,
		responder: responder,
		results:   make(chan completion, 64),
	}

	cfg := nbdclient.DefaultConnConfig()
	h.conn = nbdclient.NewConnectionForTesting(0, clientSock, cfg)
	h.conn.OnComplete(func(cmd *nbdclient.Command, data []byte, err error) {
		h.results <- completion{cmd, data, err}
	})

	stop := make(chan struct{})
	serveDone := make(chan error, 1)
	go func() { serveDone <- responder.Serve(stop) }()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	runDone := make(chan error, 1)
	go func() { runDone <- h.conn.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		close(stop)
		clientSock.Close()
		serverSock.Close()
		<-serveDone
		<-runDone
	})
	return h
}

func (h *harness) await(t *testing.T) completion {
	t.Helper()
	select {
	case c := <-h.results:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command completion")
		return completion{}
	}
}

// S1 — single READ.
func TestS1SingleRead(t *testing.T) {
	h := newHarness(t)

	if _, err := h.conn.Enqueue(nbdclient.CmdRead, 0, 0, 512, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got := h.await(t)
	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	if len(got.data) != 512 {
		t.Errorf("expected 512 bytes back, got %d", len(got.data))
	}
}

// S2 — single WRITE, clean, followed by a read-back to confirm the data
// actually landed on the backing store.
func TestS2SingleWriteThenReadBack(t *testing.T) {
	h := newHarness(t)

	payload := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	if _, err := h.conn.Enqueue(nbdclient.CmdWrite, 0, 4096, uint32(len(payload)), payload); err != nil {
		t.Fatalf("Enqueue write: %v", err)
	}
	if got := h.await(t); got.err != nil {
		t.Fatalf("write completed with error: %v", got.err)
	}

	if _, err := h.conn.Enqueue(nbdclient.CmdRead, 0, 4096, uint32(len(payload)), nil); err != nil {
		t.Fatalf("Enqueue read: %v", err)
	}
	got := h.await(t)
	if got.err != nil {
		t.Fatalf("read completed with error: %v", got.err)
	}
	if string(got.data) != string(payload) {
		t.Errorf("read back %v, want %v", got.data, payload)
	}
}

// S3/S4 — short send and payload/reply interleaving are exhaustively
// covered state-by-state in internal/issue/machine_test.go against a
// mock sender that can force a would-block mid-buffer. A real
// socketpair's kernel send buffer is typically much larger than a single
// NBD request, so forcing an actual short write end to end isn't
// reliable; instead this exercises the externally observable equivalent:
// a payload large enough that the underlying connection very likely
// needs more than one non-blocking send/recv cycle to complete, verifying
// the public Connection/Run contract holds regardless of how many
// PAUSE_SEND_REQUEST/PAUSE_WRITE_PAYLOAD cycles it took internally.
func TestS3S4LargeWriteSpansMultipleSendCycles(t *testing.T) {
	h := newHarness(t)

	payload := make([]byte, 2<<20) // 2MiB, comfortably larger than a socketpair's buffer
	for i := range payload {
		payload[i] = byte(i)
	}

	if _, err := h.conn.Enqueue(nbdclient.CmdWrite, 0, 0, uint32(len(payload)), payload); err != nil {
		t.Fatalf("Enqueue write: %v", err)
	}
	if got := h.await(t); got.err != nil {
		t.Fatalf("large write completed with error: %v", got.err)
	}

	if _, err := h.conn.Enqueue(nbdclient.CmdRead, 0, 0, uint32(len(payload)), nil); err != nil {
		t.Fatalf("Enqueue read: %v", err)
	}
	got := h.await(t)
	if got.err != nil {
		t.Fatalf("large read completed with error: %v", got.err)
	}
	if len(got.data) != len(payload) {
		t.Fatalf("expected %d bytes back, got %d", len(payload), len(got.data))
	}
	for i := range payload {
		if got.data[i] != payload[i] {
			t.Fatalf("data mismatch at byte %d: got %#x want %#x", i, got.data[i], payload[i])
			break
		}
	}
}

// S5 — fatal error: closing the peer mid-flight must surface as a
// non-nil error out of Run, and Shutdown must still report the
// in-flight command as cancelled rather than silently dropping it.
func TestS5FatalErrorSurfacesAndDrains(t *testing.T) {
	clientSock, serverSock, err := transport.Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer clientSock.Close()

	cfg := nbdclient.DefaultConnConfig()
	conn := nbdclient.NewConnectionForTesting(0, clientSock, cfg)

	if _, err := conn.Enqueue(nbdclient.CmdRead, 0, 0, 512, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Close the peer before it ever reads anything: the client's next
	// send (or recv) observes the broken pipe and the connection dies.
	serverSock.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runErr := conn.Run(ctx)
	if runErr == nil {
		t.Fatal("expected Run to return a fatal error once the peer closed")
	}

	cancelled := conn.Shutdown()
	if len(cancelled) != 1 {
		t.Errorf("expected 1 cancelled command after a fatal error, got %d", len(cancelled))
	}
}

// S6 — coalescing: two READs enqueued back to back must both complete
// correctly. Whether the first header send actually carried the "more
// data follows" hint is an internal send-path detail already asserted
// in internal/issue/machine_test.go; here only the externally visible
// contract (both commands retire with the right data) is checked.
func TestS6TwoReadsBackToBack(t *testing.T) {
	h := newHarness(t)

	if _, err := h.conn.Enqueue(nbdclient.CmdRead, 0, 0, 512, nil); err != nil {
		t.Fatalf("Enqueue first read: %v", err)
	}
	if _, err := h.conn.Enqueue(nbdclient.CmdRead, 0, 512, 512, nil); err != nil {
		t.Fatalf("Enqueue second read: %v", err)
	}

	for i := 0; i < 2; i++ {
		got := h.await(t)
		if got.err != nil {
			t.Errorf("read %d completed with error: %v", i, got.err)
		}
		if len(got.data) != 512 {
			t.Errorf("read %d: expected 512 bytes, got %d", i, len(got.data))
		}
	}
}
