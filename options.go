package nbdclient

import (
	"time"

	"github.com/nbd-go/nbdclient/internal/constants"
	"github.com/nbd-go/nbdclient/internal/session"
)

// ConnConfig configures a single Connection, mirroring the teacher's
// DeviceParams/DefaultParams shape: concrete fields, a Default*
// constructor, no functional options or builder pattern.
type ConnConfig struct {
	// MaxInFlight caps the number of commands a Connection will carry
	// in cmds_in_flight at once; Enqueue blocks-by-rejection once
	// reached (the issue engine itself is unbounded — this is
	// caller-side backpressure policy, spec.md §9).
	MaxInFlight int

	// PayloadCoalesceThreshold is the §9 Open Question's tunable: a
	// WRITE payload below this size still earns the "more data
	// follows" send hint when another command is queued behind it.
	PayloadCoalesceThreshold uint32

	// DialTimeout bounds how long Dial waits for the TCP/Unix connect
	// to complete.
	DialTimeout time.Duration

	// PollTimeout bounds how long Run's readiness wait blocks before
	// re-checking ctx.Done() and the direction advisor.
	PollTimeout time.Duration

	// CPUAffinity pins Run's OS thread to one of these CPUs
	// (round-robin by connection index), mirroring the teacher's
	// per-queue affinity knob. Empty means no pinning.
	CPUAffinity []int

	// Negotiated carries the export attributes an external handshake
	// collaborator would have produced. Zero value disables
	// enqueue-time validation against server limits.
	Negotiated session.Negotiated

	// Logger receives structured debug/info/error lines. Nil disables
	// logging.
	Logger Logger

	// Observer receives per-command metrics callbacks. Nil means no
	// callbacks for a Connection built directly; Connect substitutes a
	// MetricsObserver feeding the Handle's Metrics.
	Observer Observer
}

// DefaultConnConfig returns sensible defaults for dialing a single
// connection.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxInFlight:              constants.DefaultMaxInFlight,
		PayloadCoalesceThreshold: constants.DefaultPayloadCoalesceThreshold,
		DialTimeout:              constants.DialRetryTimeout,
		PollTimeout:              50 * time.Millisecond,
	}
}

// HandleConfig configures a multi-connection Handle.
type HandleConfig struct {
	// NumConns is the number of parallel connections to open against
	// the export (spec.md's Multi-conn glossary entry). Each gets its
	// own socket, issue Machine, and queues sharing no mutable state.
	NumConns int

	// Conn is applied to every connection the Handle opens; per-dial
	// fields (DialTimeout etc.) are shared across all of them.
	Conn ConnConfig
}

// DefaultHandleConfig returns a single-connection Handle configuration.
func DefaultHandleConfig() HandleConfig {
	return HandleConfig{NumConns: 1, Conn: DefaultConnConfig()}
}
