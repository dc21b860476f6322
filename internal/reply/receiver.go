// Package reply defines the narrow interface boundary between the
// issue-command state machine and the reply-receive path. Decoding
// replies off the wire (simple or structured) is an external
// collaborator per spec.md §1 — this package only specifies the shape
// the issue engine yields to, plus one concrete, simple-reply-only
// implementation (SimpleReceiver) used by the test harness and
// cmd/nbd-bench. A production client would supply its own Receiver
// capable of structured-reply decoding.
package reply

import "github.com/nbd-go/nbdclient/internal/issue"

// Receiver is implemented by whatever decodes bytes arriving on the
// connection's socket. Connection.Run calls OnReadable whenever the
// poller reports the fd is readable; OnReadable should consume as many
// complete replies as are currently available, retiring each one via
// Retirer, and return nil once no more complete replies can be read
// without blocking. A non-nil error is fatal to the connection.
type Receiver interface {
	OnReadable() error
}

// Retirer is the narrow slice of *issue.Machine the reply path needs:
// look up an in-flight command by handle (to learn its type before
// deciding how much of the reply to read) and detach it once the
// reply has been fully consumed.
type Retirer interface {
	PeekInFlight(handle uint64) (*issue.Command, bool)
	Retire(handle uint64) (*issue.Command, error)
}
