// Package constants holds default configuration and protocol constants
// shared across the nbdclient implementation packages.
package constants

import "time"

// Default configuration constants
const (
	// DefaultMaxInFlight is the default cap a Handle applies to the
	// number of commands a single connection may carry in
	// cmds_in_flight. The issue engine itself is unbounded (spec §9
	// Backpressure); this is the caller-policy default.
	DefaultMaxInFlight = 16

	// DefaultPayloadCoalesceThreshold is the default byte threshold
	// below which a WRITE payload still gets the "more data follows"
	// send hint when another command is queued behind it (spec §4.1
	// PREPARE_WRITE_PAYLOAD, §9 Open Question).
	DefaultPayloadCoalesceThreshold = 64 * 1024

	// DefaultMaxPayload bounds the count field accepted at enqueue
	// time, before it is even considered against the server's
	// negotiated maximum (spec §7 "oversized count"). 32MB matches
	// common NBD server defaults for max block size.
	DefaultMaxPayload = 32 << 20

	// RequestHeaderSize is the fixed wire size of an NBD request header.
	RequestHeaderSize = 28

	// SimpleReplyHeaderSize is the fixed wire size of an NBD simple
	// reply header (magic + error + handle). Structured replies are
	// out of scope (external reply-decode collaborator) but the
	// constant is useful to test doubles that speak the simple-reply
	// wire format.
	SimpleReplyHeaderSize = 16
)

// Timing constants for connection lifecycle.
//
// Analogous to the teacher's device-startup delays, but an NBD TCP/Unix
// connection has no udev-style asynchronous device-node creation to wait
// for, so these only bound how long Handle.Connect retries a transient
// dial failure (e.g. server not listening yet during test setup).
const (
	// DialRetryInterval is how often Connect retries a failed dial
	// before giving up at DialRetryTimeout.
	DialRetryInterval = 10 * time.Millisecond

	// DialRetryTimeout bounds the total time Connect spends retrying.
	DialRetryTimeout = 2 * time.Second
)
