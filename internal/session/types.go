// Package session holds the export information a successful NBD
// handshake would hand to the transmission phase. Handshake/option
// negotiation itself is an external collaborator (spec.md's own
// exclusion list); this package only carries the result so the issue
// engine and Connection have something concrete to validate enqueued
// commands against.
package session

// Negotiated is the set of export attributes a client learns during
// NBD_OPT_EXPORT_NAME/NBD_OPT_GO option negotiation. It is populated
// externally and treated as read-only for the lifetime of a
// Connection, mirroring how ctrl.DeviceParams is built once during
// device setup and then only read from the data path.
type Negotiated struct {
	// ExportName identifies which export on the server this session
	// refers to, for logging and multi-export servers.
	ExportName string

	// SizeBytes is the exported size advertised by the server.
	SizeBytes uint64

	// MinBlockSize is the smallest size/alignment the server accepts
	// for READ/WRITE. Zero means the server did not advertise one
	// (legacy handshake); callers should treat that as 1.
	MinBlockSize uint32

	// PreferredBlockSize is the size the server recommends clients
	// use for best performance.
	PreferredBlockSize uint32

	// MaxBlockSize bounds the count field of a single command. A
	// zero value means the server did not advertise a maximum; the
	// caller should fall back to a conservative default
	// (constants.DefaultMaxPayload).
	MaxBlockSize uint32

	// ReadOnly, when true, means the server will reject any WRITE,
	// TRIM, or WRITE_ZEROES command with NBD_EREADONLY; Connection
	// rejects these at Enqueue time instead of round-tripping to find
	// out.
	ReadOnly bool

	// SupportsFUA reports whether NBD_CMD_FLAG_FUA may be set on
	// WRITE/TRIM/WRITE_ZEROES commands.
	SupportsFUA bool

	// SupportsTrim reports whether NBD_CMD_TRIM is accepted.
	SupportsTrim bool

	// SupportsWriteZeroes reports whether NBD_CMD_WRITE_ZEROES is
	// accepted.
	SupportsWriteZeroes bool

	// SupportsDF reports whether NBD_CMD_FLAG_DF (structured reads,
	// "don't fragment") is usable on READ.
	SupportsDF bool

	// SupportsStructuredReply reports whether the server negotiated
	// NBD_OPT_STRUCTURED_REPLY. It is carried for an external reply
	// receiver; nothing in this module reads it, and SimpleReceiver
	// decodes simple replies only.
	SupportsStructuredReply bool

	// SupportsMultiConn reports whether the server allows more than
	// one connection against this export with preserved per-connection
	// ordering (spec.md's Multi-conn glossary entry).
	SupportsMultiConn bool
}

// EffectiveMaxBlockSize returns MaxBlockSize, or fallback if the server
// did not advertise one.
func (n Negotiated) EffectiveMaxBlockSize(fallback uint32) uint32 {
	if n.MaxBlockSize == 0 {
		return fallback
	}
	return n.MaxBlockSize
}

// EffectiveMinBlockSize returns MinBlockSize, or 1 if the server did
// not advertise one.
func (n Negotiated) EffectiveMinBlockSize() uint32 {
	if n.MinBlockSize == 0 {
		return 1
	}
	return n.MinBlockSize
}
