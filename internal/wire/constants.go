package wire

// NBD wire-format magic numbers and opcodes, per the NBD protocol
// (https://github.com/NetworkBlockDevice/nbd/blob/master/doc/proto.md),
// transmission phase only — option negotiation magic is out of scope
// (handled by the external negotiation collaborator).
const (
	// RequestMagic begins every client-to-server request header.
	RequestMagic uint32 = 0x25609513

	// SimpleReplyMagic begins every non-structured server reply header.
	SimpleReplyMagic uint32 = 0x67446698

	// StructuredReplyMagic begins a structured reply header. Decoding
	// structured replies is out of scope; the constant lets a caller
	// recognize and hand the frame to its own reply-receive collaborator.
	StructuredReplyMagic uint32 = 0x668e33ef
)

// Command type opcodes (NBD_CMD_*).
const (
	CmdRead = uint16(iota)
	CmdWrite
	CmdDisc // NBD_CMD_DISC: disconnect, no reply expected
	CmdFlush
	CmdTrim
	CmdCache
	CmdWriteZeroes
	CmdBlockStatus
)

// Per-command request flags (NBD_CMD_FLAG_*), packed into the high 16
// bits of the header's combined flags/type field.
const (
	CmdFlagFUA         = uint16(1 << 0) // force unit access
	CmdFlagNoHole      = uint16(1 << 1) // WRITE_ZEROES: don't punch a hole
	CmdFlagDF          = uint16(1 << 2) // structured reply: don't fragment
	CmdFlagReqOne      = uint16(1 << 3) // BLOCK_STATUS: report on one extent only
	CmdFlagFastZero    = uint16(1 << 4) // WRITE_ZEROES: fail fast if not trivial
	CmdFlagPayloadLen  = uint16(1 << 5) // extended headers: payload length present
)

// cmdNames gives each opcode a short human label for logging, mirroring
// the teacher's UblkErrorCode string table.
var cmdNames = map[uint16]string{
	CmdRead:        "READ",
	CmdWrite:       "WRITE",
	CmdDisc:        "DISC",
	CmdFlush:       "FLUSH",
	CmdTrim:        "TRIM",
	CmdCache:       "CACHE",
	CmdWriteZeroes: "WRITE_ZEROES",
	CmdBlockStatus: "BLOCK_STATUS",
}

// CmdName returns a human-readable name for a command opcode, or
// "UNKNOWN" if the opcode isn't one of the NBD_CMD_* constants above.
func CmdName(cmdType uint16) string {
	if name, ok := cmdNames[cmdType]; ok {
		return name
	}
	return "UNKNOWN"
}

// HasWritePayload reports whether a command of this type carries a
// client-to-server data payload that must be sent after the header.
// WRITE_ZEROES and TRIM encode their extent purely in offset/count and
// carry no payload of their own.
func HasWritePayload(cmdType uint16) bool {
	return cmdType == CmdWrite
}
