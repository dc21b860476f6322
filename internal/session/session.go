package session

import (
	"fmt"

	"github.com/nbd-go/nbdclient/internal/wire"
)

// ValidateCommand checks a candidate command against the negotiated
// export attributes before it ever reaches the issue engine, so a
// doomed command fails locally instead of round-tripping to the server
// to discover NBD_EINVAL/NBD_EREADONLY (SPEC_FULL.md §4.3).
func (n Negotiated) ValidateCommand(cmdType uint16, flags uint16, offset uint64, count uint32) error {
	if n.ReadOnly && isWriteLike(cmdType) {
		return fmt.Errorf("session: export %q is read-only, cannot issue %s", n.ExportName, wire.CmdName(cmdType))
	}
	switch cmdType {
	case wire.CmdTrim:
		if !n.SupportsTrim {
			return fmt.Errorf("session: export %q did not negotiate TRIM support", n.ExportName)
		}
	case wire.CmdWriteZeroes:
		if !n.SupportsWriteZeroes {
			return fmt.Errorf("session: export %q did not negotiate WRITE_ZEROES support", n.ExportName)
		}
	}
	if flags&wire.CmdFlagFUA != 0 && !n.SupportsFUA {
		return fmt.Errorf("session: export %q did not negotiate FUA support", n.ExportName)
	}
	if flags&wire.CmdFlagDF != 0 && (!n.SupportsDF || cmdType != wire.CmdRead) {
		return fmt.Errorf("session: NBD_CMD_FLAG_DF is only valid on READ with structured replies negotiated")
	}
	if n.SizeBytes != 0 && offset+uint64(count) > n.SizeBytes {
		return fmt.Errorf("session: range [%d,%d) exceeds export size %d", offset, offset+uint64(count), n.SizeBytes)
	}
	if max := n.EffectiveMaxBlockSize(0); max != 0 && count > max {
		return fmt.Errorf("session: count %d exceeds negotiated max block size %d", count, max)
	}
	if requiresAlignment(cmdType) {
		align := uint64(n.EffectiveMinBlockSize())
		if offset%align != 0 || uint64(count)%align != 0 {
			return fmt.Errorf("session: offset/count must be aligned to %d bytes", align)
		}
	}
	return nil
}

func isWriteLike(cmdType uint16) bool {
	switch cmdType {
	case wire.CmdWrite, wire.CmdTrim, wire.CmdWriteZeroes:
		return true
	default:
		return false
	}
}

func requiresAlignment(cmdType uint16) bool {
	switch cmdType {
	case wire.CmdRead, wire.CmdWrite:
		return true
	default:
		return false
	}
}
