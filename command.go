package nbdclient

import (
	"github.com/nbd-go/nbdclient/internal/issue"
	"github.com/nbd-go/nbdclient/internal/wire"
)

// NBD command type opcodes, re-exported from internal/wire for callers
// that build commands directly (spec.md §3's Command entity).
const (
	CmdRead        = wire.CmdRead
	CmdWrite       = wire.CmdWrite
	CmdDisc        = wire.CmdDisc
	CmdFlush       = wire.CmdFlush
	CmdTrim        = wire.CmdTrim
	CmdCache       = wire.CmdCache
	CmdWriteZeroes = wire.CmdWriteZeroes
	CmdBlockStatus = wire.CmdBlockStatus
)

// NBD per-command request flags (NBD_CMD_FLAG_*).
const (
	CmdFlagFUA        = wire.CmdFlagFUA
	CmdFlagNoHole     = wire.CmdFlagNoHole
	CmdFlagDF         = wire.CmdFlagDF
	CmdFlagReqOne     = wire.CmdFlagReqOne
	CmdFlagFastZero   = wire.CmdFlagFastZero
	CmdFlagPayloadLen = wire.CmdFlagPayloadLen
)

// Command is the public view of an enqueued or retired command, a copy
// of the internal arena record so callers never hold a reference into
// issue.Machine's storage after a retirement frees it.
type Command struct {
	Handle uint64
	Type   uint16
	Flags  uint16
	Offset uint64
	Count  uint32
	Data   []byte
}

// TypeName returns a human-readable NBD_CMD_* name.
func (c Command) TypeName() string { return wire.CmdName(c.Type) }

func fromIssueCommand(c *issue.Command) *Command {
	if c == nil {
		return nil
	}
	return &Command{
		Handle: c.Handle,
		Type:   c.Type,
		Flags:  c.Flags,
		Offset: c.Offset,
		Count:  c.Count,
		Data:   c.Data,
	}
}
