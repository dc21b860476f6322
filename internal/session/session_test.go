package session

import (
	"testing"

	"github.com/nbd-go/nbdclient/internal/wire"
)

func TestValidateCommandReadOnlyRejectsWrite(t *testing.T) {
	n := Negotiated{ExportName: "disk0", ReadOnly: true, SizeBytes: 1 << 20}
	if err := n.ValidateCommand(wire.CmdWrite, 0, 0, 512); err == nil {
		t.Error("expected WRITE on a read-only export to be rejected")
	}
	if err := n.ValidateCommand(wire.CmdRead, 0, 0, 512); err != nil {
		t.Errorf("READ on a read-only export should be allowed, got %v", err)
	}
}

func TestValidateCommandUnsupportedTrim(t *testing.T) {
	n := Negotiated{SizeBytes: 1 << 20, SupportsTrim: false}
	if err := n.ValidateCommand(wire.CmdTrim, 0, 0, 512); err == nil {
		t.Error("expected TRIM to be rejected when not negotiated")
	}
}

func TestValidateCommandOutOfRange(t *testing.T) {
	n := Negotiated{SizeBytes: 4096, MinBlockSize: 512}
	if err := n.ValidateCommand(wire.CmdRead, 0, 4096, 512); err == nil {
		t.Error("expected an out-of-range read to be rejected")
	}
	if err := n.ValidateCommand(wire.CmdRead, 0, 3584, 512); err != nil {
		t.Errorf("expected an in-range read to pass, got %v", err)
	}
}

func TestValidateCommandAlignment(t *testing.T) {
	n := Negotiated{SizeBytes: 1 << 20, MinBlockSize: 512}
	if err := n.ValidateCommand(wire.CmdRead, 0, 100, 512); err == nil {
		t.Error("expected misaligned offset to be rejected")
	}
}

func TestValidateCommandFUARequiresNegotiation(t *testing.T) {
	n := Negotiated{SizeBytes: 1 << 20, MinBlockSize: 512, SupportsFUA: false}
	if err := n.ValidateCommand(wire.CmdWrite, wire.CmdFlagFUA, 0, 512); err == nil {
		t.Error("expected FUA to be rejected when not negotiated")
	}
}

func TestEffectiveMaxBlockSizeFallback(t *testing.T) {
	n := Negotiated{}
	if got := n.EffectiveMaxBlockSize(32 << 20); got != 32<<20 {
		t.Errorf("EffectiveMaxBlockSize = %d, want fallback", got)
	}
	n.MaxBlockSize = 1 << 16
	if got := n.EffectiveMaxBlockSize(32 << 20); got != 1<<16 {
		t.Errorf("EffectiveMaxBlockSize = %d, want negotiated value", got)
	}
}
