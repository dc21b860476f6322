package wire

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		// Sum of field widths: the in-memory struct carries trailing
		// padding on 64-bit platforms, the wire header does not.
		{"Request", unsafe.Sizeof(Request{}.Magic) + unsafe.Sizeof(Request{}.Flags) +
			unsafe.Sizeof(Request{}.Type) + unsafe.Sizeof(Request{}.Handle) +
			unsafe.Sizeof(Request{}.Offset) + unsafe.Sizeof(Request{}.Count), 28},
		{"SimpleReply", unsafe.Sizeof(SimpleReply{}), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

func TestMarshalRequestRoundTrip(t *testing.T) {
	req := NewRequest(CmdWrite, CmdFlagFUA, 0xdeadbeefcafebabe, 4096, 512)

	buf := Marshal(&req)
	if len(buf) != 28 {
		t.Fatalf("marshaled length = %d, want 28", len(buf))
	}

	// Magic must land in the first 4 bytes, big-endian.
	if buf[0] != 0x25 || buf[1] != 0x60 || buf[2] != 0x95 || buf[3] != 0x13 {
		t.Errorf("magic bytes = % x, want big-endian 25609513", buf[0:4])
	}

	var got Request
	if err := Unmarshal(buf, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != req {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestMarshalRequestIntoNoAlloc(t *testing.T) {
	req := NewRequest(CmdRead, 0, 1, 0, 1024)
	buf := make([]byte, 28)
	MarshalRequestInto(buf, &req)

	var got Request
	if err := Unmarshal(buf, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestUnmarshalInsufficientData(t *testing.T) {
	var req Request
	if err := Unmarshal(make([]byte, 10), &req); err != ErrInsufficientData {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}

	var reply SimpleReply
	if err := Unmarshal(make([]byte, 4), &reply); err != ErrInsufficientData {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestSimpleReplyRoundTrip(t *testing.T) {
	reply := SimpleReply{Magic: SimpleReplyMagic, Error: 0, Handle: 42}
	buf := Marshal(&reply)

	var got SimpleReply
	if err := Unmarshal(buf, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != reply {
		t.Errorf("got %+v, want %+v", got, reply)
	}
}

func TestCmdNameAndPayload(t *testing.T) {
	if CmdName(CmdWrite) != "WRITE" {
		t.Errorf("CmdName(CmdWrite) = %q", CmdName(CmdWrite))
	}
	if CmdName(0xff) != "UNKNOWN" {
		t.Errorf("CmdName(unknown) = %q", CmdName(0xff))
	}
	if !HasWritePayload(CmdWrite) {
		t.Error("WRITE should carry a payload")
	}
	if HasWritePayload(CmdRead) || HasWritePayload(CmdWriteZeroes) || HasWritePayload(CmdTrim) {
		t.Error("only WRITE should carry a payload")
	}
}
