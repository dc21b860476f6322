package transport

import (
	"bytes"
	"testing"
)

func TestSocketpairRoundTrip(t *testing.T) {
	a, b, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	msg := []byte("hello nbd")
	n, err := a.Send(msg, false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != len(msg) {
		t.Fatalf("Send n = %d, want %d", n, len(msg))
	}

	buf := make([]byte, 64)
	got := readAll(t, b, len(msg), buf)
	if !bytes.Equal(got, msg) {
		t.Errorf("Recv = %q, want %q", got, msg)
	}
}

func readAll(t *testing.T, s Socket, want int, buf []byte) []byte {
	t.Helper()
	total := 0
	for total < want {
		n, err := s.Recv(buf[total:])
		if err == ErrWouldBlock {
			continue
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		total += n
	}
	return buf[:total]
}

func TestSocketpairCloseSucceeds(t *testing.T) {
	a, b, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	b.Close()
}
