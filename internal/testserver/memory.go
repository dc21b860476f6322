// Package testserver provides a minimal in-process NBD responder,
// backed by a RAM disk, for driving the issue engine end to end over a
// real socketpair without a root-privileged kernel device or an
// external nbd-server process.
package testserver

import (
	"fmt"
	"sync"
)

// shardSize mirrors the teacher's RAM backend: lock only the shards a
// request actually touches, instead of a single whole-device mutex.
const shardSize = 64 * 1024

// Memory is a sharded-lock RAM disk, adapted from the teacher's ublk
// Memory backend to the NBD request shape (uint64 offsets, error
// returns that become NBD_EINVAL on the wire instead of Go
// errors understood only locally).
type Memory struct {
	data   []byte
	size   uint64
	shards []sync.RWMutex
}

// NewMemory allocates a RAM disk of the given size.
func NewMemory(size uint64) *Memory {
	numShards := (size + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) Size() uint64 { return m.size }

func (m *Memory) shardRange(off, length uint64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadAt copies [off, off+len(p)) into p. Out-of-range reads are a
// caller bug in this test double (the Responder validates ranges
// before calling in), so it returns an error rather than silently
// truncating.
func (m *Memory) ReadAt(p []byte, off uint64) error {
	if off+uint64(len(p)) > m.size {
		return fmt.Errorf("testserver: read [%d,%d) out of range (size %d)", off, off+uint64(len(p)), m.size)
	}
	start, end := m.shardRange(off, uint64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].RLock()
	}
	copy(p, m.data[off:off+uint64(len(p))])
	for i := start; i <= end; i++ {
		m.shards[i].RUnlock()
	}
	return nil
}

// WriteAt copies p into [off, off+len(p)).
func (m *Memory) WriteAt(p []byte, off uint64) error {
	if off+uint64(len(p)) > m.size {
		return fmt.Errorf("testserver: write [%d,%d) out of range (size %d)", off, off+uint64(len(p)), m.size)
	}
	start, end := m.shardRange(off, uint64(len(p)))
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	copy(m.data[off:off+uint64(len(p))], p)
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

// ZeroRange implements both NBD_CMD_TRIM and NBD_CMD_WRITE_ZEROES: the
// teacher's RAM backend treats a discard as "zero the bytes" since it
// has no sparse-extent tracking to punch an actual hole in.
func (m *Memory) ZeroRange(off, length uint64) error {
	if off+length > m.size {
		return fmt.Errorf("testserver: zero [%d,%d) out of range (size %d)", off, off+length, m.size)
	}
	start, end := m.shardRange(off, length)
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	for i := off; i < off+length; i++ {
		m.data[i] = 0
	}
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
	return nil
}
