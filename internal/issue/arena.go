package issue

import "sync"

// Arena is a slab of Command records addressed by index rather than
// pointer. The to-issue and in-flight lists are index lists over this
// slab (see queue.go), which keeps "find by handle" cache-friendly and
// avoids the pointer-lifetime hazards of a plain intrusive list: a
// retired Command's slot is recycled rather than garbage collected,
// so the FIFO and in-flight chains never chase a freed pointer.
//
// The shape is lifted from the teacher's size-bucketed sync.Pool buffer
// pool (internal/queue/pool.go): get-on-demand, put-back-when-done. The
// difference is that a Command record has one fixed size, so there's a
// single free list instead of size buckets, and slots are identified by
// a stable index rather than handed back as a pointer-to-slice.
type Arena struct {
	mu    sync.Mutex
	slots []Command
	free  []int32
}

// NewArena creates an arena with capacity pre-allocated for hint
// in-flight commands. The arena still grows past hint; this only
// avoids early reallocation for the common case.
func NewArena(hint int) *Arena {
	if hint <= 0 {
		hint = 16
	}
	return &Arena{
		slots: make([]Command, 0, hint),
		free:  make([]int32, 0, hint),
	}
}

// Alloc reserves a slot and returns its index and a pointer to the zeroed
// Command stored there. The pointer is valid only until the slot is
// returned via Free.
func (a *Arena) Alloc() (int32, *Command) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx] = Command{next: noNext}
		return idx, &a.slots[idx]
	}

	idx := int32(len(a.slots))
	a.slots = append(a.slots, Command{next: noNext})
	return idx, &a.slots[idx]
}

// At returns a pointer to the command stored at idx. Callers must not
// retain it past the matching Free.
func (a *Arena) At(idx int32) *Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &a.slots[idx]
}

// Free returns a slot to the free list for reuse by a later Alloc.
func (a *Arena) Free(idx int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[idx] = Command{}
	a.free = append(a.free, idx)
}

// Len reports the number of slots ever allocated (not the number
// currently live); exposed for tests and metrics sizing decisions.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}
