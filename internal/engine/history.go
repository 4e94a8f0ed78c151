package engine

import (
	"sync/atomic"

	"github.com/siltdb/siltdb/internal/memtable"
)

// historyEntry is one link of the lock-free LIFO of frozen memtables
// awaiting flush to SST, per spec.md §3/§4.5.
type historyEntry struct {
	mt   *memtable.Memtable
	next *historyEntry
}

// history is a lock-free, newest-first stack. Readers (Get) traverse it
// concurrently with the coordinator prepending via push, and with the
// flusher detaching the whole list at once via detachAll.
type history struct {
	head atomic.Pointer[historyEntry]
}

// push prepends mt as the new head.
func (h *history) push(mt *memtable.Memtable) {
	entry := &historyEntry{mt: mt}
	for {
		old := h.head.Load()
		entry.next = old
		if h.head.CompareAndSwap(old, entry) {
			return
		}
	}
}

// detachAll atomically removes and returns the entire list, leaving the
// history empty. The returned chain remains newest-first.
func (h *history) detachAll() *historyEntry {
	for {
		old := h.head.Load()
		if h.head.CompareAndSwap(old, nil) {
			return old
		}
	}
}

// count walks the list to report its current length. Approximate under
// concurrent push/detach, which is fine for the background thread's
// flush-threshold check.
func (h *history) count() int {
	n := 0
	for e := h.head.Load(); e != nil; e = e.next {
		n++
	}
	return n
}

// get probes the history newest-first, returning the first hit.
func (h *history) get(key []byte) ([]byte, bool) {
	for e := h.head.Load(); e != nil; e = e.next {
		if rec, ok := e.mt.Get(key); ok {
			return rec.Data, true
		}
	}
	return nil, false
}
