package memtable

import (
	"sync/atomic"
)

// Options tunes a Memtable's freeze thresholds. Mirrors
// config.MemtableOptions; kept as its own type so this package has no
// dependency on internal/config.
type Options struct {
	// WritesBeforeLock caps the number of record slots the table may
	// reserve before Locked reports true. Must be < 2^31.
	WritesBeforeLock uint32
	// DataLimit freezes the table once live (non-superseded) data
	// reaches this many bytes.
	DataLimit uint64
	// TotalDataLimit freezes the table once all data it has ever held,
	// including superseded slots, reaches this many bytes.
	TotalDataLimit uint64
}

// Record is a value slot resolved from a Node.
type Record struct {
	Data []byte
}

// slot is the owned storage behind one reserved record index. Written once
// by the reserving goroutine, read-only thereafter.
type slot struct {
	data []byte
}

// Memtable is the lock-free sorted write buffer described in spec.md §4.1:
// a concurrent skip list whose nodes hold an index into a record-slot array
// rather than a value directly, so an overwrite is a single atomic integer
// swap. One active Memtable is exclusively owned by the coordinator; frozen
// Memtables are read-only and safely shared across goroutines.
type Memtable struct {
	opts Options

	sl    *skipList
	slots []atomic.Pointer[slot]

	nextRecord    atomic.Uint64
	liveDataSize  atomic.Uint64
	totalDataSize atomic.Uint64
	isLocked      atomic.Bool
}

// New builds an empty Memtable with a record-slot array sized to
// opts.WritesBeforeLock.
func New(opts Options) *Memtable {
	return &Memtable{
		opts:  opts,
		sl:    newSkipList(),
		slots: make([]atomic.Pointer[slot], opts.WritesBeforeLock),
	}
}

// addSize applies a signed delta to an atomic byte counter via unsigned
// wraparound; correct as long as the counter never needs to go negative,
// which holds here because live bytes are always backed by a slot that
// was previously added.
func addSize(c *atomic.Uint64, delta int64) {
	c.Add(uint64(delta))
}

// Insert reserves a fresh record slot, copies data into it, and links or
// supersedes the skip-list node for key. It returns nil iff the table is
// locked, and never blocks.
func (m *Memtable) Insert(key []byte, data []byte) *Node {
	if m.Locked() {
		return nil
	}

	idx := m.nextRecord.Add(1) - 1
	if idx >= uint64(len(m.slots)) {
		// Lost the race with whatever pushed next_record past capacity;
		// the table is effectively locked now even if Locked() hasn't
		// observed it yet. The reservation is wasted, never reused.
		return nil
	}

	size := int64(len(data))
	buf := make([]byte, len(data))
	copy(buf, data)
	m.slots[idx].Store(&slot{data: buf})
	m.totalDataSize.Add(uint64(size))

	level := randomLevel()
	res := m.sl.insertOrSupersede(key, level, idx)

	switch {
	case res.superseded:
		// A newer concurrent insertion already won; our slot stays
		// allocated but dead, and total_data_size already counted it.
	case res.isNew:
		addSize(&m.liveDataSize, size)
	default:
		prior := m.slots[res.priorIdx].Load()
		addSize(&m.liveDataSize, size-int64(len(prior.data)))
	}
	return res.node
}

// Find performs a lock-free lookup for key, returning its node or nil.
func (m *Memtable) Find(key []byte) *Node {
	return m.sl.findNode(key)
}

// Get resolves key to its current record, or (nil, false) if absent.
func (m *Memtable) Get(key []byte) (*Record, bool) {
	node := m.Find(key)
	if node == nil {
		return nil, false
	}
	return m.GetNode(node)
}

// GetNode resolves an already-located node to its current record. The
// returned record may be stale-but-valid if a concurrent insert has
// advanced the node's index since the caller obtained it.
func (m *Memtable) GetNode(node *Node) (*Record, bool) {
	idx := node.record.Load()
	s := m.slots[idx].Load()
	if s == nil {
		return nil, false
	}
	return &Record{Data: s.data}, true
}

// First returns the smallest-keyed node, for serialization in key order.
func (m *Memtable) First() *Node {
	return m.sl.first()
}

// Lock marks the table as frozen; idempotent. It returns the prior locked
// state (false if this call is the one that froze the table).
func (m *Memtable) Lock() bool {
	return m.isLocked.Swap(true)
}

// Locked reports whether the table accepts no further insertions, either
// because it was explicitly locked or because a capacity threshold has
// been crossed.
func (m *Memtable) Locked() bool {
	if m.isLocked.Load() {
		return true
	}
	if m.nextRecord.Load() >= uint64(m.opts.WritesBeforeLock) {
		return true
	}
	if m.liveDataSize.Load() >= m.opts.DataLimit {
		return true
	}
	return m.totalDataSize.Load() >= m.opts.TotalDataLimit
}

// Empty reports whether the table holds no live data.
func (m *Memtable) Empty() bool {
	return m.liveDataSize.Load() == 0
}

// LiveDataSize returns the current live (non-superseded) byte count.
func (m *Memtable) LiveDataSize() uint64 {
	return m.liveDataSize.Load()
}

// ReservedCount returns the number of record slots reserved so far. It is
// an upper bound on the number of distinct live keys, since an overwrite
// reserves a new slot without adding a new key.
func (m *Memtable) ReservedCount() uint64 {
	return m.nextRecord.Load()
}
