package engine

import (
	"sync"

	"github.com/siltdb/siltdb/internal/sstable"
)

// sstQueue is the priority-ordered collection of on-disk tables described
// in spec.md §3: sorted by creation timestamp, newest has highest
// priority. Readers take the lock in shared mode; the flusher takes it
// exclusively to insert.
type sstQueue struct {
	mu     sync.RWMutex
	tables []*sstable.Table
}

// push inserts t, keeping tables sorted newest-first.
func (q *sstQueue) push(t *sstable.Table) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := 0
	for i < len(q.tables) && q.tables[i].CreatedAt() > t.CreatedAt() {
		i++
	}
	q.tables = append(q.tables, nil)
	copy(q.tables[i+1:], q.tables[i:])
	q.tables[i] = t
}

// get probes tables newest-first, returning the first hit.
func (q *sstQueue) get(key []byte) ([]byte, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, t := range q.tables {
		v, ok, err := t.Lookup(key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// maxCreatedAt returns the largest timestamp among tables currently
// queued, or 0 if the queue is empty.
func (q *sstQueue) maxCreatedAt() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var max int64
	for _, t := range q.tables {
		if t.CreatedAt() > max {
			max = t.CreatedAt()
		}
	}
	return max
}
