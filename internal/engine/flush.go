package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/siltdb/siltdb/internal/sstable"
	"go.uber.org/zap"
)

// saveMemtableLocked implements spec.md §4.5's save_memtable: no-op if the
// active memtable is empty; otherwise swap in a fresh active memtable,
// freeze the old one, and push it onto history. The caller must hold
// rotateMu — this is the serialization spec.md §9 calls for, resolving
// the "two threads both see a locked memtable and both rotate" race.
func (e *Engine) saveMemtableLocked() {
	old := e.active.Load()
	if old.Empty() {
		return
	}
	fresh := e.newMemtable()
	old.Lock()
	e.active.Store(fresh)
	e.history.push(old)
}

func (e *Engine) newSSTPath() string {
	ts := monotonicStamp(&e.sstStamp, time.Now().UnixNano())
	return filepath.Join(e.cfg.SST.BaseDir, fmt.Sprintf("%d%s", ts, sstable.Extension))
}

// flushMemtables drains the history into newly written SSTs and recycles
// the WAL, per spec.md §4.5. Called by the background thread once history
// grows past memtable_history, and once more at shutdown.
func (e *Engine) flushMemtables() error {
	e.rotateMu.Lock()
	e.saveMemtableLocked()
	e.rotateMu.Unlock()

	oldWAL := e.wal.Load()
	e.wal.Store(e.newWAL())

	// The detached chain is newest-first; flush it oldest-first so newer
	// memtables get larger SST timestamps and win in the newest-first queue.
	var chain []*historyEntry
	for entry := e.history.detachAll(); entry != nil; entry = entry.next {
		chain = append(chain, entry)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		entry := chain[i]
		if entry.mt.Empty() {
			continue
		}
		path := e.newSSTPath()
		footer, err := sstable.WriteMemtable(path, e.cfg.SST.MaxBlockSize, entry.mt)
		if err != nil {
			return fmt.Errorf("engine: flush memtable: %w", err)
		}
		table, err := sstable.Open(e.dm, path)
		if err != nil {
			return fmt.Errorf("engine: reopen flushed sst %s: %w", path, err)
		}
		e.sst.push(table)
		e.logger.Info("flushed memtable to sst",
			zap.String("path", path),
			zap.Uint64("entries", footer.EntryCount),
			zap.Uint64("key_bytes", footer.KeyBytes),
			zap.Uint64("value_bytes", footer.ValueBytes),
		)
	}

	// The old WAL's contents are now fully superseded by either the new
	// active memtable (still in memory) or the SSTs just written; it is
	// retained only long enough to survive a crash mid-flush.
	return oldWAL.Remove()
}

// backgroundLoop wakes every background_activity_period and flushes once
// the history list exceeds memtable_history entries, per spec.md §4.5.
func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.Store.BackgroundActivityPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if e.history.count() > e.cfg.Store.MemtableHistory {
				if err := e.flushMemtables(); err != nil {
					e.logger.Error("background flush failed", zap.Error(err))
				}
			}
		}
	}
}
