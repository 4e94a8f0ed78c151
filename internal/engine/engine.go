// Package engine is the write-path coordinator of spec.md §4.5: it
// sequences writes through the active memtable, rotates frozen memtables
// into a history list, drives a background flusher that emits SSTs, and
// recovers from the WAL and SST directories on startup.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siltdb/siltdb/internal/config"
	"github.com/siltdb/siltdb/internal/diskmanager"
	"github.com/siltdb/siltdb/internal/memtable"
	"github.com/siltdb/siltdb/internal/wal"
	"go.uber.org/zap"
)

// Engine is the store coordinator described in spec.md §4.5. The zero
// value is not usable; construct with New.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	dm     diskmanager.DiskManager

	active   atomic.Pointer[memtable.Memtable]
	rotateMu sync.Mutex

	history history
	sst     sstQueue

	wal atomic.Pointer[wal.WAL]

	walStamp atomic.Int64
	sstStamp atomic.Int64

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs an Engine, replaying any WAL files and loading any SST
// files found under cfg's directories, then starts the background
// flusher. A nil logger defaults to zap.NewNop().
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.FillDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		dm:     diskmanager.NewDiskManager(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	e.active.Store(e.newMemtable())
	e.wal.Store(e.newWAL())

	if err := e.recoverWAL(); err != nil {
		return nil, err
	}
	if err := e.recoverSSTs(); err != nil {
		return nil, err
	}

	go e.backgroundLoop()
	return e, nil
}

func (e *Engine) newMemtable() *memtable.Memtable {
	return memtable.New(memtable.Options{
		WritesBeforeLock: e.cfg.Memtable.WritesBeforeLock,
		DataLimit:        e.cfg.Memtable.DataLimit,
		TotalDataLimit:   e.cfg.Memtable.TotalDataLimit,
	})
}

func (e *Engine) newWAL() *wal.WAL {
	ts := monotonicStamp(&e.walStamp, time.Now().UnixMilli())
	return wal.New(e.cfg.WAL.BaseDir, e.cfg.WAL.ConcurrentPutLimit, ts)
}

// monotonicStamp returns a value strictly greater than the previously
// returned one, falling back to last+1 when the wall clock hasn't
// advanced (or has gone backward) since the last call.
func monotonicStamp(last *atomic.Int64, now int64) int64 {
	for {
		prev := last.Load()
		ts := now
		if ts <= prev {
			ts = prev + 1
		}
		if last.CompareAndSwap(prev, ts) {
			return ts
		}
	}
}

// Put inserts key/value, retrying unboundedly into a freshly rotated
// memtable whenever the active one is full, per spec.md §4.5. On success
// the write has been handed to the WAL before returning: it is either
// already on disk or queued in the WAL's ring for the next drain.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("engine: key must not be empty")
	}
	for {
		active := e.active.Load()
		node := active.Insert(key, value)
		if node != nil {
			return e.wal.Load().LogNode(active, node)
		}

		e.rotateMu.Lock()
		if e.active.Load() == active {
			e.saveMemtableLocked()
		}
		e.rotateMu.Unlock()
	}
}

// Get probes the active memtable, then the frozen history newest-first,
// then the SST queue newest-first, per spec.md §4.5.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	if rec, ok := e.active.Load().Get(key); ok {
		return rec.Data, true
	}
	if v, ok := e.history.get(key); ok {
		return v, true
	}
	v, ok, err := e.sst.get(key)
	if err != nil {
		e.logger.Error("sstable lookup failed", zap.ByteString("key", key), zap.Error(err))
		return nil, false
	}
	return v, ok
}

// Close stops the background flusher and persists everything still in
// memory before returning, per spec.md §4.5's Shutdown contract.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stopCh)
		<-e.doneCh
		if flushErr := e.flushMemtables(); flushErr != nil {
			err = flushErr
			return
		}
		err = e.wal.Load().Remove()
	})
	return err
}
