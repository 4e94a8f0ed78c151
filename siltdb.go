// Package siltdb is an embedded, persistent, concurrent key-value store
// organized as a log-structured merge tree: a lock-free in-memory write
// buffer, a bounded history of frozen buffers, and an on-disk sequence of
// sorted immutable tables written and recovered through a write-ahead log.
//
// Example usage:
//
//	db, err := siltdb.Open("/path/to/database", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//		log.Printf("put failed: %v", err)
//	}
//
//	value, ok := db.Get([]byte("key"))
//	if ok {
//		fmt.Printf("value: %s\n", value)
//	}
package siltdb

import (
	"fmt"
	"os"

	"github.com/siltdb/siltdb/internal/config"
	"github.com/siltdb/siltdb/internal/engine"
	"go.uber.org/zap"
)

// Config is an alias for config.Config, re-exported for caller convenience.
type Config = config.Config

// DefaultConfig returns a Config populated with the defaults from spec.md
// §6. Re-exported for caller convenience.
var DefaultConfig = config.DefaultConfig

// DB is a thread-safe siltdb instance. Put and Get may be called
// concurrently from any number of goroutines without external
// coordination.
type DB struct {
	engine *engine.Engine
}

// Open opens or creates a database rooted at dir. WAL and SST files are
// kept directly in dir unless cfg sets its own WAL.BaseDir or SST.BaseDir
// (other than "" or "."). If cfg is nil, DefaultConfig is used. A nil logger runs silently; pass a configured
// *zap.Logger to see recovery, flush, and error events.
func Open(dir string, cfg *Config) (*DB, error) {
	return OpenWithLogger(dir, cfg, nil)
}

// OpenWithLogger is Open with an explicit logger.
func OpenWithLogger(dir string, cfg *Config, logger *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	walDir, sstDir := cfg.WAL.BaseDir, cfg.SST.BaseDir
	if walDir == "" || walDir == "." {
		walDir = dir
	}
	if sstDir == "" || sstDir == "." {
		sstDir = dir
	}
	if err := os.MkdirAll(walDir, 0o755); err != nil {
		return nil, fmt.Errorf("siltdb: create wal dir: %w", err)
	}
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		return nil, fmt.Errorf("siltdb: create sst dir: %w", err)
	}
	cfg.WAL.BaseDir = walDir
	cfg.SST.BaseDir = sstDir

	e, err := engine.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("siltdb: open %s: %w", dir, err)
	}
	return &DB{engine: e}, nil
}

// Put writes a key-value pair, overwriting any existing value for key.
// Before Put returns nil the write is logged to the WAL: either already
// on disk or queued in the WAL's ring buffer for its next drain.
func (db *DB) Put(key, value []byte) error {
	return db.engine.Put(key, value)
}

// Get retrieves the value for key. Returns the value and true if found,
// or nil and false if the key doesn't exist.
func (db *DB) Get(key []byte) ([]byte, bool) {
	return db.engine.Get(key)
}

// Close flushes all remaining in-memory data to SSTs and stops the
// background flusher. The database must not be used after Close returns.
func (db *DB) Close() error {
	return db.engine.Close()
}
