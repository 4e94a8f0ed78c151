// Package config provides configuration structures and defaults for siltdb.
package config

import "time"

const (
	defaultWritesBeforeLock = 2000
	defaultDataLimit        = 16 * 1024 * 1024
	defaultTotalDataLimit   = 160 * 1024 * 1024

	defaultMaxBlockSize = 4 * 1024 * 1024

	defaultConcurrentPutLimit = 256

	defaultBackgroundActivityPeriod = 50 * time.Millisecond
	defaultMemtableHistory          = 2
)

// MemtableOptions tunes the in-memory write buffer's freeze thresholds.
type MemtableOptions struct {
	// WritesBeforeLock caps the number of record slots a memtable may
	// reserve before it freezes. Must be < 2^31.
	WritesBeforeLock uint32
	// DataLimit freezes the memtable once live (non-superseded) data
	// reaches this many bytes.
	DataLimit uint64
	// TotalDataLimit freezes the memtable once all data it has ever
	// held, including superseded slots, reaches this many bytes.
	TotalDataLimit uint64
}

// SSTOptions tunes on-disk SST file production.
type SSTOptions struct {
	// MaxBlockSize is the fixed size, in bytes, of every block in an SST.
	MaxBlockSize uint64
	// BaseDir is the directory SST files are written to and loaded from.
	BaseDir string
}

// WALOptions tunes the write-ahead log.
type WALOptions struct {
	// ConcurrentPutLimit is the capacity of the WAL's producer ring buffer.
	ConcurrentPutLimit uint32
	// BaseDir is the directory WAL files are written to and loaded from.
	BaseDir string
}

// StoreOptions tunes the coordinator's background flush behavior.
type StoreOptions struct {
	// BackgroundActivityPeriod is the sleep interval between background
	// flusher wake-ups.
	BackgroundActivityPeriod time.Duration
	// MemtableHistory is the number of frozen memtables the history list
	// may hold before the background flusher drains it to SSTs.
	MemtableHistory int
}

// Config holds all tunable parameters for siltdb's performance and durability.
type Config struct {
	Memtable MemtableOptions
	SST      SSTOptions
	WAL      WALOptions
	Store    StoreOptions
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Memtable: MemtableOptions{
			WritesBeforeLock: defaultWritesBeforeLock,
			DataLimit:        defaultDataLimit,
			TotalDataLimit:   defaultTotalDataLimit,
		},
		SST: SSTOptions{
			MaxBlockSize: defaultMaxBlockSize,
			BaseDir:      ".",
		},
		WAL: WALOptions{
			ConcurrentPutLimit: defaultConcurrentPutLimit,
			BaseDir:            ".",
		},
		Store: StoreOptions{
			BackgroundActivityPeriod: defaultBackgroundActivityPeriod,
			MemtableHistory:          defaultMemtableHistory,
		},
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()

	if c.Memtable.WritesBeforeLock == 0 {
		c.Memtable.WritesBeforeLock = def.Memtable.WritesBeforeLock
	}
	if c.Memtable.DataLimit == 0 {
		c.Memtable.DataLimit = def.Memtable.DataLimit
	}
	if c.Memtable.TotalDataLimit == 0 {
		c.Memtable.TotalDataLimit = def.Memtable.TotalDataLimit
	}

	if c.SST.MaxBlockSize == 0 {
		c.SST.MaxBlockSize = def.SST.MaxBlockSize
	}
	if c.SST.BaseDir == "" {
		c.SST.BaseDir = def.SST.BaseDir
	}

	if c.WAL.ConcurrentPutLimit == 0 {
		c.WAL.ConcurrentPutLimit = def.WAL.ConcurrentPutLimit
	}
	if c.WAL.BaseDir == "" {
		c.WAL.BaseDir = def.WAL.BaseDir
	}

	if c.Store.BackgroundActivityPeriod == 0 {
		c.Store.BackgroundActivityPeriod = def.Store.BackgroundActivityPeriod
	}
	if c.Store.MemtableHistory == 0 {
		c.Store.MemtableHistory = def.Store.MemtableHistory
	}
}
