package bench

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/siltdb/siltdb"
)

var writeCfg = &siltdb.Config{
	Memtable: siltdb.DefaultConfig().Memtable,
	SST:      siltdb.DefaultConfig().SST,
	WAL:      siltdb.DefaultConfig().WAL,
	Store: siltdb.DefaultConfig().Store,
}

func init() {
	writeCfg.Memtable.DataLimit = 32 * 1024 * 1024
	writeCfg.Store.MemtableHistory = 6
	writeCfg.Store.BackgroundActivityPeriod = 50 * time.Millisecond
}

var readCfg = &siltdb.Config{
	Memtable: siltdb.DefaultConfig().Memtable,
	SST:      siltdb.DefaultConfig().SST,
	WAL:      siltdb.DefaultConfig().WAL,
	Store:    siltdb.DefaultConfig().Store,
}

func init() {
	readCfg.Memtable.DataLimit = 64 * 1024 * 1024
	readCfg.Store.MemtableHistory = 4
}

func setupBenchDB(b *testing.B, cfg *siltdb.Config) (*siltdb.DB, func()) {
	tmpDir := filepath.Join(os.TempDir(), fmt.Sprintf("siltdb_bench_%d", rand.Int63()))
	cfg.WAL.BaseDir = filepath.Join(tmpDir, "wal")
	cfg.SST.BaseDir = filepath.Join(tmpDir, "sst")
	db, err := siltdb.Open(tmpDir, cfg)
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func generateKey(i int) []byte {
	return fmt.Appendf(nil, "key_%010d", i)
}

func generateValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = byte(rand.Intn(256))
	}
	return value
}

func BenchmarkWrite(b *testing.B) {
	db, cleanup := setupBenchDB(b, writeCfg)
	defer cleanup()

	value := generateValue(1024)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := generateKey(i)
		if err := db.Put(key, value); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
}

func BenchmarkRead(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	value := generateValue(1024)
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		if err := db.Put(generateKey(i), value); err != nil {
			b.Fatalf("Pre-populate put failed: %v", err)
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := generateKey(i % numKeys)
		if _, found := db.Get(key); !found {
			b.Fatalf("key not found")
		}
	}
}

func BenchmarkRandomRead(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	value := generateValue(1024)
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		if err := db.Put(generateKey(i), value); err != nil {
			b.Fatalf("Pre-populate put failed: %v", err)
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := generateKey(rand.Intn(numKeys))
		if _, found := db.Get(key); !found {
			b.Fatalf("key not found")
		}
	}
}

func BenchmarkConcurrentRead(b *testing.B) {
	db, cleanup := setupBenchDB(b, readCfg)
	defer cleanup()

	value := generateValue(1024)
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		if err := db.Put(generateKey(i), value); err != nil {
			b.Fatalf("Pre-populate put failed: %v", err)
		}
	}

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := generateKey(rand.Intn(numKeys))
			if _, found := db.Get(key); !found {
				b.Fatalf("key not found")
			}
		}
	})
}

func BenchmarkConcurrentWrite(b *testing.B) {
	db, cleanup := setupBenchDB(b, writeCfg)
	defer cleanup()

	value := generateValue(1024)

	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Appendf(nil, "key_%d_%d", rand.Int63(), i)
			if err := db.Put(key, value); err != nil {
				b.Fatalf("Put failed: %v", err)
			}
			i++
		}
	})
}
