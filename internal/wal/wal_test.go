package wal_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/siltdb/siltdb/internal/memtable"
	"github.com/siltdb/siltdb/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemtable() *memtable.Memtable {
	return memtable.New(memtable.Options{
		WritesBeforeLock: 1000,
		DataLimit:        1 << 30,
		TotalDataLimit:   1 << 30,
	})
}

func TestWALLogAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 8, 1)

	require.NoError(t, w.Log([]byte("a"), []byte("1")))
	require.NoError(t, w.Log([]byte("b"), []byte("2")))
	require.NoError(t, w.Close())

	mt := newMemtable()
	tables, err := wal.Load(w.Path(), mt, newMemtable)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	rec, ok := tables[0].Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, "1", string(rec.Data))

	rec, ok = tables[0].Get([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, "2", string(rec.Data))
}

func TestWALLoadKeepsNewestPerKey(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 8, 1)

	require.NoError(t, w.Log([]byte("k"), []byte("old")))
	require.NoError(t, w.Log([]byte("k"), []byte("new")))
	require.NoError(t, w.Close())

	mt := newMemtable()
	tables, err := wal.Load(w.Path(), mt, newMemtable)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	rec, ok := tables[0].Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "new", string(rec.Data))
}

func TestWALRingFillForcesDrain(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 4, 1)

	for i := 0; i < 100; i++ {
		key := []byte{byte(i)}
		require.NoError(t, w.Log(key, key))
	}
	require.NoError(t, w.Close())

	mt := newMemtable()
	tables, err := wal.Load(w.Path(), mt, newMemtable)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	for i := 0; i < 100; i++ {
		key := []byte{byte(i)}
		rec, ok := tables[0].Get(key)
		require.True(t, ok, "missing key %d", i)
		assert.Equal(t, key, rec.Data)
	}
}

func TestWALLoadToleratesTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 8, 1)

	require.NoError(t, w.Log([]byte("whole"), []byte("frame")))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(w.Path(), os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	mt := newMemtable()
	tables, err := wal.Load(w.Path(), mt, newMemtable)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	rec, ok := tables[0].Get([]byte("whole"))
	require.True(t, ok)
	assert.Equal(t, "frame", string(rec.Data))
}

func TestWALLoadRotatesWhenTargetOverflows(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 16, 1)

	for i := 0; i < 5; i++ {
		key := []byte{byte(i)}
		require.NoError(t, w.Log(key, key))
	}
	require.NoError(t, w.Close())

	tiny := memtable.New(memtable.Options{WritesBeforeLock: 2, DataLimit: 1 << 30, TotalDataLimit: 1 << 30})
	tables, err := wal.Load(w.Path(), tiny, func() *memtable.Memtable {
		return memtable.New(memtable.Options{WritesBeforeLock: 2, DataLimit: 1 << 30, TotalDataLimit: 1 << 30})
	})
	require.NoError(t, err)
	assert.Greater(t, len(tables), 1)
}

func TestWALConcurrentProducers(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 4, 1)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := []byte{byte(g), byte(i)}
				require.NoError(t, w.Log(key, key))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	mt := newMemtable()
	tables, err := wal.Load(w.Path(), mt, newMemtable)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	for g := 0; g < 8; g++ {
		for i := 0; i < 50; i++ {
			key := []byte{byte(g), byte(i)}
			_, ok := tables[0].Get(key)
			assert.True(t, ok)
		}
	}
}

func TestWALRemoveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := wal.New(dir, 8, 1)
	require.NoError(t, w.Log([]byte("a"), []byte("1")))
	require.NoError(t, w.Close())

	require.NoError(t, w.Remove())
	require.NoError(t, w.Remove())
	_, err := os.Stat(filepath.Join(dir, "1.kvwal"))
	assert.True(t, os.IsNotExist(err))
}

func TestWALTimestampFromPath(t *testing.T) {
	ts, err := wal.TimestampFromPath("/some/dir/1234.kvwal")
	require.NoError(t, err)
	assert.EqualValues(t, 1234, ts)

	_, err = wal.TimestampFromPath("/some/dir/not-a-number.kvwal")
	assert.Error(t, err)
}
