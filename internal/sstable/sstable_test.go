package sstable_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/siltdb/siltdb/internal/diskmanager"
	"github.com/siltdb/siltdb/internal/memtable"
	"github.com/siltdb/siltdb/internal/sstable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, blockSize uint64, kvs map[string]string) (*sstable.Table, string) {
	t.Helper()

	mt := memtable.New(memtable.Options{
		WritesBeforeLock: uint32(len(kvs) + 1),
		DataLimit:        1 << 30,
		TotalDataLimit:   1 << 30,
	})
	for k, v := range kvs {
		require.NotNil(t, mt.Insert([]byte(k), []byte(v)))
	}
	mt.Lock()

	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("%d%s", 1, sstable.Extension))
	_, err := sstable.WriteMemtable(path, blockSize, mt)
	require.NoError(t, err)

	dm := diskmanager.NewDiskManager()
	table, err := sstable.Open(dm, path)
	require.NoError(t, err)
	return table, path
}

func TestSSTableRoundTrip(t *testing.T) {
	kvs := map[string]string{
		"alpha": "one",
		"beta":  "two",
		"gamma": "three",
	}
	table, _ := buildTable(t, 4096, kvs)

	for k, v := range kvs {
		got, found, err := table.Lookup([]byte(k))
		require.NoError(t, err)
		require.True(t, found, "key %q", k)
		assert.Equal(t, v, string(got))
	}

	_, found, err := table.Lookup([]byte("absent"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSSTableFooterMagicAndSizes(t *testing.T) {
	kvs := map[string]string{"a": "1", "b": "2"}
	table, _ := buildTable(t, 4096, kvs)

	assert.Equal(t, uint64(2), table.Footer().EntryCount)
	assert.Equal(t, uint64(2), table.Footer().KeyBytes)
	assert.Equal(t, uint64(2), table.Footer().ValueBytes)
}

func TestSSTablePrefixCompressionRoundTrip(t *testing.T) {
	kvs := make(map[string]string)
	for i := 0; i < 100; i++ {
		kvs[fmt.Sprintf("user:%04d", i)] = fmt.Sprintf("value-%d", i)
	}
	table, _ := buildTable(t, 4096, kvs)

	assert.Equal(t, uint64(9*100), table.Footer().KeyBytes)

	for k, v := range kvs {
		got, found, err := table.Lookup([]byte(k))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, v, string(got))
	}
}

func TestSSTableForcesMultipleBlocks(t *testing.T) {
	kvs := make(map[string]string)
	for i := 0; i < 500; i++ {
		kvs[fmt.Sprintf("key-%06d", i)] = fmt.Sprintf("value-%06d-xxxxxxxxxxxxxxxxxxxx", i)
	}
	// A small block size forces many block rotations.
	table, _ := buildTable(t, 512, kvs)

	assert.Greater(t, table.Footer().BlockCount, uint64(1))
	for k, v := range kvs {
		got, found, err := table.Lookup([]byte(k))
		require.NoError(t, err)
		require.True(t, found, "key %q", k)
		assert.Equal(t, v, string(got))
	}
}

func TestSSTableBadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("%d%s", 2, sstable.Extension))
	require.NoError(t, os.WriteFile(path, make([]byte, 48), 0o644))

	dm := diskmanager.NewDiskManager()
	_, err := sstable.Open(dm, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, sstable.ErrBadMagic)
}

func TestSSTableBloomSidecarHookDoesNotAffectLookup(t *testing.T) {
	kvs := map[string]string{"present": "yes"}
	table, _ := buildTable(t, 4096, kvs)

	assert.True(t, table.MaybeContains([]byte("present")))
	// MaybeContains may false-positive but Lookup is authoritative either way.
	_, found, err := table.Lookup([]byte("absent"))
	require.NoError(t, err)
	assert.False(t, found)
}
