package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/AndreasBriese/bbloom"
	"github.com/siltdb/siltdb/internal/memtable"
)

// Writer streams key-value pairs in ascending key order into fixed-size,
// prefix-compressed blocks, per spec.md §4.3.
type Writer struct {
	f         *os.File
	blockSize uint64

	blockBuf      []byte
	idxOffsets    []uint64
	currentPrefix []byte

	blockCount uint64
	entryCount uint64
	keyBytes   uint64
	valueBytes uint64

	bloom *bbloom.Bloom
}

// NewWriter creates path and returns a Writer that packs entries into
// blocks of blockSize bytes. If expectedEntries > 0 a bloom filter is
// built alongside the file and persisted to a BloomExtension sidecar by
// Finish; pass 0 to skip it.
func NewWriter(path string, blockSize uint64, expectedEntries int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}
	w := &Writer{f: f, blockSize: blockSize}
	if expectedEntries > 0 {
		b := bbloom.New(float64(expectedEntries), 0.01)
		w.bloom = &b
	}
	return w, nil
}

// Append writes one key-value entry. Keys must arrive in strictly
// ascending order; the caller (the memtable's sorted iteration order) is
// relied on for this.
func (w *Writer) Append(key, value []byte) error {
	cp := 0
	if len(w.currentPrefix) > 0 {
		cp = commonPrefixLen(w.currentPrefix, key)
	}
	isIndex := cp == 0

	if w.wouldOverflow(isIndex, key, value, cp) {
		if err := w.closeBlock(); err != nil {
			return err
		}
		// A fresh block always starts with an empty prefix, forcing this
		// entry to become the new block's index key.
		cp = 0
		isIndex = true
	}

	if err := w.writeEntry(isIndex, cp, key, value); err != nil {
		return err
	}

	w.entryCount++
	w.keyBytes += uint64(len(key))
	w.valueBytes += uint64(len(value))
	if w.bloom != nil {
		w.bloom.Add(key)
	}
	return nil
}

// wouldOverflow reports whether appending an entry shaped by (isIndex, cp)
// would push the current block past blockSize once its own bytes, the
// index-offset slot it may add, the already-recorded offsets, and the
// trailing idx_count word are all accounted for.
func (w *Writer) wouldOverflow(isIndex bool, key, value []byte, cp int) bool {
	suffixLen := len(key)
	if !isIndex {
		suffixLen = len(key) - cp
	}
	entrySize := entryHeaderSize + padded(suffixLen) + padded(len(value))

	extraIdxSlots := 0
	if isIndex {
		extraIdxSlots = 1
	}
	footerRegion := (len(w.idxOffsets)+extraIdxSlots)*8 + 8

	return uint64(len(w.blockBuf)+entrySize+footerRegion) > w.blockSize
}

func (w *Writer) writeEntry(isIndex bool, cp int, key, value []byte) error {
	var suffix []byte
	prefixBytes := 0
	if isIndex {
		suffix = key
	} else {
		prefixBytes = cp
		suffix = key[cp:]
	}

	header := make([]byte, entryHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(prefixBytes))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(suffix)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(value)))

	offset := uint64(len(w.blockBuf))
	w.blockBuf = append(w.blockBuf, header...)
	w.blockBuf = append(w.blockBuf, suffix...)
	w.blockBuf = append(w.blockBuf, make([]byte, padded(len(suffix))-len(suffix))...)
	w.blockBuf = append(w.blockBuf, value...)
	w.blockBuf = append(w.blockBuf, make([]byte, padded(len(value))-len(value))...)

	if isIndex {
		w.idxOffsets = append(w.idxOffsets, offset)
		w.currentPrefix = append(w.currentPrefix[:0], key...)
	}
	return nil
}

// closeBlock zero-pads the current block up to its footer region, writes
// the recorded index offsets and their count, and emits the full
// blockSize-byte block to disk.
func (w *Writer) closeBlock() error {
	if len(w.blockBuf) == 0 {
		return nil
	}
	footerRegion := len(w.idxOffsets)*8 + 8
	padLen := int(w.blockSize) - len(w.blockBuf) - footerRegion
	if padLen < 0 {
		return fmt.Errorf("sstable: block overflow: %d bytes over %d-byte block", -padLen, w.blockSize)
	}

	block := make([]byte, 0, w.blockSize)
	block = append(block, w.blockBuf...)
	block = append(block, make([]byte, padLen)...)
	for _, off := range w.idxOffsets {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, off)
		block = append(block, b...)
	}
	cnt := make([]byte, 8)
	binary.LittleEndian.PutUint64(cnt, uint64(len(w.idxOffsets)))
	block = append(block, cnt...)

	if _, err := w.f.Write(block); err != nil {
		return fmt.Errorf("sstable: write block: %w", err)
	}
	w.blockCount++
	w.blockBuf = w.blockBuf[:0]
	w.idxOffsets = w.idxOffsets[:0]
	w.currentPrefix = nil
	return nil
}

// Finish closes out any partial block, writes the file footer, and syncs.
// The Writer must not be used again afterward.
func (w *Writer) Finish() error {
	if err := w.closeBlock(); err != nil {
		return err
	}

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], w.blockSize)
	binary.LittleEndian.PutUint64(footer[8:16], w.blockCount)
	binary.LittleEndian.PutUint64(footer[16:24], w.entryCount)
	binary.LittleEndian.PutUint64(footer[24:32], w.keyBytes)
	binary.LittleEndian.PutUint64(footer[32:40], w.valueBytes)
	binary.LittleEndian.PutUint64(footer[40:48], Magic)
	if _, err := w.f.Write(footer); err != nil {
		return fmt.Errorf("sstable: write footer: %w", err)
	}
	return w.f.Sync()
}

// Close closes the underlying file handle without writing a footer; used
// on the Finish error path.
func (w *Writer) Close() error {
	return w.f.Close()
}

// WriteBloomSidecar persists the filter built during Append to path. It is
// a no-op if the Writer was constructed with expectedEntries == 0.
func (w *Writer) WriteBloomSidecar(path string) error {
	if w.bloom == nil {
		return nil
	}
	return os.WriteFile(path, w.bloom.JSONMarshal(), 0o644)
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// WriteMemtable serializes every live entry of a locked memtable, in
// ascending key order, into a new SST file at path. mt must already be
// locked; it is the caller's responsibility (spec.md §4.3: "given a
// locked memtable").
func WriteMemtable(path string, blockSize uint64, mt *memtable.Memtable) (Footer, error) {
	w, err := NewWriter(path, blockSize, int(mt.ReservedCount()))
	if err != nil {
		return Footer{}, err
	}

	var lastKey []byte
	for n := mt.First(); n != nil; n = n.Next() {
		rec, ok := mt.GetNode(n)
		if !ok {
			continue
		}
		key := n.Key()
		if lastKey != nil && bytes.Equal(lastKey, key) {
			continue
		}
		if err := w.Append(key, rec.Data); err != nil {
			_ = w.Close()
			return Footer{}, err
		}
		lastKey = key
	}

	if err := w.Finish(); err != nil {
		_ = w.Close()
		return Footer{}, err
	}
	if err := w.WriteBloomSidecar(bloomSidecarPath(path)); err != nil {
		_ = w.Close()
		return Footer{}, err
	}
	if err := w.Close(); err != nil {
		return Footer{}, err
	}

	return Footer{
		BlockSize:  blockSize,
		BlockCount: w.blockCount,
		EntryCount: w.entryCount,
		KeyBytes:   w.keyBytes,
		ValueBytes: w.valueBytes,
	}, nil
}

func bloomSidecarPath(sstPath string) string {
	if len(sstPath) > len(Extension) && sstPath[len(sstPath)-len(Extension):] == Extension {
		return sstPath[:len(sstPath)-len(Extension)] + BloomExtension
	}
	return sstPath + BloomExtension
}
