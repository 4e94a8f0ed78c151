package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AndreasBriese/bbloom"
	"github.com/siltdb/siltdb/internal/diskmanager"
)

// Table is an immutable on-disk SST, opened for point lookups. Per
// spec.md §5 ("SST files are opened per get, memory-mapped, and unmapped
// before returning"), Lookup maps and unmaps the file on every call; the
// underlying file descriptor itself is cached by the DiskManager.
type Table struct {
	dm   diskmanager.DiskManager
	path string

	// createdAt is the nanosecond timestamp encoded in the filename; SSTs
	// are ordered newest-first by this value.
	createdAt int64
	footer    Footer

	bloom *bbloom.Bloom
}

// Open reads path's footer and returns a Table handle. It does not keep
// the file mapped; Lookup maps it on demand.
func Open(dm diskmanager.DiskManager, path string) (*Table, error) {
	ts, err := TimestampFromPath(path)
	if err != nil {
		return nil, err
	}

	fh, err := dm.Open(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	if info.Size() < int64(footerSize) {
		return nil, fmt.Errorf("sstable: %s: %w", path, ErrBadMagic)
	}

	data, err := fh.Mmap(int(info.Size()))
	if err != nil {
		return nil, err
	}
	defer fh.Munmap(data)

	footer, err := parseFooter(data)
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	t := &Table{dm: dm, path: path, createdAt: ts, footer: footer}
	t.bloom = loadBloomSidecar(bloomSidecarPath(path))
	return t, nil
}

// TimestampFromPath extracts the nanosecond creation timestamp encoded in
// an SST filename.
func TimestampFromPath(path string) (int64, error) {
	base := filepath.Base(path)
	trimmed := strings.TrimSuffix(base, Extension)
	ts, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sstable: malformed filename %s: %w", base, err)
	}
	return ts, nil
}

func loadBloomSidecar(path string) *bbloom.Bloom {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	b := bbloom.JSONUnmarshal(data)
	return &b
}

func parseFooter(data []byte) (Footer, error) {
	tail := data[len(data)-footerSize:]
	magic := binary.LittleEndian.Uint64(tail[40:48])
	if magic != Magic {
		return Footer{}, ErrBadMagic
	}
	return Footer{
		BlockSize:  binary.LittleEndian.Uint64(tail[0:8]),
		BlockCount: binary.LittleEndian.Uint64(tail[8:16]),
		EntryCount: binary.LittleEndian.Uint64(tail[16:24]),
		KeyBytes:   binary.LittleEndian.Uint64(tail[24:32]),
		ValueBytes: binary.LittleEndian.Uint64(tail[32:40]),
	}, nil
}

// Path returns the table's on-disk path.
func (t *Table) Path() string { return t.path }

// CreatedAt returns the nanosecond timestamp encoded in the table's
// filename, used to order the SST queue newest-first.
func (t *Table) CreatedAt() int64 { return t.createdAt }

// Footer returns the table's parsed footer.
func (t *Table) Footer() Footer { return t.footer }

// MaybeContains consults the table's bloom-filter sidecar, if one was
// built. It is the documented hook spec.md §9 calls for ("include it only
// as a hook on the SST reader's not-found path in future work"); Lookup
// itself never calls it. A false result proves absence; a true result
// proves nothing.
func (t *Table) MaybeContains(key []byte) bool {
	if t.bloom == nil {
		return true
	}
	return t.bloom.Has(key)
}

// Lookup performs the point-lookup procedure of spec.md §4.4: select the
// block whose key range covers key, find the intra-block sub-run via the
// index offsets, then scan entries in that sub-run for an exact match.
func (t *Table) Lookup(key []byte) ([]byte, bool, error) {
	if t.footer.BlockCount == 0 {
		return nil, false, nil
	}

	fh, err := t.dm.Open(t.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, false, fmt.Errorf("sstable: open %s: %w", t.path, err)
	}
	info, err := fh.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("sstable: stat %s: %w", t.path, err)
	}
	data, err := fh.Mmap(int(info.Size()))
	if err != nil {
		return nil, false, err
	}
	defer fh.Munmap(data)

	blockIdx, ok := selectBlock(data, t.footer, key)
	if !ok {
		return nil, false, nil
	}
	value, found := scanBlock(data, t.footer, blockIdx, key)
	if !found {
		return nil, false, nil
	}
	// Copy out of the mapped region before it is unmapped.
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// selectBlock linearly scans block headers to find the block whose first
// key is the greatest one not exceeding key. It returns false if key is
// smaller than the very first key in the file.
func selectBlock(data []byte, footer Footer, key []byte) (uint64, bool) {
	var prev uint64
	havePrev := false
	for i := uint64(0); i < footer.BlockCount; i++ {
		blockStart := i * footer.BlockSize
		firstKey := readIndexKey(data, blockStart)
		if bytes.Compare(firstKey, key) > 0 {
			if !havePrev {
				return 0, false
			}
			return prev, true
		}
		prev = i
		havePrev = true
	}
	return prev, true
}

// readIndexKey reads the full key out of the entry at off, which must be
// an index entry (prefix_bytes == 0).
func readIndexKey(data []byte, off uint64) []byte {
	suffixBytes := binary.LittleEndian.Uint32(data[off+4 : off+8])
	start := off + entryHeaderSize
	return data[start : start+uint64(suffixBytes)]
}

// scanBlock walks a block's intra-block index to find the sub-run
// covering key, then scans entries within that sub-run for an exact
// match, per spec.md §4.4 steps 2-3.
func scanBlock(data []byte, footer Footer, blockIdx uint64, key []byte) ([]byte, bool) {
	blockStart := blockIdx * footer.BlockSize
	blockEnd := blockStart + footer.BlockSize

	idxCount := binary.LittleEndian.Uint64(data[blockEnd-8 : blockEnd])
	idxArrayStart := blockEnd - 8 - idxCount*8

	var subrunOffset uint64
	for i := uint64(0); i < idxCount; i++ {
		off := binary.LittleEndian.Uint64(data[idxArrayStart+i*8 : idxArrayStart+i*8+8])
		idxKey := readIndexKey(data, blockStart+off)
		if bytes.Compare(idxKey, key) > 0 {
			break
		}
		subrunOffset = off
	}

	pos := blockStart + subrunOffset
	currentPrefix := readIndexKey(data, pos)
	first := true
	for pos < idxArrayStart {
		prefixBytes := binary.LittleEndian.Uint32(data[pos : pos+4])
		suffixBytes := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		valueBytes := binary.LittleEndian.Uint64(data[pos+8 : pos+16])

		if prefixBytes == 0 && !first {
			return nil, false // start of next sub-run; no match in this one
		}
		first = false

		suffixStart := pos + entryHeaderSize
		suffix := data[suffixStart : suffixStart+uint64(suffixBytes)]

		var fullKey []byte
		if prefixBytes == 0 {
			fullKey = suffix
			currentPrefix = suffix
		} else {
			fullKey = append(append([]byte{}, currentPrefix[:prefixBytes]...), suffix...)
		}

		cmp := bytes.Compare(fullKey, key)
		if cmp == 0 {
			valueStart := suffixStart + uint64(padded(int(suffixBytes)))
			return data[valueStart : valueStart+valueBytes], true
		}
		if cmp > 0 {
			return nil, false
		}

		valueStart := suffixStart + uint64(padded(int(suffixBytes)))
		pos = valueStart + uint64(padded(int(valueBytes)))
	}
	return nil, false
}
