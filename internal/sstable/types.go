package sstable

import "fmt"

// Magic is the trailing 8-byte marker of every complete SST file's footer.
const Magic uint64 = 0x677265676F727968

// Extension is the filename suffix that marks a file as owned by the SST
// tier.
const Extension = ".kvsst"

// BloomExtension is the filename suffix of a table's optional bloom-filter
// sidecar (spec.md §9: built at flush time, never consulted on the read
// path — a hook for future work).
const BloomExtension = ".kvbloom"

// entryHeaderSize is the fixed 8-byte-aligned header preceding every
// entry's key and value payload: u32 prefix_bytes, u32 suffix_bytes,
// u64 value_bytes.
const entryHeaderSize = 4 + 4 + 8

// footerSize is the fixed trailer written once per file: six little-endian
// u64 fields (block_size, block_count, entry_count, key_bytes, value_bytes,
// magic).
const footerSize = 6 * 8

// Footer summarizes a completed SST file.
type Footer struct {
	BlockSize  uint64
	BlockCount uint64
	EntryCount uint64
	KeyBytes   uint64
	ValueBytes uint64
}

// ErrNotFound is a sentinel for a key that is not present. Lookup does not
// return it; Lookup reports a miss through its boolean result.
var ErrNotFound = fmt.Errorf("sstable: key not found")

// ErrBadMagic is returned when a file's footer magic does not match,
// indicating truncation or corruption. This is a fatal precondition per
// spec.md §7; callers should treat it as unrecoverable for that file.
var ErrBadMagic = fmt.Errorf("sstable: bad magic")

// padded returns n rounded up to the next 8-byte boundary using the
// spec's padding rule: padding is always 8-(n mod 8), so an already
// 8-byte-aligned n still receives a full 8 bytes of padding.
func padded(n int) int {
	return n + (8 - n%8)
}
