package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
)

// Head is the in-memory summary of an on-disk table: header fields, Bloom
// filter, and the key index. It is everything a read path needs to decide
// whether and where to touch the file.
type Head struct {
	Path      string
	Timestamp uint64
	MinKey    uint64
	MaxKey    uint64

	bloom   *Bloom
	keys    []uint64
	offsets []uint32 // cumulative value end offsets relative to the blob start
}

// LoadHead reads the prefix of an SSTable file needed for pruning reads:
// header, Bloom filter, and index.
func LoadHead(fsys fs.FileSystem, path string) (*Head, error) {
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header [HeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, path, err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != tableMagic {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMagic, path)
	}

	count := binary.LittleEndian.Uint32(header[4:8])
	h := &Head{
		Path:      path,
		MinKey:    binary.LittleEndian.Uint64(header[8:16]),
		MaxKey:    binary.LittleEndian.Uint64(header[16:24]),
		Timestamp: binary.LittleEndian.Uint64(header[24:32]),
		bloom:     &Bloom{},
		keys:      make([]uint64, count),
		offsets:   make([]uint32, count),
	}

	raw := make([]byte, BloomSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, path, err)
	}
	h.bloom.SetBytes(raw)

	idx := make([]byte, count*indexEntrySize)
	if _, err := io.ReadFull(f, idx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, path, err)
	}
	for i := uint32(0); i < count; i++ {
		h.keys[i] = binary.LittleEndian.Uint64(idx[i*indexEntrySize:])
		h.offsets[i] = binary.LittleEndian.Uint32(idx[i*indexEntrySize+8:])
	}
	return h, nil
}

// Count returns the number of entries in the table.
func (h *Head) Count() int { return len(h.keys) }

// KeyAt returns the i-th key of the index.
func (h *Head) KeyAt(i int) uint64 { return h.keys[i] }

// DataStart returns the absolute file offset of the value blob.
func (h *Head) DataStart() int64 {
	return int64(DataStartOverhead) + int64(len(h.keys))*indexEntrySize
}

// ValueBounds returns the i-th value's start offset (relative to the blob)
// and length.
func (h *Head) ValueBounds(i int) (start, length uint32) {
	if i > 0 {
		start = h.offsets[i-1]
	}
	return start, h.offsets[i] - start
}

// LowerBound returns the index of the first key >= target, or Count() if
// every key is smaller.
func (h *Head) LowerBound(target uint64) int {
	return sort.Search(len(h.keys), func(i int) bool { return h.keys[i] >= target })
}

// SearchOffset looks key up via the Bloom filter and binary search. A false
// result is definitive: the key is not in the table.
func (h *Head) SearchOffset(key uint64) (start, length uint32, ok bool) {
	if key < h.MinKey || key > h.MaxKey {
		return 0, 0, false
	}
	if !h.bloom.MayContain(key) {
		return 0, 0, false
	}
	i := h.LowerBound(key)
	if i >= len(h.keys) || h.keys[i] != key {
		return 0, 0, false
	}
	start, length = h.ValueBounds(i)
	return start, length, true
}

// FetchAt reads the i-th value from disk.
func (h *Head) FetchAt(fsys fs.FileSystem, i int) (string, error) {
	start, length := h.ValueBounds(i)
	return FetchValue(fsys, h.Path, h.DataStart()+int64(start), length)
}

// Fetch reads the value for key from disk. The boolean is false when the
// key is absent.
func (h *Head) Fetch(fsys fs.FileSystem, key uint64) (string, bool, error) {
	start, length, ok := h.SearchOffset(key)
	if !ok {
		return "", false, nil
	}
	v, err := FetchValue(fsys, h.Path, h.DataStart()+int64(start), length)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Overlaps reports whether the table's key range intersects [lo, hi].
func (h *Head) Overlaps(lo, hi uint64) bool {
	return !(h.MaxKey < lo || h.MinKey > hi)
}
