package sstable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
)

const (
	// tableMagic identifies an SSTable file ("SLSM").
	tableMagic uint32 = 0x4d534c53

	// HeaderSize is the fixed on-disk header length.
	HeaderSize = 32

	// indexEntrySize is key (8) + cumulative value end offset (4).
	indexEntrySize = 12

	// DataStartOverhead is the fixed prefix before the index: header plus
	// Bloom filter.
	DataStartOverhead = HeaderSize + BloomSize
)

var (
	ErrInvalidMagic = errors.New("sstable: invalid magic")
	ErrTruncated    = errors.New("sstable: truncated file")
)

// Entry is a key-value pair destined for a table. Keys must be added in
// strictly ascending order.
type Entry struct {
	Key   uint64
	Value string
}

// Table accumulates sorted entries and writes them as an immutable run:
// [header][bloom][index][value blob]. All integers are little-endian.
type Table struct {
	timestamp uint64
	entries   []Entry
	blobSize  uint64
}

// New creates an empty table stamped with the given timestamp.
func New(timestamp uint64) *Table {
	return &Table{timestamp: timestamp}
}

// Insert appends an entry. Callers must keep keys strictly ascending.
func (t *Table) Insert(key uint64, value string) {
	t.entries = append(t.entries, Entry{Key: key, Value: value})
	t.blobSize += uint64(len(value))
}

// Count returns the number of entries.
func (t *Table) Count() int { return len(t.entries) }

// Bytes returns the on-disk size the table would have if sealed now.
func (t *Table) Bytes() uint64 {
	return DataStartOverhead + uint64(len(t.entries))*indexEntrySize + t.blobSize
}

// Timestamp returns the table's timestamp.
func (t *Table) Timestamp() uint64 { return t.timestamp }

// WriteTo writes the table to path and returns its header for the in-memory
// level directory.
func (t *Table) WriteTo(fsys fs.FileSystem, path string) (*Head, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if len(t.entries) == 0 {
		return nil, fmt.Errorf("sstable: refusing to write empty table %s", path)
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	head := &Head{
		Path:      path,
		Timestamp: t.timestamp,
		MinKey:    t.entries[0].Key,
		MaxKey:    t.entries[len(t.entries)-1].Key,
		keys:      make([]uint64, len(t.entries)),
		offsets:   make([]uint32, len(t.entries)),
		bloom:     &Bloom{},
	}

	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], tableMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(t.entries)))
	binary.LittleEndian.PutUint64(header[8:16], head.MinKey)
	binary.LittleEndian.PutUint64(header[16:24], head.MaxKey)
	binary.LittleEndian.PutUint64(header[24:32], t.timestamp)
	if _, err := w.Write(header[:]); err != nil {
		return nil, err
	}

	var end uint32
	for i, e := range t.entries {
		head.bloom.Add(e.Key)
		end += uint32(len(e.Value))
		head.keys[i] = e.Key
		head.offsets[i] = end
	}
	if _, err := w.Write(head.bloom.Bytes()); err != nil {
		return nil, err
	}

	var idx [indexEntrySize]byte
	for i := range t.entries {
		binary.LittleEndian.PutUint64(idx[0:8], head.keys[i])
		binary.LittleEndian.PutUint32(idx[8:12], head.offsets[i])
		if _, err := w.Write(idx[:]); err != nil {
			return nil, err
		}
	}

	for _, e := range t.entries {
		if _, err := w.Write([]byte(e.Value)); err != nil {
			return nil, err
		}
	}

	if err := w.Flush(); err != nil {
		return nil, err
	}
	return head, f.Sync()
}

// FetchValue reads len bytes at the absolute file offset from path without
// loading the rest of the file.
func FetchValue(fsys fs.FileSystem, path string, offset int64, length uint32) (string, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if length == 0 {
		return "", nil
	}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return "", err
	}
	return string(buf), nil
}
