package embedlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
)

// FileName is the log file name inside the data directory.
const FileName = "embeddings.bin"

var ErrDimensionMismatch = errors.New("embedlog: record dimension mismatch")

// Record is a single (key, vector) pair. A vector whose every component is
// the maximum finite float32 marks the key as embedding-deleted.
type Record struct {
	Key    uint64
	Vector []float32
}

// Log is the append-only embedding log: a u64 dimension prefix followed by
// packed (key u64, float32[dim]) records, all little-endian. The latest
// record for a key, scanning from the end, is authoritative.
type Log struct {
	fsys fs.FileSystem
	path string
}

// New creates a handle for the log at path. The file is created lazily on
// the first append.
func New(fsys fs.FileSystem, path string) *Log {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Log{fsys: fsys, path: path}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// AppendBatch appends records of the given dimension. The dimension prefix
// is written when the file is empty. Records whose vector length differs
// from dim are skipped; the count of skipped records is returned so the
// caller can log them.
func (l *Log) AppendBatch(dim int, records []Record) (skipped int, err error) {
	if dim <= 0 || len(records) == 0 {
		return 0, nil
	}

	f, err := l.fsys.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}

	var scratch [8]byte
	if stat.Size() == 0 {
		binary.LittleEndian.PutUint64(scratch[:], uint64(dim))
		if _, err := f.Write(scratch[:]); err != nil {
			return 0, err
		}
	}

	buf := make([]byte, 8+dim*4)
	for _, rec := range records {
		if len(rec.Vector) != dim {
			skipped++
			continue
		}
		binary.LittleEndian.PutUint64(buf[0:8], rec.Key)
		for i, v := range rec.Vector {
			binary.LittleEndian.PutUint32(buf[8+i*4:], math.Float32bits(v))
		}
		if _, err := f.Write(buf); err != nil {
			return skipped, err
		}
	}
	return skipped, f.Sync()
}

// RecoverResult is the outcome of replaying the log backward.
type RecoverResult struct {
	// Dim is the vector dimension read from the file prefix, 0 when the
	// file does not exist.
	Dim int

	// Vectors maps each live key to its latest vector. Keys whose latest
	// record is the tombstone vector are absent.
	Vectors map[uint64][]float32

	// Records is the number of whole records in the file.
	Records int64

	// TrailingBytes is the length of a partial record at the end of the
	// file, 0 for a well-formed log. Partial tails are skipped.
	TrailingBytes int64
}

// Recover replays the log from EOF backward in record-sized strides. The
// first occurrence of a key from the end decides its fate: tombstone means
// absent, anything else is the live vector. Runs in O(records) time with
// O(unique keys) extra space.
func (l *Log) Recover() (*RecoverResult, error) {
	res := &RecoverResult{Vectors: make(map[uint64][]float32)}

	f, err := l.fsys.OpenFile(l.path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < 8 {
		res.TrailingBytes = size
		return res, nil
	}

	var dimBuf [8]byte
	if _, err := f.ReadAt(dimBuf[:], 0); err != nil {
		return nil, err
	}
	dim := int(binary.LittleEndian.Uint64(dimBuf[:]))
	if dim <= 0 {
		return nil, fmt.Errorf("embedlog: invalid dimension %d in %s", dim, l.path)
	}
	res.Dim = dim

	blockSize := int64(8 + dim*4)
	dataBytes := size - 8
	res.Records = dataBytes / blockSize
	res.TrailingBytes = dataBytes % blockSize

	seen := roaring64.New()
	tombstone := tombstoneVector(dim)
	buf := make([]byte, blockSize)

	for i := res.Records - 1; i >= 0; i-- {
		if _, err := f.ReadAt(buf, 8+i*blockSize); err != nil && err != io.EOF {
			return nil, err
		}

		key := binary.LittleEndian.Uint64(buf[0:8])
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)

		vec := make([]float32, dim)
		deleted := true
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[8+j*4:]))
			if vec[j] != tombstone[j] {
				deleted = false
			}
		}
		if !deleted {
			res.Vectors[key] = vec
		}
	}
	return res, nil
}

// Remove deletes the log file if it exists.
func (l *Log) Remove() error {
	err := l.fsys.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func tombstoneVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.MaxFloat32
	}
	return v
}
