package smartlsm

import (
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/dominciyue/new-smart-lsmtree/distance"
	"github.com/dominciyue/new-smart-lsmtree/internal/embedlog"
	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
	"github.com/dominciyue/new-smart-lsmtree/internal/hnsw"
	"github.com/dominciyue/new-smart-lsmtree/internal/lsm"
)

// Tombstone is the sentinel value denoting deletion. It must never be
// stored as user data; Put refuses it.
const Tombstone = lsm.Tombstone

// Entry is a key-value pair returned by Scan.
type Entry = lsm.Entry

// Store is a persistent key-value store over natural-language values with
// an approximate-nearest-neighbor index over per-value embeddings.
//
// The public surface is single-threaded: all reads and writes happen on one
// goroutine of control. The only internal concurrency is the parallel index
// save path, which operates on frozen snapshots.
type Store struct {
	opts    options
	fsys    fs.FileSystem
	logger  *Logger
	metrics MetricsCollector

	dataDir string
	tree    *lsm.Tree
	elog    *embedlog.Log
	graph   *hnsw.Graph

	// embeddings is the authoritative in-memory vector per key; dirty
	// tracks keys whose latest vector has not reached the embedding log.
	embeddings map[uint64][]float32
	dirty      map[uint64]struct{}
	dim        int

	closed bool
}

// storeVectors adapts the store's embedding map to the graph's VectorSource.
type storeVectors struct{ s *Store }

func (v storeVectors) Vector(key uint64) ([]float32, bool) {
	vec, ok := v.s.embeddings[key]
	return vec, ok
}

// Open bootstraps the store under dataDir: level directories and the
// embedding log are recovered, and the vector index is loaded from the
// configured index directory or rebuilt from the recovered embeddings.
func Open(dataDir string, optFns ...Option) (*Store, error) {
	opts := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		fileSystem:       fs.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		opts:       opts,
		fsys:       opts.fileSystem,
		logger:     opts.logger,
		metrics:    opts.metricsCollector,
		dataDir:    dataDir,
		embeddings: make(map[uint64][]float32),
		dirty:      make(map[uint64]struct{}),
	}

	tree, err := lsm.Open(s.fsys, dataDir, s.logger.Logger)
	if err != nil {
		return nil, err
	}
	s.tree = tree
	tree.SetFlushHook(s.persistFlushedEmbeddings)

	s.elog = embedlog.New(s.fsys, filepath.Join(dataDir, embedlog.FileName))
	rec, err := s.elog.Recover()
	if err != nil {
		s.logger.LogRecovery(0, 0, err)
	} else {
		s.dim = rec.Dim
		s.embeddings = rec.Vectors
		s.logger.LogRecovery(len(rec.Vectors), rec.TrailingBytes, nil)
	}

	s.graph = hnsw.New(storeVectors{s}, func(o *hnsw.Options) {
		o.Logger = s.logger.Logger
		o.RandomSeed = opts.randomSeed
	})
	s.graph.SetDimension(s.dim)

	if opts.hnswIndexDir != "" {
		if err := s.graph.Load(s.fsys, opts.hnswIndexDir); err != nil {
			s.logger.Info("no vector index loaded, starting empty", "path", opts.hnswIndexDir, "reason", err)
		}
	}

	if s.graph.Empty() && len(s.embeddings) > 0 {
		s.rebuildGraph()
	}
	return s, nil
}

// rebuildGraph reconstructs the graph from the recovered embedding map.
func (s *Store) rebuildGraph() {
	keys := make([]uint64, 0, len(s.embeddings))
	for key := range s.embeddings {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rebuilt := 0
	for _, key := range keys {
		vec := s.embeddings[key]
		if len(vec) != s.dim || distance.IsTombstone(vec) {
			continue
		}
		s.graph.Insert(key, vec)
		rebuilt++
	}
	s.logger.Info("vector index rebuilt from embeddings", "nodes", rebuilt)
}

// persistFlushedEmbeddings is the LSM flush hook: it appends the in-memory
// embedding of every flushed key (normal vectors and tombstone vectors
// alike) to the embedding log and clears their dirty marks.
func (s *Store) persistFlushedEmbeddings(entries []lsm.Entry) error {
	if s.dim == 0 {
		return nil
	}

	records := make([]embedlog.Record, 0, len(entries))
	for _, e := range entries {
		vec, ok := s.embeddings[e.Key]
		if !ok || len(vec) == 0 {
			continue
		}
		records = append(records, embedlog.Record{Key: e.Key, Vector: vec})
		delete(s.dirty, e.Key)
	}

	skipped, err := s.elog.AppendBatch(s.dim, records)
	if skipped > 0 {
		s.logger.Warn("embedding log: dimension-mismatched records skipped", "count", skipped)
	}
	return err
}

// embedValue computes the vector to store for a value, discovering the
// dimension on first use.
func (s *Store) embedValue(value string) ([]float32, error) {
	if value == Tombstone {
		if s.dim > 0 {
			return distance.Tombstone(s.dim), nil
		}
		return nil, nil
	}
	if value == "" {
		if s.dim > 0 {
			return make([]float32, s.dim), nil
		}
		return nil, nil
	}

	var vec []float32
	if s.opts.embedder != nil {
		v, err := s.opts.embedder.Embed(value)
		if err != nil {
			s.logger.Warn("embedding failed, storing without vector", "error", err)
		} else {
			vec = v
		}
	}

	if s.dim == 0 && len(vec) > 0 {
		s.dim = len(vec)
		s.graph.SetDimension(s.dim)
	}

	if len(vec) == 0 && s.dim > 0 {
		return make([]float32, s.dim), nil
	}
	if len(vec) > 0 && s.dim > 0 && len(vec) != s.dim {
		return nil, &ErrDimensionMismatch{Expected: s.dim, Actual: len(vec)}
	}
	return vec, nil
}

// Put inserts or updates a key-value pair, computing and tracking its
// embedding and keeping the vector index in sync.
func (s *Store) Put(key uint64, value string) error {
	start := time.Now()
	err := s.put(key, value)
	s.metrics.RecordPut(time.Since(start), err)
	return err
}

func (s *Store) put(key uint64, value string) error {
	if s.closed {
		return ErrClosed
	}
	if value == Tombstone {
		return ErrReservedValue
	}

	vec, err := s.embedValue(value)
	if err != nil {
		return err
	}
	return s.store(key, value, vec)
}

// PutWithEmbedding is Put with a caller-supplied vector: the embedder is
// never called, but the dimension contract still holds.
func (s *Store) PutWithEmbedding(key uint64, value string, vec []float32) error {
	start := time.Now()
	err := s.putWithEmbedding(key, value, vec)
	s.metrics.RecordPut(time.Since(start), err)
	return err
}

func (s *Store) putWithEmbedding(key uint64, value string, vec []float32) error {
	if s.closed {
		return ErrClosed
	}
	if value == Tombstone {
		return ErrReservedValue
	}

	if s.dim == 0 && len(vec) > 0 {
		s.dim = len(vec)
		s.graph.SetDimension(s.dim)
	}
	if len(vec) > 0 && len(vec) != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: len(vec)}
	}
	return s.store(key, value, append([]float32(nil), vec...))
}

// store runs the shared tail of both put paths: deleted-vector
// bookkeeping, embedding map update, LSM insert, and graph maintenance.
func (s *Store) store(key uint64, value string, vec []float32) error {
	old, hadOld := s.embeddings[key]
	if hadOld && len(old) > 0 && !distance.IsTombstone(old) {
		s.graph.QueueDeletedVector(old)
	}

	s.embeddings[key] = vec
	if len(vec) > 0 {
		s.dirty[key] = struct{}{}
	}

	if err := s.tree.Put(key, value); err != nil {
		return err
	}

	if s.dim > 0 {
		live := len(vec) > 0 && !distance.IsTombstone(vec) && value != ""
		if live {
			s.graph.Insert(key, vec)
		} else if hadOld {
			s.graph.Delete(key, nil)
		}
	}
	return nil
}

// Get returns the value stored under key, or the empty string when the key
// is absent or deleted. It never fails for missing keys.
func (s *Store) Get(key uint64) string {
	start := time.Now()
	v, found := "", false
	if !s.closed {
		v, found = s.tree.Get(key)
	}
	s.metrics.RecordGet(time.Since(start), found)
	return v
}

// Del removes a key if it exists anywhere, marking its vector-index node
// deleted and recording an embedding tombstone. It returns false when the
// key is absent.
func (s *Store) Del(key uint64) (bool, error) {
	start := time.Now()
	deleted, err := s.del(key)
	s.metrics.RecordDelete(time.Since(start), deleted)
	return deleted, err
}

func (s *Store) del(key uint64) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}

	deleted, err := s.tree.Del(key)
	if err != nil || !deleted {
		return deleted, err
	}

	s.graph.Delete(key, s.embeddings[key])
	if s.dim > 0 {
		s.embeddings[key] = distance.Tombstone(s.dim)
		s.dirty[key] = struct{}{}
	}
	return true, nil
}

// Scan returns all live entries with lo <= key <= hi in ascending key
// order, freshest copy per key, tombstones elided.
func (s *Store) Scan(lo, hi uint64) ([]Entry, error) {
	start := time.Now()
	if s.closed {
		return nil, ErrClosed
	}
	out, err := s.tree.Scan(lo, hi)
	s.metrics.RecordScan(time.Since(start), len(out))
	return out, err
}

// Reset drops every key, value, embedding, and index node, on disk and in
// memory. The discovered dimension is retained.
func (s *Store) Reset() error {
	if s.closed {
		return ErrClosed
	}

	if err := s.tree.Reset(); err != nil {
		return err
	}
	if err := s.elog.Remove(); err != nil {
		s.logger.Error("reset: embedding log removal failed", "error", err)
	}

	s.embeddings = make(map[uint64][]float32)
	s.dirty = make(map[uint64]struct{})
	s.graph.Reset()

	if dir := s.opts.hnswIndexDir; dir != "" {
		for _, name := range []string{hnsw.GlobalHeaderFile, hnsw.DeletedVectorsFile, hnsw.NodesDir} {
			if err := s.fsys.RemoveAll(filepath.Join(dir, name)); err != nil {
				s.logger.Error("reset: index file removal failed", "name", name, "error", err)
			}
		}
	}
	return nil
}

// GetEmbedding exposes the embedding collaborator for query vectorization.
func (s *Store) GetEmbedding(text string) ([]float32, error) {
	if s.opts.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return s.opts.embedder.Embed(text)
}

// Embedding returns the in-memory embedding tracked for key; used by tests
// and diagnostics.
func (s *Store) Embedding(key uint64) ([]float32, bool) {
	vec, ok := s.embeddings[key]
	return vec, ok
}

// Dimension returns the discovered embedding dimension, 0 while unknown.
func (s *Store) Dimension() int { return s.dim }

// SaveHNSWIndex persists the vector index under path. Saving is always
// explicit; it never happens implicitly on Close. With parallel set,
// per-node writes fan out across a worker pool.
func (s *Store) SaveHNSWIndex(path string, parallel bool) error {
	start := time.Now()
	if s.closed {
		return ErrClosed
	}
	err := s.graph.Save(s.fsys, path, parallel)
	s.metrics.RecordSave(time.Since(start), err)
	s.logger.LogSnapshot(path, parallel, err)
	return err
}

// LoadHNSWIndex replaces the in-memory vector index with the one stored
// under path.
func (s *Store) LoadHNSWIndex(path string) error {
	if s.closed {
		return ErrClosed
	}
	return s.graph.Load(s.fsys, path)
}

// Close flushes the memtable and any unflushed embeddings, then shuts down
// the embedder if it is closable. The vector index is not saved; call
// SaveHNSWIndex explicitly.
func (s *Store) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	err := s.tree.Close()

	if s.dim > 0 && len(s.dirty) > 0 {
		records := make([]embedlog.Record, 0, len(s.dirty))
		for key := range s.dirty {
			if vec, ok := s.embeddings[key]; ok && len(vec) > 0 {
				records = append(records, embedlog.Record{Key: key, Vector: vec})
			}
		}
		if _, appendErr := s.elog.AppendBatch(s.dim, records); appendErr != nil {
			s.logger.Error("close: embedding append failed", "error", appendErr)
			if err == nil {
				err = appendErr
			}
		}
		s.dirty = make(map[uint64]struct{})
	}

	if closer, ok := s.opts.embedder.(io.Closer); ok {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
