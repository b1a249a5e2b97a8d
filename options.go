package smartlsm

import (
	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
)

type options struct {
	hnswIndexDir     string
	embedder         Embedder
	logger           *Logger
	metricsCollector MetricsCollector
	fileSystem       fs.FileSystem
	randomSeed       *int64
}

// Option configures Open behavior.
type Option func(*options)

// WithHNSWIndexDir configures the directory to load the vector index from
// at startup. When absent or empty, the store starts with an empty graph
// (rebuilding it from recovered embeddings if any exist).
func WithHNSWIndexDir(dir string) Option {
	return func(o *options) {
		o.hnswIndexDir = dir
	}
}

// WithEmbedder configures the embedding collaborator used to vectorize
// values and text queries. Without one, text operations return
// ErrNoEmbedder and values are stored without vectors.
func WithEmbedder(e Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithLogger configures structured logging. The default discards all
// output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures operational metrics collection.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metricsCollector = m
	}
}

// WithFileSystem overrides the file system, mainly for tests and fault
// injection.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fileSystem = fsys
	}
}

// WithRandomSeed pins the graph's level generator for reproducible tests.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		s := seed
		o.randomSeed = &s
	}
}
