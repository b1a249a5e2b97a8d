package hnsw

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/dominciyue/new-smart-lsmtree/distance"
	"github.com/dominciyue/new-smart-lsmtree/queue"
)

const (
	// DefaultM is the target number of bidirectional links per layer.
	DefaultM = 10

	// DefaultMMax is the hard per-layer degree cap.
	DefaultMMax = 20

	// DefaultEFConstruction is the candidate list width during build.
	DefaultEFConstruction = 100
)

// VectorSource resolves a key to its current embedding. The graph stores no
// vectors of its own; the owner's in-memory embedding map is the single
// source of truth.
type VectorSource interface {
	Vector(key uint64) ([]float32, bool)
}

// Options configures the graph.
type Options struct {
	M              int
	MMax           int
	EFConstruction int
	Logger         *slog.Logger
	RandomSeed     *int64
}

// DefaultOptions are the build-time constants of the index.
var DefaultOptions = Options{
	M:              DefaultM,
	MMax:           DefaultMMax,
	EFConstruction: DefaultEFConstruction,
}

// Graph is a hierarchical navigable small-world index over the owner's
// embeddings. It is not safe for concurrent mutation; the owning store is
// single-threaded by contract.
type Graph struct {
	opts    Options
	mL      float64
	vectors VectorSource
	logger  *slog.Logger
	rng     *rand.Rand

	nodes      map[uint64]*Node
	keyToLabel map[uint64]uint64
	labelToKey map[uint64]uint64
	nextLabel  uint64
	entryPoint uint64
	maxLevel   int // -1 while the graph is empty
	dim        int

	// pendingDeleted holds vectors of deleted nodes awaiting persistence;
	// loadedDeleted holds the vectors read from deleted_nodes.bin. Both
	// filter search results by tolerant comparison.
	pendingDeleted [][]float32
	loadedDeleted  [][]float32
}

// New creates an empty graph backed by the given vector source.
func New(vectors VectorSource, optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.MMax < opts.M {
		opts.MMax = 2 * opts.M
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var seed int64
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	} else {
		seed = time.Now().UnixNano()
	}

	return &Graph{
		opts:       opts,
		mL:         1 / math.Log(float64(opts.M)),
		vectors:    vectors,
		logger:     opts.Logger,
		rng:        rand.New(rand.NewSource(seed)),
		nodes:      make(map[uint64]*Node),
		keyToLabel: make(map[uint64]uint64),
		labelToKey: make(map[uint64]uint64),
		maxLevel:   -1,
	}
}

// Reset drops all graph state, including the deletion filter lists.
func (g *Graph) Reset() {
	g.nodes = make(map[uint64]*Node)
	g.keyToLabel = make(map[uint64]uint64)
	g.labelToKey = make(map[uint64]uint64)
	g.nextLabel = 0
	g.entryPoint = 0
	g.maxLevel = -1
	g.pendingDeleted = nil
	g.loadedDeleted = nil
}

// SetDimension fixes the vector dimension. It is set once by the owner when
// the first embedding is computed or recovered.
func (g *Graph) SetDimension(dim int) { g.dim = dim }

// Dimension returns the vector dimension, 0 while unknown.
func (g *Graph) Dimension() int { return g.dim }

// Empty reports whether the graph holds no nodes at all.
func (g *Graph) Empty() bool { return len(g.nodes) == 0 }

// ActiveCount returns the number of non-deleted nodes.
func (g *Graph) ActiveCount() int {
	n := 0
	for _, node := range g.nodes {
		if !node.Deleted {
			n++
		}
	}
	return n
}

// MaxLevel returns the current top layer of the graph, -1 when empty.
func (g *Graph) MaxLevel() int { return g.maxLevel }

// EntryPoint returns the label of the current global entry point.
func (g *Graph) EntryPoint() uint64 { return g.entryPoint }

// Node returns the node stored under label.
func (g *Graph) Node(label uint64) (*Node, bool) {
	n, ok := g.nodes[label]
	return n, ok
}

// LabelForKey returns the current label of a key.
func (g *Graph) LabelForKey(key uint64) (uint64, bool) {
	l, ok := g.keyToLabel[key]
	return l, ok
}

// KeyForLabel returns the key a label belongs to.
func (g *Graph) KeyForLabel(label uint64) (uint64, bool) {
	k, ok := g.labelToKey[label]
	return k, ok
}

// Labels returns every label in the arena, in unspecified order.
func (g *Graph) Labels() []uint64 {
	out := make([]uint64, 0, len(g.nodes))
	for label := range g.nodes {
		out = append(out, label)
	}
	return out
}

// randomLevel draws a layer from the exponential distribution
// floor(-ln(U) * mL) with U uniform in (0, 1].
func (g *Graph) randomLevel() int {
	u := g.rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * g.mL))
}

// vectorForLabel resolves a label to its embedding through the key mapping.
// Missing mappings are repairable inconsistencies, not errors.
func (g *Graph) vectorForLabel(label uint64) ([]float32, bool) {
	key, ok := g.labelToKey[label]
	if !ok {
		return nil, false
	}
	return g.vectors.Vector(key)
}

// Insert adds key's vector to the graph. If the key is already indexed, the
// old node is marked deleted (its edges are left in place) and the key is
// re-indexed under a fresh label.
func (g *Graph) Insert(key uint64, vec []float32) {
	if g.dim == 0 {
		g.dim = len(vec)
	}

	if oldLabel, ok := g.keyToLabel[key]; ok {
		if old, ok := g.nodes[oldLabel]; ok {
			old.Deleted = true
		}
	}

	label := g.nextLabel
	g.nextLabel++
	g.keyToLabel[key] = label
	g.labelToKey[label] = key

	level := g.randomLevel()
	node := newNode(key, label, level)
	g.nodes[label] = node

	if g.maxLevel < 0 {
		g.entryPoint = label
		g.maxLevel = level
		return
	}

	// Descent: greedy search with ef=1 from the top down to level+1 narrows
	// the entry point toward the insertion neighborhood.
	entry := g.entryPoint
	for l := g.maxLevel; l > level; l-- {
		if nearest, ok := g.searchLayer(entry, vec, l, 1, true).TopItem(); ok {
			entry = nearest.Label
		}
	}

	// Connection phase: link the node layer by layer from its top layer
	// (bounded by the graph's) down to 0.
	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(entry, vec, l, g.opts.EFConstruction, false)

		neighbors := g.selectNeighbors(candidates, g.opts.M, label)
		node.Connections[l] = neighbors

		for _, neighbor := range neighbors {
			peer, ok := g.nodes[neighbor]
			if !ok || peer.Deleted {
				continue
			}
			if len(peer.Connections) <= l {
				continue
			}
			if !contains(peer.Connections[l], label) {
				peer.Connections[l] = append(peer.Connections[l], label)
				g.pruneConnections(neighbor, l, g.opts.MMax)
			}
		}
		g.pruneConnections(label, l, g.opts.MMax)

		if len(neighbors) > 0 {
			entry = neighbors[0]
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = label
	}
}

// Delete marks key's node as deleted and queues its last known vector for
// persistence, unless an equal vector (within tolerance) is already queued
// or was loaded from disk.
func (g *Graph) Delete(key uint64, lastVector []float32) {
	label, ok := g.keyToLabel[key]
	if !ok {
		return
	}
	node, ok := g.nodes[label]
	if !ok || node.Deleted {
		return
	}
	node.Deleted = true

	if len(lastVector) == 0 || distance.IsTombstone(lastVector) {
		return
	}
	g.QueueDeletedVector(lastVector)
}

// QueueDeletedVector records a vector for the deleted-vector file, skipping
// vectors already present in either list within the default tolerance.
func (g *Graph) QueueDeletedVector(vec []float32) {
	for _, v := range g.loadedDeleted {
		if distance.EqualWithin(vec, v, distance.DefaultEpsilon) {
			return
		}
	}
	for _, v := range g.pendingDeleted {
		if distance.EqualWithin(vec, v, distance.DefaultEpsilon) {
			return
		}
	}
	g.pendingDeleted = append(g.pendingDeleted, append([]float32(nil), vec...))
}

// DeletedVectors returns the loaded list followed by the pending list.
func (g *Graph) DeletedVectors() [][]float32 {
	out := make([][]float32, 0, len(g.loadedDeleted)+len(g.pendingDeleted))
	out = append(out, g.loadedDeleted...)
	out = append(out, g.pendingDeleted...)
	return out
}

// selectNeighbors pops the m closest candidates, never selecting self.
func (g *Graph) selectNeighbors(candidates *queue.PriorityQueue, m int, self uint64) []uint64 {
	neighbors := make([]uint64, 0, m)
	for len(neighbors) < m {
		item, ok := candidates.PopItem()
		if !ok {
			break
		}
		if item.Label == self {
			continue
		}
		neighbors = append(neighbors, item.Label)
	}
	return neighbors
}

// pruneConnections keeps only the maxConn closest neighbors of a node at
// the given level.
func (g *Graph) pruneConnections(label uint64, level, maxConn int) {
	node, ok := g.nodes[label]
	if !ok || len(node.Connections) <= level || len(node.Connections[level]) <= maxConn {
		return
	}

	vec, ok := g.vectorForLabel(label)
	if !ok {
		return
	}

	pq := queue.NewMax()
	for _, neighbor := range node.Connections[level] {
		peer, ok := g.nodes[neighbor]
		if !ok || peer.Deleted {
			continue
		}
		nvec, ok := g.vectorForLabel(neighbor)
		if !ok {
			continue
		}
		pq.PushItem(queue.PriorityQueueItem{Label: neighbor, Distance: distance.Cosine(vec, nvec)})
		if pq.Len() > maxConn {
			pq.PopItem() // drop the furthest
		}
	}

	kept := make([]uint64, 0, pq.Len())
	for {
		item, ok := pq.PopItem()
		if !ok {
			break
		}
		kept = append(kept, item.Label)
	}
	node.Connections[level] = kept
}

func contains(list []uint64, label uint64) bool {
	for _, l := range list {
		if l == label {
			return true
		}
	}
	return false
}
