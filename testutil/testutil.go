package testutil

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// UniformRangeVectors generates random vectors with values in [-1, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformRangeVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)
	for i := 0; i < num; i++ {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
		vectors[i] = vec
	}
	return vectors
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unitVector(r.rand, dimensions)
}

func unitVector(rng *rand.Rand, dimensions int) []float32 {
	vec := make([]float32, dimensions)
	var norm float64
	for j := range vec {
		v := rng.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		norm = 1
	}
	inv := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}
	return vec
}

// HashingEmbedder is a deterministic, hermetic stand-in for a real
// embedding model: each distinct text maps to a reproducible unit vector,
// and equal texts always map to equal vectors. It has no notion of
// semantic similarity beyond exact equality, which is enough to exercise
// the store's index plumbing in tests.
type HashingEmbedder struct {
	Dim int
}

// Embed implements the store's Embedder contract.
func (e HashingEmbedder) Embed(text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	return unitVector(rng, e.Dim), nil
}

// ComputeRecall computes the overlap fraction between ground-truth keys
// and approximate result keys.
func ComputeRecall(groundTruth, approximate []uint64) float64 {
	if len(groundTruth) == 0 {
		return 1.0
	}

	truth := make(map[uint64]struct{}, len(groundTruth))
	for _, k := range groundTruth {
		truth[k] = struct{}{}
	}

	hits := 0
	for _, k := range approximate {
		if _, ok := truth[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}
