package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{1, 2, 3}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-6)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-6)
	})

	t.Run("zero norm yields zero", func(t *testing.T) {
		assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	})

	t.Run("length mismatch yields zero", func(t *testing.T) {
		assert.Equal(t, float32(0), CosineSimilarity([]float32{1}, []float32{1, 2}))
	})

	t.Run("empty yields zero", func(t *testing.T) {
		assert.Equal(t, float32(0), CosineSimilarity(nil, nil))
	})
}

func TestCosine(t *testing.T) {
	v := []float32{0.5, 0.25, -1}
	assert.InDelta(t, 0.0, Cosine(v, v), 1e-6)
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
}

func TestTombstone(t *testing.T) {
	v := Tombstone(4)
	assert.Len(t, v, 4)
	assert.True(t, IsTombstone(v))

	v[2] = 0
	assert.False(t, IsTombstone(v))

	assert.False(t, IsTombstone(nil))
	assert.False(t, IsTombstone([]float32{}))
	assert.True(t, IsTombstone([]float32{math.MaxFloat32}))
}

func TestEqualWithin(t *testing.T) {
	a := []float32{1.0, 2.0, 3.0}
	b := []float32{1.05, 1.95, 3.0}

	assert.True(t, EqualWithin(a, b, DefaultEpsilon))
	assert.False(t, EqualWithin(a, b, FilterEpsilon))
	assert.False(t, EqualWithin(a, a[:2], DefaultEpsilon))
	assert.True(t, EqualWithin(nil, nil, DefaultEpsilon))
}
