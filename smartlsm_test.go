package smartlsm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dominciyue/new-smart-lsmtree/testutil"
)

const testDim = 32

func openStore(t *testing.T, dir string, extra ...Option) *Store {
	t.Helper()

	opts := append([]Option{
		WithEmbedder(testutil.HashingEmbedder{Dim: testDim}),
		WithRandomSeed(1),
	}, extra...)
	s, err := Open(dir, opts...)
	require.NoError(t, err)
	return s
}

func text(i uint64) string {
	return fmt.Sprintf("document %d speaks about topic %d", i, i%13)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 128; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}
	for i := uint64(0); i < 128; i++ {
		assert.Equal(t, text(i), s.Get(i), "key %d", i)
	}
	assert.Equal(t, testDim, s.Dimension())
}

func TestGetMissingKey(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	assert.Equal(t, "", s.Get(42))
}

func TestPutRefusesTombstoneSentinel(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	err := s.Put(1, Tombstone)
	assert.ErrorIs(t, err, ErrReservedValue)
}

func TestDeleteHidesValueAndIndex(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	for i := uint64(0); i < 128; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}
	for i := uint64(0); i < 64; i++ {
		ok, err := s.Del(i)
		require.NoError(t, err)
		assert.True(t, ok, "key %d", i)
	}

	require.NoError(t, s.SaveHNSWIndex(t.TempDir(), false))

	assert.Equal(t, "", s.Get(0))
	assert.Equal(t, text(64), s.Get(64))

	ok, err := s.Del(0)
	require.NoError(t, err)
	assert.False(t, ok, "double delete")
}

func TestScanSkipsDeleted(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 20; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}
	_, err := s.Del(5)
	require.NoError(t, err)

	entries, err := s.Scan(0, 9)
	require.NoError(t, err)
	require.Len(t, entries, 9)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Key, entries[i-1].Key)
	}
	for _, e := range entries {
		assert.NotEqual(t, uint64(5), e.Key)
		assert.Equal(t, text(e.Key), e.Value)
	}
}

func TestUpdateReplacesValue(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put(1, "first version"))
	require.NoError(t, s.Put(1, "second version"))
	assert.Equal(t, "second version", s.Get(1))
}

func TestReopenRecoversState(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	for i := uint64(0); i < 100; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}
	_, err := s.Del(7)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	defer reopened.Close()

	assert.Equal(t, testDim, reopened.Dimension())
	for i := uint64(0); i < 100; i++ {
		if i == 7 {
			assert.Equal(t, "", reopened.Get(i))
			continue
		}
		assert.Equal(t, text(i), reopened.Get(i), "key %d", i)
	}

	// Embeddings were recovered and the graph rebuilt from them.
	_, ok := reopened.Embedding(42)
	assert.True(t, ok)
	results, err := reopened.SearchKNNHNSW(text(42), 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(42), results[0].Key)
}

func TestLargeWorkloadSpillsToDisk(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-megabyte workload")
	}

	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	// 1 KiB values against a 2 MiB memtable: about 2000 entries fit, so
	// 4000 entries spill the memtable into level 0.
	pad := make([]byte, 1024)
	for i := range pad {
		pad[i] = byte('a' + i%26)
	}
	for i := uint64(0); i < 4000; i++ {
		require.NoError(t, s.Put(i, fmt.Sprintf("%04d:%s", i, pad)))
	}

	for _, i := range []uint64{0, 1234, 2500, 3999} {
		assert.Equal(t, fmt.Sprintf("%04d:%s", i, pad), s.Get(i), "key %d", i)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 10; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}
	require.NoError(t, s.Reset())

	assert.Equal(t, "", s.Get(1))
	entries, err := s.Scan(0, 100)
	require.NoError(t, err)
	assert.Empty(t, entries)

	results, err := s.SearchKNNHNSW(text(1), 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	// The store stays usable after a reset.
	require.NoError(t, s.Put(1, "fresh"))
	assert.Equal(t, "fresh", s.Get(1))
}

func TestPutWithEmbedding(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	rng := testutil.NewRNG(5)
	vec := rng.UnitVector(testDim)
	require.NoError(t, s.PutWithEmbedding(1, "precomputed doc", vec))

	got, ok := s.Embedding(1)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	results, err := s.SearchKNNHNSWVector(vec, 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(1), results[0].Key)
}

func TestPutWithEmbeddingDimensionMismatch(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put(1, text(1))) // fixes the dimension

	err := s.PutWithEmbedding(2, "short vector", []float32{1, 2, 3})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, testDim, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	// Refused write left no trace.
	assert.Equal(t, "", s.Get(2))
	_, ok := s.Embedding(2)
	assert.False(t, ok)
}

func TestOperationsAfterClose(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(1, "x"), ErrClosed)
	_, err := s.Del(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Scan(0, 10)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.Equal(t, "", s.Get(1))
}

func TestMetricsCollected(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	s := openStore(t, t.TempDir(), WithMetricsCollector(metrics))
	defer s.Close()

	require.NoError(t, s.Put(1, "hello world"))
	s.Get(1)
	s.Get(2)
	_, err := s.SearchKNNHNSW("hello", 3)
	require.NoError(t, err)

	assert.Equal(t, int64(1), metrics.PutCount.Load())
	assert.GreaterOrEqual(t, metrics.GetCount.Load(), int64(2))
	assert.Equal(t, int64(1), metrics.GetMisses.Load())
	assert.Equal(t, int64(1), metrics.SearchApprox.Load())
}

func TestGetEmbeddingWithoutEmbedder(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetEmbedding("text")
	assert.ErrorIs(t, err, ErrNoEmbedder)

	// Values still store fine without vectors.
	require.NoError(t, s.Put(1, "plain value"))
	assert.Equal(t, "plain value", s.Get(1))
}
