package smartlsm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dominciyue/new-smart-lsmtree/testutil"
)

func TestSearchKNNBaseline(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 64; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}

	results, err := s.SearchKNN(text(17), 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, uint64(17), results[0].Key)
	assert.Equal(t, text(17), results[0].Value)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearchKNNInvalidK(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	_, err := s.SearchKNN("anything", 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestSearchHNSWMatchesExactOnQueryText(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 128; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}

	results, err := s.SearchKNNHNSW(text(99), 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(99), results[0].Key)
	assert.Equal(t, text(99), results[0].Value)
}

func TestSearchAfterUpdatePrefersNewText(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 32; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}

	oldText := "the original unique phrasing"
	newText := "a completely different wording"
	require.NoError(t, s.Put(5, oldText))
	require.NoError(t, s.Put(5, newText))

	results, err := s.SearchKNNHNSW(newText, 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(5), results[0].Key)
	assert.Equal(t, newText, results[0].Value)

	results, err = s.SearchKNNHNSW(oldText, 1)
	require.NoError(t, err)
	if len(results) > 0 {
		assert.NotEqual(t, oldText, results[0].Value)
	}
}

func TestSearchExcludesDeletedAfterReload(t *testing.T) {
	dir := t.TempDir()
	indexDir := t.TempDir()

	s := openStore(t, dir)
	for i := uint64(0); i < 64; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}

	// Delete key 33 and persist the index including the deleted-vector
	// list, then reload it: the structural flag is gone but the vector
	// filter must still keep 33 out.
	_, err := s.Del(33)
	require.NoError(t, err)
	require.NoError(t, s.SaveHNSWIndex(indexDir, false))
	require.NoError(t, s.Close())

	reopened := openStore(t, dir, WithHNSWIndexDir(indexDir))
	defer reopened.Close()

	results, err := reopened.SearchKNNHNSW(text(33), 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(33), r.Key)
	}
}

func TestSearchReturnsFewerThanKWhenStoreIsSmall(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Put(1, "only document"))

	results, err := s.SearchKNNHNSW("only document", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestGraphSearchRecallAgainstBaseline(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	const n = 300
	for i := uint64(0); i < n; i++ {
		require.NoError(t, s.Put(i, fmt.Sprintf("entry %d with some padding text %d", i, i*31)))
	}

	const k = 10
	var totalRecall float64
	queries := 0
	for q := uint64(0); q < n; q += 29 {
		queryText := fmt.Sprintf("entry %d with some padding text %d", q, q*31)

		exact, err := s.SearchKNN(queryText, k)
		require.NoError(t, err)
		approx, err := s.SearchKNNHNSW(queryText, k)
		require.NoError(t, err)

		exactKeys := make([]uint64, len(exact))
		for i, r := range exact {
			exactKeys[i] = r.Key
		}
		approxKeys := make([]uint64, len(approx))
		for i, r := range approx {
			approxKeys[i] = r.Key
		}

		totalRecall += testutil.ComputeRecall(exactKeys, approxKeys)
		queries++
	}

	recall := totalRecall / float64(queries)
	assert.GreaterOrEqual(t, recall, 0.85, "average recall %f", recall)
}

func TestSearchFallbackFillsAfterManyDeletes(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := uint64(0); i < 40; i++ {
		require.NoError(t, s.Put(i, text(i)))
	}
	// Delete most of the set so the graph filter starves and the exact
	// fallback must fill the result.
	for i := uint64(0); i < 35; i++ {
		_, err := s.Del(i)
		require.NoError(t, err)
	}

	results, err := s.SearchKNNHNSW(text(36), 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	seen := map[uint64]struct{}{}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Key, uint64(35))
		_, dup := seen[r.Key]
		assert.False(t, dup, "duplicate key %d", r.Key)
		seen[r.Key] = struct{}{}
	}
}

func TestSearchEmptyStore(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	results, err := s.SearchKNNHNSW("anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
