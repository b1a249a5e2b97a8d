package smartlsm

import (
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/dominciyue/new-smart-lsmtree/distance"
)

// SearchResult is one KNN hit: the key, its live value, and the cosine
// similarity to the query.
type SearchResult struct {
	Key        uint64
	Value      string
	Similarity float32
}

// SearchKNN returns the top-k values whose embeddings are most similar to
// the query text, by exact scan. Ties break by ascending key.
func (s *Store) SearchKNN(query string, k int) ([]SearchResult, error) {
	vec, err := s.GetEmbedding(query)
	if err != nil {
		return nil, err
	}
	return s.SearchKNNVector(vec, k)
}

// SearchKNNVector is the exact baseline search over a query vector: it
// walks the memtable and every run, scores each live key once, and keeps
// the top k by similarity.
func (s *Store) SearchKNNVector(query []float32, k int) ([]SearchResult, error) {
	start := time.Now()
	out, err := s.searchExact(query, k)
	s.metrics.RecordSearch(k, false, time.Since(start), err)
	s.logger.LogSearch(k, len(out), err)
	return out, err
}

func (s *Store) searchExact(query []float32, k int) ([]SearchResult, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) == 0 {
		return nil, nil
	}

	type scored struct {
		key uint64
		sim float32
	}
	var candidates []scored

	processed := roaring64.New()
	s.tree.ForEachKey(func(key uint64) bool {
		if processed.Contains(key) {
			return true
		}
		processed.Add(key)

		vec, ok := s.embeddings[key]
		if !ok || len(vec) == 0 || distance.IsTombstone(vec) {
			return true
		}
		candidates = append(candidates, scored{key: key, sim: distance.CosineSimilarity(query, vec)})
		return true
	})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].key < candidates[j].key
	})

	out := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if len(out) == k {
			break
		}
		value := s.Get(c.key)
		if value == "" {
			continue
		}
		out = append(out, SearchResult{Key: c.key, Value: value, Similarity: c.sim})
	}
	return out, nil
}

// SearchKNNHNSW returns the top-k values for the query text using the
// graph index.
func (s *Store) SearchKNNHNSW(query string, k int) ([]SearchResult, error) {
	vec, err := s.GetEmbedding(query)
	if err != nil {
		return nil, err
	}
	return s.SearchKNNHNSWVector(vec, k)
}

// SearchKNNHNSWVector runs the approximate graph search for a query
// vector. Candidates are filtered by the index's deletion state; when the
// filter starves the result set, exact baseline candidates top it up. The
// search may return fewer than k results when the store does not hold that
// many live values.
func (s *Store) SearchKNNHNSWVector(query []float32, k int) ([]SearchResult, error) {
	start := time.Now()
	out, err := s.searchGraph(query, k)
	s.metrics.RecordSearch(k, true, time.Since(start), err)
	s.logger.LogSearch(k, len(out), err)
	return out, err
}

func (s *Store) searchGraph(query []float32, k int) ([]SearchResult, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) == 0 {
		return nil, nil
	}

	out := make([]SearchResult, 0, k)
	seen := roaring64.New()

	for _, cand := range s.graph.KNNSearch(query, k) {
		if len(out) == k {
			break
		}
		if seen.Contains(cand.Key) {
			continue
		}
		seen.Add(cand.Key)

		value := s.Get(cand.Key)
		if value == "" {
			continue
		}
		out = append(out, SearchResult{Key: cand.Key, Value: value, Similarity: 1 - cand.Distance})
	}

	// The deletion filters can strip more candidates than ef-search
	// over-fetches; fall back to exact scoring to fill the tail.
	if len(out) < k {
		fallback, err := s.searchExact(query, k)
		if err != nil {
			return out, err
		}
		for _, r := range fallback {
			if len(out) == k {
				break
			}
			if seen.Contains(r.Key) {
				continue
			}
			seen.Add(r.Key)
			out = append(out, r)
		}
	}
	return out, nil
}
