package hnsw

import (
	"math"

	"github.com/dominciyue/new-smart-lsmtree/distance"
	"github.com/dominciyue/new-smart-lsmtree/queue"
)

// Candidate is a search hit before value resolution.
type Candidate struct {
	Key      uint64
	Label    uint64
	Distance float32
}

// EFSearch returns the base-layer frontier width for a top-k query.
func (g *Graph) EFSearch(k int) int {
	return max(g.opts.EFConstruction, 10*k)
}

// validEntry reports whether label can serve as an entry point at level.
func (g *Graph) validEntry(label uint64, level int) bool {
	node, ok := g.nodes[label]
	return ok && !node.Deleted && node.MaxLevel >= level
}

// searchLayer runs the ef-greedy search on one layer and returns a
// min-ordered queue of up to ef results. When limited is true the search is
// the cheap descent variant that only needs the single nearest node.
//
// A deleted or under-leveled entry point falls back to any valid node at
// the target layer; if none exists the result is empty. Missing labels and
// missing embeddings are skipped silently: they are repairable
// inconsistencies, not crashes.
func (g *Graph) searchLayer(entry uint64, query []float32, level, ef int, limited bool) *queue.PriorityQueue {
	out := queue.NewMin()

	if !g.validEntry(entry, level) {
		found := false
		for label := range g.nodes {
			if g.validEntry(label, level) {
				entry = label
				found = true
				break
			}
		}
		if !found {
			return out
		}
	}

	entryVec, ok := g.vectorForLabel(entry)
	if !ok {
		return out
	}
	entryDist := distance.Cosine(query, entryVec)

	candidates := queue.NewMin()
	results := queue.NewMax()
	visited := map[uint64]struct{}{entry: {}}

	candidates.PushItem(queue.PriorityQueueItem{Label: entry, Distance: entryDist})
	results.PushItem(queue.PriorityQueueItem{Label: entry, Distance: entryDist})

	for candidates.Len() > 0 {
		curr, _ := candidates.PopItem()

		furthest := float32(math.MaxFloat32)
		if top, ok := results.TopItem(); ok {
			furthest = top.Distance
		}
		if curr.Distance > furthest && (!limited || results.Len() >= ef) {
			break
		}

		node, ok := g.nodes[curr.Label]
		if !ok || len(node.Connections) <= level {
			continue
		}

		for _, neighbor := range node.Connections[level] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}

			peer, ok := g.nodes[neighbor]
			if !ok || peer.Deleted {
				continue
			}
			vec, ok := g.vectorForLabel(neighbor)
			if !ok {
				continue
			}

			d := distance.Cosine(query, vec)
			if top, ok := results.TopItem(); results.Len() < ef || (ok && d < top.Distance) {
				candidates.PushItem(queue.PriorityQueueItem{Label: neighbor, Distance: d})
				results.PushItem(queue.PriorityQueueItem{Label: neighbor, Distance: d})
				if results.Len() > ef {
					results.PopItem()
				}
			}
		}
	}

	for {
		item, ok := results.PopItem()
		if !ok {
			break
		}
		out.PushItem(item)
	}
	return out
}

// KNNSearch returns candidates near query in ascending distance order,
// filtered by the deletion flag and by tolerant comparison against the
// loaded deleted-vector list. It may return more than k candidates; the
// caller resolves values and takes the first k that survive.
func (g *Graph) KNNSearch(query []float32, k int) []Candidate {
	if g.maxLevel < 0 || len(g.nodes) == 0 {
		return nil
	}

	entry := g.entryPoint
	for level := g.maxLevel; level >= 1; level-- {
		if nearest, ok := g.searchLayer(entry, query, level, 1, true).TopItem(); ok {
			entry = nearest.Label
		}
	}

	efSearch := g.EFSearch(k)
	results := g.searchLayer(entry, query, 0, efSearch, false)

	out := make([]Candidate, 0, min(results.Len(), efSearch))
	for len(out) < efSearch {
		item, ok := results.PopItem()
		if !ok {
			break
		}

		key, ok := g.labelToKey[item.Label]
		if !ok {
			continue
		}
		node, ok := g.nodes[item.Label]
		if !ok || node.Deleted {
			continue
		}

		if vec, ok := g.vectors.Vector(key); ok && g.matchesDeleted(vec) {
			continue
		}

		out = append(out, Candidate{Key: key, Label: item.Label, Distance: item.Distance})
	}
	return out
}

// matchesDeleted reports whether vec matches any persisted deleted vector
// within the hot-path tolerance.
func (g *Graph) matchesDeleted(vec []float32) bool {
	if g.dim > 0 && len(vec) != g.dim {
		return false
	}
	for _, v := range g.loadedDeleted {
		if distance.EqualWithin(vec, v, distance.FilterEpsilon) {
			return true
		}
	}
	for _, v := range g.pendingDeleted {
		if distance.EqualWithin(vec, v, distance.FilterEpsilon) {
			return true
		}
	}
	return false
}
