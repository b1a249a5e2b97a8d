// Package distance provides the vector math used by the store: clamped
// cosine similarity, the cosine distance derived from it, tombstone-marker
// vectors, and tolerant float comparison for deletion reconciliation.
package distance
