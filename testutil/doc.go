// Package testutil provides seeded randomness, vector generators, a
// deterministic hashing embedder, and recall computation for tests.
package testutil
