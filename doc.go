// Package smartlsm is a persistent key-value store for natural-language
// values with approximate-nearest-neighbor search over per-value
// embeddings.
//
// Writes land in a skiplist memtable that spills into leveled, immutable
// sorted runs with Bloom-filtered point reads and level-triggered
// compaction. Every value's embedding is tracked in memory, journaled to an
// append-only log on flush, and indexed in a hierarchical navigable
// small-world (HNSW) graph with its own explicit on-disk layout. The store
// survives restarts: keys, values, embeddings, and the graph are all
// recoverable from disk.
//
// # Quick start
//
//	store, err := smartlsm.Open("./data",
//	    smartlsm.WithEmbedder(myEmbedder),
//	    smartlsm.WithHNSWIndexDir("./hnsw_data"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer store.Close()
//
//	_ = store.Put(1, "the quick brown fox")
//	value := store.Get(1)
//
//	results, _ := store.SearchKNNHNSW("a fast auburn fox", 5)
//	for _, r := range results {
//	    fmt.Println(r.Key, r.Similarity, r.Value)
//	}
//
//	// Index persistence is always explicit.
//	_ = store.SaveHNSWIndex("./hnsw_data", true)
//
// The public surface is single-threaded by contract. The only internal
// concurrency is the parallel index save path, which fans per-node writes
// over frozen snapshots.
package smartlsm
