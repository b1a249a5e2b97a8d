package hnsw

// Node is a single graph vertex. Neighbor lists hold labels only; the node
// arena in Graph owns every Node, so there are no pointer cycles to manage.
type Node struct {
	Key      uint64
	Label    uint64
	MaxLevel int

	// Connections has exactly MaxLevel+1 levels; Connections[l] lists the
	// neighbor labels at layer l.
	Connections [][]uint64

	// Deleted marks the node as lazily removed. Deleted nodes keep their
	// edges, but search neither expands them nor returns them.
	Deleted bool
}

func newNode(key, label uint64, level int) *Node {
	return &Node{
		Key:         key,
		Label:       label,
		MaxLevel:    level,
		Connections: make([][]uint64, level+1),
	}
}

// Clone returns a deep copy. Parallel save workers operate on clones so the
// producing goroutine can hand each worker an isolated snapshot.
func (n *Node) Clone() *Node {
	c := &Node{
		Key:         n.Key,
		Label:       n.Label,
		MaxLevel:    n.MaxLevel,
		Deleted:     n.Deleted,
		Connections: make([][]uint64, len(n.Connections)),
	}
	for i, conns := range n.Connections {
		c.Connections[i] = append([]uint64(nil), conns...)
	}
	return c
}
