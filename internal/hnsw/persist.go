package hnsw

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
)

const (
	// GlobalHeaderFile holds the graph-wide parameters and pointers.
	GlobalHeaderFile = "global_header.bin"

	// NodesDir holds one subdirectory per live label.
	NodesDir = "nodes"

	// DeletedVectorsFile holds the packed vectors of deleted nodes.
	DeletedVectorsFile = "deleted_nodes.bin"

	globalHeaderSize = 32 // M, MMax, efC, maxLevel (u32) + entry, active (u64); dim (u32) follows
	nodeHeaderSize   = 12 // maxLevel (u32) + key (u64)
)

// Save writes the graph under dir: the global header first (so a later load
// can always diagnose parameter mismatches), then per-node headers and edge
// files, then the deleted-vector list. Deleted nodes are skipped by the
// node writer; their vectors land in the deleted-vector file instead.
//
// With parallel set, per-node writes fan out across a worker pool sized to
// hardware concurrency (minimum 2). Workers receive by-value node snapshots
// taken here, so no worker touches live graph state. Node-level I/O
// failures are logged and skipped; a partial save is acceptable.
func (g *Graph) Save(fsys fs.FileSystem, dir string, parallel bool) error {
	if fsys == nil {
		fsys = fs.Default
	}

	nodesPath := filepath.Join(dir, NodesDir)
	if err := fsys.MkdirAll(nodesPath, 0o755); err != nil {
		return err
	}

	if err := g.writeGlobalHeader(fsys, filepath.Join(dir, GlobalHeaderFile)); err != nil {
		g.logger.Error("hnsw save: global header write failed", "path", dir, "error", err)
	}

	snapshots := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node.Deleted {
			continue
		}
		snapshots = append(snapshots, node.Clone())
	}

	if parallel {
		workers := runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
		var eg errgroup.Group
		eg.SetLimit(workers)
		for _, node := range snapshots {
			node := node
			eg.Go(func() error {
				if err := g.writeNode(fsys, nodesPath, node); err != nil {
					g.logger.Error("hnsw save: node write failed", "label", node.Label, "error", err)
				}
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for _, node := range snapshots {
			if err := g.writeNode(fsys, nodesPath, node); err != nil {
				g.logger.Error("hnsw save: node write failed", "label", node.Label, "error", err)
			}
		}
	}

	if err := g.writeDeletedVectors(fsys, filepath.Join(dir, DeletedVectorsFile)); err != nil {
		g.logger.Error("hnsw save: deleted vectors write failed", "error", err)
	}
	return nil
}

func (g *Graph) writeGlobalHeader(fsys fs.FileSystem, path string) error {
	var buf [globalHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(g.opts.M))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(g.opts.MMax))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(g.opts.EFConstruction))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(g.maxLevel)))
	binary.LittleEndian.PutUint64(buf[16:24], g.entryPoint)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(g.ActiveCount()))

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(buf[:]); err != nil {
		return err
	}
	var dimBuf [4]byte
	binary.LittleEndian.PutUint32(dimBuf[:], uint32(g.dim))
	_, err = f.Write(dimBuf[:])
	return err
}

func (g *Graph) writeNode(fsys fs.FileSystem, nodesPath string, node *Node) error {
	base := filepath.Join(nodesPath, strconv.FormatUint(node.Label, 10))
	edgesDir := filepath.Join(base, "edges")
	if err := fsys.MkdirAll(edgesDir, 0o755); err != nil {
		return err
	}

	var header [nodeHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(node.MaxLevel))
	binary.LittleEndian.PutUint64(header[4:12], node.Key)
	if err := writeFile(fsys, filepath.Join(base, "header.bin"), header[:]); err != nil {
		return err
	}

	for level := 0; level <= node.MaxLevel && level < len(node.Connections); level++ {
		conns := node.Connections[level]
		if len(conns) == 0 {
			continue
		}

		buf := make([]byte, 4+len(conns)*4)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(conns)))
		for i, neighbor := range conns {
			if neighbor > math.MaxUint32 {
				g.logger.Warn("hnsw save: neighbor label exceeds 32 bits, truncating",
					"label", node.Label, "level", level, "neighbor", neighbor)
			}
			binary.LittleEndian.PutUint32(buf[4+i*4:], uint32(neighbor))
		}
		path := filepath.Join(edgesDir, strconv.Itoa(level)+".bin")
		if err := writeFile(fsys, path, buf); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) writeDeletedVectors(fsys fs.FileSystem, path string) error {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, vec := range g.DeletedVectors() {
		if g.dim > 0 && len(vec) != g.dim {
			g.logger.Warn("hnsw save: deleted vector dimension mismatch, skipping",
				"expected", g.dim, "actual", len(vec))
			continue
		}
		buf := make([]byte, len(vec)*4)
		for i, v := range vec {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fsys fs.FileSystem, path string, data []byte) error {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// Load replaces the graph state with the index stored under dir. Parameter
// mismatches between the saved header and the build-time constants are
// logged per parameter and loading continues. Unparsable node directories
// and truncated files are skipped with a log, never fatal. All loaded
// nodes start with Deleted=false; reconciliation against the deleted-vector
// list happens at search time, keeping the graph structure intact.
func (g *Graph) Load(fsys fs.FileSystem, dir string) error {
	if fsys == nil {
		fsys = fs.Default
	}

	headerPath := filepath.Join(dir, GlobalHeaderFile)
	f, err := fsys.OpenFile(headerPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	buf := make([]byte, globalHeaderSize+4)
	_, readErr := io.ReadFull(f, buf)
	f.Close()
	if readErr != nil {
		return fmt.Errorf("hnsw: global header read failed: %w", readErr)
	}

	savedM := binary.LittleEndian.Uint32(buf[0:4])
	savedMMax := binary.LittleEndian.Uint32(buf[4:8])
	savedEFC := binary.LittleEndian.Uint32(buf[8:12])
	savedMaxLevel := int(int32(binary.LittleEndian.Uint32(buf[12:16])))
	savedEntry := binary.LittleEndian.Uint64(buf[16:24])
	savedActive := binary.LittleEndian.Uint64(buf[24:32])
	savedDim := int(binary.LittleEndian.Uint32(buf[32:36]))

	if savedM != uint32(g.opts.M) {
		g.logger.Warn("hnsw load: parameter mismatch", "param", "M", "saved", savedM, "current", g.opts.M)
	}
	if savedMMax != uint32(g.opts.MMax) {
		g.logger.Warn("hnsw load: parameter mismatch", "param", "MMax", "saved", savedMMax, "current", g.opts.MMax)
	}
	if savedEFC != uint32(g.opts.EFConstruction) {
		g.logger.Warn("hnsw load: parameter mismatch", "param", "efConstruction", "saved", savedEFC, "current", g.opts.EFConstruction)
	}
	if g.dim > 0 && savedDim != g.dim {
		g.logger.Warn("hnsw load: parameter mismatch", "param", "dim", "saved", savedDim, "current", g.dim)
	}
	if g.dim == 0 && savedDim > 0 {
		g.dim = savedDim
	}

	g.nodes = make(map[uint64]*Node)
	g.keyToLabel = make(map[uint64]uint64)
	g.labelToKey = make(map[uint64]uint64)
	g.maxLevel = savedMaxLevel
	g.entryPoint = savedEntry

	nodesPath := filepath.Join(dir, NodesDir)
	entries, err := fsys.ReadDir(nodesPath)
	if err != nil {
		g.logger.Error("hnsw load: nodes directory unreadable", "path", nodesPath, "error", err)
		entries = nil
	}

	var maxLabel uint64
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			g.logger.Warn("hnsw load: unparsable node directory, skipping", "name", entry.Name())
			continue
		}

		node, err := g.readNode(fsys, filepath.Join(nodesPath, entry.Name()), label)
		if err != nil {
			g.logger.Warn("hnsw load: node unreadable, skipping", "label", label, "error", err)
			continue
		}

		g.nodes[label] = node
		g.keyToLabel[node.Key] = label
		g.labelToKey[label] = node.Key
		if label > maxLabel {
			maxLabel = label
		}
		loaded++
	}
	g.nextLabel = maxLabel + 1

	if uint64(loaded) != savedActive {
		g.logger.Warn("hnsw load: node count differs from header",
			"loaded", loaded, "header", savedActive)
	}

	g.loadDeletedVectors(fsys, filepath.Join(dir, DeletedVectorsFile))
	return nil
}

func (g *Graph) readNode(fsys fs.FileSystem, base string, label uint64) (*Node, error) {
	f, err := fsys.OpenFile(filepath.Join(base, "header.bin"), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	var header [nodeHeaderSize]byte
	_, readErr := io.ReadFull(f, header[:])
	f.Close()
	if readErr != nil {
		return nil, readErr
	}

	maxLevel := int(binary.LittleEndian.Uint32(header[0:4]))
	key := binary.LittleEndian.Uint64(header[4:12])
	node := newNode(key, label, maxLevel)

	edgesDir := filepath.Join(base, "edges")
	for level := 0; level <= maxLevel; level++ {
		path := filepath.Join(edgesDir, strconv.Itoa(level)+".bin")
		conns, err := readEdgeFile(fsys, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			g.logger.Warn("hnsw load: edge file unreadable, skipping level",
				"label", label, "level", level, "error", err)
			continue
		}
		node.Connections[level] = conns
	}
	return node, nil
}

func readEdgeFile(fsys fs.FileSystem, path string) ([]uint64, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var countBuf [4]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	buf := make([]byte, count*4)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}

	conns := make([]uint64, count)
	for i := uint32(0); i < count; i++ {
		conns[i] = uint64(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return conns, nil
}

func (g *Graph) loadDeletedVectors(fsys fs.FileSystem, path string) {
	g.loadedDeleted = nil
	g.pendingDeleted = nil

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Error("hnsw load: deleted vectors unreadable", "path", path, "error", err)
		}
		return
	}
	defer f.Close()

	if g.dim <= 0 {
		g.logger.Warn("hnsw load: dimension unknown, cannot read deleted vectors", "path", path)
		return
	}

	buf := make([]byte, g.dim*4)
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			g.logger.Warn("hnsw load: truncated deleted vector record, stopping", "path", path)
			break
		}
		vec := make([]float32, g.dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		g.loadedDeleted = append(g.loadedDeleted, vec)
	}
}

// SortedLabels returns all labels ascending; used by tests comparing graph
// structure across save/load cycles.
func (g *Graph) SortedLabels() []uint64 {
	labels := g.Labels()
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
