package smartlsm

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/dominciyue/new-smart-lsmtree/internal/fs"
)

// Backup streams the durable state of the store (every level run and the
// embedding log) into w as an lz4-compressed archive. The memtable is
// flushed first so the archive reflects every accepted write. The vector
// index directory is not included; it is rebuilt from the embedding log on
// restore, or saved separately via SaveHNSWIndex.
func (s *Store) Backup(w io.Writer) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.tree.Flush(); err != nil {
		return err
	}

	zw := lz4.NewWriter(w)
	if err := writeTree(s.fsys, s.dataDir, "", zw); err != nil {
		return err
	}
	return zw.Close()
}

// RestoreBackup unpacks an archive produced by Backup into dataDir, which
// must not already contain store files. Open the store afterwards.
func RestoreBackup(dataDir string, r io.Reader, optFns ...Option) error {
	opts := options{fileSystem: fs.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	fsys := opts.fileSystem

	zr := lz4.NewReader(r)
	for {
		rel, data, err := readArchiveEntry(zr)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dataDir, filepath.FromSlash(rel))
		if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := fsys.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
}

// writeTree archives dir recursively; rel is the slash-separated path of
// dir relative to the archive root.
func writeTree(fsys fs.FileSystem, dir, rel string, w io.Writer) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		entryRel := path.Join(rel, entry.Name())
		full := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := writeTree(fsys, full, entryRel, w); err != nil {
				return err
			}
			continue
		}
		if err := writeArchiveEntry(fsys, full, entryRel, w); err != nil {
			return err
		}
	}
	return nil
}

// Archive entries are length-prefixed: path length (u32), path bytes, data
// length (u64), data bytes, all little-endian.
func writeArchiveEntry(fsys fs.FileSystem, full, rel string, w io.Writer) error {
	f, err := fsys.OpenFile(full, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(rel)))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, rel); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(scratch[:], uint64(stat.Size()))
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}

	n, err := io.Copy(w, f)
	if err != nil {
		return err
	}
	if n != stat.Size() {
		return fmt.Errorf("backup: short read on %s", full)
	}
	return nil
}

func readArchiveEntry(r io.Reader) (string, []byte, error) {
	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return "", nil, err
	}
	pathLen := binary.LittleEndian.Uint32(scratch[:4])
	if pathLen == 0 || pathLen > 4096 {
		return "", nil, fmt.Errorf("backup: invalid path length %d", pathLen)
	}

	pathBuf := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBuf); err != nil {
		return "", nil, fmt.Errorf("backup: truncated entry path: %w", err)
	}
	rel := string(pathBuf)
	if path.IsAbs(rel) || rel != path.Clean(rel) || rel == ".." || len(rel) > 2 && rel[:3] == "../" {
		return "", nil, fmt.Errorf("backup: unsafe entry path %q", rel)
	}

	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return "", nil, fmt.Errorf("backup: truncated entry size: %w", err)
	}
	size := binary.LittleEndian.Uint64(scratch[:])

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", nil, fmt.Errorf("backup: truncated entry data: %w", err)
	}
	return rel, data, nil
}
