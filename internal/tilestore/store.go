// Package tilestore implements the content-addressed, per-node on-disk
// layout of spec §4.2: one file per NodeId, written atomically via
// tmp-fsync-rename, read back through a memory-mapped reader the way
// internal/install mmaps package blobs in the teacher repo.
package tilestore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

const tileSuffix = ".tile"

// Store is a directory of per-node tile files.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &pc.StorageIoError{Err: err}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id pc.NodeId) string {
	return filepath.Join(s.dir, string(id)+tileSuffix)
}

// Put writes b as the tile for id. It writes to a temp file, fsyncs it
// explicitly, then renames it into place, so readers never observe a torn
// tile (spec §4.2, §5). Returns StoragePartialError if the rename step
// cannot complete atomically.
func (s *Store) Put(id pc.NodeId, b []byte) error {
	dest := s.path(id)
	f, err := renameio.TempFile("", dest)
	if err != nil {
		return &pc.StorageIoError{Node: id, Err: err}
	}
	defer f.Cleanup()
	if _, err := f.Write(b); err != nil {
		return &pc.StorageIoError{Node: id, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &pc.StoragePartialError{Node: id, Err: err}
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return &pc.StoragePartialError{Node: id, Err: err}
	}
	return nil
}

// Get returns the raw bytes of id's tile, read through a memory-mapped
// reader for random-access efficiency on large tiles.
func (s *Store) Get(id pc.NodeId) ([]byte, error) {
	path := s.path(id)
	r, err := mmap.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &pc.NodeAbsentError{Node: id}
		}
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	defer r.Close()
	b := make([]byte, r.Len())
	if _, err := r.ReadAt(b, 0); err != nil {
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	return b, nil
}

// List returns the set of NodeIds with a tile on disk.
func (s *Store) List() ([]pc.NodeId, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &pc.StorageIoError{Err: err}
	}
	var ids []pc.NodeId
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tileSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), tileSuffix)
		id, err := pc.NewNodeId(name)
		if err != nil {
			continue // not one of ours
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// syncDir fsyncs the store directory itself, so a crash right after Put
// can't lose the directory entry even if the file's own data is durable.
// Adapts the explicit unix.Fsync calls internal/build makes around
// renameio writes in the teacher repo.
func (s *Store) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return unix.Fsync(int(d.Fd()))
}

// Sync fsyncs the store's directory entry. Callers call this once after a
// batch of Put calls rather than per-tile, since directory fsync is
// comparatively expensive.
func (s *Store) Sync() error {
	if err := s.syncDir(); err != nil {
		return &pc.StoragePartialError{Err: err}
	}
	return nil
}
