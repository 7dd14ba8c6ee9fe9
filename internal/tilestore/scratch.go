package tilestore

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
	"golang.org/x/sys/unix"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

// ScratchWriter is an append-only, single-writer-per-node spill file used
// during Pass 1 (spec §4.2, §4.3): open nodes accumulate raw point bytes
// here before Pass 2 quantizes and finalizes them into a tile. Writes are
// flock'd exclusive, mirroring the per-node spill writer discipline the
// builder requires (§5: "per-node spill writer: exclusive").
type ScratchWriter struct {
	mu sync.Mutex
	f  *os.File
	zw *pgzip.Writer
}

func scratchPath(dir string, id pc.NodeId) string {
	return filepath.Join(dir, "scratch", string(id)+".spill.gz")
}

// OpenScratch opens (creating if needed) the spill file for id under dir,
// taking an exclusive flock so a re-split of the same node from another
// goroutine can't interleave writes.
func OpenScratch(dir string, id pc.NodeId) (*ScratchWriter, error) {
	path := scratchPath(dir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	return &ScratchWriter{f: f, zw: pgzip.NewWriter(f)}, nil
}

// Append writes raw point bytes (as produced by internal/builder's point
// serializer) to the spill file.
func (w *ScratchWriter) Append(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.zw.Write(b)
	return err
}

// Close flushes and closes the spill file, releasing its flock.
func (w *ScratchWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return err
	}
	if err := unix.Flock(int(w.f.Fd()), unix.LOCK_UN); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadAllScratch reads back and decompresses the full spill file for id.
// A node re-opened for appends (re-splits, Pass 2 promotions from several
// children) holds one gzip stream per writer; the reader consumes them all
// in multistream mode. Decompression goes through klauspost's serial gzip
// rather than pgzip — spill files are read one node at a time, where the
// serial reader is the faster of the two.
func ReadAllScratch(dir string, id pc.NodeId) ([]byte, error) {
	path := scratchPath(dir, id)
	f, err := os.Open(path)
	if err != nil {
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, &pc.StorageIoError{Node: id, Err: err}
	}
	defer zr.Close()
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := zr.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &pc.StorageIoError{Node: id, Err: err}
		}
	}
	return out, nil
}

// ScratchExists reports whether id currently has a spill file on disk.
// Pass 2 uses this to distinguish "no points were ever promoted here" from
// an actual read error.
func ScratchExists(dir string, id pc.NodeId) (bool, error) {
	_, err := os.Stat(scratchPath(dir, id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &pc.StorageIoError{Node: id, Err: err}
}

// DeleteScratch removes id's spill file once Pass 2 has finalized it into
// a tile (spec §4.2: "Scratch is deleted after Pass 2 succeeds").
func DeleteScratch(dir string, id pc.NodeId) error {
	err := os.Remove(scratchPath(dir, id))
	if err != nil && !os.IsNotExist(err) {
		return &pc.StorageIoError{Node: id, Err: err}
	}
	return nil
}

// CleanScratchDir removes the whole scratch/ subtree. Nothing in this
// module calls it: a failed build leaves its scratch files on disk.
func CleanScratchDir(dir string) error {
	return os.RemoveAll(filepath.Join(dir, "scratch"))
}
