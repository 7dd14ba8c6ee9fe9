// Package manifest implements the commit record of spec §4.4/§6: a
// versioned binary record enumerating every live node, written last as
// the build's commit fence.
//
// The distillation leaves the manifest's encoder unspecified ("implementers
// may use any stable schema encoder"). The teacher encodes its analogous
// records (Build, Meta) as protobuf textproto via generated bindings
// (pb.ReadBuildFile/ReadMetaFile). Reproducing working protoc-generated
// Go bindings by hand, without running protoc, is not something that can
// be done reliably without compiling and testing the result — so this
// package instead writes the manifest as a hand-specified little-endian
// binary record (unpadded, unlike the 4-byte-aligned tile format),
// gzip-compressed on disk, keeping the same sync.Pool-buffered read path
// the teacher uses for its textproto files.
package manifest

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

// Magic identifies a manifest file; Version is bumped on incompatible
// schema changes. Readers reject unknown versions (spec §4.4).
const (
	Magic          = "PCVM"
	CurrentVersion = uint32(1)
)

// ScreenMetric records which screen-space size heuristic a build's
// frustum index must use to reproduce its LOD thresholds, resolving the
// Open Question in spec §9.
type ScreenMetric uint8

const (
	ScreenMetricCornerAABB ScreenMetric = iota
	ScreenMetricProjectedRadius
)

// CodecDescriptor records the encoding choices a reader needs to
// reproduce bit-exact decoding, and the open design decisions fixed by
// this implementation (spec §9: "implementers should pick one and commit
// it to the manifest's codec descriptor").
type CodecDescriptor struct {
	HasIntensity bool
	ScreenMetric ScreenMetric
}

// NodeEntry is one node directory row (spec §4.4).
type NodeEntry struct {
	Id        pc.NodeId
	NumPoints uint32
	NumBytes  uint64
	Oversized bool // exceeded N_max under the depth-limit escape hatch (spec §8)
}

// Manifest is the in-memory form of a committed octree directory.
type Manifest struct {
	Version    uint32
	RootCube   pc.Cube
	Resolution float64
	NMax       uint32
	DMax       uint32
	Codec      CodecDescriptor
	Nodes      []NodeEntry
}

var bufPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

// Encode serializes m into the wire form described in the package doc.
func Encode(m Manifest) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	buf.WriteString(Magic)
	writeUint32(buf, m.Version)
	writeFloat64(buf, m.RootCube.Min[0])
	writeFloat64(buf, m.RootCube.Min[1])
	writeFloat64(buf, m.RootCube.Min[2])
	writeFloat64(buf, m.RootCube.Edge)
	writeFloat64(buf, m.Resolution)
	writeUint32(buf, m.NMax)
	writeUint32(buf, m.DMax)
	writeBool(buf, m.Codec.HasIntensity)
	buf.WriteByte(byte(m.Codec.ScreenMetric))
	writeUint32(buf, uint32(len(m.Nodes)))
	for _, n := range m.Nodes {
		writeString(buf, string(n.Id))
		writeUint32(buf, n.NumPoints)
		writeUint64(buf, n.NumBytes)
		writeBool(buf, n.Oversized)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode parses the wire form back into a Manifest. It returns
// StorageCorruptError on a bad magic or an unsupported version.
func Decode(b []byte) (Manifest, error) {
	r := bytes.NewReader(b)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return Manifest{}, &pc.StorageCorruptError{Msg: "bad manifest magic"}
	}
	var m Manifest
	m.Version = readUint32(r)
	if m.Version == 0 || m.Version > CurrentVersion {
		return Manifest{}, &pc.StorageCorruptError{Msg: "unsupported manifest schema version"}
	}
	m.RootCube.Min[0] = readFloat64(r)
	m.RootCube.Min[1] = readFloat64(r)
	m.RootCube.Min[2] = readFloat64(r)
	m.RootCube.Edge = readFloat64(r)
	m.Resolution = readFloat64(r)
	m.NMax = readUint32(r)
	m.DMax = readUint32(r)
	m.Codec.HasIntensity = readBool(r)
	metricByte, err := r.ReadByte()
	if err != nil {
		return Manifest{}, &pc.StorageCorruptError{Msg: "truncated manifest"}
	}
	m.Codec.ScreenMetric = ScreenMetric(metricByte)
	count := readUint32(r)
	m.Nodes = make([]NodeEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		idStr := readString(r)
		id, err := pc.NewNodeId(idStr)
		if err != nil {
			return Manifest{}, &pc.StorageCorruptError{Msg: "invalid node id in manifest: " + idStr}
		}
		numPoints := readUint32(r)
		numBytes := readUint64(r)
		oversized := readBool(r)
		m.Nodes = append(m.Nodes, NodeEntry{Id: id, NumPoints: numPoints, NumBytes: numBytes, Oversized: oversized})
	}
	if r.Len() != 0 {
		return Manifest{}, &pc.StorageCorruptError{Msg: "trailing bytes after manifest"}
	}
	return m, nil
}

// FileName is the conventional manifest file name within an octree
// directory (spec §6).
const FileName = "meta.pcv"

// WriteFile commits m to dir/meta.pcv atomically via renameio, gzip
// compressed with pgzip (the node directory of a billion-point build can
// run to megabytes of repeated small integers, which compresses well).
// This is the single commit fence of spec §5: once this call returns, the
// directory is a complete, readable octree.
func WriteFile(dir string, m Manifest) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	var compressed bytes.Buffer
	zw := pgzip.NewWriter(&compressed)
	if _, err := zw.Write(b); err != nil {
		return &pc.StorageIoError{Err: err}
	}
	if err := zw.Close(); err != nil {
		return &pc.StorageIoError{Err: err}
	}
	dest := filepath.Join(dir, FileName)
	if err := renameio.WriteFile(dest, compressed.Bytes(), 0o644); err != nil {
		return &pc.StoragePartialError{Err: err}
	}
	return nil
}

// ReadFile loads and validates the manifest at dir/meta.pcv. Its absence
// means a partial or corrupt build (spec §3's "Manifest is written last
// and acts as the commit marker").
func ReadFile(dir string) (Manifest, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, &pc.StorageCorruptError{Msg: "manifest absent: build incomplete or not committed"}
		}
		return Manifest{}, &pc.StorageIoError{Err: err}
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, &pc.StorageCorruptError{Msg: "manifest is not valid gzip"}
	}
	defer zr.Close()
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	defer bufPool.Put(b)
	if _, err := io.Copy(b, zr); err != nil {
		return Manifest{}, &pc.StorageIoError{Err: err}
	}
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return Decode(out)
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeFloat64(w *bytes.Buffer, f float64) {
	writeUint64(w, math.Float64bits(f))
}

func writeBool(w *bytes.Buffer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func writeString(w *bytes.Buffer, s string) {
	writeUint32(w, uint32(len(s)))
	w.WriteString(s)
}

func readUint32(r *bytes.Reader) uint32 {
	var b [4]byte
	io.ReadFull(r, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func readUint64(r *bytes.Reader) uint64 {
	var b [8]byte
	io.ReadFull(r, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func readFloat64(r *bytes.Reader) float64 {
	return math.Float64frombits(readUint64(r))
}

func readBool(r *bytes.Reader) bool {
	b, _ := r.ReadByte()
	return b != 0
}

func readString(r *bytes.Reader) string {
	n := readUint32(r)
	b := make([]byte, n)
	io.ReadFull(r, b)
	return string(b)
}
