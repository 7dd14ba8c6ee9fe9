package builder

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

// recordSize is the fixed width of one scratch-file record: a 1-byte
// stratum tag (which immediate child octant a point is associated with,
// used by the subsampler's stratified sampling) followed by the point's
// fields. This is purely an internal spill format, distinct from the
// bit-exact on-disk tile format in internal/tile.
const recordSize = 1 + 8*3 + 3 + 4

func encodeRecord(stratum uint8, p pc.Point) []byte {
	b := make([]byte, recordSize)
	b[0] = stratum
	binary.LittleEndian.PutUint64(b[1:9], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(b[9:17], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(b[17:25], math.Float64bits(p.Z))
	b[25] = p.R
	b[26] = p.G
	b[27] = p.B
	binary.LittleEndian.PutUint32(b[28:32], math.Float32bits(p.Intensity))
	return b
}

func decodeRecords(b []byte) []taggedPoint {
	n := len(b) / recordSize
	out := make([]taggedPoint, n)
	for i := 0; i < n; i++ {
		rec := b[i*recordSize : (i+1)*recordSize]
		out[i] = taggedPoint{
			stratum: rec[0],
			point: pc.Point{
				X:         math.Float64frombits(binary.LittleEndian.Uint64(rec[1:9])),
				Y:         math.Float64frombits(binary.LittleEndian.Uint64(rec[9:17])),
				Z:         math.Float64frombits(binary.LittleEndian.Uint64(rec[17:25])),
				R:         rec[25],
				G:         rec[26],
				B:         rec[27],
				Intensity: math.Float32frombits(binary.LittleEndian.Uint32(rec[28:32])),
			},
		}
	}
	return out
}

type taggedPoint struct {
	stratum uint8
	point   pc.Point
}

// canonicalize sorts records into a total order independent of the append
// interleaving Pass 1's workers produced. Intensity is ordered by its bit
// pattern so NaN (no sample) sorts consistently too; fully identical
// records are interchangeable, so ties need no further break.
func canonicalize(pts []taggedPoint) {
	sort.Slice(pts, func(i, j int) bool {
		a, b := pts[i], pts[j]
		if a.stratum != b.stratum {
			return a.stratum < b.stratum
		}
		if a.point.X != b.point.X {
			return a.point.X < b.point.X
		}
		if a.point.Y != b.point.Y {
			return a.point.Y < b.point.Y
		}
		if a.point.Z != b.point.Z {
			return a.point.Z < b.point.Z
		}
		ca := [3]uint8{a.point.R, a.point.G, a.point.B}
		cb := [3]uint8{b.point.R, b.point.G, b.point.B}
		if ca != cb {
			return bytes.Compare(ca[:], cb[:]) < 0
		}
		return math.Float32bits(a.point.Intensity) < math.Float32bits(b.point.Intensity)
	})
}

func position(p pc.Point) [3]float64 { return [3]float64{p.X, p.Y, p.Z} }
