// Package codec quantizes and dequantizes point positions relative to a
// node's cube (spec §4.1). There is no third-party library for this in the
// retrieved pack or ecosystem — it is a small, self-contained numeric
// kernel, not an I/O or framework concern, so it is implemented directly
// against the standard library.
package codec

import (
	"math"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

// BPC is the number of bytes used to store a single quantized coordinate.
type BPC uint8

const (
	BPC1 BPC = 1
	BPC2 BPC = 2
	BPC4 BPC = 4 // raw float32, unquantized
)

// maxCode returns the largest representable quantization code at bpc, i.e.
// 2^(8*bpc) - 1.
func maxCode(bpc BPC) uint64 {
	return 1<<(8*uint(bpc)) - 1
}

// Encode quantizes a single coordinate p, relative to [min, min+edge], at
// the given bpc. It returns CodecRangeError if p lies outside the cube by
// more than half a quantization step.
func Encode(node pc.NodeId, p, min, edge float64, bpc BPC) (uint64, error) {
	if bpc == BPC4 {
		// Raw float32 storage: no quantization error to check here, the
		// caller stores math.Float32bits(float32(p)) directly.
		return 0, nil
	}
	code := maxCode(bpc)
	halfStep := edge / float64(2*code)
	if p < min-halfStep || p > min+edge+halfStep {
		return 0, &pc.CodecRangeError{Node: node, Msg: "coordinate outside node cube"}
	}
	rel := (p - min) / edge
	if rel < 0 {
		rel = 0
	}
	if rel > 1 {
		rel = 1
	}
	q := math.Round(rel * float64(code))
	if q < 0 {
		q = 0
	}
	if q > float64(code) {
		q = float64(code)
	}
	return uint64(q), nil
}

// Decode reverses Encode: given a quantized code, the node's cube, and
// bpc, it reconstructs the coordinate.
func Decode(q uint64, min, edge float64, bpc BPC) float64 {
	code := maxCode(bpc)
	return min + edge*float64(q)/float64(code)
}

// MaxError returns the maximum quantization error (‖decode(encode(p))-p‖∞)
// achievable at bpc over a node of the given edge length, per spec §8's
// round-trip law.
func MaxError(edge float64, bpc BPC) float64 {
	if bpc == BPC4 {
		return 0 // float32 round-trip error is negligible versus tile resolution
	}
	return edge / float64(2*maxCode(bpc))
}

// SelectBPC chooses the smallest bpc whose MaxError is within resolution,
// the policy the builder applies per-tile (spec §4.1, §9): leaves with
// small cubes need only 1 byte, the root and upper levels need more.
func SelectBPC(edge, resolution float64) BPC {
	for _, bpc := range []BPC{BPC1, BPC2} {
		if MaxError(edge, bpc) <= resolution {
			return bpc
		}
	}
	return BPC4
}
