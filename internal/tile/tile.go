// Package tile implements the bit-exact on-disk tile format of spec §6:
// a small binary header followed by quantized positions and raw RGB
// bytes, 4-byte aligned throughout.
package tile

import (
	"encoding/binary"
	"math"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/codec"
)

// Tile is a node's decoded payload: its cube, its points (in the metric
// frame, dequantized relative to that cube), and the bpc they were
// encoded at.
type Tile struct {
	Cube         pc.Cube
	BPC          codec.BPC
	Points       []pc.Point
	HasIntensity bool // whether the wire form carries the optional per-point intensity byte (spec §4.1, manifest's CodecDescriptor)
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// intensityCode quantizes intensity into a single byte: intensity is
// expected in [0,1] (the normalized range point streams in this system
// report it in); NaN (no intensity sample on this point) encodes as 0.
func intensityCode(v float32) byte {
	if math.IsNaN(float64(v)) {
		return 0
	}
	f := float64(v)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return byte(math.Round(f * 255))
}

func intensityFromCode(c byte) float32 {
	return float32(c) / 255
}

// Encode serializes t into the wire format of spec §6. When t.HasIntensity
// is set, an extra byte-per-point intensity channel (spec §4.1's "extra
// byte channel") follows the rgb section, itself 4-byte aligned.
func Encode(node pc.NodeId, t Tile) ([]byte, error) {
	n := len(t.Points)
	posSize := align4(n * 3 * int(t.BPC))
	rgbSize := align4(n * 3)
	intensitySize := 0
	if t.HasIntensity {
		intensitySize = align4(n)
	}
	headerSize := 4*4 + 4 + 1 // min_x,min_y,min_z,edge + num_points + bpc
	headerSize = align4(headerSize)

	buf := make([]byte, headerSize+posSize+rgbSize+intensitySize)
	putFloat32(buf[0:4], float32(t.Cube.Min[0]))
	putFloat32(buf[4:8], float32(t.Cube.Min[1]))
	putFloat32(buf[8:12], float32(t.Cube.Min[2]))
	putFloat32(buf[12:16], float32(t.Cube.Edge))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(n))
	buf[20] = byte(t.BPC)

	posOff := headerSize
	for i, p := range t.Points {
		coords := [3]float64{p.X, p.Y, p.Z}
		for axis := 0; axis < 3; axis++ {
			off := posOff + (i*3+axis)*int(t.BPC)
			if t.BPC == codec.BPC4 {
				putFloat32(buf[off:off+4], float32(coords[axis]))
				continue
			}
			q, err := codec.Encode(node, coords[axis], t.Cube.Min[axis], t.Cube.Edge, t.BPC)
			if err != nil {
				return nil, err
			}
			putUintN(buf[off:off+int(t.BPC)], q, int(t.BPC))
		}
	}

	rgbOff := headerSize + posSize
	for i, p := range t.Points {
		buf[rgbOff+i*3+0] = p.R
		buf[rgbOff+i*3+1] = p.G
		buf[rgbOff+i*3+2] = p.B
	}

	if t.HasIntensity {
		intensityOff := rgbOff + rgbSize
		for i, p := range t.Points {
			buf[intensityOff+i] = intensityCode(p.Intensity)
		}
	}
	return buf, nil
}

// Decode parses the wire format back into a Tile. hasIntensity must match
// the build's manifest CodecDescriptor — the tile header itself carries no
// flag for it, so the caller supplies it (spec §4.1). Decode returns
// CodecCorruptError if the header's num_points/bpc don't account for the
// buffer's length.
func Decode(node pc.NodeId, b []byte, hasIntensity bool) (Tile, error) {
	headerSize := align4(4*4 + 4 + 1)
	if len(b) < headerSize {
		return Tile{}, &pc.CodecCorruptError{Node: node, Msg: "tile shorter than header"}
	}
	minX := getFloat32(b[0:4])
	minY := getFloat32(b[4:8])
	minZ := getFloat32(b[8:12])
	edge := getFloat32(b[12:16])
	n := int(binary.LittleEndian.Uint32(b[16:20]))
	bpc := codec.BPC(b[20])
	if bpc != codec.BPC1 && bpc != codec.BPC2 && bpc != codec.BPC4 {
		return Tile{}, &pc.CodecCorruptError{Node: node, Msg: "invalid bytes_per_coord"}
	}

	posSize := align4(n * 3 * int(bpc))
	rgbSize := align4(n * 3)
	intensitySize := 0
	if hasIntensity {
		intensitySize = align4(n)
	}
	want := headerSize + posSize + rgbSize + intensitySize
	if len(b) != want {
		return Tile{}, &pc.CodecCorruptError{Node: node, Msg: "tile length does not match header"}
	}

	cube := pc.Cube{Min: [3]float64{float64(minX), float64(minY), float64(minZ)}, Edge: float64(edge)}
	points := make([]pc.Point, n)
	posOff := headerSize
	for i := range points {
		var coords [3]float64
		for axis := 0; axis < 3; axis++ {
			off := posOff + (i*3+axis)*int(bpc)
			if bpc == codec.BPC4 {
				coords[axis] = float64(getFloat32(b[off : off+4]))
				continue
			}
			q := getUintN(b[off:off+int(bpc)], int(bpc))
			coords[axis] = codec.Decode(q, cube.Min[axis], cube.Edge, bpc)
		}
		points[i].X, points[i].Y, points[i].Z = coords[0], coords[1], coords[2]
	}
	rgbOff := headerSize + posSize
	for i := range points {
		points[i].R = b[rgbOff+i*3+0]
		points[i].G = b[rgbOff+i*3+1]
		points[i].B = b[rgbOff+i*3+2]
		points[i].Intensity = float32(math.NaN())
	}
	if hasIntensity {
		intensityOff := rgbOff + rgbSize
		for i := range points {
			points[i].Intensity = intensityFromCode(b[intensityOff+i])
		}
	}
	return Tile{Cube: cube, BPC: bpc, Points: points, HasIntensity: hasIntensity}, nil
}

func putFloat32(dst []byte, f float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(f))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

func putUintN(dst []byte, v uint64, n int) {
	switch n {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	default:
		panic("tile: unsupported coordinate width")
	}
}

func getUintN(src []byte, n int) uint64 {
	switch n {
	case 1:
		return uint64(src[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(src))
	default:
		panic("tile: unsupported coordinate width")
	}
}
