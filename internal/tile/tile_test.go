package tile

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/codec"
)

func TestRoundTrip(t *testing.T) {
	cube := pc.Cube{Min: [3]float64{0, 0, 0}, Edge: 10}
	pts := []pc.Point{
		{X: 0, Y: 0, Z: 0, R: 1, G: 2, B: 3, Intensity: float32(math.NaN())},
		{X: 10, Y: 10, Z: 10, R: 255, G: 255, B: 255, Intensity: float32(math.NaN())},
		{X: 5, Y: 5, Z: 5, R: 128, G: 64, B: 32, Intensity: float32(math.NaN())},
	}
	for _, bpc := range []codec.BPC{codec.BPC1, codec.BPC2, codec.BPC4} {
		in := Tile{Cube: cube, BPC: bpc, Points: pts}
		b, err := Encode(pc.Root, in)
		if err != nil {
			t.Fatalf("bpc=%d: Encode: %v", bpc, err)
		}
		if len(b)%4 != 0 {
			t.Errorf("bpc=%d: encoded tile not 4-byte aligned: %d bytes", bpc, len(b))
		}
		out, err := Decode(pc.Root, b, false)
		if err != nil {
			t.Fatalf("bpc=%d: Decode: %v", bpc, err)
		}
		maxErr := codec.MaxError(cube.Edge, bpc)
		if maxErr == 0 {
			maxErr = 1e-4
		}
		opt := cmpopts.EquateApprox(0, maxErr)
		for i := range pts {
			if diff := cmp.Diff(pts[i].X, out.Points[i].X, opt); diff != "" {
				t.Errorf("bpc=%d point %d X mismatch (-want +got):\n%s", bpc, i, diff)
			}
			if pts[i].R != out.Points[i].R || pts[i].G != out.Points[i].G || pts[i].B != out.Points[i].B {
				t.Errorf("bpc=%d point %d RGB mismatch: want %v got %v", bpc, i, pts[i], out.Points[i])
			}
		}
	}
}

func TestDecodeCorruptHeader(t *testing.T) {
	_, err := Decode(pc.Root, []byte{1, 2, 3}, false)
	if err == nil {
		t.Fatal("expected error decoding undersized buffer")
	}
}

func TestRoundTripIntensity(t *testing.T) {
	cube := pc.Cube{Min: [3]float64{0, 0, 0}, Edge: 10}
	pts := []pc.Point{
		{X: 0, Y: 0, Z: 0, R: 1, G: 2, B: 3, Intensity: 0},
		{X: 10, Y: 10, Z: 10, R: 255, G: 255, B: 255, Intensity: 1},
		{X: 5, Y: 5, Z: 5, R: 128, G: 64, B: 32, Intensity: 0.5},
		{X: 1, Y: 1, Z: 1, R: 9, G: 9, B: 9, Intensity: float32(math.NaN())},
	}
	in := Tile{Cube: cube, BPC: codec.BPC2, Points: pts, HasIntensity: true}
	b, err := Encode(pc.Root, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b)%4 != 0 {
		t.Errorf("encoded tile not 4-byte aligned: %d bytes", len(b))
	}
	out, err := Decode(pc.Root, b, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.HasIntensity {
		t.Error("decoded tile should report HasIntensity")
	}
	// Half a quantum, plus slack for the decoded value being a float32.
	const quantum = 1.0 / 255
	opt := cmpopts.EquateApprox(0, quantum/2+1e-6)
	for i := range pts {
		want := pts[i].Intensity
		if math.IsNaN(float64(want)) {
			want = 0
		}
		if diff := cmp.Diff(want, out.Points[i].Intensity, opt); diff != "" {
			t.Errorf("point %d intensity mismatch (-want +got):\n%s", i, diff)
		}
	}

	// A tile with no intensity channel keeps decoding NaN, so existing
	// builds (HasIntensity=false) are unaffected.
	out2, err := Decode(pc.Root, b[:len(b)-align4(len(pts))], false)
	if err != nil {
		t.Fatalf("Decode without intensity: %v", err)
	}
	if !math.IsNaN(float64(out2.Points[0].Intensity)) {
		t.Errorf("expected NaN intensity when hasIntensity=false, got %v", out2.Points[0].Intensity)
	}
}

func TestEncodeOutOfRangeFails(t *testing.T) {
	cube := pc.Cube{Min: [3]float64{0, 0, 0}, Edge: 1}
	in := Tile{Cube: cube, BPC: codec.BPC1, Points: []pc.Point{{X: 1000, Y: 0, Z: 0}}}
	if _, err := Encode(pc.Root, in); err == nil {
		t.Fatal("expected CodecRangeError for point far outside cube")
	}
}
