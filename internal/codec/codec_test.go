package codec

import (
	"errors"
	"testing"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		min, edge float64
		bpc       BPC
	}{
		{0, 1, BPC1},
		{0, 1, BPC2},
		{-10, 20, BPC1},
		{-10, 20, BPC2},
	}
	for _, c := range cases {
		for _, p := range []float64{c.min, c.min + c.edge, c.min + c.edge/2, c.min + c.edge*0.9999} {
			q, err := Encode(pc.Root, p, c.min, c.edge, c.bpc)
			if err != nil {
				t.Fatalf("Encode(%v): %v", p, err)
			}
			got := Decode(q, c.min, c.edge, c.bpc)
			maxErr := MaxError(c.edge, c.bpc)
			if diff := got - p; diff > maxErr || diff < -maxErr {
				t.Errorf("Decode(Encode(%v)) = %v, error %v exceeds max %v", p, got, diff, maxErr)
			}
		}
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	_, err := Encode(pc.Root, 100, 0, 1, BPC1)
	if err == nil {
		t.Fatal("expected CodecRangeError for out-of-cube coordinate")
	}
	var rangeErr *pc.CodecRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected *pc.CodecRangeError, got %T", err)
	}
}

func TestSelectBPC(t *testing.T) {
	// A small leaf cube should need only one byte at typical resolution.
	if got := SelectBPC(0.01, 0.001); got != BPC1 {
		t.Errorf("SelectBPC(0.01, 0.001) = %v, want BPC1", got)
	}
	// A wide root cube needs more bits for the same absolute resolution.
	if got := SelectBPC(1000, 0.001); got != BPC4 {
		t.Errorf("SelectBPC(1000, 0.001) = %v, want BPC4", got)
	}
}

