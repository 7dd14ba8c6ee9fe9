package batch

import (
	"context"
	"io"
	"testing"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

type sliceSource struct {
	pts []pc.Point
	i   int
}

func (s *sliceSource) Next() (pc.Point, error) {
	if s.i >= len(s.pts) {
		return pc.Point{}, io.EOF
	}
	p := s.pts[s.i]
	s.i++
	return p, nil
}

func TestBatching(t *testing.T) {
	pts := make([]pc.Point, 10)
	for i := range pts {
		pts[i] = pc.Point{X: float64(i)}
	}
	r := NewReader(context.Background(), Ctx{BatchSize: 3}, &sliceSource{pts: pts})
	var got []pc.Point
	var sizes []int
	for {
		batch, ok, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		sizes = append(sizes, len(batch))
		got = append(got, batch...)
	}
	if len(got) != len(pts) {
		t.Fatalf("got %d points, want %d", len(got), len(pts))
	}
	wantSizes := []int{3, 3, 3, 1}
	if len(sizes) != len(wantSizes) {
		t.Fatalf("got %d batches %v, want sizes %v", len(sizes), sizes, wantSizes)
	}
	for i, s := range wantSizes {
		if sizes[i] != s {
			t.Errorf("batch %d size = %d, want %d", i, sizes[i], s)
		}
	}
}
