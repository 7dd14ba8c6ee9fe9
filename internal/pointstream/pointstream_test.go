package pointstream

import (
	"errors"
	"io"
	"strings"
	"testing"

	pc "github.com/cartographer-project/point-cloud-viewer"
)

func TestTextSourceParsesPoints(t *testing.T) {
	src := OpenText(strings.NewReader("# comment\n\n1.5 2.5 3.5 255 0 0\n0 0 0 10 20 30 0.75\n"))

	p1, err := src.Next()
	if err != nil {
		t.Fatal(err)
	}
	if p1.X != 1.5 || p1.Y != 2.5 || p1.Z != 3.5 || p1.R != 255 || p1.G != 0 || p1.B != 0 {
		t.Errorf("p1 = %+v", p1)
	}
	if p1.HasIntensity() {
		t.Error("p1 should have no intensity")
	}

	p2, err := src.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !p2.HasIntensity() || p2.Intensity != 0.75 {
		t.Errorf("p2.Intensity = %v, want 0.75", p2.Intensity)
	}

	_, err = src.Next()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestTextSourceRejectsMalformedLine(t *testing.T) {
	src := OpenText(strings.NewReader("1 2 3 x 0 0\n"))
	_, err := src.Next()
	var inputErr *pc.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError, got %T: %v", err, err)
	}
}
