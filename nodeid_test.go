package pointcloud

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewNodeId(t *testing.T) {
	for _, tt := range []struct {
		in      string
		wantErr bool
	}{
		{"r", false},
		{"r4027", false},
		{"r01234567", false},
		{"", true},
		{"4027", true},
		{"r8", true},
		{"r40a7", true},
	} {
		_, err := NewNodeId(tt.in)
		if gotErr := err != nil; gotErr != tt.wantErr {
			t.Errorf("NewNodeId(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestNodeIdArithmetic(t *testing.T) {
	id := NodeId("r4027")
	if got := id.Depth(); got != 4 {
		t.Errorf("Depth = %d, want 4", got)
	}
	if diff := cmp.Diff([]uint8{4, 0, 2, 7}, id.Octants()); diff != "" {
		t.Errorf("Octants mismatch (-want +got):\n%s", diff)
	}
	parent, ok := id.Parent()
	if !ok || parent != NodeId("r402") {
		t.Errorf("Parent = %v, %v; want r402, true", parent, ok)
	}
	if _, ok := Root.Parent(); ok {
		t.Error("the root must have no parent")
	}
	if got := id.Child(3); got != NodeId("r40273") {
		t.Errorf("Child(3) = %v, want r40273", got)
	}
	if diff := cmp.Diff([]NodeId{"r", "r4", "r40", "r402"}, id.Ancestors()); diff != "" {
		t.Errorf("Ancestors mismatch (-want +got):\n%s", diff)
	}
	if !NodeId("r4").IsAncestorOf(id) {
		t.Error("r4 should be an ancestor of r4027")
	}
	if id.IsAncestorOf(id) {
		t.Error("a node is not its own ancestor")
	}
}

func TestCubeOctantTieBreak(t *testing.T) {
	c := Cube{Min: [3]float64{0, 0, 0}, Edge: 2}
	// A point exactly on the midpoint goes to the + side on every axis.
	if got := c.Octant([3]float64{1, 1, 1}); got != 7 {
		t.Errorf("Octant(midpoint) = %d, want 7", got)
	}
	if got := c.Octant([3]float64{0.5, 0.5, 0.5}); got != 0 {
		t.Errorf("Octant(-octant corner) = %d, want 0", got)
	}
	if got := c.Octant([3]float64{1.5, 0.5, 1.5}); got != 5 {
		t.Errorf("Octant(+x+z) = %d, want 5", got)
	}
}

func TestCubeChildAndCubeAt(t *testing.T) {
	root := Cube{Min: [3]float64{0, 0, 0}, Edge: 8}
	child := root.Child(5) // +x, -y, +z
	want := Cube{Min: [3]float64{4, 0, 4}, Edge: 4}
	if diff := cmp.Diff(want, child); diff != "" {
		t.Errorf("Child(5) mismatch (-want +got):\n%s", diff)
	}

	// Deriving a grandchild cube from its NodeId walks the same arithmetic.
	id := Root.Child(5).Child(0)
	got := CubeAt(root, id)
	if diff := cmp.Diff(Cube{Min: [3]float64{4, 0, 4}, Edge: 2}, got); diff != "" {
		t.Errorf("CubeAt(%s) mismatch (-want +got):\n%s", id, diff)
	}
}

func TestBoundingCubePowerOfTwo(t *testing.T) {
	c := BoundingCube([3]float64{0, 0, 0}, [3]float64{9, 9, 9})
	if c.Edge != 16 {
		t.Errorf("Edge = %v, want the next power of two, 16", c.Edge)
	}
	for _, p := range [][3]float64{{0, 0, 0}, {9, 9, 9}, {4.5, 4.5, 4.5}} {
		if !c.Contains(p) {
			t.Errorf("bounding cube %+v does not contain input point %v", c, p)
		}
	}

	// A degenerate (single-point) extent still yields a usable cube.
	c = BoundingCube([3]float64{3, 3, 3}, [3]float64{3, 3, 3})
	if c.Edge <= 0 || !c.Contains([3]float64{3, 3, 3}) {
		t.Errorf("degenerate bounding cube %+v", c)
	}
}
