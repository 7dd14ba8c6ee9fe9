package builder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/manifest"
	"github.com/cartographer-project/point-cloud-viewer/internal/tile"
	"github.com/cartographer-project/point-cloud-viewer/internal/tilestore"
)

// randomSource yields n uniformly distributed points inside a cube, the
// way a synthetic test fixture stands in for the out-of-scope PointStream
// collaborator (spec §1).
type randomSource struct {
	rng       *rand.Rand
	remaining int
	cube      pc.Cube
}

func (s *randomSource) Next() (pc.Point, error) {
	if s.remaining == 0 {
		return pc.Point{}, io.EOF
	}
	s.remaining--
	return pc.Point{
		X:         s.cube.Min[0] + s.rng.Float64()*s.cube.Edge,
		Y:         s.cube.Min[1] + s.rng.Float64()*s.cube.Edge,
		Z:         s.cube.Min[2] + s.rng.Float64()*s.cube.Edge,
		R:         uint8(s.rng.Intn(256)),
		G:         uint8(s.rng.Intn(256)),
		B:         uint8(s.rng.Intn(256)),
		Intensity: float32(s.rng.NormFloat64()),
	}, nil
}

func TestBuildProducesCommittedManifestCoveringAllPoints(t *testing.T) {
	dir := t.TempDir()
	cube := pc.Cube{Min: [3]float64{-10, -10, -10}, Edge: 20}
	src := &randomSource{rng: rand.New(rand.NewSource(1)), remaining: 5000, cube: cube}

	m, err := Build(context.Background(), Ctx{
		Dir:        dir,
		RootCube:   cube,
		Resolution: 0.01,
		NMax:       200,
		DMax:       6,
		Threads:    4,
		BatchSize:  64,
	}, src)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Nodes) == 0 {
		t.Fatal("expected at least one committed node")
	}
	var sawRoot bool
	var totalPoints int64
	for _, n := range m.Nodes {
		if n.Id == pc.Root {
			sawRoot = true
		}
		if !n.Oversized && n.NumPoints > 200 {
			t.Errorf("node %s has %d points, exceeds n_max without being marked oversized", n.Id, n.NumPoints)
		}
		totalPoints += int64(n.NumPoints)
	}
	if !sawRoot {
		t.Error("expected root node to be committed")
	}
	if totalPoints == 0 {
		t.Error("expected committed nodes to retain some points")
	}

	got, err := manifest.ReadFile(dir)
	if err != nil {
		t.Fatalf("reading back committed manifest: %v", err)
	}
	if got.Version != manifest.CurrentVersion {
		t.Errorf("Version = %d, want %d", got.Version, manifest.CurrentVersion)
	}
	if len(got.Nodes) != len(m.Nodes) {
		t.Errorf("reloaded manifest has %d nodes, want %d", len(got.Nodes), len(m.Nodes))
	}

	store, err := tilestore.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range m.Nodes {
		b, err := store.Get(n.Id)
		if err != nil {
			t.Fatalf("reading tile %s: %v", n.Id, err)
		}
		tl, err := tile.Decode(n.Id, b, false)
		if err != nil {
			t.Fatalf("decoding tile %s: %v", n.Id, err)
		}
		if len(tl.Points) != int(n.NumPoints) {
			t.Errorf("tile %s has %d points, manifest says %d", n.Id, len(tl.Points), n.NumPoints)
		}
	}
}

// fixedSource replays the same fixed slice of points, so two builds can be
// fed bit-identical input.
type fixedSource struct {
	pts []pc.Point
	i   int
}

func (s *fixedSource) Next() (pc.Point, error) {
	if s.i >= len(s.pts) {
		return pc.Point{}, io.EOF
	}
	p := s.pts[s.i]
	s.i++
	return p, nil
}

func TestBuildSinglePoint(t *testing.T) {
	dir := t.TempDir()
	cube := pc.Cube{Min: [3]float64{0, 0, 0}, Edge: 16}
	src := &fixedSource{pts: []pc.Point{{X: 3, Y: 4, Z: 5, R: 10, G: 20, B: 30}}}

	m, err := Build(context.Background(), Ctx{
		Dir: dir, RootCube: cube, Resolution: 0.01, NMax: 100, DMax: 10, Threads: 1, BatchSize: 8,
	}, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Nodes) != 1 || m.Nodes[0].Id != pc.Root || m.Nodes[0].NumPoints != 1 {
		t.Fatalf("single-point build committed %+v, want just the root with one point", m.Nodes)
	}
}

func TestBuildCoincidentPointsStopAtDepthLimit(t *testing.T) {
	dir := t.TempDir()
	cube := pc.Cube{Min: [3]float64{0, 0, 0}, Edge: 16}
	pts := make([]pc.Point, 300)
	for i := range pts {
		pts[i] = pc.Point{X: 1, Y: 1, Z: 1, R: 7, G: 7, B: 7}
	}

	m, err := Build(context.Background(), Ctx{
		Dir: dir, RootCube: cube, Resolution: 0.01, NMax: 100, DMax: 3, Threads: 2, BatchSize: 32,
	}, &fixedSource{pts: pts})
	if err != nil {
		t.Fatal(err)
	}

	var oversized *manifest.NodeEntry
	for i, n := range m.Nodes {
		if n.Oversized {
			if oversized != nil {
				t.Fatalf("more than one oversized node: %s and %s", oversized.Id, n.Id)
			}
			oversized = &m.Nodes[i]
		} else if n.NumPoints > 100 {
			t.Errorf("node %s has %d points over n_max without the depth-limit flag", n.Id, n.NumPoints)
		}
	}
	if oversized == nil {
		t.Fatal("expected the coincident-point leaf to be flagged oversized at the depth limit")
	}
	if oversized.Id.Depth() != 3 {
		t.Errorf("oversized leaf %s at depth %d, want the depth limit 3", oversized.Id, oversized.Id.Depth())
	}
	if oversized.NumPoints != 300 {
		t.Errorf("oversized leaf holds %d points, want all 300", oversized.NumPoints)
	}
}

func TestBuildDeterministic(t *testing.T) {
	cube := pc.Cube{Min: [3]float64{-10, -10, -10}, Edge: 20}
	mkPoints := func() []pc.Point {
		rng := rand.New(rand.NewSource(7))
		pts := make([]pc.Point, 3000)
		for i := range pts {
			pts[i] = pc.Point{
				X: cube.Min[0] + rng.Float64()*cube.Edge,
				Y: cube.Min[1] + rng.Float64()*cube.Edge,
				Z: cube.Min[2] + rng.Float64()*cube.Edge,
				R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)),
			}
		}
		return pts
	}

	build := func(dir string) manifest.Manifest {
		t.Helper()
		m, err := Build(context.Background(), Ctx{
			Dir: dir, RootCube: cube, Resolution: 0.01, NMax: 150, DMax: 8, Threads: 4, BatchSize: 64,
		}, &fixedSource{pts: mkPoints()})
		if err != nil {
			t.Fatal(err)
		}
		return m
	}

	dirA, dirB := t.TempDir(), t.TempDir()
	ma, mb := build(dirA), build(dirB)
	if diff := cmp.Diff(ma, mb); diff != "" {
		t.Fatalf("two builds of the same input committed different manifests (-a +b):\n%s", diff)
	}

	storeA, err := tilestore.Open(dirA)
	if err != nil {
		t.Fatal(err)
	}
	storeB, err := tilestore.Open(dirB)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range ma.Nodes {
		ba, err := storeA.Get(n.Id)
		if err != nil {
			t.Fatal(err)
		}
		bb, err := storeB.Get(n.Id)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(ba, bb) {
			t.Errorf("tile %s differs between two builds of the same input", n.Id)
		}
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	_, err := Build(context.Background(), Ctx{Dir: t.TempDir(), NMax: 0, DMax: 1, Resolution: 1}, &randomSource{})
	var cfgErr *pc.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
}
