package builder

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/codec"
	"github.com/cartographer-project/point-cloud-viewer/internal/manifest"
	"github.com/cartographer-project/point-cloud-viewer/internal/tile"
	"github.com/cartographer-project/point-cloud-viewer/internal/tilestore"
)

// graphNode adapts a NodeId into a gonum graph.Node, the way the
// teacher's batch scheduler wraps package names for its dependency DAG.
type graphNode struct {
	id  int64
	nid pc.NodeId
}

func (n graphNode) ID() int64 { return n.id }

// subsampler runs Pass 2 (spec §4.3, §9): bottom-up, a node's own tile is
// a stratified random sample of its accumulated points, and an
// independent second sample of the same pool is promoted into the
// parent's pool (not the complement of the first — a remainder-only
// promotion can go empty even though the parent still needs points,
// starving it). A node depends on all its children finalizing first,
// exactly the "dependencies cannot be fulfilled until deps are built"
// shape of the teacher's package scheduler, just with the edge direction
// read as "parent needs child".
type subsampler struct {
	dir          string
	store        *tilestore.Store
	resolution   float64
	nMax         uint32
	dMax         uint32
	threads      int
	hasIntensity bool

	g      *simple.DirectedGraph
	byID   map[pc.NodeId]graphNode
	cubeOf map[pc.NodeId]pc.Cube

	mu      sync.Mutex
	entries []manifest.NodeEntry
}

func newSubsampler(dir string, store *tilestore.Store, t *tree, resolution float64, nMax, dMax uint32, threads int, hasIntensity bool) (*subsampler, error) {
	g := simple.NewDirectedGraph()
	byID := make(map[pc.NodeId]graphNode, len(t.nodes))
	cubeOf := make(map[pc.NodeId]pc.Cube, len(t.nodes))
	var next int64
	nodeFor := func(id pc.NodeId) graphNode {
		gn, ok := byID[id]
		if !ok {
			gn = graphNode{id: next, nid: id}
			next++
			byID[id] = gn
			g.AddNode(gn)
		}
		return gn
	}
	for id, n := range t.nodes {
		cubeOf[id] = n.cube
		nodeFor(id)
	}
	for parent, children := range t.children {
		pn := nodeFor(parent)
		for _, child := range children {
			cn := nodeFor(child)
			// Edge direction mirrors the teacher scheduler: From(parent)
			// enumerates parent's dependencies, i.e. its children.
			g.SetEdge(simple.Edge{F: pn, T: cn})
		}
	}
	if _, err := topo.Sort(g); err != nil {
		return nil, xerrors.Errorf("node dependency graph has a cycle: %w", err)
	}
	return &subsampler{
		dir: dir, store: store, resolution: resolution, nMax: nMax, dMax: dMax, threads: threads,
		hasIntensity: hasIntensity,
		g:            g, byID: byID, cubeOf: cubeOf,
	}, nil
}

// Run finalizes every node, children before parents, running each
// dependency-satisfied layer concurrently up to s.threads workers — the
// same "canBuild once all deps are built" scheduling shape as the
// teacher's batch scheduler, adapted from package names to NodeIds.
func (s *subsampler) Run(ctx context.Context) ([]manifest.NodeEntry, error) {
	done := make(map[int64]bool, len(s.byID))

	canFinalize := func(gn graphNode) bool {
		for from := s.g.From(gn.ID()); from.Next(); {
			if !done[from.Node().ID()] {
				return false
			}
		}
		return true
	}

	remaining := make(map[int64]graphNode, len(s.byID))
	for _, gn := range s.byID {
		remaining[gn.ID()] = gn
	}

	for len(remaining) > 0 {
		var layer []graphNode
		for _, gn := range remaining {
			if canFinalize(gn) {
				layer = append(layer, gn)
			}
		}
		if len(layer) == 0 {
			return nil, xerrors.Errorf("node dependency graph did not converge: %d nodes stuck", len(remaining))
		}
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(s.threadsOrDefault())
		for _, gn := range layer {
			gn := gn
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return &pc.CancelledError{Err: err}
				}
				return s.finalize(gn.nid)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		for _, gn := range layer {
			done[gn.ID()] = true
			delete(remaining, gn.ID())
		}
	}

	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].Id < s.entries[j].Id })
	return s.entries, nil
}

func (s *subsampler) threadsOrDefault() int {
	if s.threads <= 0 {
		return 1
	}
	return s.threads
}

// finalize reads node id's full accumulated point pool, samples its own
// tile, writes it, and promotes an independent sample of the same pool
// to the parent.
func (s *subsampler) finalize(id pc.NodeId) error {
	exists, err := tilestore.ScratchExists(s.dir, id)
	if err != nil {
		return xerrors.Errorf("checking scratch for %s: %w", id, err)
	}
	var records []taggedPoint
	if exists {
		raw, err := tilestore.ReadAllScratch(s.dir, id)
		if err != nil {
			return xerrors.Errorf("reading scratch for %s: %w", id, err)
		}
		records = decodeRecords(raw)
		// Spill order depends on how Pass 1's workers (and sibling
		// promotions) interleaved their appends. Sampling must not: a
		// rebuild of the same input has to reproduce byte-identical tiles
		// whatever the thread schedule was, so impose a canonical order
		// before any selection happens.
		canonicalize(records)
	}
	cube := s.cubeOf[id]

	depth := uint32(id.Depth())
	forced := depth >= s.dMax
	selected := sampleNode(id, 0, records, s.nMax, forced)

	points := make([]pc.Point, len(selected))
	for i, tp := range selected {
		points[i] = tp.point
	}
	bpc := codec.SelectBPC(cube.Edge, s.resolution)
	oversized := forced && uint32(len(records)) > s.nMax
	b, err := tile.Encode(id, tile.Tile{Cube: cube, BPC: bpc, Points: points, HasIntensity: s.hasIntensity})
	if err != nil {
		return xerrors.Errorf("encoding tile %s: %w", id, err)
	}
	if err := s.store.Put(id, b); err != nil {
		return err
	}
	if exists {
		if err := tilestore.DeleteScratch(s.dir, id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.entries = append(s.entries, manifest.NodeEntry{
		Id: id, NumPoints: uint32(len(points)), NumBytes: uint64(len(b)), Oversized: oversized,
	})
	s.mu.Unlock()

	if id.IsRoot() || len(records) == 0 {
		return nil
	}
	// Promote an independent stratified sample of this node's full point
	// pool to the parent, rather than only whatever this node's own tile
	// didn't select: a node whose entire point count already fits under
	// N_max still needs to hand something up, or its parent (and every
	// ancestor above it) would never get a representative sample of that
	// branch at all.
	promoted := sampleNode(id, 1, records, s.nMax, false)
	parent, _ := id.Parent()
	stratum := id.Octants()[len(id.Octants())-1]
	w, err := tilestore.OpenScratch(s.dir, parent)
	if err != nil {
		return err
	}
	for _, tp := range promoted {
		if err := w.Append(encodeRecord(stratum, tp.point)); err != nil {
			w.Close()
			return &pc.StorageIoError{Node: parent, Err: err}
		}
	}
	return w.Close()
}

// sampleNode selects up to budget records out of pts, spreading the
// selection proportionally across the 8 stratum buckets recorded by the
// splitter so a node's tile stays spatially representative rather than
// biased toward whichever child happened to write first. Selection is
// deterministic: the random source is seeded from id (and salt, so the
// same node's own-tile and promotion samples draw independently), so a
// rebuild of the same inputs always reproduces the same tiles (spec §9).
func sampleNode(id pc.NodeId, salt int64, pts []taggedPoint, budget uint32, forced bool) []taggedPoint {
	if len(pts) == 0 {
		return nil
	}
	if uint32(len(pts)) <= budget || forced {
		return pts
	}
	var buckets [8][]taggedPoint
	for _, tp := range pts {
		buckets[tp.stratum] = append(buckets[tp.stratum], tp)
	}
	rng := rand.New(rand.NewSource(seedFor(id) ^ salt))

	// Largest-remainder allocation of budget across the 8 buckets,
	// weighted by bucket size.
	total := len(pts)
	quota := make([]int, 8)
	remainders := make([]float64, 8)
	allocated := 0
	for i, b := range buckets {
		share := float64(len(b)) * float64(budget) / float64(total)
		quota[i] = int(share)
		remainders[i] = share - float64(quota[i])
		allocated += quota[i]
	}
	order := make([]int, 8)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return remainders[order[a]] > remainders[order[b]] })
	for i := 0; allocated < int(budget) && i < 8; i++ {
		b := order[i]
		if quota[b] < len(buckets[b]) {
			quota[b]++
			allocated++
		}
	}

	var selected []taggedPoint
	for i, b := range buckets {
		if len(b) == 0 {
			continue
		}
		perm := rng.Perm(len(b))
		n := quota[i]
		if n > len(b) {
			n = len(b)
		}
		for j := 0; j < n; j++ {
			selected = append(selected, b[perm[j]])
		}
	}
	return selected
}

func seedFor(id pc.NodeId) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

var _ graph.Node = graphNode{}
