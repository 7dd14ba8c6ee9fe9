package builder

import (
	"sync"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/tilestore"
)

// nodeState tracks one node's Pass 1 state: either it's still an open
// leaf accepting raw points into its scratch spill file, or it has been
// split into children and only survives as a bookkeeping entry in the
// tree (spec §4.3: "open-node table, per-node spill buffers"). mu is the
// node's own lock (spec §5: "open-node map: exclusive mutex during
// split"): it serializes a node's own append/count/split-check sequence
// so that a worker never appends to a writer another worker has just
// closed out from under it while splitting.
type nodeState struct {
	mu     sync.Mutex
	cube   pc.Cube
	depth  uint32
	writer *tilestore.ScratchWriter
	count  int64
	open   bool
}

// tree is the Pass 1 output: every node that ever existed (leaf or
// split), plus the parent/child edges recorded as nodes split. Pass 2
// walks this bottom-up to finalize tiles.
type tree struct {
	mu       sync.Mutex
	nodes    map[pc.NodeId]*nodeState
	children map[pc.NodeId][]pc.NodeId
}

// splitter routes incoming points into the open-node table, splitting a
// leaf into up to 8 children once it exceeds NMax points, unless it has
// already reached DMax (spec §8's depth-limit escape hatch, which keeps
// the leaf oversized rather than splitting further).
type splitter struct {
	dir      string
	rootCube pc.Cube
	nMax     uint32
	dMax     uint32
	tree     *tree
}

func newSplitter(dir string, rootCube pc.Cube, nMax, dMax uint32) (*splitter, error) {
	root, err := tilestore.OpenScratch(dir, pc.Root)
	if err != nil {
		return nil, err
	}
	t := &tree{
		nodes:    map[pc.NodeId]*nodeState{pc.Root: {cube: rootCube, depth: 0, writer: root, open: true}},
		children: map[pc.NodeId][]pc.NodeId{},
	}
	return &splitter{dir: dir, rootCube: rootCube, nMax: nMax, dMax: dMax, tree: t}, nil
}

// Process routes a single point down the tree, appending it to whichever
// node is currently the open leaf for its position, splitting that node
// if the append pushes it over budget. Safe to call concurrently from
// c.Threads Pass 1 workers: tree topology (which nodes exist, which are
// still open) is guarded by s.tree.mu, while a node's own
// append/count/split sequence is guarded by that node's own mu, giving
// workers routing points into different nodes real concurrency while
// still serializing anyone who lands on the same node (spec §5).
func (s *splitter) Process(p pc.Point) error {
	for {
		id, n, err := s.resolveLeaf(p)
		if err != nil {
			return err
		}
		done, err := s.appendAndMaybeSplit(id, n, p)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// n was split out from under us between resolveLeaf and the lock;
		// re-resolve against the now-current tree and retry.
	}
}

// resolveLeaf walks the tree under s.tree.mu to find the currently-open
// leaf for p's position, lazily opening child scratch writers as the
// walk passes nodes another worker has already split, and recording each
// lazily created child under its parent for Pass 2.
func (s *splitter) resolveLeaf(p pc.Point) (pc.NodeId, *nodeState, error) {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()

	id := pc.Root
	n := s.tree.nodes[id]
	for !n.open {
		octant := n.cube.Octant(position(p))
		parentID := id
		id = id.Child(octant)
		child, ok := s.tree.nodes[id]
		if !ok {
			w, err := tilestore.OpenScratch(s.dir, id)
			if err != nil {
				return id, nil, err
			}
			child = &nodeState{cube: n.cube.Child(octant), depth: n.depth + 1, open: true, writer: w}
			s.tree.nodes[id] = child
			s.tree.children[parentID] = append(s.tree.children[parentID], id)
		}
		n = child
	}
	return id, n, nil
}

// appendAndMaybeSplit appends p to n under n's own lock and, if the
// append crosses n_max, splits it there (still holding n.mu, so no other
// worker can append to n mid-split). done is false if n had already been
// split by another worker by the time this worker got n.mu, signaling
// Process to re-resolve.
func (s *splitter) appendAndMaybeSplit(id pc.NodeId, n *nodeState, p pc.Point) (done bool, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.open {
		return false, nil
	}

	stratum := n.cube.Octant(position(p))
	if err := n.writer.Append(encodeRecord(stratum, p)); err != nil {
		return false, &pc.StorageIoError{Node: id, Err: err}
	}
	n.count++

	if n.count > int64(s.nMax) && n.depth < s.dMax {
		if err := s.split(id, n); err != nil {
			return false, err
		}
	}
	return true, nil
}

// split closes a leaf, replays its accumulated points into fresh child
// leaves (one per octant that receives a point), and records the
// parent/child edges in the tree. Called with n.mu
// already held; takes s.tree.mu for its own duration so no concurrent
// resolveLeaf can observe n half-split (closed but without its children
// registered yet).
func (s *splitter) split(id pc.NodeId, n *nodeState) error {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.splitLocked(id, n)
}

// splitLocked is split with s.tree.mu already held. It re-splits any fresh
// child that itself landed over budget during the replay (a node holding
// n_max+1 coincident-octant points hands all of them to one child), since
// no further append will ever re-check that child if the input stream has
// no more points for it. The fresh children are unreachable by other
// workers until tree.mu is released, so recursing on them needs no child
// lock.
func (s *splitter) splitLocked(id pc.NodeId, n *nodeState) error {
	if err := n.writer.Close(); err != nil {
		return &pc.StorageIoError{Node: id, Err: err}
	}
	raw, err := tilestore.ReadAllScratch(s.dir, id)
	if err != nil {
		return err
	}
	if err := tilestore.DeleteScratch(s.dir, id); err != nil {
		return err
	}

	childWriters := make(map[pc.NodeId]*tilestore.ScratchWriter)
	seen := make(map[pc.NodeId]bool)
	for _, tp := range decodeRecords(raw) {
		octant := n.cube.Octant(position(tp.point))
		childID := id.Child(octant)
		w, ok := childWriters[childID]
		if !ok {
			w, err = tilestore.OpenScratch(s.dir, childID)
			if err != nil {
				return err
			}
			childWriters[childID] = w
		}
		childStratum := n.cube.Child(octant).Octant(position(tp.point))
		if err := w.Append(encodeRecord(childStratum, tp.point)); err != nil {
			return &pc.StorageIoError{Node: childID, Err: err}
		}
		if cs, ok := s.tree.nodes[childID]; ok {
			cs.count++
		} else {
			s.tree.nodes[childID] = &nodeState{
				cube: n.cube.Child(octant), depth: n.depth + 1, writer: w, open: true, count: 1,
			}
		}
		seen[childID] = true
	}
	children := make([]pc.NodeId, 0, len(seen))
	for childID := range seen {
		children = append(children, childID)
	}
	s.tree.children[id] = children

	// Only now, with every child registered and its writer open, does n
	// stop being a valid destination for new points.
	n.open = false
	n.writer = nil

	for _, childID := range children {
		cs := s.tree.nodes[childID]
		if cs.count > int64(s.nMax) && cs.depth < s.dMax {
			if err := s.splitLocked(childID, cs); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes every still-open leaf's scratch writer at the end of
// Pass 1.
func (s *splitter) Close() error {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	for id, n := range s.tree.nodes {
		if n.open && n.writer != nil {
			if err := n.writer.Close(); err != nil {
				return &pc.StorageIoError{Node: id, Err: err}
			}
		}
	}
	return nil
}
