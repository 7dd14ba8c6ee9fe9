// Package frustum implements the in-memory node tree and visibility/LOD
// selection of spec §4.5: a sparse, pointer-free tree built once from a
// loaded manifest, where child cubes are always derived arithmetically
// from a NodeId rather than stored.
package frustum

import (
	"math"
	"sort"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/manifest"
)

// DefaultThresholdPx is the default screen-space size, in pixels, below
// which a node's subtree is not expanded further (spec §4.5).
const DefaultThresholdPx = 512

// Mat4 is a column-major 4x4 matrix (view*projection), f64 throughout —
// spec §9 calls out float32 precision loss near the root as an observed
// bug class in frustum culling.
type Mat4 [16]float64

// Plane is ax+by+cz+d >= 0 for points inside the half-space.
type Plane struct{ A, B, C, D float64 }

func (p Plane) signedDistance(x, y, z float64) float64 {
	return p.A*x + p.B*y + p.C*z + p.D
}

// ExtractPlanes derives the six frustum planes (left, right, bottom, top,
// near, far) from a view-projection matrix using the standard
// Gribb/Hartmann row-combination method.
func ExtractPlanes(m Mat4) [6]Plane {
	row := func(i int) [4]float64 { return [4]float64{m[i], m[i+4], m[i+8], m[i+12]} }
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	comb := func(a, b [4]float64, sign float64) Plane {
		return normalize(Plane{
			A: a[0] + sign*b[0],
			B: a[1] + sign*b[1],
			C: a[2] + sign*b[2],
			D: a[3] + sign*b[3],
		})
	}
	return [6]Plane{
		comb(r3, r0, 1),  // left
		comb(r3, r0, -1), // right
		comb(r3, r1, 1),  // bottom
		comb(r3, r1, -1), // top
		comb(r3, r2, 1),  // near
		comb(r3, r2, -1), // far
	}
}

func normalize(p Plane) Plane {
	n := math.Sqrt(p.A*p.A + p.B*p.B + p.C*p.C)
	if n == 0 {
		return p
	}
	return Plane{A: p.A / n, B: p.B / n, C: p.C / n, D: p.D / n}
}

func corners(c pc.Cube) [8][3]float64 {
	var out [8][3]float64
	for i := 0; i < 8; i++ {
		out[i] = [3]float64{c.Min[0], c.Min[1], c.Min[2]}
		if i&1 != 0 {
			out[i][0] += c.Edge
		}
		if i&2 != 0 {
			out[i][1] += c.Edge
		}
		if i&4 != 0 {
			out[i][2] += c.Edge
		}
	}
	return out
}

// cullsFully reports whether cube lies fully outside at least one of the
// six planes (spec §4.5 step 1).
func cullsFully(planes [6]Plane, cube pc.Cube) bool {
	cs := corners(cube)
	for _, pl := range planes {
		allOutside := true
		for _, c := range cs {
			if pl.signedDistance(c[0], c[1], c[2]) >= 0 {
				allOutside = false
				break
			}
		}
		if allOutside {
			return true
		}
	}
	return false
}

// project applies a view-projection matrix to a point, returning its
// normalized device x and y (clip-space x/w, y/w). ok is false when the
// point is at or behind the camera (w <= 0).
func project(m Mat4, x, y, z float64) (px, py float64, ok bool) {
	cx := m[0]*x + m[4]*y + m[8]*z + m[12]
	cy := m[1]*x + m[5]*y + m[9]*z + m[13]
	cw := m[3]*x + m[7]*y + m[11]*z + m[15]
	if cw <= 0 {
		return 0, 0, false
	}
	return cx / cw, cy / cw, true
}

// screenSize computes the projected-corner-AABB screen footprint of cube
// in pixels, the committed screen-space metric (spec §9, DESIGN.md).
func screenSize(m Mat4, cube pc.Cube, widthPx, heightPx float64) (sizePx float64, visible bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	any := false
	for _, c := range corners(cube) {
		x, y, ok := project(m, c[0], c[1], c[2])
		if !ok {
			continue
		}
		any = true
		px := (x*0.5 + 0.5) * widthPx
		py := (y*0.5 + 0.5) * heightPx
		if px < minX {
			minX = px
		}
		if px > maxX {
			maxX = px
		}
		if py < minY {
			minY = py
		}
		if py > maxY {
			maxY = py
		}
	}
	if !any {
		return 0, false
	}
	w := maxX - minX
	h := maxY - minY
	if w > h {
		return w, true
	}
	return h, true
}

// Index is the in-memory frustum index: the manifest's node directory,
// indexed for O(1) lookup, plus the root cube it's derived from.
type Index struct {
	RootCube    pc.Cube
	ThresholdPx float64
	live        map[pc.NodeId]struct{}
}

// Build constructs an Index from a loaded manifest.
func Build(m manifest.Manifest) *Index {
	live := make(map[pc.NodeId]struct{}, len(m.Nodes))
	for _, n := range m.Nodes {
		live[n.Id] = struct{}{}
	}
	return &Index{RootCube: m.RootCube, ThresholdPx: DefaultThresholdPx, live: live}
}

// Exists reports whether id has a tile in the manifest — used both for
// internal visibility descent and by internal/query to decide whether a
// visible node's child is worth prefetching.
func (idx *Index) Exists(id pc.NodeId) bool {
	_, ok := idx.live[id]
	return ok
}

// VisibleNodes selects the minimal set of nodes covering the view frustum
// at adequate screen-space density (spec §4.5). Output is depth-first,
// closer children visited first at each level; duplicates never occur
// since each emitted node stops its branch's descent.
func (idx *Index) VisibleNodes(viewProj Mat4, widthPx, heightPx int) []pc.NodeId {
	if widthPx <= 0 || heightPx <= 0 {
		return nil
	}
	planes := ExtractPlanes(viewProj)
	var out []pc.NodeId
	if idx.Exists(pc.Root) {
		idx.visit(pc.Root, idx.RootCube, planes, viewProj, float64(widthPx), float64(heightPx), &out)
	}
	return out
}

func (idx *Index) visit(id pc.NodeId, cube pc.Cube, planes [6]Plane, viewProj Mat4, w, h float64, out *[]pc.NodeId) {
	if cullsFully(planes, cube) {
		return
	}
	size, visible := screenSize(viewProj, cube, w, h)
	if !visible {
		return
	}
	children := idx.liveChildren(id)
	if size <= idx.ThresholdPx || len(children) == 0 {
		*out = append(*out, id)
		return
	}
	idx.sortFrontToBack(children, viewProj)
	for _, ch := range children {
		idx.visit(ch.id, ch.cube, planes, viewProj, w, h, out)
	}
}

type childCube struct {
	id   pc.NodeId
	cube pc.Cube
}

func (idx *Index) liveChildren(id pc.NodeId) []childCube {
	var out []childCube
	for octant := uint8(0); octant < 8; octant++ {
		child := id.Child(octant)
		if idx.Exists(child) {
			out = append(out, childCube{id: child, cube: pc.CubeAt(idx.RootCube, child)})
		}
	}
	return out
}

// sortFrontToBack orders children by clip-space w (a monotonic proxy for
// camera distance under perspective projection), nearest first, per
// spec §4.5 step 4's "improve perceived loading priority".
func (idx *Index) sortFrontToBack(children []childCube, viewProj Mat4) {
	depth := func(c pc.Cube) float64 {
		center := c.Center()
		w := viewProj[3]*center[0] + viewProj[7]*center[1] + viewProj[11]*center[2] + viewProj[15]
		return w
	}
	sort.Slice(children, func(i, j int) bool {
		return depth(children[i].cube) < depth(children[j].cube)
	})
}
