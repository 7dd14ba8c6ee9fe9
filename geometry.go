package pointcloud

import "math"

// Point is a single input or decoded sample: a metric-frame position, an
// sRGB color, and an optional intensity channel (NaN when absent).
type Point struct {
	X, Y, Z   float64
	R, G, B   uint8
	Intensity float32 // math.NaN() when the stream carries no intensity
}

// HasIntensity reports whether p carries an intensity sample.
func (p Point) HasIntensity() bool {
	return !math.IsNaN(float64(p.Intensity))
}

// Cube is an axis-aligned cube: Min is its minimum corner, Edge its side
// length. All cube arithmetic is done in float64 per spec — frustum
// culling near the root has been observed to misbehave at float32
// precision.
type Cube struct {
	Min  [3]float64
	Edge float64
}

// Center returns the cube's center point.
func (c Cube) Center() [3]float64 {
	h := c.Edge / 2
	return [3]float64{c.Min[0] + h, c.Min[1] + h, c.Min[2] + h}
}

// Contains reports whether p lies within c (inclusive of the boundary).
func (c Cube) Contains(p [3]float64) bool {
	for i := 0; i < 3; i++ {
		if p[i] < c.Min[i] || p[i] > c.Min[i]+c.Edge {
			return false
		}
	}
	return true
}

// Octant returns which of c's 8 children contains p, using the tie-break
// rule from spec §3: on the midpoint, the coordinate is assigned to the
// +octant. Bit 0 is +x, bit 1 is +y, bit 2 is +z.
func (c Cube) Octant(p [3]float64) uint8 {
	center := c.Center()
	var octant uint8
	if p[0] >= center[0] {
		octant |= 1
	}
	if p[1] >= center[1] {
		octant |= 2
	}
	if p[2] >= center[2] {
		octant |= 4
	}
	return octant
}

// Child returns the sub-cube occupying the given octant (0-7) of c.
func (c Cube) Child(octant uint8) Cube {
	h := c.Edge / 2
	min := c.Min
	if octant&1 != 0 {
		min[0] += h
	}
	if octant&2 != 0 {
		min[1] += h
	}
	if octant&4 != 0 {
		min[2] += h
	}
	return Cube{Min: min, Edge: h}
}

// CubeAt derives the cube of id within the tree rooted at root, walking
// id's octant sequence. Child cubes are never stored on disk — only ever
// computed from the root cube and a NodeId, per spec §9.
func CubeAt(root Cube, id NodeId) Cube {
	cube := root
	for _, octant := range id.Octants() {
		cube = cube.Child(octant)
	}
	return cube
}

// BoundingCube returns a cube, centered on the axis-aligned box [min, max],
// that bounds it with the smallest power-of-two edge length no less than 1.
// Expanding to a power of two lets children subdivide cleanly down to
// D_max levels.
func BoundingCube(min, max [3]float64) Cube {
	var longest float64
	for i := 0; i < 3; i++ {
		if d := max[i] - min[i]; d > longest {
			longest = d
		}
	}
	if longest <= 0 {
		longest = 1
	}
	edge := 1.0
	for edge < longest {
		edge *= 2
	}
	// Center the box within the power-of-two cube. Along an axis whose
	// extent is shorter than the edge this leaves a margin on both sides;
	// an extent equal to the edge puts the extreme points on the faces.
	center := [3]float64{
		(min[0] + max[0]) / 2,
		(min[1] + max[1]) / 2,
		(min[2] + max[2]) / 2,
	}
	half := edge / 2
	return Cube{Min: [3]float64{center[0] - half, center[1] - half, center[2] - half}, Edge: edge}
}
