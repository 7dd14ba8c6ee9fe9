// Package pointcloud holds the small vocabulary of types shared by every
// internal package of the octree builder and query engine: points, cubes
// and node addresses. Everything else lives under internal/.
package pointcloud

import (
	"strconv"
	"strings"
)

// RootMarker prefixes every NodeId's string form.
const RootMarker = "r"

// NodeId is an octree path: a sequence of octants in [0,7] from the root,
// serialized as e.g. "r4027". It is a plain string so it can be used
// directly as a map key (manifest node directories, open-node tables,
// LRU cache keys) without a custom Equal/Hash.
type NodeId string

// Root is the NodeId of the tree root.
const Root NodeId = NodeId(RootMarker)

// NewNodeId validates and wraps a raw string as a NodeId.
func NewNodeId(s string) (NodeId, error) {
	if !strings.HasPrefix(s, RootMarker) {
		return "", &InputError{Msg: "node id missing root marker: " + s}
	}
	for i := len(RootMarker); i < len(s); i++ {
		if s[i] < '0' || s[i] > '7' {
			return "", &InputError{Msg: "node id has non-octant character: " + s}
		}
	}
	return NodeId(s), nil
}

// IsRoot reports whether id is the tree root.
func (id NodeId) IsRoot() bool {
	return string(id) == RootMarker
}

// Depth returns the number of octants in id (0 for the root).
func (id NodeId) Depth() int {
	return len(id) - len(RootMarker)
}

// Octants returns the octant sequence from the root, each in [0,7].
func (id NodeId) Octants() []uint8 {
	raw := string(id)[len(RootMarker):]
	out := make([]uint8, len(raw))
	for i := 0; i < len(raw); i++ {
		out[i] = raw[i] - '0'
	}
	return out
}

// Parent returns id's parent and true, or the zero value and false if id
// is the root.
func (id NodeId) Parent() (NodeId, bool) {
	if id.IsRoot() {
		return "", false
	}
	return id[:len(id)-1], true
}

// Child returns the NodeId of id's child in the given octant (0-7).
// It panics if octant is out of range — callers control octant values
// internally and never derive them from untrusted input.
func (id NodeId) Child(octant uint8) NodeId {
	if octant > 7 {
		panic("pointcloud: octant out of range: " + strconv.Itoa(int(octant)))
	}
	return id + NodeId('0'+octant)
}

// Children returns all 8 children of id, in octant order.
func (id NodeId) Children() [8]NodeId {
	var out [8]NodeId
	for i := uint8(0); i < 8; i++ {
		out[i] = id.Child(i)
	}
	return out
}

// Ancestors returns every strict prefix of id, root first, nearest parent
// last. The root's ancestor list is empty.
func (id NodeId) Ancestors() []NodeId {
	out := make([]NodeId, 0, id.Depth())
	for i := len(RootMarker); i < len(id); i++ {
		out = append(out, id[:i])
	}
	return out
}

// IsAncestorOf reports whether id is a strict prefix of other.
func (id NodeId) IsAncestorOf(other NodeId) bool {
	return len(other) > len(id) && strings.HasPrefix(string(other), string(id))
}

// String implements fmt.Stringer.
func (id NodeId) String() string {
	return string(id)
}
