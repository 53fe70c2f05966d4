// Package spatial provides the radius-query index over one registry
// partition. Points are keyed as unit-sphere 3-D vectors and searched with a
// chord-length bound, which is exactly equivalent to a great-circle
// (haversine) radius search; raw lat/lon Euclidean pruning is never used
// because it distorts distances away from the equator.
package spatial

import (
	"sort"

	"github.com/mowshare/cluster-engine/geo"
	"github.com/mowshare/cluster-engine/model"
)

// Point is an indexable record: a stable ID plus its geocoded coordinate.
type Point struct {
	ID         string
	Coordinate model.Coordinate
}

// Neighbor is a radius-query result. Results are unordered; callers sort.
type Neighbor struct {
	ID             string
	Coordinate     model.Coordinate
	DistanceMeters float64
}

type entry struct {
	Point
	vec geo.Vec3
}

type node struct {
	entry entry
	axis  int
	left  *node
	right *node
}

// Index is an immutable k-d tree over unit-sphere points. Rebuild by
// constructing a new Index and swapping it in; the tree itself is safe for
// concurrent readers.
type Index struct {
	root *node
	size int
}

// New builds an index over the given points. An empty or nil slice yields a
// valid empty index.
func New(points []Point) *Index {
	entries := make([]entry, 0, len(points))
	for _, p := range points {
		entries = append(entries, entry{Point: p, vec: geo.UnitVector(p.Coordinate)})
	}
	return &Index{
		root: build(entries, 0),
		size: len(entries),
	}
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.size
}

// QueryRadius returns every indexed point within radiusMeters great-circle
// distance of center. An empty partition returns an empty list, not an error.
func (ix *Index) QueryRadius(center model.Coordinate, radiusMeters float64) []Neighbor {
	out := []Neighbor{}
	if ix == nil || ix.root == nil || radiusMeters < 0 {
		return out
	}
	cv := geo.UnitVector(center)
	chord := geo.ChordLength(radiusMeters)
	ix.root.search(cv, chord, center, radiusMeters, &out)
	return out
}

func build(entries []entry, depth int) *node {
	if len(entries) == 0 {
		return nil
	}
	axis := depth % 3
	sort.Slice(entries, func(i, j int) bool {
		return axisValue(entries[i].vec, axis) < axisValue(entries[j].vec, axis)
	})
	mid := len(entries) / 2
	n := &node{entry: entries[mid], axis: axis}
	n.left = build(entries[:mid], depth+1)
	n.right = build(entries[mid+1:], depth+1)
	return n
}

func (n *node) search(cv geo.Vec3, chord float64, center model.Coordinate, radiusMeters float64, out *[]Neighbor) {
	if n == nil {
		return
	}

	if n.entry.vec.DistanceTo(cv) <= chord {
		// Chord pruning is already exact up to floating point; confirm with
		// haversine so the reported distance honors the radius invariant.
		d := geo.Haversine(center, n.entry.Coordinate)
		if d <= radiusMeters {
			*out = append(*out, Neighbor{
				ID:             n.entry.ID,
				Coordinate:     n.entry.Coordinate,
				DistanceMeters: d,
			})
		}
	}

	delta := axisValue(cv, n.axis) - axisValue(n.entry.vec, n.axis)
	near, far := n.left, n.right
	if delta > 0 {
		near, far = n.right, n.left
	}
	near.search(cv, chord, center, radiusMeters, out)
	if delta < 0 {
		delta = -delta
	}
	if delta <= chord {
		far.search(cv, chord, center, radiusMeters, out)
	}
}

func axisValue(v geo.Vec3, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
