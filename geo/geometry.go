package geo

import (
	"math"

	"github.com/mowshare/cluster-engine/model"
)

// EarthRadiusMeters is the mean Earth radius used for all great-circle
// calculations in the clustering layer.
const EarthRadiusMeters = 6371000.0

// Vec3 is a point on (or near) the unit sphere in Cartesian form.
type Vec3 struct {
	X, Y, Z float64
}

// UnitVector converts a WGS-84 coordinate to its unit-sphere Cartesian form.
// The spatial index keys on these vectors so that Euclidean chord distances
// stay consistent with haversine arc distances at every latitude.
func UnitVector(c model.Coordinate) Vec3 {
	lat := c.Lat * math.Pi / 180
	lon := c.Lon * math.Pi / 180
	cosLat := math.Cos(lat)
	return Vec3{
		X: cosLat * math.Cos(lon),
		Y: cosLat * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

// DistanceTo returns the straight-line (chord) distance between two
// unit-sphere points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ChordLength converts a great-circle arc length in meters to the equivalent
// unit-sphere chord length. Monotonic in the arc, so a chord-radius search is
// exactly equivalent to an arc-radius search.
func ChordLength(arcMeters float64) float64 {
	return 2 * math.Sin(arcMeters/(2*EarthRadiusMeters))
}

// Haversine returns the great-circle distance between two coordinates in
// meters on the WGS-84 sphere.
func Haversine(a, b model.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// planePoint is a position in a local tangent plane, in meters.
type planePoint struct {
	x, y float64
}

// projectLocal maps p into an equirectangular plane centered on origin.
// Accurate to well under a meter at the few-hundred-meter scale the corridor
// tests operate on; the spatial index never uses this projection.
func projectLocal(origin, p model.Coordinate) planePoint {
	latRad := origin.Lat * math.Pi / 180
	return planePoint{
		x: (p.Lon - origin.Lon) * math.Pi / 180 * EarthRadiusMeters * math.Cos(latRad),
		y: (p.Lat - origin.Lat) * math.Pi / 180 * EarthRadiusMeters,
	}
}

// SegmentCrossesCorridor reports whether the straight path a->b passes
// through the buffered corridor of the given road segment. The corridor is
// the centerline widened by BufferMeters/2 on each side, so centerline-only
// road data still detects crossings.
func SegmentCrossesCorridor(a, b model.Coordinate, seg model.RoadSegment) bool {
	if len(seg.Points) == 0 || seg.BufferMeters <= 0 {
		return false
	}
	halfWidth := seg.BufferMeters / 2

	pa := projectLocal(a, a)
	pb := projectLocal(a, b)

	if len(seg.Points) == 1 {
		p := projectLocal(a, seg.Points[0])
		return pointSegmentDistance(p, pa, pb) < halfWidth
	}

	for i := 0; i+1 < len(seg.Points); i++ {
		c := projectLocal(a, seg.Points[i])
		d := projectLocal(a, seg.Points[i+1])
		if segmentDistance(pa, pb, c, d) < halfWidth {
			return true
		}
	}
	return false
}

// segmentDistance returns the minimum distance between segments a1-a2 and
// b1-b2, zero when they properly intersect.
func segmentDistance(a1, a2, b1, b2 planePoint) float64 {
	if segmentsIntersect(a1, a2, b1, b2) {
		return 0
	}
	min := pointSegmentDistance(a1, b1, b2)
	if d := pointSegmentDistance(a2, b1, b2); d < min {
		min = d
	}
	if d := pointSegmentDistance(b1, a1, a2); d < min {
		min = d
	}
	if d := pointSegmentDistance(b2, a1, a2); d < min {
		min = d
	}
	return min
}

// pointSegmentDistance returns the distance from p to the closest point on
// segment s1-s2.
func pointSegmentDistance(p, s1, s2 planePoint) float64 {
	dx := s2.x - s1.x
	dy := s2.y - s1.y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.x-s1.x, p.y-s1.y)
	}
	t := ((p.x-s1.x)*dx + (p.y-s1.y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(p.x-(s1.x+t*dx), p.y-(s1.y+t*dy))
}

func segmentsIntersect(a1, a2, b1, b2 planePoint) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	// Collinear overlap cases.
	if d1 == 0 && onSegment(b1, b2, a1) {
		return true
	}
	if d2 == 0 && onSegment(b1, b2, a2) {
		return true
	}
	if d3 == 0 && onSegment(a1, a2, b1) {
		return true
	}
	if d4 == 0 && onSegment(a1, a2, b2) {
		return true
	}
	return false
}

func cross(o, a, b planePoint) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

func onSegment(s1, s2, p planePoint) bool {
	return math.Min(s1.x, s2.x) <= p.x && p.x <= math.Max(s1.x, s2.x) &&
		math.Min(s1.y, s2.y) <= p.y && p.y <= math.Max(s1.y, s2.y)
}
