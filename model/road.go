package model

import "time"

// RoadSegment is a drivable road centerline polyline. BufferMeters is the
// assumed total road width; the corridor used for crossing tests extends
// BufferMeters/2 to each side of the centerline.
type RoadSegment struct {
	Points       []Coordinate
	BufferMeters float64
}

// RoadGeometry is the set of drivable road segments within RadiusMeters of
// Center. It is ephemeral: fetched per discovery query and optionally cached
// with a short TTL, never persisted as a source of truth.
type RoadGeometry struct {
	Center       Coordinate
	RadiusMeters float64
	Segments     []RoadSegment
	FetchedAt    time.Time
}

// Empty reports whether the geometry carries no road segments at all.
func (g *RoadGeometry) Empty() bool {
	return g == nil || len(g.Segments) == 0
}
