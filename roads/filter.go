package roads

import (
	"context"

	"github.com/mowshare/cluster-engine/geo"
	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/model"
)

// AccessibilityFilter decides whether the straight path between two points is
// free of drivable-road crossings. The variant is selected once at
// construction time; call sites never feature-detect road support.
type AccessibilityFilter interface {
	IsAccessible(ctx context.Context, a, b model.Coordinate, roadGeom *model.RoadGeometry) bool
}

// AlwaysAccessible treats every pair as accessible. Used when no road-network
// gateway is configured.
type AlwaysAccessible struct{}

func (AlwaysAccessible) IsAccessible(context.Context, model.Coordinate, model.Coordinate, *model.RoadGeometry) bool {
	return true
}

// RoadAware tests the straight segment between the two points against every
// buffered road segment in the supplied geometry.
//
// Missing or empty geometry fails open (accessible): the alternative would
// make discovery silently return zero neighbors whenever the road dependency
// is down, which is a worse and harder-to-diagnose failure.
type RoadAware struct {
	log logging.Logger
}

// NewRoadAware constructs the road-aware filter variant.
func NewRoadAware(log logging.Logger) *RoadAware {
	if log == nil {
		log = logging.Noop()
	}
	return &RoadAware{log: log}
}

func (f *RoadAware) IsAccessible(ctx context.Context, a, b model.Coordinate, roadGeom *model.RoadGeometry) bool {
	if roadGeom.Empty() {
		f.log.Debug(ctx, "no road geometry for area, treating as accessible")
		return true
	}
	for _, seg := range roadGeom.Segments {
		if geo.SegmentCrossesCorridor(a, b, seg) {
			return false
		}
	}
	return true
}
