// Package roads supplies drivable-road geometry and the accessibility filter
// that decides whether a straight path between two properties crosses a road.
package roads

import (
	"context"
	"errors"

	"github.com/mowshare/cluster-engine/model"
)

// ErrRoadNetworkUnavailable indicates the road-network dependency could not
// supply geometry for an area. It is recovered locally by the discovery
// pipeline (fail open), never surfaced to end callers.
var ErrRoadNetworkUnavailable = errors.New("road network unavailable")

// Gateway fetches road geometry around a center point. The fetch radius must
// cover both endpoints of every line test performed against the returned
// geometry; discovery fetches once per query at a multiple of the discovery
// radius and reuses the result for all candidates.
type Gateway interface {
	Fetch(ctx context.Context, center model.Coordinate, radiusMeters float64) (*model.RoadGeometry, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, center model.Coordinate, radiusMeters float64) (*model.RoadGeometry, error)

func (f GatewayFunc) Fetch(ctx context.Context, center model.Coordinate, radiusMeters float64) (*model.RoadGeometry, error) {
	return f(ctx, center, radiusMeters)
}
