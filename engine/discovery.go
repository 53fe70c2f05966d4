// Package engine implements the two symmetric discovery operations and the
// cluster lifecycle built on top of them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/model"
	"github.com/mowshare/cluster-engine/registry"
	"github.com/mowshare/cluster-engine/roads"
	"github.com/mowshare/cluster-engine/spatial"
)

// ErrNotGeocoded indicates the discovery subject has no coordinates yet and
// therefore cannot anchor a radius query.
var ErrNotGeocoded = errors.New("address record not geocoded")

// Config carries the discovery tunables. Defaults match the documented
// boundary constants; they are configuration, not hard-coded truths.
type Config struct {
	// DiscoveryRadiusMeters is the fixed qualification radius.
	DiscoveryRadiusMeters float64
	// RoadFetchMultiplier scales the road fetch radius relative to the
	// discovery radius so the geometry covers both endpoints of every
	// accessibility test in the batch.
	RoadFetchMultiplier float64
}

// DefaultConfig returns the documented defaults: 80 m radius, 3x road fetch.
func DefaultConfig() Config {
	return Config{
		DiscoveryRadiusMeters: 80,
		RoadFetchMultiplier:   3,
	}
}

// ApplyDefaults fills zero or invalid fields from DefaultConfig.
func (c Config) ApplyDefaults() Config {
	def := DefaultConfig()
	if c.DiscoveryRadiusMeters <= 0 {
		c.DiscoveryRadiusMeters = def.DiscoveryRadiusMeters
	}
	if c.RoadFetchMultiplier < 1 {
		c.RoadFetchMultiplier = def.RoadFetchMultiplier
	}
	return c
}

// DiscoveryMetricsRecorder receives per-operation observations.
type DiscoveryMetricsRecorder interface {
	ObserveDiscovery(operation string, duration time.Duration, candidates, qualified int)
	RecordRoadFailOpen()
}

// Discovery answers "qualified neighbors for host" and "qualified hosts for
// neighbor". Both operations are read-only with respect to registry and
// cluster state and are safe to cancel mid-flight.
type Discovery struct {
	registry *registry.Registry
	roads    roads.Gateway
	filter   roads.AccessibilityFilter
	cfg      Config
	log      logging.Logger
	metrics  DiscoveryMetricsRecorder
	tracer   trace.Tracer
}

// DiscoveryOption customises Discovery construction.
type DiscoveryOption func(*Discovery)

// WithDiscoveryMetrics attaches an optional metrics recorder.
func WithDiscoveryMetrics(m DiscoveryMetricsRecorder) DiscoveryOption {
	return func(d *Discovery) { d.metrics = m }
}

// NewDiscovery wires the discovery engine. The accessibility filter variant
// (road-aware or always-accessible) is chosen by the caller at construction.
func NewDiscovery(reg *registry.Registry, gateway roads.Gateway, filter roads.AccessibilityFilter, cfg Config, log logging.Logger, opts ...DiscoveryOption) *Discovery {
	if log == nil {
		log = logging.Noop()
	}
	if filter == nil {
		filter = roads.AlwaysAccessible{}
	}
	d := &Discovery{
		registry: reg,
		roads:    gateway,
		filter:   filter,
		cfg:      cfg.ApplyDefaults(),
		log:      log,
		tracer:   otel.Tracer("cluster-engine/discovery"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Config returns the effective discovery configuration.
func (d *Discovery) Config() Config { return d.cfg }

// DiscoverNeighborsForHost returns the qualified neighbor matches for a
// registered host, ordered by distance ascending with candidate-ID
// tie-breaks. Zero results is a valid, non-error outcome.
func (d *Discovery) DiscoverNeighborsForHost(ctx context.Context, hostID string) ([]model.QualifiedMatch, error) {
	subject, err := d.registry.Get(model.RoleHost, hostID)
	if err != nil {
		return nil, err
	}
	return d.discover(ctx, "discover_neighbors_for_host", subject, model.RoleNeighbor)
}

// FindQualifiedHostsForNeighbor is the symmetric operation: hosts whose
// clusters the given neighbor qualifies for.
func (d *Discovery) FindQualifiedHostsForNeighbor(ctx context.Context, neighborID string) ([]model.QualifiedMatch, error) {
	subject, err := d.registry.Get(model.RoleNeighbor, neighborID)
	if err != nil {
		return nil, err
	}
	return d.discover(ctx, "find_qualified_hosts_for_neighbor", subject, model.RoleHost)
}

func (d *Discovery) discover(ctx context.Context, operation string, subject *model.AddressRecord, candidateRole model.Role) ([]model.QualifiedMatch, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, operation,
		trace.WithAttributes(
			attribute.String("subject.id", subject.ID),
			attribute.Float64("radius_m", d.cfg.DiscoveryRadiusMeters),
		))
	defer span.End()

	if !subject.Geocoded() {
		return nil, fmt.Errorf("%w: %s", ErrNotGeocoded, subject.ID)
	}
	center := *subject.Coordinate

	candidates, err := d.registry.QueryRadius(candidateRole, center, d.cfg.DiscoveryRadiusMeters)
	if err != nil {
		return nil, err
	}
	candidates = excludeSelf(candidates, subject)
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	matches := []model.QualifiedMatch{}
	if len(candidates) > 0 {
		// One road fetch covers the whole candidate batch; per-candidate
		// fetches would make the road service the bottleneck of every query.
		roadGeom := d.fetchRoads(ctx, center)
		for _, cand := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !d.filter.IsAccessible(ctx, center, cand.Coordinate, roadGeom) {
				continue
			}
			matches = append(matches, model.QualifiedMatch{
				SubjectID:      subject.ID,
				CandidateID:    cand.ID,
				DistanceMeters: cand.DistanceMeters,
				Accessible:     true,
			})
		}
	}

	SortMatches(matches)

	duration := time.Since(start)
	span.SetAttributes(attribute.Int("qualified", len(matches)))
	if d.metrics != nil {
		d.metrics.ObserveDiscovery(operation, duration, len(candidates), len(matches))
	}
	d.log.Debug(ctx, "discovery completed",
		logging.String("operation", operation),
		logging.String("subject_id", subject.ID),
		logging.Int("candidates", len(candidates)),
		logging.Int("qualified", len(matches)))
	return matches, nil
}

// fetchRoads fetches geometry covering the discovery radius. A gateway
// failure fails open: nil geometry makes the road-aware filter treat every
// candidate as accessible, which beats silently reporting zero neighbors
// whenever the network dependency is down.
func (d *Discovery) fetchRoads(ctx context.Context, center model.Coordinate) *model.RoadGeometry {
	if d.roads == nil {
		return nil
	}
	fetchRadius := d.cfg.DiscoveryRadiusMeters * d.cfg.RoadFetchMultiplier
	geom, err := d.roads.Fetch(ctx, center, fetchRadius)
	if err != nil {
		d.log.Warn(ctx, "road fetch failed, treating all candidates as accessible",
			logging.Err(err))
		if d.metrics != nil {
			d.metrics.RecordRoadFailOpen()
		}
		return nil
	}
	return geom
}

// excludeSelf drops the subject itself from its candidate list: the same
// record ID or an identical coordinate (the registry partitions by role, so
// a property registered as both host and neighbor matches by coordinate).
func excludeSelf(candidates []spatial.Neighbor, subject *model.AddressRecord) []spatial.Neighbor {
	out := candidates[:0]
	for _, c := range candidates {
		if c.ID == subject.ID {
			continue
		}
		if c.Coordinate == *subject.Coordinate {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SortMatches orders matches by (accessible DESC, distance ASC, candidate ID
// ASC) so repeated discovery over unchanged data returns identical results.
func SortMatches(matches []model.QualifiedMatch) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Accessible != b.Accessible {
			return a.Accessible
		}
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
		return a.CandidateID < b.CandidateID
	})
}
