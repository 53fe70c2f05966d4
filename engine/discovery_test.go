package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mowshare/cluster-engine/geocode"
	"github.com/mowshare/cluster-engine/model"
	"github.com/mowshare/cluster-engine/registry"
	"github.com/mowshare/cluster-engine/roads"
)

type stubMetrics struct {
	mu            sync.Mutex
	observations  int
	lastOperation string
	lastQualified int
	failOpens     int
	clusterCount  int
}

func (m *stubMetrics) ObserveDiscovery(operation string, _ time.Duration, _, qualified int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations++
	m.lastOperation = operation
	m.lastQualified = qualified
}

func (m *stubMetrics) RecordRoadFailOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpens++
}

func (m *stubMetrics) SetClusterCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusterCount = n
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(registry.NewMemStore(), geocode.NewStatic(), nil)
}

// mustRegister creates a record with a unique street so normalization never
// collides between test fixtures.
func mustRegister(t *testing.T, reg *registry.Registry, role model.Role, lat, lon float64) *model.AddressRecord {
	t.Helper()
	street := fmt.Sprintf("%d %s St %f %f", len(reg.List(role))+1, role, lat, lon)
	rec, err := reg.Register(context.Background(), role, street, "Rochester", "MN",
		&model.Coordinate{Lat: lat, Lon: lon})
	if err != nil {
		t.Fatalf("register %s at (%f, %f): %v", role, lat, lon, err)
	}
	return rec
}

func TestDiscoverNeighborsForHost(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.0123, -92.1234)
	near := mustRegister(t, reg, model.RoleNeighbor, 44.0124, -92.1235) // ~14 m
	mustRegister(t, reg, model.RoleNeighbor, 44.0200, -92.1300)         // ~1 km, out of range

	d := NewDiscovery(reg, nil, roads.AlwaysAccessible{}, DefaultConfig(), nil)

	matches, err := d.DiscoverNeighborsForHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("DiscoverNeighborsForHost: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("want 1 qualified neighbor, got %d", len(matches))
	}
	m := matches[0]
	if m.CandidateID != near.ID {
		t.Errorf("qualified neighbor = %s, want %s", m.CandidateID, near.ID)
	}
	if m.SubjectID != host.ID {
		t.Errorf("subject = %s, want %s", m.SubjectID, host.ID)
	}
	if !m.Accessible {
		t.Error("qualified match must be accessible")
	}
	if m.DistanceMeters <= 0 || m.DistanceMeters > 80 {
		t.Errorf("distance %.2f m outside (0, 80]", m.DistanceMeters)
	}
}

func TestFindQualifiedHostsForNeighbor(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.0123, -92.1234)
	neighbor := mustRegister(t, reg, model.RoleNeighbor, 44.0124, -92.1235)
	mustRegister(t, reg, model.RoleHost, 44.0200, -92.1300)

	d := NewDiscovery(reg, nil, roads.AlwaysAccessible{}, DefaultConfig(), nil)

	matches, err := d.FindQualifiedHostsForNeighbor(context.Background(), neighbor.ID)
	if err != nil {
		t.Fatalf("FindQualifiedHostsForNeighbor: %v", err)
	}
	if len(matches) != 1 || matches[0].CandidateID != host.ID {
		t.Fatalf("want the nearby host, got %v", matches)
	}
	if matches[0].SubjectID != neighbor.ID {
		t.Errorf("subject = %s, want %s", matches[0].SubjectID, neighbor.ID)
	}
}

func TestDiscoverEmptyRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.0123, -92.1234)

	d := NewDiscovery(reg, nil, roads.AlwaysAccessible{}, DefaultConfig(), nil)

	matches, err := d.DiscoverNeighborsForHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("discovery over empty neighbor partition: %v", err)
	}
	if matches == nil {
		t.Fatal("zero matches should be an empty slice, not nil")
	}
	if len(matches) != 0 {
		t.Fatalf("want no matches, got %d", len(matches))
	}
}

func TestDiscoverUnknownSubject(t *testing.T) {
	reg := newTestRegistry(t)
	d := NewDiscovery(reg, nil, roads.AlwaysAccessible{}, DefaultConfig(), nil)

	if _, err := d.DiscoverNeighborsForHost(context.Background(), "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestDiscoverExcludesRoadSeparatedNeighbors(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.01230, -92.1234)
	sameSide := mustRegister(t, reg, model.RoleNeighbor, 44.01235, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01248, -92.1234) // across the road

	var fetchedRadius float64
	gateway := roads.GatewayFunc(func(_ context.Context, center model.Coordinate, radiusMeters float64) (*model.RoadGeometry, error) {
		fetchedRadius = radiusMeters
		return &model.RoadGeometry{
			Center:       center,
			RadiusMeters: radiusMeters,
			Segments: []model.RoadSegment{{
				Points: []model.Coordinate{
					{Lat: 44.01239, Lon: -92.1244},
					{Lat: 44.01239, Lon: -92.1224},
				},
				BufferMeters: 5,
			}},
		}, nil
	})

	d := NewDiscovery(reg, gateway, roads.NewRoadAware(nil), DefaultConfig(), nil)

	matches, err := d.DiscoverNeighborsForHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("DiscoverNeighborsForHost: %v", err)
	}
	if len(matches) != 1 || matches[0].CandidateID != sameSide.ID {
		t.Fatalf("want only the same-side neighbor, got %v", matches)
	}
	if want := 80.0 * 3; fetchedRadius != want {
		t.Errorf("road fetch radius = %.0f, want %.0f (radius x multiplier)", fetchedRadius, want)
	}
}

func TestDiscoverFailsOpenWhenRoadsUnavailable(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.01230, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01235, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01248, -92.1234)

	gateway := roads.GatewayFunc(func(context.Context, model.Coordinate, float64) (*model.RoadGeometry, error) {
		return nil, roads.ErrRoadNetworkUnavailable
	})
	metrics := &stubMetrics{}
	d := NewDiscovery(reg, gateway, roads.NewRoadAware(nil), DefaultConfig(), nil,
		WithDiscoveryMetrics(metrics))

	matches, err := d.DiscoverNeighborsForHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("road outage must not fail discovery: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("fail-open should qualify both neighbors, got %d", len(matches))
	}
	if metrics.failOpens != 1 {
		t.Errorf("failOpens = %d, want 1", metrics.failOpens)
	}
	if metrics.lastQualified != 2 {
		t.Errorf("recorded qualified = %d, want 2", metrics.lastQualified)
	}
	if metrics.lastOperation != "discover_neighbors_for_host" {
		t.Errorf("recorded operation = %q", metrics.lastOperation)
	}
}

func TestDiscoverExcludesSelf(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.0123, -92.1234)
	// Same property registered under both roles: identical coordinates.
	mustRegister(t, reg, model.RoleNeighbor, 44.0123, -92.1234)
	other := mustRegister(t, reg, model.RoleNeighbor, 44.0124, -92.1235)

	d := NewDiscovery(reg, nil, roads.AlwaysAccessible{}, DefaultConfig(), nil)

	matches, err := d.DiscoverNeighborsForHost(context.Background(), host.ID)
	if err != nil {
		t.Fatalf("DiscoverNeighborsForHost: %v", err)
	}
	if len(matches) != 1 || matches[0].CandidateID != other.ID {
		t.Fatalf("coincident self-registration should be excluded, got %v", matches)
	}
}

func TestDiscoverDeterministicOrdering(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.0123, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01235, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01240, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01245, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.01225, -92.1234)

	d := NewDiscovery(reg, nil, roads.AlwaysAccessible{}, DefaultConfig(), nil)
	ctx := context.Background()

	first, err := d.DiscoverNeighborsForHost(ctx, host.ID)
	if err != nil {
		t.Fatalf("DiscoverNeighborsForHost: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("want 4 qualified neighbors, got %d", len(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].DistanceMeters < first[i-1].DistanceMeters {
			t.Errorf("matches not sorted by distance: %v before %v", first[i-1], first[i])
		}
	}

	second, err := d.DiscoverNeighborsForHost(ctx, host.ID)
	if err != nil {
		t.Fatalf("repeat discovery: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("repeat discovery changed result size: %d vs %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("repeat discovery differs at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	reg := newTestRegistry(t)
	host := mustRegister(t, reg, model.RoleHost, 44.0123, -92.1234)
	mustRegister(t, reg, model.RoleNeighbor, 44.0124, -92.1235)

	ctx, cancel := context.WithCancel(context.Background())
	gateway := roads.GatewayFunc(func(context.Context, model.Coordinate, float64) (*model.RoadGeometry, error) {
		cancel() // cancel mid-flight, before candidate filtering
		return &model.RoadGeometry{}, nil
	})
	d := NewDiscovery(reg, gateway, roads.NewRoadAware(nil), DefaultConfig(), nil)

	if _, err := d.DiscoverNeighborsForHost(ctx, host.ID); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestSortMatches(t *testing.T) {
	matches := []model.QualifiedMatch{
		{CandidateID: "c", DistanceMeters: 30, Accessible: true},
		{CandidateID: "b", DistanceMeters: 10, Accessible: true},
		{CandidateID: "a", DistanceMeters: 10, Accessible: true},
	}
	SortMatches(matches)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if matches[i].CandidateID != id {
			t.Fatalf("order[%d] = %s, want %s", i, matches[i].CandidateID, id)
		}
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}.ApplyDefaults()
	if cfg.DiscoveryRadiusMeters != 80 || cfg.RoadFetchMultiplier != 3 {
		t.Errorf("zero config defaults = %+v", cfg)
	}

	cfg = Config{DiscoveryRadiusMeters: 120, RoadFetchMultiplier: 2}.ApplyDefaults()
	if cfg.DiscoveryRadiusMeters != 120 || cfg.RoadFetchMultiplier != 2 {
		t.Errorf("explicit config overwritten: %+v", cfg)
	}
}
