package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mowshare/cluster-engine/geo"
	"github.com/mowshare/cluster-engine/internal/clock"
	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/model"
	"github.com/mowshare/cluster-engine/registry"
)

var (
	// ErrNotQualified indicates the neighbor is not a qualified match for the
	// cluster's host at join time. A business-rule rejection, not a fault.
	ErrNotQualified = errors.New("neighbor not qualified for cluster")
	// ErrClusterFull indicates the cluster is at capacity.
	ErrClusterFull = errors.New("cluster at capacity")
	// ErrClusterNotFound indicates a lookup of a nonexistent cluster.
	ErrClusterNotFound = errors.New("cluster not found")
)

// DefaultClusterCapacity bounds membership when no capacity is configured.
// Documented values range from 5 to 10; 5 is the conservative default.
const DefaultClusterCapacity = 5

// ClusterMetricsRecorder receives the active cluster count after mutations.
type ClusterMetricsRecorder interface {
	SetClusterCount(n int)
}

// Lifecycle turns discovery results into cluster membership decisions.
// Cluster state is held in memory behind a readers-writer lock.
type Lifecycle struct {
	mu       sync.RWMutex
	clusters map[string]*model.Cluster
	byHost   map[string]string // host ID -> cluster ID

	discovery *Discovery
	registry  *registry.Registry
	capacity  int
	clock     clock.Clock
	log       logging.Logger
	metrics   ClusterMetricsRecorder
}

// LifecycleOption customises Lifecycle construction.
type LifecycleOption func(*Lifecycle)

// WithCapacity overrides the per-cluster membership capacity.
func WithCapacity(n int) LifecycleOption {
	return func(l *Lifecycle) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithLifecycleClock overrides the formation timestamp source.
func WithLifecycleClock(c clock.Clock) LifecycleOption {
	return func(l *Lifecycle) { l.clock = c }
}

// WithClusterMetrics attaches an optional metrics recorder.
func WithClusterMetrics(m ClusterMetricsRecorder) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

// NewLifecycle constructs the lifecycle service over a discovery engine.
func NewLifecycle(discovery *Discovery, reg *registry.Registry, log logging.Logger, opts ...LifecycleOption) *Lifecycle {
	if log == nil {
		log = logging.Noop()
	}
	l := &Lifecycle{
		clusters:  make(map[string]*model.Cluster),
		byHost:    make(map[string]string),
		discovery: discovery,
		registry:  reg,
		capacity:  DefaultClusterCapacity,
		clock:     clock.System{},
		log:       log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// FormCluster creates an empty cluster anchored at the host, or returns the
// existing one: forming twice for the same host is idempotent.
func (l *Lifecycle) FormCluster(ctx context.Context, hostID string) (*model.Cluster, error) {
	if _, err := l.registry.Get(model.RoleHost, hostID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byHost[hostID]; ok {
		return l.clusters[id].Clone(), nil
	}

	cluster := &model.Cluster{
		ID:       uuid.NewString(),
		HostID:   hostID,
		Capacity: l.capacity,
		Status:   model.ClusterActive,
		FormedAt: l.clock.Now(),
	}
	l.clusters[cluster.ID] = cluster
	l.byHost[hostID] = cluster.ID
	l.recordCountLocked()

	l.log.Info(ctx, "cluster formed",
		logging.String("cluster_id", cluster.ID),
		logging.String("host_id", hostID),
		logging.Int("capacity", cluster.Capacity))
	return cluster.Clone(), nil
}

// GetCluster returns a snapshot of the cluster with the given ID.
func (l *Lifecycle) GetCluster(clusterID string) (*model.Cluster, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cluster, ok := l.clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, clusterID)
	}
	return cluster.Clone(), nil
}

// Join adds a neighbor to the cluster. It fails with ErrNotQualified unless
// the neighbor appears in the host's current discovery results, and with
// ErrClusterFull at capacity. Capacity and qualification are evaluated at
// join time only; later changes never evict existing members. Joining a
// neighbor that is already a member is a no-op success.
func (l *Lifecycle) Join(ctx context.Context, clusterID, neighborID string) (*model.Cluster, error) {
	l.mu.RLock()
	cluster, ok := l.clusters[clusterID]
	var hostID string
	if ok {
		hostID = cluster.HostID
	}
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, clusterID)
	}

	if _, err := l.registry.Get(model.RoleNeighbor, neighborID); err != nil {
		return nil, err
	}

	// Qualification runs outside the cluster lock: discovery does road
	// fetches and must not serialize unrelated membership reads behind I/O.
	matches, err := l.discovery.DiscoverNeighborsForHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	qualified := false
	for _, m := range matches {
		if m.CandidateID == neighborID {
			qualified = true
			break
		}
	}
	if !qualified {
		return nil, fmt.Errorf("%w: neighbor %s, host %s", ErrNotQualified, neighborID, hostID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cluster, ok = l.clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, clusterID)
	}
	if cluster.HasMember(neighborID) {
		return cluster.Clone(), nil
	}
	if cluster.Full() {
		return nil, fmt.Errorf("%w: %s (%d members)", ErrClusterFull, clusterID, len(cluster.MemberIDs))
	}
	cluster.MemberIDs = append(cluster.MemberIDs, neighborID)

	l.log.Info(ctx, "neighbor joined cluster",
		logging.String("cluster_id", clusterID),
		logging.String("neighbor_id", neighborID),
		logging.Int("members", len(cluster.MemberIDs)))
	return cluster.Clone(), nil
}

// SuggestRoute orders the cluster's members with a greedy nearest-neighbor
// walk starting at the host, and returns the total distance in meters
// including the implicit return leg to the host. The result is a valid
// permutation of the membership, not a globally optimal tour.
func (l *Lifecycle) SuggestRoute(ctx context.Context, clusterID string) ([]string, float64, error) {
	cluster, err := l.GetCluster(clusterID)
	if err != nil {
		return nil, 0, err
	}
	host, err := l.registry.Get(model.RoleHost, cluster.HostID)
	if err != nil {
		return nil, 0, err
	}
	if !host.Geocoded() {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotGeocoded, host.ID)
	}

	type stop struct {
		id    string
		coord model.Coordinate
	}
	remaining := make([]stop, 0, len(cluster.MemberIDs))
	for _, id := range cluster.MemberIDs {
		member, err := l.registry.Get(model.RoleNeighbor, id)
		if err != nil {
			return nil, 0, err
		}
		if !member.Geocoded() {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotGeocoded, id)
		}
		remaining = append(remaining, stop{id: id, coord: *member.Coordinate})
	}

	route := make([]string, 0, len(remaining))
	total := 0.0
	current := *host.Coordinate
	for len(remaining) > 0 {
		best := 0
		bestDist := geo.Haversine(current, remaining[0].coord)
		for i := 1; i < len(remaining); i++ {
			if d := geo.Haversine(current, remaining[i].coord); d < bestDist {
				best, bestDist = i, d
			}
		}
		next := remaining[best]
		route = append(route, next.id)
		total += bestDist
		current = next.coord
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	total += geo.Haversine(current, *host.Coordinate)

	l.log.Debug(ctx, "route suggested",
		logging.String("cluster_id", clusterID),
		logging.Int("stops", len(route)),
		logging.Float64("total_m", total))
	return route, total, nil
}

// ClusterCount returns the number of formed clusters.
func (l *Lifecycle) ClusterCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clusters)
}

func (l *Lifecycle) recordCountLocked() {
	if l.metrics != nil {
		l.metrics.SetClusterCount(len(l.clusters))
	}
}
