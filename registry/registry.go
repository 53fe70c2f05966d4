package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mowshare/cluster-engine/geocode"
	"github.com/mowshare/cluster-engine/internal/clock"
	"github.com/mowshare/cluster-engine/internal/logging"
	"github.com/mowshare/cluster-engine/model"
	"github.com/mowshare/cluster-engine/spatial"
)

// MetricsRecorder receives partition count updates after mutations and
// counts rejected registrations.
type MetricsRecorder interface {
	SetRegistryCounts(hosts, neighbors int)
	RecordGeocodeFailure()
}

// partition holds one role's records plus its spatial index. The RWMutex
// gives the readers-writer discipline the engine requires: many concurrent
// radius queries proceed in parallel, a registration takes exclusive access,
// and queries started after a completed registration observe the
// post-registration state (the index is rebuilt under the write lock before
// any later query reads it).
type partition struct {
	mu        sync.RWMutex
	records   map[string]*model.AddressRecord
	byAddress map[string]string // normalized address -> record ID
	index     *spatial.Index
	stale     bool
}

func newPartition() *partition {
	return &partition{
		records:   make(map[string]*model.AddressRecord),
		byAddress: make(map[string]string),
		stale:     true,
	}
}

// Registry is the system of record for host and neighbor addresses. It owns
// its partitions explicitly; construct one at service start and inject it
// where needed. There are no process-wide singletons.
type Registry struct {
	store    Store
	geocoder geocode.Geocoder
	clock    clock.Clock
	log      logging.Logger
	metrics  MetricsRecorder

	partitions map[model.Role]*partition
}

// Option customises Registry construction.
type Option func(*Registry)

// WithMetricsRecorder attaches an optional recorder for partition gauges.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the registration timestamp source.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// New constructs a Registry over the given store and geocoder.
func New(store Store, geocoder geocode.Geocoder, log logging.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{
		store:    store,
		geocoder: geocoder,
		clock:    clock.System{},
		log:      log,
		partitions: map[model.Role]*partition{
			model.RoleHost:     newPartition(),
			model.RoleNeighbor: newPartition(),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Load hydrates the in-memory partitions from the backing store. Records
// with an unknown role or a duplicate normalized address are skipped with a
// warning rather than failing the whole load.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	loaded := 0
	for _, rec := range records {
		p, ok := r.partitions[rec.Role]
		if !ok {
			r.log.Warn(ctx, "skipping record with unknown role",
				logging.String("id", rec.ID), logging.String("role", string(rec.Role)))
			continue
		}
		p.mu.Lock()
		if _, dup := p.byAddress[rec.Normalized]; dup {
			p.mu.Unlock()
			r.log.Warn(ctx, "skipping duplicate record from store",
				logging.String("id", rec.ID), logging.String("address", rec.Normalized))
			continue
		}
		p.records[rec.ID] = rec
		p.byAddress[rec.Normalized] = rec.ID
		p.stale = true
		p.mu.Unlock()
		loaded++
	}

	r.updateMetrics()
	r.log.Info(ctx, "registry loaded", logging.Int("records", loaded))
	return nil
}

// Register validates, geocodes if needed, and stores a new address record.
// A nil coord delegates to the geocoding gateway; resolution failure surfaces
// as geocode.ErrGeocodingFailed and no record is created. Duplicate
// (normalized address, role) pairs fail with ErrDuplicateAddress.
func (r *Registry) Register(ctx context.Context, role model.Role, street, city, region string, coord *model.Coordinate) (*model.AddressRecord, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}
	p := r.partitions[role]
	normalized := model.NormalizeAddress(street, city, region)

	// Cheap duplicate check before paying for a geocoding round trip. The
	// authoritative check happens again under the write lock.
	p.mu.RLock()
	_, dup := p.byAddress[normalized]
	p.mu.RUnlock()
	if dup {
		return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicateAddress, normalized, role)
	}

	rec := &model.AddressRecord{
		Street:     street,
		City:       city,
		Region:     region,
		Normalized: normalized,
		Role:       role,
	}
	if coord == nil {
		resolved, err := r.geocoder.Geocode(ctx, rec.FullAddress())
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordGeocodeFailure()
			}
			return nil, err
		}
		coord = &resolved
	}
	if err := coord.Validate(); err != nil {
		return nil, err
	}

	rec.ID = uuid.NewString()
	rec.Coordinate = coord
	rec.RegisteredAt = r.clock.Now()

	p.mu.Lock()
	if _, dup := p.byAddress[normalized]; dup {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%s)", ErrDuplicateAddress, normalized, role)
	}
	// Durable write first: if the store rejects the record the in-memory
	// partitions stay untouched and the index stays consistent.
	if err := r.store.Insert(ctx, rec); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("persist record: %w", err)
	}
	p.records[rec.ID] = rec
	p.byAddress[normalized] = rec.ID
	p.stale = true
	p.mu.Unlock()

	r.updateMetrics()
	r.log.Info(ctx, "address registered",
		logging.String("id", rec.ID),
		logging.String("role", string(role)),
		logging.Float64("lat", coord.Lat),
		logging.Float64("lon", coord.Lon))
	return rec, nil
}

// Get returns the record with the given ID in the role partition.
func (r *Registry) Get(role model.Role, id string) (*model.AddressRecord, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}
	p := r.partitions[role]
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotFound, id, role)
	}
	return rec, nil
}

// List returns a snapshot of all records in the role partition. Order is
// unspecified; callers re-sort by distance.
func (r *Registry) List(role model.Role) []*model.AddressRecord {
	p, ok := r.partitions[role]
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*model.AddressRecord, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	return out
}

// QueryRadius returns every geocoded record in the role partition within
// radiusMeters of center, rebuilding the partition index synchronously if a
// registration made it stale. An empty partition yields an empty list.
func (r *Registry) QueryRadius(role model.Role, center model.Coordinate, radiusMeters float64) ([]spatial.Neighbor, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}
	p := r.partitions[role]

	p.mu.RLock()
	if !p.stale && p.index != nil {
		defer p.mu.RUnlock()
		return p.index.QueryRadius(center, radiusMeters), nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	if p.stale || p.index == nil {
		p.rebuildLocked()
	}
	index := p.index
	p.mu.Unlock()

	return index.QueryRadius(center, radiusMeters), nil
}

// rebuildLocked rebuilds the spatial index from all geocoded records.
// Callers hold the partition write lock; the finished index is swapped in
// whole, so no query ever observes a half-built index.
func (p *partition) rebuildLocked() {
	points := make([]spatial.Point, 0, len(p.records))
	for _, rec := range p.records {
		if !rec.Geocoded() {
			continue
		}
		points = append(points, spatial.Point{ID: rec.ID, Coordinate: *rec.Coordinate})
	}
	p.index = spatial.New(points)
	p.stale = false
}

// Counts returns the current record counts per partition.
func (r *Registry) Counts() (hosts, neighbors int) {
	hp := r.partitions[model.RoleHost]
	hp.mu.RLock()
	hosts = len(hp.records)
	hp.mu.RUnlock()

	np := r.partitions[model.RoleNeighbor]
	np.mu.RLock()
	neighbors = len(np.records)
	np.mu.RUnlock()
	return hosts, neighbors
}

func (r *Registry) updateMetrics() {
	if r.metrics == nil {
		return
	}
	hosts, neighbors := r.Counts()
	r.metrics.SetRegistryCounts(hosts, neighbors)
}
