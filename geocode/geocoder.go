// Package geocode defines the geocoding gateway the registry delegates to
// when an address is registered without explicit coordinates.
package geocode

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mowshare/cluster-engine/model"
)

// ErrGeocodingFailed indicates an address could not be resolved to
// coordinates. The failure is always distinguishable from a valid coordinate
// at (0,0): callers only receive a coordinate when err is nil.
var ErrGeocodingFailed = errors.New("geocoding failed")

// Geocoder resolves a free-form address string to a WGS-84 coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (model.Coordinate, error)
}

// Static is a map-backed Geocoder for tests and offline seeding. Lookup keys
// are normalized the same way the registry deduplicates addresses.
type Static struct {
	mu      sync.RWMutex
	entries map[string]model.Coordinate
}

// NewStatic constructs an empty Static geocoder.
func NewStatic() *Static {
	return &Static{entries: make(map[string]model.Coordinate)}
}

// Add registers a known address. The street/city/region parts are joined and
// normalized before storing.
func (s *Static) Add(street, city, region string, coord model.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[model.NormalizeAddress(street, city, region)] = coord
}

// Geocode resolves against the static table, failing with ErrGeocodingFailed
// for unknown addresses.
func (s *Static) Geocode(_ context.Context, address string) (model.Coordinate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if coord, ok := s.entries[normalizeFreeform(address)]; ok {
		return coord, nil
	}
	return model.Coordinate{}, ErrGeocodingFailed
}

func normalizeFreeform(address string) string {
	parts := strings.SplitN(address, ",", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return model.NormalizeAddress(parts[0], parts[1], parts[2])
}
