package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCoordinate indicates a latitude/longitude pair outside the valid
// WGS-84 ranges. Rejected at the data-model boundary before a record can
// reach the spatial index.
var ErrInvalidCoordinate = errors.New("coordinate out of valid lat/lon range")

// ErrInvalidRole indicates a role outside the known host/neighbor partition set.
var ErrInvalidRole = errors.New("invalid role")

// Role partitions the address registry. Hosts offer the shared mowing
// resource; neighbors seek service from a nearby host.
type Role string

const (
	RoleHost     Role = "HOST"
	RoleNeighbor Role = "NEIGHBOR"
)

// Validate returns ErrInvalidRole for anything outside the known partitions.
func (r Role) Validate() error {
	switch r {
	case RoleHost, RoleNeighbor:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, string(r))
	}
}

// Coordinate is a WGS-84 point in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Validate enforces -90 <= lat <= 90 and -180 <= lon <= 180.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinate, c.Lat, c.Lon)
	}
	return nil
}

// AddressRecord is a registered host or neighbor property.
//
// Records are immutable once created, except for a later geocoding backfill;
// a record with a nil Coordinate is held but excluded from the spatial index
// until geocoded.
type AddressRecord struct {
	ID     string
	Street string
	City   string
	Region string

	// Normalized is the deduplication key derived from the raw address parts.
	Normalized string

	Role         Role
	Coordinate   *Coordinate
	RegisteredAt time.Time
}

// Geocoded reports whether the record carries coordinates and is therefore
// eligible for indexing.
func (r *AddressRecord) Geocoded() bool {
	return r != nil && r.Coordinate != nil
}

// FullAddress renders the raw address parts in "street, city, region" form.
func (r *AddressRecord) FullAddress() string {
	return fmt.Sprintf("%s, %s, %s", r.Street, r.City, r.Region)
}

// NormalizeAddress produces the case-insensitive, whitespace-collapsed
// deduplication key for an address. This is the sole dedup key besides role.
func NormalizeAddress(street, city, region string) string {
	parts := []string{
		collapseWhitespace(street),
		collapseWhitespace(city),
		collapseWhitespace(region),
	}
	return strings.ToLower(strings.Join(parts, ", "))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
