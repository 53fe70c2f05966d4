// Package registry is the system of record for host and neighbor addresses,
// partitioned by role, with a spatial index per partition.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/mowshare/cluster-engine/model"
)

var (
	// ErrDuplicateAddress indicates a (normalized address, role) pair is
	// already registered. Not retried automatically.
	ErrDuplicateAddress = errors.New("address already registered")
	// ErrNotFound indicates a lookup of a nonexistent record.
	ErrNotFound = errors.New("address record not found")
)

// Store is the persistence boundary behind the registry. Engine correctness
// only depends on the uniqueness and durability guarantees of the registry
// itself, not on which backing store is used; tests run against MemStore.
type Store interface {
	// Insert durably appends one record.
	Insert(ctx context.Context, rec *model.AddressRecord) error
	// LoadAll returns every stored record, in no particular order.
	LoadAll(ctx context.Context) ([]*model.AddressRecord, error)
}

// MemStore is an in-memory Store for tests and ephemeral deployments.
type MemStore struct {
	mu      sync.RWMutex
	records []*model.AddressRecord
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Insert(_ context.Context, rec *model.AddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.records = append(s.records, &clone)
	return nil
}

func (s *MemStore) LoadAll(_ context.Context) ([]*model.AddressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.AddressRecord, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}
