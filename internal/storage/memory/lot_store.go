// Package memory provides in-memory store implementations, used by
// unit tests and single-run scans that do not need durability.
package memory

import (
	"context"
	"sync"

	"lotscout/internal/domain"
	"lotscout/internal/reconcile"
	"lotscout/internal/score"
	"lotscout/internal/storage"
)

// LotStore is an in-memory implementation of storage.LotStore.
// A read-write mutex guards the map itself; each lot id additionally
// gets its own lock so read-merge-write cycles on unrelated lots
// proceed concurrently.
type LotStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.Lot
	locks map[string]*sync.Mutex
}

// NewLotStore creates a new in-memory lot store.
func NewLotStore() *LotStore {
	return &LotStore{
		data:  make(map[string]*domain.Lot),
		locks: make(map[string]*sync.Mutex),
	}
}

// Compile-time interface check.
var _ storage.LotStore = (*LotStore)(nil)

// lockFor returns the per-id mutex, creating it on first use.
func (s *LotStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Upsert merges an observation into the stored lot under the lot's
// lock and returns the merged record.
func (s *LotStore) Upsert(_ context.Context, o *domain.Observation) (*domain.Lot, error) {
	if o == nil || o.LotID == "" {
		return nil, storage.ErrInvalidInput
	}

	idLock := s.lockFor(o.LotID)
	idLock.Lock()
	defer idLock.Unlock()

	s.mu.RLock()
	existing := s.data[o.LotID]
	s.mu.RUnlock()

	merged := reconcile.Merge(existing, o)
	if existing != nil {
		merged.OpportunityScore = existing.OpportunityScore
	}

	s.mu.Lock()
	s.data[merged.ID] = merged
	s.mu.Unlock()

	return merged.Clone(), nil
}

// UpdateScores persists derived scores for a lot.
func (s *LotStore) UpdateScores(_ context.Context, id string, opportunity, quality float64) error {
	idLock := s.lockFor(id)
	idLock.Lock()
	defer idLock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	lot.OpportunityScore = opportunity
	lot.QualityScore = quality
	return nil
}

// Get retrieves a lot by id. Returns ErrNotFound if not exists.
func (s *LotStore) Get(_ context.Context, id string) (*domain.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return lot.Clone(), nil
}

// Query retrieves matching lots sorted by opportunity score descending,
// earliest close time first on ties.
func (s *LotStore) Query(_ context.Context, f storage.Filter) ([]*domain.Lot, error) {
	s.mu.RLock()
	var result []*domain.Lot
	for _, lot := range s.data {
		if matches(lot, f) {
			result = append(result, lot.Clone())
		}
	}
	s.mu.RUnlock()

	score.Rank(result)
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func matches(lot *domain.Lot, f storage.Filter) bool {
	if f.Open != nil && lot.IsOpen != *f.Open {
		return false
	}
	if len(f.Locations) > 0 {
		found := false
		for _, loc := range f.Locations {
			if lot.Location == loc {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.ClosesAfter.IsZero() && (lot.ClosesAt.IsZero() || lot.ClosesAt.Before(f.ClosesAfter)) {
		return false
	}
	if !f.ClosesBefore.IsZero() && (lot.ClosesAt.IsZero() || lot.ClosesAt.After(f.ClosesBefore)) {
		return false
	}
	if f.MinScore > 0 && lot.OpportunityScore < f.MinScore {
		return false
	}
	return true
}
