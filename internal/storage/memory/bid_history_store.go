package memory

import (
	"context"
	"sort"
	"sync"

	"lotscout/internal/domain"
	"lotscout/internal/storage"
)

// BidHistoryStore is an in-memory implementation of
// storage.BidHistoryStore.
type BidHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.BidObservation // keyed by lot_id
}

// NewBidHistoryStore creates a new in-memory bid history store.
func NewBidHistoryStore() *BidHistoryStore {
	return &BidHistoryStore{data: make(map[string][]*domain.BidObservation)}
}

// Compile-time interface check.
var _ storage.BidHistoryStore = (*BidHistoryStore)(nil)

// Append adds bid observations.
func (s *BidHistoryStore) Append(_ context.Context, obs []*domain.BidObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range obs {
		if o == nil || o.LotID == "" {
			return storage.ErrInvalidInput
		}
		cp := *o
		s.data[o.LotID] = append(s.data[o.LotID], &cp)
	}
	return nil
}

// GetByLot retrieves all observations for a lot, ordered by
// observed_at ascending.
func (s *BidHistoryStore) GetByLot(_ context.Context, lotID string) ([]*domain.BidObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[lotID]
	result := make([]*domain.BidObservation, 0, len(rows))
	for _, o := range rows {
		cp := *o
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAt.Before(result[j].ObservedAt)
	})
	return result, nil
}
