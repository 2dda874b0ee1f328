package storage

import (
	"context"
	"time"

	"lotscout/internal/domain"
)

// LotStore is the durable keyed table of canonical lots. Upsert is the
// reconciler applied against whatever is currently stored, executed
// under a per-lot-id lock so concurrent streams and augmenters cannot
// lose updates; unrelated lots reconcile concurrently. Lots are never
// deleted, only marked closed.
type LotStore interface {
	// Upsert merges an observation into the stored lot (creating it on
	// first sighting) and returns the merged record.
	Upsert(ctx context.Context, o *domain.Observation) (*domain.Lot, error)

	// UpdateScores persists derived scores for a lot. Returns
	// ErrNotFound if the lot does not exist.
	UpdateScores(ctx context.Context, id string, opportunity, quality float64) error

	// Get retrieves a lot by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.Lot, error)

	// Query retrieves lots matching the filter, sorted by opportunity
	// score descending with earliest close time breaking ties.
	Query(ctx context.Context, f Filter) ([]*domain.Lot, error)
}

// Filter selects lots for Query. Zero-valued fields do not constrain.
type Filter struct {
	Open         *bool
	Locations    []string
	ClosesAfter  time.Time
	ClosesBefore time.Time
	MinScore     float64
	Limit        int
}

// OpenOnly returns a Filter.Open value selecting open lots.
func OpenOnly() *bool { b := true; return &b }

// ClosedOnly returns a Filter.Open value selecting closed lots.
func ClosedOnly() *bool { b := false; return &b }

// BidHistoryStore keeps the append-only history of authoritative bid
// readings, used for post-close analysis (closing prices, bid
// velocity). It is not read on the hot path.
type BidHistoryStore interface {
	// Append adds bid observations. Duplicate (lot_id, observed_at)
	// rows are tolerated; history consumers deduplicate on read.
	Append(ctx context.Context, obs []*domain.BidObservation) error

	// GetByLot retrieves all observations for a lot, ordered by
	// observed_at ascending.
	GetByLot(ctx context.Context, lotID string) ([]*domain.BidObservation, error)
}
