package clickhouse

import (
	"context"
	"fmt"

	"lotscout/internal/domain"
	"lotscout/internal/storage"
)

// BidHistoryStore implements storage.BidHistoryStore using ClickHouse.
// MergeTree does not enforce uniqueness; duplicate observations are
// tolerated on write and collapsed on read.
type BidHistoryStore struct {
	conn *Conn
}

// NewBidHistoryStore creates a new BidHistoryStore.
func NewBidHistoryStore(conn *Conn) *BidHistoryStore {
	return &BidHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BidHistoryStore = (*BidHistoryStore)(nil)

// Append adds bid observations in one batch.
func (s *BidHistoryStore) Append(ctx context.Context, obs []*domain.BidObservation) error {
	if len(obs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bid_observations (
			lot_id, source, observed_at, current_bid, bid_count, unique_bidders, is_open
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		open := uint8(0)
		if o.IsOpen {
			open = 1
		}
		err = batch.Append(
			o.LotID, string(o.Source), o.ObservedAt,
			o.CurrentBid, uint32(o.BidCount), uint32(o.UniqueBidders), open,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByLot retrieves all observations for a lot, ordered by
// observed_at ascending with exact duplicates collapsed.
func (s *BidHistoryStore) GetByLot(ctx context.Context, lotID string) ([]*domain.BidObservation, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT lot_id, source, observed_at, current_bid, bid_count, unique_bidders, is_open
		FROM bid_observations
		WHERE lot_id = ?
		ORDER BY observed_at ASC
	`, lotID)
	if err != nil {
		return nil, fmt.Errorf("query bid observations: %w", err)
	}
	defer rows.Close()

	var result []*domain.BidObservation
	for rows.Next() {
		var (
			o        domain.BidObservation
			source   string
			bidCount uint32
			bidders  uint32
			open     uint8
		)
		if err := rows.Scan(&o.LotID, &source, &o.ObservedAt, &o.CurrentBid, &bidCount, &bidders, &open); err != nil {
			return nil, fmt.Errorf("scan bid observation: %w", err)
		}
		o.Source = domain.Source(source)
		o.BidCount = int(bidCount)
		o.UniqueBidders = int(bidders)
		o.IsOpen = open == 1
		result = append(result, &o)
	}
	return result, rows.Err()
}
