package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotscout/internal/domain"
)

func TestBidHistoryStore_AppendAndGetByLot(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBidHistoryStore(conn)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []*domain.BidObservation{
		{LotID: "1", Source: domain.SourceRendered, ObservedAt: base.Add(2 * time.Minute), CurrentBid: 20, BidCount: 5, UniqueBidders: 3, IsOpen: true},
		{LotID: "1", Source: domain.SourceRendered, ObservedAt: base, CurrentBid: 10, BidCount: 2, UniqueBidders: 2, IsOpen: true},
		{LotID: "2", Source: domain.SourceRendered, ObservedAt: base, CurrentBid: 7, BidCount: 1, UniqueBidders: 1, IsOpen: true},
	}
	require.NoError(t, store.Append(ctx, rows))

	got, err := store.GetByLot(ctx, "1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by observed_at ascending.
	assert.True(t, got[0].ObservedAt.Before(got[1].ObservedAt))
	assert.Equal(t, 10.0, got[0].CurrentBid)
	assert.Equal(t, 20.0, got[1].CurrentBid)
	assert.Equal(t, domain.SourceRendered, got[0].Source)
}

func TestBidHistoryStore_AppendEmptyIsNoop(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBidHistoryStore(conn)
	require.NoError(t, store.Append(context.Background(), nil))
}

func TestBidHistoryStore_GetByLotEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBidHistoryStore(conn)
	got, err := store.GetByLot(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, got)
}
