package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lotscout/internal/domain"
	"lotscout/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func obs(id string, src domain.Source, seenAt time.Time) *domain.Observation {
	return &domain.Observation{
		LotID:       id,
		Source:      src,
		SeenAt:      seenAt,
		Title:       "Lot " + id,
		Location:    "Pittsburgh",
		RetailPrice: 100,
	}
}

func TestLotStore_UpsertCreatesAndMerges(t *testing.T) {
	store := NewLotStore()
	ctx := context.Background()

	created, err := store.Upsert(ctx, obs("1", domain.SourceSummary, t0))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if created.ID != "1" || !created.IsOpen {
		t.Errorf("created lot wrong: %+v", created)
	}

	o2 := obs("1", domain.SourceSearch, t0.Add(time.Minute))
	o2.Brand = "Acme"
	merged, err := store.Upsert(ctx, o2)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if merged.Brand != "Acme" {
		t.Errorf("merge did not fill brand: %+v", merged)
	}
	if len(merged.Sightings) != 2 {
		t.Errorf("sightings = %d, want 2", len(merged.Sightings))
	}
}

func TestLotStore_UpsertInvalidInput(t *testing.T) {
	store := NewLotStore()
	ctx := context.Background()

	if _, err := store.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil observation: expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.Upsert(ctx, &domain.Observation{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty lot id: expected ErrInvalidInput, got %v", err)
	}
}

func TestLotStore_UpsertPreservesOpportunityScore(t *testing.T) {
	store := NewLotStore()
	ctx := context.Background()

	if _, err := store.Upsert(ctx, obs("1", domain.SourceSummary, t0)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.UpdateScores(ctx, "1", 0.75, 50); err != nil {
		t.Fatalf("UpdateScores failed: %v", err)
	}

	merged, err := store.Upsert(ctx, obs("1", domain.SourceSearch, t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if merged.OpportunityScore != 0.75 {
		t.Errorf("opportunity score lost on upsert: %v", merged.OpportunityScore)
	}
}

func TestLotStore_GetNotFound(t *testing.T) {
	store := NewLotStore()
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLotStore_UpdateScoresNotFound(t *testing.T) {
	store := NewLotStore()
	if err := store.UpdateScores(context.Background(), "absent", 0.5, 50); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLotStore_GetReturnsCopy(t *testing.T) {
	store := NewLotStore()
	ctx := context.Background()

	if _, err := store.Upsert(ctx, obs("1", domain.SourceSummary, t0)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, _ := store.Get(ctx, "1")
	got.Title = "mutated"
	again, _ := store.Get(ctx, "1")
	if again.Title == "mutated" {
		t.Error("Get handed out shared state")
	}
}

func TestLotStore_QueryFilters(t *testing.T) {
	store := NewLotStore()
	ctx := context.Background()

	seed := []struct {
		id       string
		location string
		open     bool
		score    float64
	}{
		{"1", "Pittsburgh", true, 0.9},
		{"2", "Warrendale", true, 0.5},
		{"3", "Pittsburgh", false, 0.8},
		{"4", "Pittsburgh", true, 0.2},
	}
	for _, s := range seed {
		o := obs(s.id, domain.SourceSummary, t0)
		o.Location = s.location
		if !s.open {
			o.HasOpen = true
			o.IsOpen = false
		}
		if _, err := store.Upsert(ctx, o); err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
		if err := store.UpdateScores(ctx, s.id, s.score, 0); err != nil {
			t.Fatalf("seed scores %s: %v", s.id, err)
		}
	}

	open, err := store.Query(ctx, storage.Filter{Open: storage.OpenOnly()})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(open) != 3 {
		t.Errorf("open lots = %d, want 3", len(open))
	}
	for i := 1; i < len(open); i++ {
		if open[i].OpportunityScore > open[i-1].OpportunityScore {
			t.Error("results not sorted by score descending")
		}
	}

	pit, _ := store.Query(ctx, storage.Filter{
		Open:      storage.OpenOnly(),
		Locations: []string{"Pittsburgh"},
	})
	if len(pit) != 2 {
		t.Errorf("pittsburgh open lots = %d, want 2", len(pit))
	}

	top, _ := store.Query(ctx, storage.Filter{MinScore: 0.6})
	if len(top) != 2 {
		t.Errorf("lots above 0.6 = %d, want 2", len(top))
	}

	limited, _ := store.Query(ctx, storage.Filter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "1" {
		t.Errorf("limit 1 should return the top-ranked lot, got %+v", limited)
	}
}

func TestLotStore_ConcurrentUpsertsDoNotLoseUpdates(t *testing.T) {
	store := NewLotStore()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			o := obs("1", domain.SourceSummary, t0.Add(time.Duration(w)*time.Second))
			o.HasBidState = true
			o.CurrentBid = float64(w + 1)
			o.BidCount = w + 1
			if _, err := store.Upsert(ctx, o); err != nil {
				t.Errorf("worker %d: %v", w, err)
			}
		}(w)
	}
	wg.Wait()

	lot, err := store.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// Counts are monotonic, so the largest write must survive any
	// interleaving.
	if lot.BidCount != workers {
		t.Errorf("BidCount = %d, want %d", lot.BidCount, workers)
	}
}

func TestBidHistoryStore_AppendAndGet(t *testing.T) {
	store := NewBidHistoryStore()
	ctx := context.Background()

	rows := []*domain.BidObservation{
		{LotID: "1", Source: domain.SourceRendered, ObservedAt: t0.Add(time.Minute), CurrentBid: 12},
		{LotID: "1", Source: domain.SourceRendered, ObservedAt: t0, CurrentBid: 8},
		{LotID: "2", Source: domain.SourceRendered, ObservedAt: t0, CurrentBid: 5},
	}
	if err := store.Append(ctx, rows); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.GetByLot(ctx, "1")
	if err != nil {
		t.Fatalf("GetByLot failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if !got[0].ObservedAt.Before(got[1].ObservedAt) {
		t.Error("history not ordered by observed_at ascending")
	}
}
