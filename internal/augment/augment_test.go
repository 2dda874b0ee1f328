package augment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"lotscout/internal/domain"
	"lotscout/internal/source"
	"lotscout/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

const lotPageTemplate = `<html><body>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"activeLot":{
  "lot_id":%s,"product_name":"Widget","winning_bid_amount":25,
  "total_bids":6,"unique_bidders":3,"is_open":true
}}}}
</script>
</body></html>`

type session struct{ valid bool }

func (s *session) IsValid() bool               { return s.valid }
func (s *session) Renew(context.Context) error { return nil }
func (s *session) Cookies() []*http.Cookie     { return nil }

func testClient(url string) *source.RenderedPageClient {
	return source.NewRenderedPageClient(source.RenderedOptions{
		BaseURL: url,
		Rate:    rate.Inf,
		Burst:   1,
		Retry:   source.RetryConfig{MaxAttempts: 2, RetryDelay: 1, MaxDelay: 1, BackoffMult: 1},
	})
}

func seedLot(t *testing.T, lots *memory.LotStore, id string, bidSeenAt time.Time) *domain.Lot {
	t.Helper()
	o := &domain.Observation{
		LotID:       id,
		Source:      domain.SourceSummary,
		SeenAt:      t0,
		Title:       "Widget",
		RetailPrice: 100,
	}
	if !bidSeenAt.IsZero() {
		o.SeenAt = bidSeenAt
		o.HasBidState = true
		o.CurrentBid = 10
	}
	lot, err := lots.Upsert(context.Background(), o)
	if err != nil {
		t.Fatalf("seed lot %s: %v", id, err)
	}
	return lot
}

func TestNeeds(t *testing.T) {
	lots := memory.NewLotStore()
	now := func() time.Time { return t0.Add(time.Hour) }
	a := New(Options{LotStore: lots, Freshness: 15 * time.Minute, Now: now})

	noBid := seedLot(t, lots, "1", time.Time{})
	if !a.Needs(noBid) {
		t.Error("open lot without bid data needs augmentation")
	}

	stale := seedLot(t, lots, "2", t0) // bid read an hour ago
	if !a.Needs(stale) {
		t.Error("lot with hour-old bid data needs augmentation at 15m freshness")
	}

	fresh := seedLot(t, lots, "3", t0.Add(55*time.Minute)) // 5 minutes ago
	if a.Needs(fresh) {
		t.Error("lot with fresh bid data does not need augmentation")
	}

	closed := seedLot(t, lots, "4", time.Time{}).Clone()
	closed.IsOpen = false
	if a.Needs(closed) {
		t.Error("closed lot never needs augmentation")
	}
}

func TestAugment_RefreshesBidStateAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, lotPageTemplate, "1")
	}))
	defer srv.Close()

	lots := memory.NewLotStore()
	history := memory.NewBidHistoryStore()
	a := New(Options{
		Client:   testClient(srv.URL),
		LotStore: lots,
		History:  history,
	})

	lot := seedLot(t, lots, "1", time.Time{})
	updated, err := a.Augment(context.Background(), lot, &session{valid: true})
	if err != nil {
		t.Fatalf("Augment failed: %v", err)
	}
	if !updated {
		t.Error("expected the stored record to change")
	}

	got, err := lots.Get(context.Background(), "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentBid != 25 || got.BidCount != 6 || got.UniqueBidders != 3 {
		t.Errorf("bid state not refreshed: %+v", got)
	}
	if got.BidSource != domain.SourceRendered {
		t.Errorf("BidSource = %s, want rendered", got.BidSource)
	}

	rows, err := history.GetByLot(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetByLot failed: %v", err)
	}
	if len(rows) != 1 || rows[0].CurrentBid != 25 {
		t.Errorf("history row not appended: %+v", rows)
	}

	augmented, degraded := a.Stats()
	if augmented != 1 || degraded != 0 {
		t.Errorf("stats = (%d, %d), want (1, 0)", augmented, degraded)
	}
}

func TestAugment_RecentCacheSuppressesRefetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, lotPageTemplate, "1")
	}))
	defer srv.Close()

	lots := memory.NewLotStore()
	a := New(Options{Client: testClient(srv.URL), LotStore: lots, Freshness: time.Hour})

	lot := seedLot(t, lots, "1", time.Time{})
	if _, err := a.Augment(context.Background(), lot, nil); err != nil {
		t.Fatalf("Augment failed: %v", err)
	}

	// The just-augmented lot still has a stale-looking BidSeenAt from
	// the store's perspective of older snapshots, but the recent cache
	// keeps it out of the next working set.
	if a.Needs(lot) {
		t.Error("just-augmented lot must not re-enter the working set")
	}
}

func TestAugment_DegradedFetchKeepsExistingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no data block</body></html>`)
	}))
	defer srv.Close()

	lots := memory.NewLotStore()
	a := New(Options{Client: testClient(srv.URL), LotStore: lots})

	lot := seedLot(t, lots, "1", t0) // has bid 10
	updated, err := a.Augment(context.Background(), lot, nil)
	if err != nil {
		t.Fatalf("degraded fetch must not error, got %v", err)
	}
	if updated {
		t.Error("degraded fetch must not report an update")
	}

	got, _ := lots.Get(context.Background(), "1")
	if got.CurrentBid != 10 {
		t.Errorf("existing bid state lost on degraded fetch: %v", got.CurrentBid)
	}

	_, degraded := a.Stats()
	if degraded != 1 {
		t.Errorf("degraded counter = %d, want 1", degraded)
	}
}

func TestAugment_InvalidSessionEscalates(t *testing.T) {
	lots := memory.NewLotStore()
	a := New(Options{Client: testClient("http://unused"), LotStore: lots})

	lot := seedLot(t, lots, "1", time.Time{})
	_, err := a.Augment(context.Background(), lot, &session{valid: false})
	if !errors.Is(err, source.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}

func TestAugment_ServerRejectionEscalates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	lots := memory.NewLotStore()
	a := New(Options{Client: testClient(srv.URL), LotStore: lots})

	lot := seedLot(t, lots, "1", time.Time{})
	_, err := a.Augment(context.Background(), lot, &session{valid: true})
	if !errors.Is(err, source.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}
