package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lotscout/internal/domain"
	"lotscout/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// feedServer upgrades connections, captures the subscribe message and
// pushes the given bid updates.
func feedServer(t *testing.T, updates []bidMessage, subscribed chan<- subscribeMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if subscribed != nil {
			var sub subscribeMessage
			if err := conn.ReadJSON(&sub); err == nil {
				subscribed <- sub
			}
		}
		for _, u := range updates {
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func seedLot(t *testing.T, lots *memory.LotStore, id string) {
	t.Helper()
	_, err := lots.Upsert(context.Background(), &domain.Observation{
		LotID:       id,
		Source:      domain.SourceSummary,
		SeenAt:      t0,
		RetailPrice: 100,
		HasBidState: true,
		CurrentBid:  5,
	})
	if err != nil {
		t.Fatalf("seed lot: %v", err)
	}
}

func waitForBid(t *testing.T, lots *memory.LotStore, id string, want float64) *domain.Lot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		lot, err := lots.Get(context.Background(), id)
		if err == nil && lot.CurrentBid == want {
			return lot
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lot %s never reached bid %v", id, want)
	return nil
}

func TestFeed_MergesBidUpdates(t *testing.T) {
	updates := []bidMessage{
		{LotID: "1", CurrentBid: 17.5, TotalBids: 4, UniqueBidders: 3, IsOpen: true,
			Timestamp: t0.Add(time.Minute).Format(time.RFC3339)},
	}
	subscribed := make(chan subscribeMessage, 1)
	srv := feedServer(t, updates, subscribed)
	defer srv.Close()

	lots := memory.NewLotStore()
	history := memory.NewBidHistoryStore()
	seedLot(t, lots, "1")

	feed := New(Options{
		Endpoint: wsURL(srv),
		LotStore: lots,
		History:  history,
	})
	feed.Watch("1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	select {
	case sub := <-subscribed:
		if sub.Action != "subscribe" || len(sub.LotIDs) != 1 || sub.LotIDs[0] != "1" {
			t.Errorf("subscribe message = %+v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received a subscribe message")
	}

	lot := waitForBid(t, lots, "1", 17.5)
	if lot.BidCount != 4 || lot.UniqueBidders != 3 {
		t.Errorf("counts not merged: %+v", lot)
	}
	if lot.BidSource != domain.SourceRendered {
		t.Errorf("feed updates must carry live-widget trust, got %s", lot.BidSource)
	}

	rows, err := history.GetByLot(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetByLot failed: %v", err)
	}
	if len(rows) != 1 || rows[0].CurrentBid != 17.5 {
		t.Errorf("history not appended: %+v", rows)
	}
}

func TestFeed_CloseMessageClosesLot(t *testing.T) {
	updates := []bidMessage{
		{LotID: "1", CurrentBid: 30, TotalBids: 9, IsOpen: false,
			Timestamp: t0.Add(time.Minute).Format(time.RFC3339)},
	}
	srv := feedServer(t, updates, nil)
	defer srv.Close()

	lots := memory.NewLotStore()
	seedLot(t, lots, "1")

	feed := New(Options{Endpoint: wsURL(srv), LotStore: lots})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	lot := waitForBid(t, lots, "1", 30)
	if lot.IsOpen {
		t.Error("is_open=false update left the lot open")
	}
}

func TestFeed_MalformedMessagesAreDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"winning_bid_amount":99}`)) // no lot id
		good, _ := json.Marshal(bidMessage{LotID: "1", CurrentBid: 12, IsOpen: true,
			Timestamp: t0.Add(time.Minute).Format(time.RFC3339)})
		_ = conn.WriteMessage(websocket.TextMessage, good)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	lots := memory.NewLotStore()
	seedLot(t, lots, "1")

	feed := New(Options{Endpoint: wsURL(srv), LotStore: lots})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	// The good message after the bad ones still lands.
	waitForBid(t, lots, "1", 12)
}

func TestFeed_ConcurrentWatchDuringConnection(t *testing.T) {
	subscribed := make(chan subscribeMessage, 1)
	srv := feedServer(t, nil, subscribed)
	defer srv.Close()

	feed := New(Options{Endpoint: wsURL(srv), LotStore: memory.NewLotStore()})
	feed.Watch("1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	select {
	case <-subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("feed never connected")
	}

	// Watch sends a subscribe on the live connection; many callers at
	// once must not race the connection's single-writer rule.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				feed.Watch(fmt.Sprintf("lot-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()
}

func TestFeed_RunReturnsOnCancel(t *testing.T) {
	srv := feedServer(t, nil, nil)
	defer srv.Close()

	feed := New(Options{Endpoint: wsURL(srv), LotStore: memory.NewLotStore()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
