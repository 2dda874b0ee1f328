// Package livefeed subscribes to the marketplace's realtime bid
// message stream and folds bid deltas into the store through the same
// reconciler merge as every other channel.
package livefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lotscout/internal/domain"
	"lotscout/internal/observability"
	"lotscout/internal/storage"
)

// Config configures feed connection behavior.
type Config struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default feed configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// bidMessage is the wire shape of one realtime bid update.
type bidMessage struct {
	LotID         string  `json:"lot_id"`
	CurrentBid    float64 `json:"winning_bid_amount"`
	TotalBids     int     `json:"total_bids"`
	UniqueBidders int     `json:"unique_bidders"`
	IsOpen        bool    `json:"is_open"`
	Timestamp     string  `json:"timestamp"`
}

// subscribeMessage asks the feed to watch a set of lot ids.
type subscribeMessage struct {
	Action string   `json:"action"`
	LotIDs []string `json:"lot_ids"`
}

// Feed maintains a websocket subscription for a watch set of lots.
// Bid updates carry the live widget state and merge with rendered-page
// trust. The feed reconnects with capped backoff and resubscribes the
// watch set after every reconnect.
type Feed struct {
	endpoint string
	config   Config
	lots     storage.LotStore
	history  storage.BidHistoryStore // optional
	metrics  *observability.Metrics  // optional
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	watched map[string]struct{}
	conn    *websocket.Conn

	// writeMu serializes writes to conn. gorilla/websocket allows at
	// most one concurrent writer, and Watch races the post-connect
	// resubscribe without it.
	writeMu sync.Mutex
}

// Options for creating a Feed.
type Options struct {
	Endpoint string
	Config   *Config
	LotStore storage.LotStore
	History  storage.BidHistoryStore
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Now      func() time.Time // test hook
}

// New creates a Feed. It does not connect until Run is called.
func New(opts Options) *Feed {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Feed{
		endpoint: opts.Endpoint,
		config:   cfg,
		lots:     opts.LotStore,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      now,
		watched:  make(map[string]struct{}),
	}
}

// Watch adds lot ids to the subscription set. Takes effect on the next
// (re)connect, or immediately when connected.
func (f *Feed) Watch(lotIDs ...string) {
	f.mu.Lock()
	for _, id := range lotIDs {
		f.watched[id] = struct{}{}
	}
	conn := f.conn
	ids := f.watchedIDs()
	f.mu.Unlock()

	if conn != nil {
		f.sendSubscribe(conn, ids)
	}
}

func (f *Feed) watchedIDs() []string {
	ids := make([]string, 0, len(f.watched))
	for id := range f.watched {
		ids = append(ids, id)
	}
	return ids
}

// Run connects and processes bid messages until ctx is cancelled.
// Connection failures reconnect with capped backoff; Run only returns
// the context's error.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.config.ReconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("live feed disconnected", "error", err, "retry_in", delay)
		if f.metrics != nil {
			f.metrics.FeedReconnects.Inc()
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.config.WriteTimeout}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.mu.Lock()
	f.conn = conn
	ids := f.watchedIDs()
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	if len(ids) > 0 {
		f.sendSubscribe(conn, ids)
	}

	// Close the connection when ctx is cancelled so the blocked read
	// returns promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(f.now().Add(f.config.ReadTimeout)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(ctx, payload)
	}
}

func (f *Feed) sendSubscribe(conn *websocket.Conn, ids []string) {
	msg := subscribeMessage{Action: "subscribe", LotIDs: ids}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(f.now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		f.logger.Warn("live feed subscribe failed", "error", err)
	}
}

// handleMessage merges one bid update. Messages that do not decode or
// lack a lot id are dropped; the feed is an accelerator, not a source
// of record, and the next scan re-covers anything missed.
func (f *Feed) handleMessage(ctx context.Context, payload []byte) {
	var msg bidMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.LotID == "" {
		return
	}
	if f.metrics != nil {
		f.metrics.FeedMessages.Inc()
	}

	seenAt := f.now()
	if t, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
		seenAt = t
	}

	obs := &domain.Observation{
		LotID:         msg.LotID,
		Source:        domain.SourceRendered,
		SeenAt:        seenAt,
		HasBidState:   true,
		CurrentBid:    msg.CurrentBid,
		BidCount:      msg.TotalBids,
		UniqueBidders: msg.UniqueBidders,
		HasOpen:       true,
		IsOpen:        msg.IsOpen,
	}

	if _, err := f.lots.Upsert(ctx, obs); err != nil {
		f.logger.Error("live feed upsert failed", "lot_id", msg.LotID, "error", err)
		return
	}

	if f.history != nil {
		row := &domain.BidObservation{
			LotID:         msg.LotID,
			Source:        domain.SourceRendered,
			ObservedAt:    seenAt,
			CurrentBid:    msg.CurrentBid,
			BidCount:      msg.TotalBids,
			UniqueBidders: msg.UniqueBidders,
			IsOpen:        msg.IsOpen,
		}
		if err := f.history.Append(ctx, []*domain.BidObservation{row}); err != nil {
			f.logger.Warn("live feed history append failed", "lot_id", msg.LotID, "error", err)
		}
	}
}
