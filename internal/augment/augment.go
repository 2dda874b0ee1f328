// Package augment refreshes live bid state for lots whose bid data is
// absent or stale, using the one channel that reports it accurately.
package augment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"lotscout/internal/domain"
	"lotscout/internal/source"
	"lotscout/internal/storage"
)

// DefaultFreshness is the default bid-data freshness threshold.
const DefaultFreshness = 15 * time.Minute

// Augmenter fetches rendered lot pages for stale lots and merges the
// authoritative bid state back into the store. It never authenticates
// itself: the session is supplied by the caller, and a rejected
// session escalates as source.ErrSessionExpired so the caller can
// renew before retrying anything else.
type Augmenter struct {
	client    *source.RenderedPageClient
	lots      storage.LotStore
	history   storage.BidHistoryStore // optional
	freshness time.Duration
	now       func() time.Time

	// recent suppresses refetching a lot that was augmented moments
	// ago, e.g. when it also arrived through the live feed.
	recent *cache.Cache

	augmented atomic.Int64
	degraded  atomic.Int64
}

// Options configures an Augmenter.
type Options struct {
	Client    *source.RenderedPageClient
	LotStore  storage.LotStore
	History   storage.BidHistoryStore
	Freshness time.Duration
	Now       func() time.Time // test hook
}

// New creates an Augmenter.
func New(opts Options) *Augmenter {
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Augmenter{
		client:    opts.Client,
		lots:      opts.LotStore,
		history:   opts.History,
		freshness: freshness,
		now:       now,
		recent:    cache.New(freshness, freshness),
	}
}

// Needs reports whether a lot belongs in the augmentation working set:
// open, with bid data absent or older than the freshness threshold,
// and not refreshed within this cache window already.
func (a *Augmenter) Needs(lot *domain.Lot) bool {
	if !lot.IsOpen {
		return false
	}
	if _, hit := a.recent.Get(lot.ID); hit {
		return false
	}
	if !lot.HasBidData() {
		return true
	}
	return a.now().Sub(lot.BidSeenAt) > a.freshness
}

// Augment refreshes one lot's bid state. Returns whether the stored
// record changed.
//
// Failure contract: a degraded fetch (page parsed partially or not at
// all) leaves existing bid fields untouched, bumps the degraded
// counter and returns (false, nil); a rejected session returns
// source.ErrSessionExpired; any other error is returned for the
// caller to log, and is never fatal to a run.
func (a *Augmenter) Augment(ctx context.Context, lot *domain.Lot, session source.AuthSession) (bool, error) {
	if session != nil && !session.IsValid() {
		return false, fmt.Errorf("lot %s: %w", lot.ID, source.ErrSessionExpired)
	}

	obs, err := a.client.FetchLot(ctx, lot.ID, session)
	if err != nil {
		if errors.Is(err, source.ErrDegraded) {
			a.degraded.Add(1)
			return false, nil
		}
		return false, err
	}

	if _, err := a.lots.Upsert(ctx, obs); err != nil {
		return false, fmt.Errorf("store augmented lot %s: %w", lot.ID, err)
	}
	a.recent.SetDefault(lot.ID, true)
	a.augmented.Add(1)

	if a.history != nil {
		row := &domain.BidObservation{
			LotID:         obs.LotID,
			Source:        obs.Source,
			ObservedAt:    obs.SeenAt,
			CurrentBid:    obs.CurrentBid,
			BidCount:      obs.BidCount,
			UniqueBidders: obs.UniqueBidders,
			IsOpen:        obs.IsOpen,
		}
		if err := a.history.Append(ctx, []*domain.BidObservation{row}); err != nil {
			// History is analytics, not state; the augmentation itself
			// succeeded.
			return true, fmt.Errorf("append bid history for lot %s: %w", lot.ID, err)
		}
	}

	return true, nil
}

// Stats returns the counters accumulated since creation.
func (a *Augmenter) Stats() (augmented, degraded int64) {
	return a.augmented.Load(), a.degraded.Load()
}
