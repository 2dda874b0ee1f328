// Package orchestrator drives one discovery run end to end:
// fetch → reconcile → augment → score, against the lot store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lotscout/internal/augment"
	"lotscout/internal/domain"
	"lotscout/internal/notify"
	"lotscout/internal/reconcile"
	"lotscout/internal/score"
	"lotscout/internal/source"
	"lotscout/internal/storage"
)

// State is the orchestrator's per-run phase.
type State string

const (
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateReconciling State = "RECONCILING"
	StateAugmenting  State = "AUGMENTING"
	StateScoring     State = "SCORING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Default run settings.
const (
	DefaultConcurrency  = 5
	DefaultAugmentBatch = 50
)

// Orchestrator coordinates a discovery run. A run degrades rather than
// aborts: it is Failed only when every source stream fails, because
// the next run retries everything anyway.
type Orchestrator struct {
	streams   []source.Stream
	lots      storage.LotStore
	augmenter *augment.Augmenter
	scorer    *score.Scorer
	session   source.AuthSession
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time

	concurrency      int
	augmentBatch     int
	locations        []string
	excludeSameDay   bool
	notifyMinScore   float64
	notifyMinRetail  float64

	state atomic.Value // State
}

// Options for creating an Orchestrator.
type Options struct {
	// Streams are all configured cursor streams (the summary stream
	// plus one stream per search query).
	Streams   []source.Stream
	LotStore  storage.LotStore
	Augmenter *augment.Augmenter
	Scorer    *score.Scorer
	// Session is the externally established authenticated session the
	// augmenter uses. May be nil; augmentation is skipped then.
	Session  source.AuthSession
	Notifier notify.Notifier
	Logger   *slog.Logger

	// Concurrency bounds the fetch and augment worker pools.
	Concurrency int
	// AugmentBatch caps how many stale lots one run refreshes.
	AugmentBatch int
	// Locations scopes augmentation and notification to these pickup
	// locations. Empty means all.
	Locations []string
	// ExcludeSameDayClose removes lots closing today from the
	// augmentation working set.
	ExcludeSameDayClose bool

	// Notification thresholds.
	NotifyMinScore  float64
	NotifyMinRetail float64

	Now func() time.Time // test hook
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	augmentBatch := opts.AugmentBatch
	if augmentBatch <= 0 {
		augmentBatch = DefaultAugmentBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		streams:         opts.Streams,
		lots:            opts.LotStore,
		augmenter:       opts.Augmenter,
		scorer:          opts.Scorer,
		session:         opts.Session,
		notifier:        opts.Notifier,
		logger:          logger,
		now:             now,
		concurrency:     concurrency,
		augmentBatch:    augmentBatch,
		locations:       opts.Locations,
		excludeSameDay:  opts.ExcludeSameDayClose,
		notifyMinScore:  opts.NotifyMinScore,
		notifyMinRetail: opts.NotifyMinRetail,
	}
	o.state.Store(StateIdle)
	return o
}

// State returns the current run phase.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(s)
	o.logger.Info("run phase", "state", string(s))
}

// RunResult summarizes one run.
type RunResult struct {
	LotsSeen      int // distinct lot ids observed this run
	Observations  int // observations merged into the store
	Unmappable    int // raw records dropped for lacking identity
	Augmented     int
	DegradedFetch int
	Scored        int
	StreamsOK     int
	StreamErrors  []string
	SessionLost   bool
	Duration      time.Duration
}

// Run executes one full discovery run. The context is the run's single
// cancellation signal; all in-flight channel calls observe it.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	started := o.now()
	result := &RunResult{}

	o.setState(StateFetching)
	if err := o.runFetch(ctx, result); err != nil {
		o.setState(StateFailed)
		return result, err
	}

	o.setState(StateAugmenting)
	if err := o.runAugment(ctx, result); err != nil {
		o.setState(StateFailed)
		return result, err
	}

	o.setState(StateScoring)
	if err := o.runScore(ctx, result); err != nil {
		o.setState(StateFailed)
		return result, err
	}

	if err := o.runNotify(ctx); err != nil {
		o.logger.Warn("notify failed", "error", err)
	}

	result.Duration = o.now().Sub(started)
	o.setState(StateDone)
	o.logger.Info("run completed",
		"lots_seen", result.LotsSeen,
		"observations", result.Observations,
		"unmappable", result.Unmappable,
		"augmented", result.Augmented,
		"degraded", result.DegradedFetch,
		"scored", result.Scored,
		"streams_ok", result.StreamsOK,
		"streams_failed", len(result.StreamErrors),
		"duration", result.Duration,
	)
	return result, nil
}

// runFetch fans out all cursor streams over a bounded worker pool and
// streams their observations through reconciled upserts. Pages within
// one stream are fetched in order; streams are independent. A stream
// failure is recorded and the rest continue.
func (o *Orchestrator) runFetch(ctx context.Context, result *RunResult) error {
	var (
		mu      sync.Mutex
		seen    = make(map[string]struct{})
		obsN    atomic.Int64
		unmapN  atomic.Int64
		errsMu  sync.Mutex
		strErrs []string
	)

	// Streams that cache discovery state (the summary client's
	// binary-searched page bound) start each run from scratch.
	for _, stream := range o.streams {
		if r, ok := stream.(interface{ Reset() }); ok {
			r.Reset()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, stream := range o.streams {
		stream := stream
		g.Go(func() error {
			err := o.drainStream(gctx, stream, seen, &mu, &obsN, &unmapN)
			if err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Warn("stream failed", "stream", stream.Name(), "error", err)
				errsMu.Lock()
				strErrs = append(strErrs, fmt.Sprintf("%s: %v", stream.Name(), err))
				errsMu.Unlock()
			}
			// Stream failures never abort the group; availability wins
			// over completeness within a run.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.setState(StateReconciling) // all upserts flushed at this point

	result.LotsSeen = len(seen)
	result.Observations = int(obsN.Load())
	result.Unmappable = int(unmapN.Load())
	result.StreamErrors = strErrs
	result.StreamsOK = len(o.streams) - len(strErrs)

	if len(o.streams) > 0 && result.StreamsOK == 0 {
		return fmt.Errorf("all %d source streams failed", len(o.streams))
	}
	return nil
}

// drainStream walks one cursor stream page by page, upserting inline on
// the worker that fetched the page. Canonicalization and merging are
// cheap next to the network round-trip.
func (o *Orchestrator) drainStream(
	ctx context.Context,
	stream source.Stream,
	seen map[string]struct{},
	mu *sync.Mutex,
	obsN, unmapN *atomic.Int64,
) error {
	cursor := ""
	for {
		page, next, hasMore, err := stream.FetchPage(ctx, cursor)
		if err != nil {
			return err
		}

		unmapN.Add(int64(page.Unmappable))
		for _, obs := range page.Observations {
			if _, err := o.lots.Upsert(ctx, obs); err != nil {
				return fmt.Errorf("upsert lot %s: %w", obs.LotID, err)
			}
			obsN.Add(1)
			mu.Lock()
			seen[obs.LotID] = struct{}{}
			mu.Unlock()
		}

		if !hasMore {
			return nil
		}
		cursor = next
	}
}

// runAugment refreshes bid state for the working set: open lots in
// scope whose bid data is stale, capped to the configured batch.
// Everything here is non-fatal except a rejected session, which stops
// the phase because every later attempt would fail identically.
func (o *Orchestrator) runAugment(ctx context.Context, result *RunResult) error {
	if o.augmenter == nil {
		return nil
	}

	working, err := o.workingSet(ctx)
	if err != nil {
		return fmt.Errorf("select working set: %w", err)
	}
	if len(working) == 0 {
		return nil
	}

	// The augmenter's counters are lifetime totals and the augmenter
	// outlives the run on interval reruns; report this phase's delta.
	augBefore, degBefore := o.augmenter.Stats()

	sessionLost := atomic.Bool{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, lot := range working {
		lot := lot
		g.Go(func() error {
			if sessionLost.Load() {
				return nil
			}
			_, err := o.augmenter.Augment(gctx, lot, o.session)
			switch {
			case err == nil:
			case errors.Is(err, source.ErrSessionExpired):
				sessionLost.Store(true)
				o.logger.Error("session rejected, stopping augmentation", "lot_id", lot.ID)
			case errors.Is(err, context.Canceled):
				return err
			default:
				o.logger.Warn("augment failed", "lot_id", lot.ID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	augmented, degraded := o.augmenter.Stats()
	result.Augmented = int(augmented - augBefore)
	result.DegradedFetch = int(degraded - degBefore)
	result.SessionLost = sessionLost.Load()
	return nil
}

// workingSet selects the open lots eligible for augmentation this run.
func (o *Orchestrator) workingSet(ctx context.Context) ([]*domain.Lot, error) {
	open, err := o.lots.Query(ctx, storage.Filter{
		Open:      storage.OpenOnly(),
		Locations: o.locations,
	})
	if err != nil {
		return nil, err
	}

	now := o.now()
	var working []*domain.Lot
	for _, lot := range open {
		if o.excludeSameDay && lot.ClosesSameDay(now) {
			continue
		}
		if !o.augmenter.Needs(lot) {
			continue
		}
		working = append(working, lot)
		if len(working) == o.augmentBatch {
			break
		}
	}
	return working, nil
}

// runScore recomputes derived scores over the store's current snapshot.
func (o *Orchestrator) runScore(ctx context.Context, result *RunResult) error {
	if o.scorer == nil {
		return nil
	}

	lots, err := o.lots.Query(ctx, storage.Filter{})
	if err != nil {
		return fmt.Errorf("load lots for scoring: %w", err)
	}

	now := o.now()
	for _, lot := range lots {
		if err := ctx.Err(); err != nil {
			return err
		}
		opportunity := o.scorer.Score(lot)
		quality := reconcile.Quality(lot, now)
		if err := o.lots.UpdateScores(ctx, lot.ID, opportunity, quality); err != nil {
			return fmt.Errorf("update scores for lot %s: %w", lot.ID, err)
		}
		result.Scored++
	}
	return nil
}

// runNotify hands lots clearing the thresholds to the notifier.
func (o *Orchestrator) runNotify(ctx context.Context) error {
	if o.notifier == nil {
		return nil
	}

	lots, err := o.lots.Query(ctx, storage.Filter{
		Open:      storage.OpenOnly(),
		Locations: o.locations,
		MinScore:  o.notifyMinScore,
	})
	if err != nil {
		return err
	}

	if o.notifyMinRetail > 0 {
		filtered := lots[:0]
		for _, lot := range lots {
			if lot.RetailPrice >= o.notifyMinRetail {
				filtered = append(filtered, lot)
			}
		}
		lots = filtered
	}
	if len(lots) == 0 {
		return nil
	}
	return o.notifier.Notify(ctx, lots)
}
