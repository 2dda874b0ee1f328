// Package main runs discovery cycles: fetch all channels, reconcile,
// augment stale bid state, score, and notify.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"lotscout/internal/augment"
	"lotscout/internal/config"
	"lotscout/internal/livefeed"
	"lotscout/internal/notify"
	"lotscout/internal/observability"
	"lotscout/internal/orchestrator"
	"lotscout/internal/score"
	"lotscout/internal/source"
	"lotscout/internal/storage"
	chstore "lotscout/internal/storage/clickhouse"
	"lotscout/internal/storage/memory"
	"lotscout/internal/storage/migrations"
	pgstore "lotscout/internal/storage/postgres"
)

func main() {
	sessionPath := flag.String("session", "", "Path to the exported session cookie file")
	interval := flag.Duration("interval", 0, "Rerun every interval (0 = single run)")
	live := flag.Bool("live", false, "Keep a live bid feed open between runs")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, *sessionPath, *interval, *live); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, sessionPath string, interval time.Duration, live bool) error {
	lots, history, cleanup, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	metrics := observability.NewMetrics("")
	if addr := cfg.Run.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", addr)
	}

	var session source.AuthSession
	if sessionPath != "" {
		session, err = source.NewFileSession(sessionPath)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
	}

	summary := source.NewSummaryClient(source.SummaryOptions{
		BaseURL:  cfg.Channels.SummaryBaseURL,
		Timeout:  cfg.Channels.Timeout,
		Rate:     rate.Limit(cfg.Channels.SummaryRate),
		PageSize: cfg.Channels.PageSize,
	})
	search := source.NewSearchClient(source.SearchOptions{
		BaseURL: cfg.Channels.SearchBaseURL,
		Timeout: cfg.Channels.Timeout,
		Rate:    rate.Limit(cfg.Channels.SearchRate),
		Limit:   cfg.Channels.PageSize,
	})
	streams := append([]source.Stream{summary}, search.Streams(nil)...)

	rendered := source.NewRenderedPageClient(source.RenderedOptions{
		BaseURL: cfg.Channels.RenderedBaseURL,
		Timeout: cfg.Channels.Timeout,
		Rate:    rate.Limit(cfg.Channels.RenderedRate),
	})
	augmenter := augment.New(augment.Options{
		Client:    rendered,
		LotStore:  lots,
		History:   history,
		Freshness: cfg.Run.BidFreshness,
	})

	orch := orchestrator.New(orchestrator.Options{
		Streams:   streams,
		LotStore:  lots,
		Augmenter: augmenter,
		Scorer: score.New(score.Weights{
			Discount: cfg.Scoring.DiscountWeight,
			Scarcity: cfg.Scoring.ScarcityWeight,
			NoBid:    cfg.Scoring.NoBidWeight,
		}),
		Session:             session,
		Notifier:            notify.NewLogNotifier(logger),
		Logger:              logger,
		Concurrency:         cfg.Run.Concurrency,
		AugmentBatch:        cfg.Run.AugmentBatch,
		Locations:           cfg.Run.Locations,
		ExcludeSameDayClose: cfg.Run.ExcludeSameDayClose,
		NotifyMinScore:      cfg.Run.NotifyMinScore,
		NotifyMinRetail:     cfg.Run.NotifyMinRetail,
	})

	var feed *livefeed.Feed
	if live && cfg.Channels.LiveFeedURL != "" {
		feed = livefeed.New(livefeed.Options{
			Endpoint: cfg.Channels.LiveFeedURL,
			LotStore: lots,
			History:  history,
			Metrics:  metrics,
			Logger:   logger,
		})
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("live feed stopped", "error", err)
			}
		}()
	}

	for {
		result, err := orch.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RunsTotal.WithLabelValues("failed").Inc()
			if interval == 0 {
				return err
			}
			logger.Error("run failed", "error", err)
		} else {
			recordRun(metrics, result)
			printResult(result)
			if feed != nil {
				watchTop(ctx, lots, feed, cfg.Run.NotifyMinScore)
			}
		}

		if interval == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// openStores selects the storage backends: postgres and clickhouse when
// DSNs are configured, in-memory otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.LotStore, storage.BidHistoryStore, func(), error) {
	var (
		lots     storage.LotStore
		history  storage.BidHistoryStore
		cleanups []func()
	)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		lots = pgstore.NewLotStore(pool)
		logger.Info("using postgres lot store")
	} else {
		lots = memory.NewLotStore()
		logger.Info("using in-memory lot store")
	}

	if dsn := cfg.Storage.ClickhouseDSN; dsn != "" {
		conn, err := chstore.NewConn(ctx, dsn)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		cleanups = append(cleanups, func() { _ = conn.Close() })
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		history = chstore.NewBidHistoryStore(conn)
		logger.Info("using clickhouse bid history")
	} else {
		history = memory.NewBidHistoryStore()
	}

	return lots, history, cleanup, nil
}

// watchTop subscribes the live feed to the currently best-ranked open lots.
func watchTop(ctx context.Context, lots storage.LotStore, feed *livefeed.Feed, minScore float64) {
	top, err := lots.Query(ctx, storage.Filter{
		Open:     storage.OpenOnly(),
		MinScore: minScore,
		Limit:    100,
	})
	if err != nil {
		slog.Warn("live feed watch refresh failed", "error", err)
		return
	}
	ids := make([]string, 0, len(top))
	for _, lot := range top {
		ids = append(ids, lot.ID)
	}
	feed.Watch(ids...)
}

func recordRun(m *observability.Metrics, r *orchestrator.RunResult) {
	m.RunsTotal.WithLabelValues("ok").Inc()
	m.RunDuration.Observe(r.Duration.Seconds())
	m.LotsSeen.Set(float64(r.LotsSeen))
	m.ObservationsMerged.Add(float64(r.Observations))
	m.UnmappableRecords.Add(float64(r.Unmappable))
	m.StreamFailures.Add(float64(len(r.StreamErrors)))
	m.LotsAugmented.Add(float64(r.Augmented))
	m.DegradedFetches.Add(float64(r.DegradedFetch))
	if r.SessionLost {
		m.SessionsLost.Inc()
	}
}

func printResult(r *orchestrator.RunResult) {
	fmt.Println("=== Discovery Run ===")
	fmt.Printf("  Lots seen:    %d\n", r.LotsSeen)
	fmt.Printf("  Observations: %d\n", r.Observations)
	fmt.Printf("  Unmappable:   %d\n", r.Unmappable)
	fmt.Printf("  Augmented:    %d\n", r.Augmented)
	fmt.Printf("  Degraded:     %d\n", r.DegradedFetch)
	fmt.Printf("  Scored:       %d\n", r.Scored)
	fmt.Printf("  Streams OK:   %d\n", r.StreamsOK)
	for _, e := range r.StreamErrors {
		fmt.Printf("    stream error: %s\n", e)
	}
	if r.SessionLost {
		fmt.Println("  Session rejected; augmentation stopped early")
	}
	fmt.Printf("  Duration:     %s\n", r.Duration)
}
