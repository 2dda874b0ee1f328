package source

import (
	"context"
	"math/rand"
	"time"
)

// Default retry configuration shared by all channel clients.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// RetryConfig parameterizes the shared retry/backoff utility.
type RetryConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	BackoffMult float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		MaxDelay:    DefaultMaxDelay,
		BackoffMult: DefaultBackoffMult,
	}
}

// Retry runs fn with capped exponential backoff and jitter. Only
// retryable errors are retried, up to cfg.MaxAttempts total attempts.
// An in-progress backoff returns promptly when ctx is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}

	delay := cfg.RetryDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) || attempt == cfg.MaxAttempts {
			return err
		}

		if err := sleep(ctx, jitter(delay)); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * cfg.BackoffMult)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}

// jitter spreads a delay uniformly over [d/2, 3d/2) so that parallel
// streams hitting the same throttle do not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
