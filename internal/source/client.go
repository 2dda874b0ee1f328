package source

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"lotscout/internal/domain"
)

// Page is one fetched batch of canonicalized observations.
type Page struct {
	Observations []*domain.Observation
	Unmappable   int // raw records dropped for lacking a lot identity
}

// Stream is one independent cursor stream over a channel. Cursors are
// opaque to callers: pass "" to start, then the returned next cursor
// while hasMore holds. Within one stream pages must be fetched in
// order; across streams there is no ordering contract.
type Stream interface {
	// Source identifies the channel the stream reads from.
	Source() domain.Source
	// Name labels the stream for logs and run statistics.
	Name() string
	// FetchPage fetches one page at the given cursor.
	FetchPage(ctx context.Context, cursor string) (page Page, next string, hasMore bool, err error)
}

// AuthSession is an opaque authenticated-session bundle supplied by an
// external collaborator (the browser login flow). Channel clients
// consume it read-only; renewal is the caller's responsibility.
type AuthSession interface {
	IsValid() bool
	Renew(ctx context.Context) error
	Cookies() []*http.Cookie
}

// Default channel client settings.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultRate     = rate.Limit(2) // requests per second
	DefaultBurst    = 1
	DefaultPageSize = 100
)

// newHTTPClient builds the resty client shared by a channel's streams.
// Retries are handled by the shared Retry utility, not by resty.
func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)
}

// newLimiter builds the per-channel token bucket. Every call a client
// makes is gated by it, retries included, since the upstream throttles
// informally rather than contractually.
func newLimiter(r rate.Limit, burst int) *rate.Limiter {
	if r <= 0 {
		r = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return rate.NewLimiter(r, burst)
}
