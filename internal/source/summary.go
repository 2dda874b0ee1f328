package source

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"lotscout/internal/canonical"
	"lotscout/internal/domain"
)

// maxSummaryPageBound caps the binary search for the last non-empty
// page. The catalog has never exceeded a few thousand pages.
const maxSummaryPageBound = 10000

// SummaryClient reads the paginated auction-summary REST API. The
// endpoint exposes a numeric page/page-size cursor and no total count;
// the last non-empty page is discovered up front with a binary search
// so a scan does not walk thousands of empty pages one by one.
type SummaryClient struct {
	http     *resty.Client
	limiter  *rate.Limiter
	retry    RetryConfig
	pageSize int
	now      func() time.Time

	mu       sync.Mutex
	lastPage int // 0 until discovered
}

// SummaryOptions configures a SummaryClient.
type SummaryOptions struct {
	BaseURL  string
	Timeout  time.Duration
	Rate     rate.Limit
	Burst    int
	Retry    RetryConfig
	PageSize int
	Now      func() time.Time // test hook
}

// NewSummaryClient creates a summary-channel client.
func NewSummaryClient(opts SummaryOptions) *SummaryClient {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	return &SummaryClient{
		http:     newHTTPClient(opts.BaseURL, opts.Timeout),
		limiter:  newLimiter(opts.Rate, opts.Burst),
		retry:    opts.Retry,
		pageSize: pageSize,
		now:      now,
	}
}

// Source implements Stream.
func (c *SummaryClient) Source() domain.Source { return domain.SourceSummary }

// Name implements Stream.
func (c *SummaryClient) Name() string { return "summary" }

// summaryResponse is the endpoint's envelope.
type summaryResponse struct {
	Data []canonical.SummaryRecord `json:"data"`
}

// FetchPage implements Stream. The cursor is the 1-based page number;
// "" starts at page 1. The first call discovers the last non-empty
// page and later calls stop there.
func (c *SummaryClient) FetchPage(ctx context.Context, cursor string) (Page, string, bool, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return Page{}, "", false, fmt.Errorf("summary: bad cursor %q", cursor)
		}
		page = n
	}

	last, err := c.ensureLastPage(ctx)
	if err != nil {
		return Page{}, "", false, err
	}
	if page > last {
		return Page{}, "", false, nil
	}

	records, err := c.fetchRaw(ctx, page)
	if err != nil {
		return Page{}, "", false, fmt.Errorf("summary page %d: %w", page, err)
	}

	out := Page{}
	seenAt := c.now()
	for _, rec := range records {
		o, err := canonical.FromSummary(rec, seenAt)
		if err != nil {
			out.Unmappable++
			continue
		}
		out.Observations = append(out.Observations, o)
	}

	hasMore := page < last && len(records) > 0
	return out, strconv.Itoa(page + 1), hasMore, nil
}

// Reset discards the cached last-page bound so the next fetch runs the
// binary search again. The catalog grows between interval reruns, and a
// transient outage during discovery must not pin the bound for the
// process's life.
func (c *SummaryClient) Reset() {
	c.mu.Lock()
	c.lastPage = 0
	c.mu.Unlock()
}

// ensureLastPage runs the binary search once per scan (Reset clears it).
func (c *SummaryClient) ensureLastPage(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPage > 0 {
		return c.lastPage, nil
	}

	low, high := 1, maxSummaryPageBound
	last := 1
	for low <= high {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mid := (low + high) / 2
		records, err := c.fetchRaw(ctx, mid)
		if err != nil || len(records) == 0 {
			// Errors probe lower: an overshot page number is the common
			// failure here, and a real outage fails the scan proper.
			high = mid - 1
			continue
		}
		last = mid
		low = mid + 1
	}

	c.lastPage = last
	return last, nil
}

func (c *SummaryClient) fetchRaw(ctx context.Context, page int) ([]canonical.SummaryRecord, error) {
	var out summaryResponse
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("pg", strconv.Itoa(page)).
			SetQueryParam("ppg", strconv.Itoa(c.pageSize)).
			SetResult(&out).
			Get("/auctionsummary")
		if err != nil {
			return err
		}
		return classifyStatus(resp.StatusCode())
	})
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Compile-time interface check.
var _ Stream = (*SummaryClient)(nil)
