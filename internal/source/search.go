package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"lotscout/internal/canonical"
	"lotscout/internal/domain"
)

// SearchClient reads the full-text search service. The service has no
// exhaustive-listing mode, so coverage comes from fanning out a fixed
// vocabulary of query terms (wildcard, category keywords, price-bucket
// sorts); each term is an independent offset/limit cursor stream and
// the overlap is deduplicated downstream by the reconciler.
type SearchClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	retry   RetryConfig
	limit   int
	now     func() time.Time
}

// SearchOptions configures a SearchClient.
type SearchOptions struct {
	BaseURL string
	Timeout time.Duration
	Rate    rate.Limit
	Burst   int
	Retry   RetryConfig
	Limit   int              // hits per page
	Now     func() time.Time // test hook
}

// NewSearchClient creates a search-channel client.
func NewSearchClient(opts SearchOptions) *SearchClient {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	return &SearchClient{
		http:    newHTTPClient(opts.BaseURL, opts.Timeout),
		limiter: newLimiter(opts.Rate, opts.Burst),
		retry:   opts.Retry,
		limit:   limit,
		now:     now,
	}
}

// Streams returns one cursor stream per query in the vocabulary,
// deduplicated. All streams share the client's rate limiter.
func (c *SearchClient) Streams(queries []Query) []Stream {
	if len(queries) == 0 {
		queries = DefaultQueries()
	}
	queries = lo.Uniq(queries)
	streams := make([]Stream, 0, len(queries))
	for _, q := range queries {
		streams = append(streams, &searchStream{client: c, query: q})
	}
	return streams
}

// searchStream is one term's offset-paginated stream.
type searchStream struct {
	client *SearchClient
	query  Query
}

// Source implements Stream.
func (s *searchStream) Source() domain.Source { return domain.SourceSearch }

// Name implements Stream.
func (s *searchStream) Name() string {
	name := "search:" + s.query.Term
	if s.query.Term == "" {
		name = "search:*"
	}
	if s.query.Sort != "" {
		name += ":" + s.query.Sort
	}
	return name
}

// searchResponse is the service's envelope.
type searchResponse struct {
	Hits []canonical.SearchHit `json:"hits"`
}

// FetchPage implements Stream. The cursor is the numeric offset; ""
// starts at 0. The service signals the end of a stream by returning a
// short page.
func (s *searchStream) FetchPage(ctx context.Context, cursor string) (Page, string, bool, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Page{}, "", false, fmt.Errorf("search: bad cursor %q", cursor)
		}
		offset = n
	}

	c := s.client
	var out searchResponse
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("q", s.query.Term).
			SetQueryParam("offset", strconv.Itoa(offset)).
			SetQueryParam("limit", strconv.Itoa(c.limit)).
			SetResult(&out)
		if s.query.Sort != "" {
			req.SetQueryParam("sort", s.query.Sort)
		}
		resp, err := req.Get("/search")
		if err != nil {
			return err
		}
		return classifyStatus(resp.StatusCode())
	})
	if err != nil {
		return Page{}, "", false, fmt.Errorf("%s offset %d: %w", s.Name(), offset, err)
	}

	page := Page{}
	seenAt := c.now()
	for _, hit := range out.Hits {
		o, err := canonical.FromSearch(hit, seenAt)
		if err != nil {
			page.Unmappable++
			continue
		}
		page.Observations = append(page.Observations, o)
	}

	hasMore := len(out.Hits) == c.limit
	return page, strconv.Itoa(offset + len(out.Hits)), hasMore, nil
}

// Compile-time interface check.
var _ Stream = (*searchStream)(nil)
