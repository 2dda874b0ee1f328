package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"lotscout/internal/canonical"
	"lotscout/internal/domain"
)

// nextDataSelector locates the structured-data block the marketplace
// embeds in every server-rendered lot page.
const nextDataSelector = `script#__NEXT_DATA__`

// RenderedPageClient fetches individual server-rendered lot pages and
// extracts the embedded structured-data block. Unlike the other two
// channels it is not a listing: it is called per lot id, and it is the
// only channel whose bid state reflects the live bidding widget.
type RenderedPageClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	retry   RetryConfig
	now     func() time.Time
}

// RenderedOptions configures a RenderedPageClient.
type RenderedOptions struct {
	BaseURL string
	Timeout time.Duration
	Rate    rate.Limit
	Burst   int
	Retry   RetryConfig
	Now     func() time.Time // test hook
}

// NewRenderedPageClient creates a rendered-page channel client.
func NewRenderedPageClient(opts RenderedOptions) *RenderedPageClient {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	return &RenderedPageClient{
		http:    newHTTPClient(opts.BaseURL, opts.Timeout),
		limiter: newLimiter(opts.Rate, opts.Burst),
		retry:   opts.Retry,
		now:     now,
	}
}

// nextData mirrors the slice of the embedded JSON we care about. The
// page nests the lot under either activeLot or currentLot depending on
// the auction's phase.
type nextData struct {
	Props struct {
		PageProps struct {
			ActiveLot  *canonical.RenderedLot `json:"activeLot"`
			CurrentLot *canonical.RenderedLot `json:"currentLot"`
		} `json:"pageProps"`
	} `json:"props"`
}

// FetchLot fetches one lot's rendered page using the supplied session
// and returns its canonical observation.
//
// Error contract: a rejected session returns ErrSessionExpired; a page
// whose structured-data block is missing or unparseable returns
// ErrDegraded so the caller can keep its existing data; transient
// failures are retried internally.
func (c *RenderedPageClient) FetchLot(ctx context.Context, lotID string, session AuthSession) (*domain.Observation, error) {
	var body []byte
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req := c.http.R().SetContext(ctx)
		if session != nil {
			req.SetCookies(session.Cookies())
		}
		resp, err := req.Get("/lot/mac_lot_" + lotID)
		if err != nil {
			return err
		}
		if code := resp.StatusCode(); code == 401 || code == 403 {
			return fmt.Errorf("lot %s: %w", lotID, ErrSessionExpired)
		}
		if err := classifyStatus(resp.StatusCode()); err != nil {
			return err
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}

	lot, err := extractEmbeddedLot(body)
	if err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, err)
	}

	o, err := canonical.FromRendered(*lot, c.now())
	if err != nil {
		return nil, fmt.Errorf("lot %s: %w", lotID, ErrDegraded)
	}
	return o, nil
}

// extractEmbeddedLot pulls the lot object out of the page's embedded
// JSON block.
func extractEmbeddedLot(html []byte) (*canonical.RenderedLot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrDegraded, err)
	}

	raw := doc.Find(nextDataSelector).First().Text()
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: no embedded data block", ErrDegraded)
	}

	var data nextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: decode embedded data: %v", ErrDegraded, err)
	}

	lot := data.Props.PageProps.ActiveLot
	if lot == nil {
		lot = data.Props.PageProps.CurrentLot
	}
	if lot == nil {
		return nil, fmt.Errorf("%w: embedded data has no lot", ErrDegraded)
	}
	return lot, nil
}
