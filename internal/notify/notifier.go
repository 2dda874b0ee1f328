// Package notify is the boundary to outbound notification delivery.
// The pipeline's only obligation is handing over ranked lots in
// canonical shape; formatting and transport live elsewhere.
package notify

import (
	"context"
	"log/slog"

	"lotscout/internal/domain"
)

// Notifier receives the ranked lots that cleared the caller's
// thresholds at the end of a run.
type Notifier interface {
	Notify(ctx context.Context, lots []*domain.Lot) error
}

// LogNotifier logs qualifying lots; the default sink when no delivery
// integration is wired.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Compile-time interface check.
var _ Notifier = (*LogNotifier)(nil)

// Notify logs each qualifying lot.
func (n *LogNotifier) Notify(_ context.Context, lots []*domain.Lot) error {
	for _, lot := range lots {
		n.logger.Info("opportunity",
			"lot_id", lot.ID,
			"title", lot.Title,
			"location", lot.Location,
			"retail_price", lot.RetailPrice,
			"current_bid", lot.CurrentBid,
			"score", lot.OpportunityScore,
			"closes_at", lot.ClosesAt,
		)
	}
	return nil
}
