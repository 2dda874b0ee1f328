package reconcile

import (
	"time"

	"lotscout/internal/domain"
)

// Quality weighting. Corroboration counts independent channels out of
// the three that exist; freshness decays the bid reading's age linearly
// to zero over a day.
const (
	qualityCorroborationWeight = 40.0
	qualityFreshnessWeight     = 60.0
	qualityFreshnessWindow     = 24 * time.Hour
	channelCount               = 3
)

// Quality computes the 0-100 quality score: how many independent
// sources corroborate the record, and how recent the bid data is as of
// now. Lots with no bid data at all score on corroboration alone.
func Quality(lot *domain.Lot, now time.Time) float64 {
	corroboration := float64(len(lot.Sightings)) / channelCount
	if corroboration > 1 {
		corroboration = 1
	}

	freshness := 0.0
	if lot.HasBidData() {
		age := now.Sub(lot.BidSeenAt)
		if age < 0 {
			age = 0
		}
		if age < qualityFreshnessWindow {
			freshness = 1 - float64(age)/float64(qualityFreshnessWindow)
		}
	}

	return qualityCorroborationWeight*corroboration + qualityFreshnessWeight*freshness
}
