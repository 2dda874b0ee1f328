// Package score computes the opportunity score: a deterministic [0,1]
// ranking of how favorable a lot is to bid on.
package score

import (
	"sort"

	"lotscout/internal/domain"
)

// Weights configures the three signal weights. They must sum to 1 for
// the score to stay in [0,1].
type Weights struct {
	Discount float64 // (retail - bid) / retail
	Scarcity float64 // 1 / (1 + uniqueBidders)
	NoBid    float64 // flat bonus when no bid has been placed
}

// DefaultWeights are the production constants.
func DefaultWeights() Weights {
	return Weights{Discount: 0.5, Scarcity: 0.3, NoBid: 0.2}
}

// Scorer computes opportunity scores with fixed weights.
type Scorer struct {
	weights Weights
}

// New creates a Scorer. Zero-valued or invalid weights fall back to
// defaults; weights that do not sum to 1 are normalized so the score
// stays in [0,1] whatever the configuration says.
func New(w Weights) *Scorer {
	sum := w.Discount + w.Scarcity + w.NoBid
	if w.Discount < 0 || w.Scarcity < 0 || w.NoBid < 0 || sum <= 0 {
		w = DefaultWeights()
	} else if sum != 1 {
		w.Discount /= sum
		w.Scarcity /= sum
		w.NoBid /= sum
	}
	return &Scorer{weights: w}
}

// Score returns the opportunity score for a lot. Closed lots always
// score 0 regardless of their other fields.
func (s *Scorer) Score(lot *domain.Lot) float64 {
	if !lot.IsOpen {
		return 0
	}

	discount := 0.0
	if lot.RetailPrice > 0 {
		discount = clamp01((lot.RetailPrice - lot.CurrentBid) / lot.RetailPrice)
	}

	scarcity := clamp01(1 / (1 + float64(lot.UniqueBidders)))

	noBid := 0.0
	if lot.CurrentBid == 0 && lot.BidCount == 0 {
		noBid = 1
	}

	return s.weights.Discount*discount + s.weights.Scarcity*scarcity + s.weights.NoBid*noBid
}

// Rank sorts lots by opportunity score descending. Ties break on the
// earliest close time, since the sooner-closing lot is actionable
// sooner; lots with an unknown close time rank after dated ones.
func Rank(lots []*domain.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].OpportunityScore != lots[j].OpportunityScore {
			return lots[i].OpportunityScore > lots[j].OpportunityScore
		}
		return closesBefore(lots[i], lots[j])
	})
}

func closesBefore(a, b *domain.Lot) bool {
	switch {
	case a.ClosesAt.IsZero():
		return false
	case b.ClosesAt.IsZero():
		return true
	default:
		return a.ClosesAt.Before(b.ClosesAt)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
