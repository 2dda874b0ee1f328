// Package reconcile merges per-channel observations of the same lot
// into a single current record. It is the one place channel trust and
// freshness rules are encoded; everything downstream relies on Merge
// being idempotent so that final state is independent of the order in
// which concurrent streams deliver their observations.
package reconcile

import (
	"time"

	"lotscout/internal/domain"
)

// Merge folds an incoming observation into an existing lot and returns
// the merged record. existing may be nil (first sighting creates the
// lot). Merge never errors and never mutates its inputs.
//
// Field rules:
//   - retailPrice: keep existing if incoming is zero; else the larger
//     of the two (sources sometimes truncate).
//   - currentBid/bidCount/uniqueBidders: see mergeBidState.
//   - isOpen: existing AND incoming. Closed is terminal.
//   - closesAt: most recently observed non-zero value.
//   - sightings: union, latest lastSeen per source.
func Merge(existing *domain.Lot, o *domain.Observation) *domain.Lot {
	if existing == nil {
		return newLot(o)
	}

	lot := existing.Clone()
	latest := latestSighting(lot)

	if o.RetailPrice > lot.RetailPrice {
		lot.RetailPrice = o.RetailPrice
	}

	// Descriptive fields only fill gaps; identity of the text is not
	// worth churning on every snapshot refresh.
	if lot.Title == "" {
		lot.Title = o.Title
	}
	if lot.Category == "" {
		lot.Category = o.Category
	}
	if lot.Brand == "" {
		lot.Brand = o.Brand
	}
	if lot.Location == "" {
		lot.Location = o.Location
	}

	mergeBidState(lot, o)

	if o.HasOpen && !o.IsOpen {
		lot.IsOpen = false
	}

	if !o.ClosesAt.IsZero() && (lot.ClosesAt.IsZero() || !o.SeenAt.Before(latest)) {
		lot.ClosesAt = o.ClosesAt
	}

	if lot.Sightings == nil {
		lot.Sightings = domain.Sightings{}
	}
	lot.Sightings.Mark(o.Source, o.SeenAt)
	if o.SeenAt.After(lot.UpdatedAt) {
		lot.UpdatedAt = o.SeenAt
	}

	lot.QualityScore = Quality(lot, o.SeenAt)
	return lot
}

// newLot creates a lot from its first sighting. A lot is assumed open
// until some channel reports otherwise.
func newLot(o *domain.Observation) *domain.Lot {
	lot := &domain.Lot{
		ID:          o.LotID,
		Title:       o.Title,
		Category:    o.Category,
		Brand:       o.Brand,
		Location:    o.Location,
		RetailPrice: o.RetailPrice,
		IsOpen:      true,
		ClosesAt:    o.ClosesAt,
		Sightings:   domain.Sightings{o.Source: o.SeenAt},
		CreatedAt:   o.SeenAt,
		UpdatedAt:   o.SeenAt,
	}
	if o.HasOpen {
		lot.IsOpen = o.IsOpen
	}
	if o.HasBidState {
		lot.CurrentBid = o.CurrentBid
		lot.BidCount = o.BidCount
		lot.UniqueBidders = o.UniqueBidders
		lot.BidSource = o.Source
		lot.BidSeenAt = o.SeenAt
	}
	lot.QualityScore = Quality(lot, o.SeenAt)
	return lot
}

// mergeBidState applies the trust/freshness rules for the live bid
// fields. Observations without bid state are ignored outright: an
// index that omits bid fields is not reporting "no bids".
//
// Counts are monotonically non-decreasing; a decrease is a stale read.
// currentBid may only decrease when the incoming source is strictly
// higher-trust AND strictly more recent than the value it replaces.
// When two same-trust sources conflict at the same instant the larger
// value wins, since bids only increase.
func mergeBidState(lot *domain.Lot, o *domain.Observation) {
	if !o.HasBidState || o.SeenAt.Before(lot.BidSeenAt) {
		return
	}

	if !lot.HasBidData() {
		lot.CurrentBid = o.CurrentBid
		lot.BidCount = o.BidCount
		lot.UniqueBidders = o.UniqueBidders
		lot.BidSource = o.Source
		lot.BidSeenAt = o.SeenAt
		return
	}

	inTrust := o.Source.Trust()
	curTrust := lot.BidSource.Trust()

	if inTrust < curTrust {
		// Lower-trust channels may raise values (bids only go up) but
		// never lower them, and never count as a fresh authoritative
		// reading.
		lot.CurrentBid = max(lot.CurrentBid, o.CurrentBid)
		lot.BidCount = max(lot.BidCount, o.BidCount)
		lot.UniqueBidders = max(lot.UniqueBidders, o.UniqueBidders)
		return
	}

	if inTrust > curTrust && o.SeenAt.After(lot.BidSeenAt) {
		lot.CurrentBid = o.CurrentBid
	} else {
		lot.CurrentBid = max(lot.CurrentBid, o.CurrentBid)
	}
	lot.BidCount = max(lot.BidCount, o.BidCount)
	lot.UniqueBidders = max(lot.UniqueBidders, o.UniqueBidders)
	lot.BidSource = o.Source
	lot.BidSeenAt = o.SeenAt
}

func latestSighting(lot *domain.Lot) time.Time {
	var latest time.Time
	for _, t := range lot.Sightings {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
