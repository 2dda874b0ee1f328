package domain

import "time"

// Lot is the canonical auction lot record, reconciled across channels.
// Corresponds to the lots table in PostgreSQL.
type Lot struct {
	ID       string // PRIMARY KEY, the marketplace's native lot identifier
	Title    string
	Category string
	Brand    string
	Location string // pickup/warehouse location name

	RetailPrice float64 // list price; once set, never unset
	CurrentBid  float64 // most recent known bid; 0 means no bid

	BidCount      int
	UniqueBidders int

	IsOpen   bool
	ClosesAt time.Time // zero if unknown

	// Sightings records which channels contributed data and when each
	// was last seen. BidSeenAt tracks the freshness of the bid-state
	// fields specifically; only observations that carried bid data
	// advance it.
	Sightings Sightings
	BidSource Source
	BidSeenAt time.Time

	QualityScore     float64 // 0-100, corroboration and bid freshness
	OpportunityScore float64 // 0-1, see score package

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sightings maps each contributing source to its last-seen timestamp.
type Sightings map[Source]time.Time

// Mark records an observation from src at t, keeping the latest time.
func (s Sightings) Mark(src Source, t time.Time) {
	if prev, ok := s[src]; ok && prev.After(t) {
		return
	}
	s[src] = t
}

// Has reports whether src ever contributed to the lot.
func (s Sightings) Has(src Source) bool {
	_, ok := s[src]
	return ok
}

// Clone returns an independent copy.
func (s Sightings) Clone() Sightings {
	if s == nil {
		return nil
	}
	out := make(Sightings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the lot. Stores hand out copies so
// callers cannot mutate shared state.
func (l *Lot) Clone() *Lot {
	cp := *l
	cp.Sightings = l.Sightings.Clone()
	return &cp
}

// HasBidData reports whether any channel has ever reported bid state
// for the lot.
func (l *Lot) HasBidData() bool {
	return !l.BidSeenAt.IsZero()
}

// ClosesSameDay reports whether the lot closes on the same calendar
// day as now, in now's location.
func (l *Lot) ClosesSameDay(now time.Time) bool {
	if l.ClosesAt.IsZero() {
		return false
	}
	y1, m1, d1 := now.Date()
	y2, m2, d2 := l.ClosesAt.In(now.Location()).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
