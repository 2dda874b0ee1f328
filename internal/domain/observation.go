package domain

import "time"

// Observation is one channel's view of a lot at a point in time, after
// canonicalization but before reconciliation. Fields a channel did not
// report stay at their zero value; the pointer fields distinguish
// "reported zero" from "not reported" where that matters for merging.
type Observation struct {
	LotID    string
	Source   Source
	SeenAt   time.Time
	Title    string
	Category string
	Brand    string
	Location string

	RetailPrice float64

	// Bid state. HasBidState is set only when the channel actually
	// carried bid fields; summary/search payloads sometimes omit them
	// entirely and must not be read as "no bids".
	HasBidState   bool
	CurrentBid    float64
	BidCount      int
	UniqueBidders int

	IsOpen   bool
	HasOpen  bool // whether the channel reported open/closed at all
	ClosesAt time.Time
}

// BidObservation is one authoritative bid-state reading, kept as an
// append-only history row for post-close analysis.
type BidObservation struct {
	LotID         string
	Source        Source
	ObservedAt    time.Time
	CurrentBid    float64
	BidCount      int
	UniqueBidders int
	IsOpen        bool
}
