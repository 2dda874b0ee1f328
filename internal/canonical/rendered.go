package canonical

import (
	"strconv"
	"time"

	"lotscout/internal/domain"
)

// RenderedLot is the lot object embedded in the server-rendered page's
// structured-data block. It reflects the live bidding widget and is
// the only channel that reports bid state authoritatively.
type RenderedLot struct {
	LotID             int64   `json:"lot_id"`
	ID                string  `json:"id"`
	ProductName       string  `json:"product_name"`
	Category          string  `json:"category"`
	Brand             string  `json:"brand"`
	AuctionLocation   string  `json:"auction_location"`
	RetailPrice       float64 `json:"retail_price"`
	WinningBidAmount  float64 `json:"winning_bid_amount"`
	TotalBids         int     `json:"total_bids"`
	UniqueBidders     int     `json:"unique_bidders"`
	IsOpen            bool    `json:"is_open"`
	ExpectedCloseDate string  `json:"expected_close_date"`
}

// FromRendered maps an embedded lot block to a canonical observation.
// Rendered pages always carry full bid state.
func FromRendered(l RenderedLot, seenAt time.Time) (*domain.Observation, error) {
	var rawID string
	if l.LotID != 0 {
		rawID = strconv.FormatInt(l.LotID, 10)
	} else {
		rawID = l.ID
	}
	id := NormalizeID(rawID)
	if id == "" {
		return nil, ErrUnmappable
	}

	return &domain.Observation{
		LotID:         id,
		Source:        domain.SourceRendered,
		SeenAt:        seenAt,
		Title:         l.ProductName,
		Category:      l.Category,
		Brand:         l.Brand,
		Location:      l.AuctionLocation,
		RetailPrice:   l.RetailPrice,
		HasBidState:   true,
		CurrentBid:    l.WinningBidAmount,
		BidCount:      l.TotalBids,
		UniqueBidders: l.UniqueBidders,
		HasOpen:       true,
		IsOpen:        l.IsOpen,
		ClosesAt:      parseCloseDate(l.ExpectedCloseDate),
	}, nil
}
