package canonical

import (
	"time"

	"lotscout/internal/domain"
)

// SearchHit is one document from the search service. The index is the
// least trusted channel: it is rebuilt on a slow cycle and is known to
// zero out bid fields for lots that do have bids.
type SearchHit struct {
	LotID             string   `json:"lot_id"`
	ID                string   `json:"id"`
	MacLotID          string   `json:"mac_lot_id"`
	ProductName       string   `json:"product_name"`
	Category          string   `json:"category"`
	Brand             string   `json:"brand"`
	AuctionLocation   string   `json:"auction_location"`
	RetailPrice       float64  `json:"retail_price"`
	CurrentBid        *float64 `json:"current_bid"`
	IsOpen            *int     `json:"is_open"` // 1/0
	ExpectedCloseDate string   `json:"expected_close_date"`
}

// FromSearch maps a search hit to a canonical observation. The service
// is inconsistent about which id field it populates, so the mapping
// tries each known alias in order.
func FromSearch(h SearchHit, seenAt time.Time) (*domain.Observation, error) {
	var id string
	for _, raw := range []string{h.LotID, h.ID, h.MacLotID} {
		if id = NormalizeID(raw); id != "" {
			break
		}
	}
	if id == "" {
		return nil, ErrUnmappable
	}

	o := &domain.Observation{
		LotID:       id,
		Source:      domain.SourceSearch,
		SeenAt:      seenAt,
		Title:       h.ProductName,
		Category:    h.Category,
		Brand:       h.Brand,
		Location:    h.AuctionLocation,
		RetailPrice: h.RetailPrice,
		ClosesAt:    parseCloseDate(h.ExpectedCloseDate),
	}

	if h.CurrentBid != nil {
		o.HasBidState = true
		o.CurrentBid = *h.CurrentBid
	}
	if h.IsOpen != nil {
		o.HasOpen = true
		o.IsOpen = *h.IsOpen == 1
	}
	return o, nil
}
