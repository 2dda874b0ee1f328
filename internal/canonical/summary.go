package canonical

import (
	"strconv"
	"time"

	"lotscout/internal/domain"
)

// SummaryRecord is one lot row from the paginated auction-summary API.
// The endpoint is a snapshot index: bid fields may be omitted entirely,
// and when present they can lag the live widget by minutes.
type SummaryRecord struct {
	LotID             int64    `json:"lot_id"`
	InventoryID       string   `json:"inventory_id"`
	ProductName       string   `json:"product_name"`
	Category          string   `json:"category"`
	LocationName      string   `json:"location_name"`
	RetailPrice       float64  `json:"retail_price"`
	CurrentBid        *float64 `json:"current_bid"`
	TotalBids         *int     `json:"total_bids"`
	UniqueBidders     *int     `json:"unique_bidders"`
	IsOpen            *int     `json:"is_open"` // 1/0
	ExpectedCloseDate string   `json:"expected_close_date"`
}

// FromSummary maps a summary-API row to a canonical observation.
func FromSummary(r SummaryRecord, seenAt time.Time) (*domain.Observation, error) {
	var rawID string
	if r.LotID != 0 {
		rawID = strconv.FormatInt(r.LotID, 10)
	} else {
		rawID = r.InventoryID
	}
	id := NormalizeID(rawID)
	if id == "" {
		return nil, ErrUnmappable
	}

	o := &domain.Observation{
		LotID:       id,
		Source:      domain.SourceSummary,
		SeenAt:      seenAt,
		Title:       r.ProductName,
		Category:    r.Category,
		Location:    r.LocationName,
		RetailPrice: r.RetailPrice,
		ClosesAt:    parseCloseDate(r.ExpectedCloseDate),
	}

	if r.CurrentBid != nil {
		o.HasBidState = true
		o.CurrentBid = *r.CurrentBid
		if r.TotalBids != nil {
			o.BidCount = *r.TotalBids
		}
		if r.UniqueBidders != nil {
			o.UniqueBidders = *r.UniqueBidders
		}
	}
	if r.IsOpen != nil {
		o.HasOpen = true
		o.IsOpen = *r.IsOpen == 1
	}
	return o, nil
}
