package domain

// Source identifies one of the marketplace's data channels.
type Source string

const (
	// SourceSummary is the paginated auction-summary REST API.
	SourceSummary Source = "summary"
	// SourceSearch is the full-text/vector search service.
	SourceSearch Source = "search"
	// SourceRendered is the server-rendered lot page with an embedded
	// structured-data block. It carries the marketplace's own live
	// bidding widget state and is the only channel with authoritative
	// bid data.
	SourceRendered Source = "rendered"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	return s == SourceSummary || s == SourceSearch || s == SourceRendered
}

// Trust returns the channel's trust rank for bid-state fields.
// Higher wins: the rendered page embeds live widget state, while the
// summary and search indexes are refreshed on a slower cycle and are
// known to report stale or zeroed bid fields.
func (s Source) Trust() int {
	switch s {
	case SourceRendered:
		return 3
	case SourceSummary:
		return 2
	case SourceSearch:
		return 1
	default:
		return 0
	}
}
