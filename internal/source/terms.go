package source

// Query is one search-vocabulary entry: a term and an optional sort.
type Query struct {
	Term string
	Sort string
}

// DefaultQueries is the fixed vocabulary that approximates exhaustive
// listing on a service without one. The wildcard catches the bulk,
// category keywords reach documents the wildcard ranks out of its
// result window, and the price-bucketed sorts sweep both ends of the
// catalog. Overlap between streams is expected and cheap; the
// reconciler deduplicates.
func DefaultQueries() []Query {
	return []Query{
		{Term: ""}, // wildcard

		// Category keywords.
		{Term: "laptop"},
		{Term: "tablet"},
		{Term: "monitor"},
		{Term: "tv"},
		{Term: "phone"},
		{Term: "headphones"},
		{Term: "speaker"},
		{Term: "camera"},
		{Term: "refrigerator"},
		{Term: "washer"},
		{Term: "microwave"},
		{Term: "vacuum"},
		{Term: "drill"},
		{Term: "saw"},
		{Term: "tool"},
		{Term: "furniture"},
		{Term: "chair"},
		{Term: "mattress"},
		{Term: "grill"},
		{Term: "treadmill"},
		{Term: "bike"},
		{Term: "watch"},
		{Term: "luggage"},

		// Price-bucketed sweeps.
		{Term: "", Sort: "price_asc"},
		{Term: "", Sort: "price_desc"},
	}
}
