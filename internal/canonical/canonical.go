// Package canonical maps each channel's raw record shape into the
// canonical observation form, assigning a stable lot identity.
package canonical

import (
	"errors"
	"strings"
	"time"
)

// ErrUnmappable is returned when a raw record has no derivable lot
// identity. Such records are dropped and counted, never retried.
var ErrUnmappable = errors.New("canonical: record has no derivable lot identity")

// lotIDPrefix is the marketplace's URL-facing id prefix. Identity is
// the bare native id so the same lot maps to one key regardless of
// which channel reported it.
const lotIDPrefix = "mac_lot_"

// NormalizeID derives the stable lot identity from a raw identifier.
// Returns "" if no identity can be derived.
func NormalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, lotIDPrefix)
	return id
}

// closeDateLayouts are the close-timestamp formats observed across the
// three channels. The summary API returns RFC 3339, the search index a
// bare date, the rendered page either.
var closeDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseCloseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range closeDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
