package results

import (
	"sort"
	"strings"

	"github.com/ternarybob/lustro/internal/models"
)

// highlightLinks marks the first occurrence of each edge target inside the
// body. Offsets are byte positions into the body exactly as stored, so
// callers can slice it without re-parsing. Spans are kept left to right
// and a span overlapping an already kept one is dropped; targets that
// never appear verbatim are omitted.
func highlightLinks(body string, edges []*models.LinkRecord) []models.HighlightedLink {
	candidates := make([]models.HighlightedLink, 0, len(edges))
	for _, edge := range edges {
		start := strings.Index(body, edge.URL)
		if start < 0 {
			continue
		}
		candidates = append(candidates, models.HighlightedLink{
			URL:        edge.URL,
			Start:      start,
			End:        start + len(edge.URL),
			Type:       models.HighlightTypeFor(edge.Status),
			StatusCode: edge.StatusCode,
			Status:     edge.Status,
		})
	}

	// Stable keeps discovery order among spans starting at the same byte,
	// which happens when one target is a prefix of another
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Start < candidates[j].Start
	})

	marks := candidates[:0]
	lastEnd := 0
	for _, c := range candidates {
		if len(marks) > 0 && c.Start < lastEnd {
			continue
		}
		marks = append(marks, c)
		lastEnd = c.End
	}
	return marks
}
