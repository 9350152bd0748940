// Package align maps sparse marker rows onto positions inside a dense sample
// window, producing the event table consumed by signal processors.
package align

import (
	"math"

	"github.com/cadigan/CortexFlow/internal/domain"
)

// MakeEvents aligns markers against a sample window by nearest timestamp.
//
// The window's own first and last timestamps bound the selection, inclusive
// on both ends. Each qualifying marker is mapped to the window row whose
// timestamp is closest to it (ties go to the earlier row), and events are
// emitted in the markers' insertion order, not sorted by sample index.
//
// When nothing qualifies, including the zero-row window case, the table is
// the single sentinel row (0, 0, 0). Downstream consumers rely on the table
// never being empty.
func MakeEvents(window, markers []domain.Row, eventDuration int) []domain.EventRow {
	sentinel := []domain.EventRow{{}}
	if len(window) == 0 {
		return sentinel
	}

	lower := window[0].Timestamp
	upper := window[len(window)-1].Timestamp

	var events []domain.EventRow
	for _, m := range markers {
		if m.Timestamp < lower || m.Timestamp > upper {
			continue
		}
		events = append(events, domain.EventRow{
			SampleIndex: nearestIndex(window, m.Timestamp),
			Duration:    eventDuration,
			Marker:      m.Marker(),
		})
	}
	if len(events) == 0 {
		return sentinel
	}
	return events
}

// nearestIndex is an exact argmin over the window's timestamps. Sample
// spacing is not assumed uniform, so no index arithmetic shortcuts.
func nearestIndex(window []domain.Row, ts float64) int {
	best := 0
	bestDiff := math.Abs(window[0].Timestamp - ts)
	for i := 1; i < len(window); i++ {
		diff := math.Abs(window[i].Timestamp - ts)
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}
