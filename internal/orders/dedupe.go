package orders

import (
	"strings"

	"stocktracker/internal"
)

// DedupeResult carries the surviving events plus counters for everything that
// was filtered out, so skipped rows never vanish silently.
type DedupeResult struct {
	Events            []internal.OrderEvent
	DuplicatesSkipped int
	CanceledSkipped   int
}

// DedupeAndFilter drops cancelled events and collapses repeated order ids to
// their first occurrence. Repeats are expected: order fetch windows overlap
// across sync runs. Idempotent: applying it to its own output changes nothing.
func DedupeAndFilter(events []internal.OrderEvent) DedupeResult {
	seen := make(map[string]struct{}, len(events))
	out := make([]internal.OrderEvent, 0, len(events))
	result := DedupeResult{}

	for _, event := range events {
		if event.Canceled {
			result.CanceledSkipped++
			continue
		}
		key := strings.TrimSpace(event.OrderID)
		if key == "" {
			// No id to dedupe on; keep the event rather than guess.
			out = append(out, event)
			continue
		}
		if _, ok := seen[key]; ok {
			result.DuplicatesSkipped++
			continue
		}
		seen[key] = struct{}{}
		out = append(out, event)
	}

	result.Events = out
	return result
}
