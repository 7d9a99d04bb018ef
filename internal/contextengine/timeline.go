package contextengine

import (
	"sort"

	"github.com/pilot-dev/memoryd/internal/store"
)

// timelineItem is one entry in the merged, chronologically ordered
// rendering of summaries and observations.
type timelineItem struct {
	DisplayEpoch int64
	Summary      *store.SessionSummary
	Observation  *store.Observation
	FullDetail   bool
}

// buildTimeline merges summaries (must already be ascending by
// CreatedAtEpoch) and observations (ascending by CreatedAtEpoch) into one
// ascending sequence.
//
// A summary's display epoch is the createdAtEpoch of the summary
// immediately before it, so it visually "opens" the interval it
// describes; the oldest summary has no earlier one to borrow from, and
// the most recent summary is exempted from the rule entirely — both use
// their own epoch (see DESIGN.md, Open Question: summary display epoch).
func buildTimeline(observations []store.Observation, summaries []store.SessionSummary, fullObservationCount int) []timelineItem {
	items := make([]timelineItem, 0, len(observations)+len(summaries))

	for i := range summaries {
		s := summaries[i]
		displayEpoch := s.CreatedAtEpoch
		if i != 0 && i != len(summaries)-1 {
			displayEpoch = summaries[i-1].CreatedAtEpoch
		}
		items = append(items, timelineItem{DisplayEpoch: displayEpoch, Summary: &summaries[i]})
	}

	if fullObservationCount <= 0 {
		fullObservationCount = 10
	}
	firstFullIdx := len(observations) - fullObservationCount
	for i := range observations {
		items = append(items, timelineItem{
			DisplayEpoch: observations[i].CreatedAtEpoch,
			Observation:  &observations[i],
			FullDetail:   i >= firstFullIdx,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].DisplayEpoch < items[j].DisplayEpoch })
	return items
}
