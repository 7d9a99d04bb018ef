package contextengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/pilot-dev/memoryd/internal/store"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiDim    = "\x1b[2m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

func epochToTime(epochMs int64) string {
	return time.UnixMilli(epochMs).UTC().Format("2006-01-02 15:04")
}

func fullField(o *store.Observation, field string) string {
	switch field {
	case "narrative":
		if o.Narrative != nil {
			return *o.Narrative
		}
		return ""
	case "text":
		if o.Subtitle != nil {
			return *o.Subtitle
		}
		return ""
	default:
		return strings.Join(o.Facts, "\n- ")
	}
}

func renderMarkdown(d document) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Context — %s\n\n", strings.Join(d.Projects, ", "))
	if d.PlanPath != "" {
		fmt.Fprintf(&b, "_Scoped to plan: `%s`_\n\n", d.PlanPath)
	}
	if d.Economics.ObservationCount > 0 {
		fmt.Fprintf(&b, "%d prior observations, ~%d tokens saved versus re-discovery.\n\n",
			d.Economics.ObservationCount, d.Economics.SavingsTokens)
	}

	if d.LastSessionSummary != nil {
		b.WriteString("## Last session\n\n")
		renderSummaryMarkdown(&b, d.LastSessionSummary)
		b.WriteString("\n")
	}

	b.WriteString("## Timeline\n\n")
	for _, item := range d.Timeline {
		ts := epochToTime(item.DisplayEpoch)
		switch {
		case item.Summary != nil:
			fmt.Fprintf(&b, "### %s — session summary\n\n", ts)
			renderSummaryMarkdown(&b, item.Summary)
			b.WriteString("\n")
		case item.Observation != nil && item.FullDetail:
			o := item.Observation
			fmt.Fprintf(&b, "- **%s** [%s] %s\n", ts, o.Type, o.Title)
			if text := fullField(o, d.FullObservationField); text != "" {
				fmt.Fprintf(&b, "  - %s\n", text)
			}
		case item.Observation != nil:
			fmt.Fprintf(&b, "- %s [%s] %s\n", ts, item.Observation.Type, item.Observation.Title)
		}
	}

	if d.Previously != "" {
		b.WriteString("\n## Previously\n\n")
		b.WriteString(d.Previously)
		b.WriteString("\n")
	}

	return b.String()
}

func renderSummaryMarkdown(b *strings.Builder, s *store.SessionSummary) {
	fmt.Fprintf(b, "**Request:** %s\n", s.Request)
	if s.Investigated != nil && *s.Investigated != "" {
		fmt.Fprintf(b, "**Investigated:** %s\n", *s.Investigated)
	}
	if s.Learned != nil && *s.Learned != "" {
		fmt.Fprintf(b, "**Learned:** %s\n", *s.Learned)
	}
	if s.Completed != nil && *s.Completed != "" {
		fmt.Fprintf(b, "**Completed:** %s\n", *s.Completed)
	}
	if s.NextSteps != nil && *s.NextSteps != "" {
		fmt.Fprintf(b, "**Next steps:** %s\n", *s.NextSteps)
	}
}

func renderANSI(d document) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s%sContext — %s%s\n\n", ansiBold, ansiCyan, strings.Join(d.Projects, ", "), ansiReset)
	if d.PlanPath != "" {
		fmt.Fprintf(&b, "%sScoped to plan: %s%s\n\n", ansiDim, d.PlanPath, ansiReset)
	}
	if d.Economics.ObservationCount > 0 {
		fmt.Fprintf(&b, "%s%d prior observations, ~%d tokens saved versus re-discovery.%s\n\n",
			ansiGreen, d.Economics.ObservationCount, d.Economics.SavingsTokens, ansiReset)
	}

	if d.LastSessionSummary != nil {
		fmt.Fprintf(&b, "%sLast session%s\n", ansiBold, ansiReset)
		renderSummaryANSI(&b, d.LastSessionSummary)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%sTimeline%s\n", ansiBold, ansiReset)
	for _, item := range d.Timeline {
		ts := epochToTime(item.DisplayEpoch)
		switch {
		case item.Summary != nil:
			fmt.Fprintf(&b, "%s%s — session summary%s\n", ansiYellow, ts, ansiReset)
			renderSummaryANSI(&b, item.Summary)
		case item.Observation != nil && item.FullDetail:
			o := item.Observation
			fmt.Fprintf(&b, "%s%s%s [%s] %s\n", ansiDim, ts, ansiReset, o.Type, o.Title)
			if text := fullField(o, d.FullObservationField); text != "" {
				fmt.Fprintf(&b, "    %s\n", text)
			}
		case item.Observation != nil:
			fmt.Fprintf(&b, "%s%s%s [%s] %s\n", ansiDim, ts, ansiReset, item.Observation.Type, item.Observation.Title)
		}
	}

	if d.Previously != "" {
		fmt.Fprintf(&b, "\n%sPreviously%s\n%s\n", ansiBold, ansiReset, d.Previously)
	}

	return b.String()
}

func renderSummaryANSI(b *strings.Builder, s *store.SessionSummary) {
	fmt.Fprintf(b, "  Request: %s\n", s.Request)
	if s.Investigated != nil && *s.Investigated != "" {
		fmt.Fprintf(b, "  Investigated: %s\n", *s.Investigated)
	}
	if s.Learned != nil && *s.Learned != "" {
		fmt.Fprintf(b, "  Learned: %s\n", *s.Learned)
	}
	if s.Completed != nil && *s.Completed != "" {
		fmt.Fprintf(b, "  Completed: %s\n", *s.Completed)
	}
	if s.NextSteps != nil && *s.NextSteps != "" {
		fmt.Fprintf(b, "  Next steps: %s\n", *s.NextSteps)
	}
}
