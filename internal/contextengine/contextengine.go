// Package contextengine composes the human-readable context document an
// editor injects at the start of a session: a merged timeline of
// observations and summaries, optionally scoped to one plan.
package contextengine

import (
	"sort"
	"strings"

	"github.com/pilot-dev/memoryd/internal/config"
	"github.com/pilot-dev/memoryd/internal/store"
)

// RenderMode selects the output format.
type RenderMode string

const (
	RenderMarkdown RenderMode = "markdown"
	RenderANSI     RenderMode = "ansi"
)

// discoveryBaselineTokens is the assumed per-observation exploration cost
// an editor would pay without memory (re-reading files, re-running
// searches). Token-economics savings are reported relative to this.
const discoveryBaselineTokens = 2000

// Query describes one context-injection request.
type Query struct {
	Projects         []string
	CurrentSessionID string // memorySessionId of the session requesting context
	CurrentCwd       string
	PlanPath         string
	RenderMode       RenderMode
}

// Engine composes context documents from the store.
type Engine struct {
	store *store.Store
	cfg   config.Config
}

// New creates an Engine bound to a store and a fixed configuration
// snapshot (observation caps, concept whitelist, rendering field).
func New(s *store.Store, cfg config.Config) *Engine {
	return &Engine{store: s, cfg: cfg}
}

// Render composes and renders the context document for q.
func (e *Engine) Render(q Query) (string, error) {
	projects := e.excludeBlocked(q.Projects)
	if len(projects) == 0 {
		return e.emptyState(), nil
	}

	observations, err := e.collectObservations(projects, q.PlanPath)
	if err != nil {
		return "", err
	}
	summaries, err := e.collectSummaries(projects, q.PlanPath)
	if err != nil {
		return "", err
	}

	if len(observations) == 0 && len(summaries) == 0 {
		return e.emptyState(), nil
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAtEpoch < summaries[j].CreatedAtEpoch
	})

	econ := computeEconomics(observations)
	timeline := buildTimeline(observations, summaries, e.cfg.FullObservationCount)

	var lastSessionSummary *store.SessionSummary
	var previously string
	if q.CurrentSessionID != "" {
		lastSessionSummary, _ = e.store.LatestSummaryForSession(q.CurrentSessionID)
	}
	if q.CurrentCwd != "" && q.CurrentSessionID != "" {
		previously = lastAssistantMessage(q.CurrentCwd, q.CurrentSessionID)
	}

	doc := document{
		Projects:            projects,
		PlanPath:            q.PlanPath,
		Economics:           econ,
		Timeline:            timeline,
		LastSessionSummary:  lastSessionSummary,
		Previously:          previously,
		FullObservationField: e.cfg.FullObservationField,
	}

	switch q.RenderMode {
	case RenderANSI:
		return renderANSI(doc), nil
	default:
		return renderMarkdown(doc), nil
	}
}

// excludeBlocked removes ExcludeProjects entries from the requested list.
func (e *Engine) excludeBlocked(projects []string) []string {
	if len(e.cfg.ExcludeProjects) == 0 {
		return projects
	}
	blocked := make(map[string]bool, len(e.cfg.ExcludeProjects))
	for _, p := range e.cfg.ExcludeProjects {
		blocked[p] = true
	}
	out := make([]string, 0, len(projects))
	for _, p := range projects {
		if !blocked[p] {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) totalObservationCap() int {
	if e.cfg.TotalObservationCount <= 0 {
		return 50
	}
	return e.cfg.TotalObservationCount
}

func (e *Engine) summaryCap() int {
	if e.cfg.SessionSummaryCount <= 0 {
		return 5
	}
	return e.cfg.SessionSummaryCount
}

// collectObservations queries every requested project and merges the
// results, capping the combined set at the configured total.
func (e *Engine) collectObservations(projects []string, planPath string) ([]store.Observation, error) {
	var all []store.Observation
	for _, p := range projects {
		rows, _, err := e.store.ListObservations(store.ObservationFilter{
			Project:  p,
			Concepts: e.cfg.ContextConcepts,
			PlanPath: planPath,
			Limit:    e.totalObservationCap(),
		})
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAtEpoch != all[j].CreatedAtEpoch {
			return all[i].CreatedAtEpoch < all[j].CreatedAtEpoch
		}
		return all[i].ID < all[j].ID
	})
	capN := e.totalObservationCap()
	if len(all) > capN {
		all = all[len(all)-capN:]
	}
	return all, nil
}

func (e *Engine) collectSummaries(projects []string, planPath string) ([]store.SessionSummary, error) {
	var all []store.SessionSummary
	for _, p := range projects {
		rows, _, err := e.store.ListSessionSummaries(store.SummaryFilter{
			Project:  p,
			PlanPath: planPath,
			Limit:    e.summaryCap(),
		})
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAtEpoch > all[j].CreatedAtEpoch
	})
	capN := e.summaryCap()
	if len(all) > capN {
		all = all[:capN]
	}
	return all, nil
}

type economics struct {
	ObservationCount int
	TotalTokens      int
	SavingsTokens    int
}

func computeEconomics(observations []store.Observation) economics {
	var total int
	for _, o := range observations {
		total += o.DiscoveryTokens
	}
	baseline := discoveryBaselineTokens * len(observations)
	savings := baseline - total
	if savings < 0 {
		savings = 0
	}
	return economics{ObservationCount: len(observations), TotalTokens: total, SavingsTokens: savings}
}

type document struct {
	Projects             []string
	PlanPath             string
	Economics            economics
	Timeline             []timelineItem
	LastSessionSummary   *store.SessionSummary
	Previously           string
	FullObservationField string
}

func (e *Engine) emptyState() string {
	var b strings.Builder
	b.WriteString("# Context\n\n")
	b.WriteString("No prior observations or summaries are recorded for this project yet. ")
	b.WriteString("This looks like the first session here — proceed without assumptions about prior work.\n")
	return b.String()
}
