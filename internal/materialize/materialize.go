// Package materialize turns a drained queue.PendingMessage into durable
// store rows and an SSE broadcast, and is the sessionmgr.Handler every
// active session's processor invokes. Splitting this out of
// internal/httpapi keeps sessionmgr.Manager constructible before the HTTP
// server exists, separating what a turn produces from how it gets
// published.
package materialize

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/pilot-dev/memoryd/internal/envelope"
	"github.com/pilot-dev/memoryd/internal/errs"
	"github.com/pilot-dev/memoryd/internal/queue"
	"github.com/pilot-dev/memoryd/internal/store"
	"github.com/pilot-dev/memoryd/internal/summarize"
)

// Publisher is the minimal SSE fan-out surface materialize needs. Matches
// planstore.Publisher; internal/sse.Broadcaster satisfies both.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Materializer holds the dependencies needed to turn pending messages into
// store rows. summarizer may be nil; a nil summarizer degrades a "summary"
// message to a no-op synthesis using the raw assistant message as the
// request field, logged rather than failed, so missing Anthropic
// credentials never stall a session's queue.
type Materializer struct {
	store      *store.Store
	pub        Publisher
	summarizer *summarize.Client
	now        func() int64
}

// New creates a Materializer.
func New(s *store.Store, pub Publisher, summarizer *summarize.Client, now func() int64) *Materializer {
	return &Materializer{store: s, pub: pub, summarizer: summarizer, now: now}
}

// Handle implements sessionmgr.Handler.
func (m *Materializer) Handle(ctx context.Context, sessionDbID int64, msg queue.PendingMessage) error {
	sess, err := m.store.GetSession(sessionDbID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errs.New(errs.KindNotFound, fmt.Sprintf("session %d vanished before drain", sessionDbID))
	}

	var b envelope.Body
	if err := json.Unmarshal(msg.Body, &b); err != nil {
		return errs.Wrap(errs.KindCorruption, "unmarshal pending body", err)
	}

	switch msg.Kind {
	case envelope.KindObservation:
		return m.handleObservation(sess, b)
	case envelope.KindSummary:
		return m.handleSummary(ctx, sess, b)
	case envelope.KindPrompt:
		return m.handlePrompt(sess, b)
	default:
		return errs.New(errs.KindContractViolation, "unknown pending message kind: "+msg.Kind)
	}
}

func (m *Materializer) handleObservation(sess *store.Session, b envelope.Body) error {
	if b.Tool == nil {
		return errs.New(errs.KindContractViolation, "observation payload missing tool event")
	}
	obs := buildObservation(sess.MemorySessionID, sess.Project, *b.Tool, m.now())
	id, err := m.store.InsertObservation(&obs)
	if err != nil {
		return err
	}
	obs.ID = id
	m.publish("new_observation", obs)
	return nil
}

func (m *Materializer) handlePrompt(sess *store.Session, b envelope.Body) error {
	if b.Prompt == nil {
		return errs.New(errs.KindContractViolation, "prompt payload missing text")
	}
	n, err := m.store.NextPromptNumber(sess.MemorySessionID)
	if err != nil {
		return err
	}
	p := store.UserPrompt{
		MemorySessionID: sess.MemorySessionID,
		Project:         sess.Project,
		PromptNumber:    n,
		Text:            b.Prompt.Text,
		CreatedAtEpoch:  m.now(),
	}
	id, err := m.store.InsertUserPrompt(&p)
	if err != nil {
		return err
	}
	p.ID = id
	m.publish("new_prompt", p)
	return nil
}

func (m *Materializer) handleSummary(ctx context.Context, sess *store.Session, b envelope.Body) error {
	if b.Summary == nil {
		return errs.New(errs.KindContractViolation, "summary payload missing last assistant message")
	}

	var synth summarize.Summary
	if m.summarizer != nil {
		var err error
		synth, err = m.summarizer.Summarize(ctx, b.Summary.LastAssistantMessage)
		if err != nil {
			log.Printf("materialize: session %d: summarize call failed, storing raw message: %v", sess.ID, err)
			synth = summarize.Summary{Request: truncate(b.Summary.LastAssistantMessage, 500)}
		}
	} else {
		synth = summarize.Summary{Request: truncate(b.Summary.LastAssistantMessage, 500)}
	}

	row := store.SessionSummary{
		MemorySessionID: sess.MemorySessionID,
		Project:         sess.Project,
		Request:         synth.Request,
		Investigated:    synth.Investigated,
		Learned:         synth.Learned,
		Completed:       synth.Completed,
		NextSteps:       synth.NextSteps,
		CreatedAtEpoch:  m.now(),
	}
	id, err := m.store.InsertSessionSummary(&row)
	if err != nil {
		return err
	}
	row.ID = id
	m.publish("new_summary", row)
	return nil
}

func (m *Materializer) publish(eventType string, payload any) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(eventType, payload)
}

// classifyObservationType maps a tool name to one of the enumerated
// observation types, the ingestion-time enrichment between a raw tool-use
// event and its stored Observation row.
func classifyObservationType(toolName string) string {
	switch toolName {
	case "Edit", "MultiEdit", "Write", "NotebookEdit":
		return string(store.ObservationChange)
	default:
		return string(store.ObservationDiscovery)
	}
}

// buildObservation turns one tool-use event into an Observation ready for
// InsertObservation. DiscoveryTokens is a rough proxy (response length / 4,
// a common token-per-character heuristic) used only for the context
// document's token-economics header.
func buildObservation(memorySessionID, project string, ev envelope.ToolEvent, createdAtEpoch int64) store.Observation {
	obsType := classifyObservationType(ev.ToolName)

	var facts []string
	if resp := strings.TrimSpace(string(ev.ToolResponse)); resp != "" && resp != "null" {
		facts = []string{truncate(resp, 500)}
	}

	var filesRead, filesModified []string
	if path := envelope.ToolInputField(ev.ToolInput, "file_path"); path != "" {
		switch ev.ToolName {
		case "Edit", "MultiEdit", "Write", "NotebookEdit":
			filesModified = []string{path}
		default:
			filesRead = []string{path}
		}
	}

	title := ev.ToolName
	if cmd := envelope.ToolInputField(ev.ToolInput, "command"); cmd != "" {
		title = ev.ToolName + ": " + truncate(cmd, 80)
	} else if path := envelope.ToolInputField(ev.ToolInput, "file_path"); path != "" {
		title = ev.ToolName + ": " + path
	}

	return store.Observation{
		MemorySessionID: memorySessionID,
		Project:         project,
		Type:            obsType,
		Title:           title,
		Facts:           facts,
		Concepts:        []string{},
		FilesRead:       filesRead,
		FilesModified:   filesModified,
		DiscoveryTokens: len(string(ev.ToolResponse)) / 4,
		CreatedAtEpoch:  createdAtEpoch,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
