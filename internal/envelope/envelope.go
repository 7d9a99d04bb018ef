// Package envelope defines the schema-versioned body nested inside a
// queue.PendingMessage's Body field and the helpers that build it. It is
// shared by every producer (internal/httpapi, internal/mcpserver) and the
// one consumer (internal/materialize) so the wire shape can't drift
// between hand-copied duplicates.
package envelope

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/pilot-dev/memoryd/internal/errs"
	"github.com/pilot-dev/memoryd/internal/queue"
)

// Kind values for a queue.PendingMessage.
const (
	KindObservation = "observation"
	KindSummary     = "summary"
	KindPrompt      = "prompt"
)

// ToolNamePromptSentinel is the tool_name a hook uses for a
// UserPromptSubmit event, routed to user_prompts instead of observations.
const ToolNamePromptSentinel = "UserPromptSubmit"

// ToolEvent is the recorded shape of one tool-use event.
type ToolEvent struct {
	ToolName     string          `json:"toolName"`
	ToolInput    json.RawMessage `json:"toolInput,omitempty"`
	ToolResponse json.RawMessage `json:"toolResponse,omitempty"`
}

// SummaryPayload carries the raw assistant message a session summary is
// synthesized from.
type SummaryPayload struct {
	LastAssistantMessage string `json:"lastAssistantMessage"`
}

// PromptPayload carries the raw text of a user prompt.
type PromptPayload struct {
	Text string `json:"text"`
}

// Body is the schema-versioned opaque body nested inside a
// queue.PendingMessage's Body field. The envelope's Kind selects how
// internal/materialize interprets it.
type Body struct {
	Version int             `json:"v"`
	Project string          `json:"project,omitempty"`
	Tool    *ToolEvent      `json:"tool,omitempty"`
	Summary *SummaryPayload `json:"summary,omitempty"`
	Prompt  *PromptPayload  `json:"prompt,omitempty"`
}

// Marshal serializes body and wraps it in the queue.PendingMessage
// envelope shape persisted to the pending_messages table.
func Marshal(kind, contentSessionID string, body Body) (json.RawMessage, error) {
	bodyRaw, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.KindContractViolation, "marshal pending body", err)
	}
	msg := queue.PendingMessage{Kind: kind, ContentSession: contentSessionID, Body: bodyRaw}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Wrap(errs.KindContractViolation, "marshal pending envelope", err)
	}
	return raw, nil
}

// ProjectFromCwd derives a project name from a working directory: the
// final path component.
func ProjectFromCwd(cwd string) string {
	cwd = strings.TrimRight(cwd, "/")
	if cwd == "" {
		return "unknown"
	}
	return filepath.Base(cwd)
}

// ToolInputField extracts a string field (e.g. "prompt") from a
// tool_input JSON object, tolerating absent or malformed input.
func ToolInputField(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	v, _ := m[field].(string)
	return v
}
