// Package summarize implements structured session-summary synthesis for
// POST /api/sessions/summarize: an Anthropic Messages API call over the
// last turn's output, constrained to a
// request/investigated/learned/completed/nextSteps JSON shape rather than
// free text.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const systemPrompt = `You summarize one turn of an AI coding assistant's work for long-term memory.
Given the assistant's final message for the turn, extract a structured summary and respond with JSON only, no prose, matching exactly:
{"request": "...", "investigated": "..." or null, "learned": "..." or null, "completed": "..." or null, "nextSteps": "..." or null}
"request" is always required and restates what the user asked for in one sentence. Every other field is null if the message does not address it.`

// Summary is the structured synthesis of one session summary.
type Summary struct {
	Request      string  `json:"request"`
	Investigated *string `json:"investigated"`
	Learned      *string `json:"learned"`
	Completed    *string `json:"completed"`
	NextSteps    *string `json:"nextSteps"`
}

// Client synthesizes Summary values from raw assistant messages.
type Client struct {
	anthropic anthropic.Client
	model     string
}

// New creates a Client bound to an Anthropic model identifier (e.g.
// "haiku"). Credentials are read from the environment by the SDK's
// default client construction.
func New(model string) *Client {
	return &Client{anthropic: anthropic.NewClient(), model: model}
}

// Summarize calls the Anthropic Messages API on lastAssistantMessage and
// parses its JSON-constrained response into a Summary.
func (c *Client) Summarize(ctx context.Context, lastAssistantMessage string) (Summary, error) {
	msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 500,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(lastAssistantMessage)),
		},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("anthropic messages: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return parseSummary(block.Text)
		}
	}
	return Summary{}, fmt.Errorf("no text block in response")
}

// parseSummary unmarshals the model's JSON response, tolerating a
// markdown code fence around it (some models wrap JSON in ```json even
// when told not to).
func parseSummary(raw string) (Summary, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var s Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Summary{}, fmt.Errorf("parse summary json: %w", err)
	}
	if s.Request == "" {
		return Summary{}, fmt.Errorf("summary missing required request field")
	}
	return s, nil
}
