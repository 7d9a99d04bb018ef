package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pilot-dev/memoryd/internal/contextengine"
	"github.com/pilot-dev/memoryd/internal/envelope"
)

// --- Tool definitions ---

func injectContextTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"inject_context",
		"Render the project context document (recent observations and session summaries) for injection into a new turn.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"projects": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Project names to scope the context to; an empty list renders the empty-state document"
				},
				"sessionId": {"type": "string", "description": "Current content session id, for transcript lookups"},
				"cwd": {"type": "string", "description": "Current working directory, for transcript lookups"},
				"planPath": {"type": "string", "description": "Plan file path, activates plan-scoped filtering"},
				"colors": {"type": "boolean", "description": "Render ANSI output instead of Markdown"}
			}
		}`),
	)
}

func recordObservationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"record_observation",
		"Record one tool-use event as an enriched observation for long-term memory.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"contentSessionId": {"type": "string"},
				"tool_name": {"type": "string"},
				"tool_input": {"type": "object"},
				"tool_response": {},
				"cwd": {"type": "string"}
			},
			"required": ["contentSessionId", "tool_name", "cwd"]
		}`),
	)
}

func recordSummaryTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"record_summary",
		"Record a structured end-of-turn session summary for long-term memory.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"contentSessionId": {"type": "string"},
				"last_assistant_message": {"type": "string"}
			},
			"required": ["contentSessionId", "last_assistant_message"]
		}`),
	)
}

// --- Tool handlers ---

type injectContextArgs struct {
	Projects  []string `json:"projects"`
	SessionID string   `json:"sessionId"`
	Cwd       string   `json:"cwd"`
	PlanPath  string   `json:"planPath"`
	Colors    bool     `json:"colors"`
}

func (s *Server) handleInjectContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.NoContext {
		return mcp.NewToolResultText(""), nil
	}

	var args injectContextArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	renderMode := contextengine.RenderMarkdown
	if args.Colors {
		renderMode = contextengine.RenderANSI
	}

	doc, err := s.ctxengine.Render(contextengine.Query{
		Projects:         args.Projects,
		CurrentSessionID: args.SessionID,
		CurrentCwd:       args.Cwd,
		PlanPath:         args.PlanPath,
		RenderMode:       renderMode,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render context: %v", err)), nil
	}
	return mcp.NewToolResultText(doc), nil
}

type recordObservationArgs struct {
	ContentSessionID string          `json:"contentSessionId"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	Cwd              string          `json:"cwd"`
}

func (s *Server) handleRecordObservation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args recordObservationArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ContentSessionID == "" || args.ToolName == "" {
		return mcp.NewToolResultError("contentSessionId and tool_name are required"), nil
	}

	project := envelope.ProjectFromCwd(args.Cwd)
	sessionDbID, err := s.store.CreateSession(args.ContentSessionID, project, time.Now().UnixMilli())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create session: %v", err)), nil
	}

	b := envelope.Body{Version: 1, Project: project, Tool: &envelope.ToolEvent{
		ToolName:     args.ToolName,
		ToolInput:    args.ToolInput,
		ToolResponse: args.ToolResponse,
	}}
	raw, err := envelope.Marshal(envelope.KindObservation, args.ContentSessionID, b)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.sessions.Submit(sessionDbID, raw, time.Now().UnixMilli()); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit observation: %v", err)), nil
	}
	return mcp.NewToolResultText("{}"), nil
}

type recordSummaryArgs struct {
	ContentSessionID string `json:"contentSessionId"`
	LastAssistantMsg string `json:"last_assistant_message"`
}

func (s *Server) handleRecordSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args recordSummaryArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ContentSessionID == "" || args.LastAssistantMsg == "" {
		return mcp.NewToolResultError("contentSessionId and last_assistant_message are required"), nil
	}

	sess, err := s.store.GetSessionByContentID(args.ContentSessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup session: %v", err)), nil
	}
	if sess == nil {
		return mcp.NewToolResultError("unknown session " + args.ContentSessionID), nil
	}

	b := envelope.Body{Version: 1, Project: sess.Project, Summary: &envelope.SummaryPayload{LastAssistantMessage: args.LastAssistantMsg}}
	raw, err := envelope.Marshal(envelope.KindSummary, args.ContentSessionID, b)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.sessions.Submit(sess.ID, raw, time.Now().UnixMilli()); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit summary: %v", err)), nil
	}
	return mcp.NewToolResultText("{}"), nil
}

