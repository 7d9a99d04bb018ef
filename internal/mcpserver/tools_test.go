package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pilot-dev/memoryd/internal/config"
	"github.com/pilot-dev/memoryd/internal/contextengine"
	"github.com/pilot-dev/memoryd/internal/envelope"
	"github.com/pilot-dev/memoryd/internal/notify"
	"github.com/pilot-dev/memoryd/internal/queue"
	"github.com/pilot-dev/memoryd/internal/sessionmgr"
	"github.com/pilot-dev/memoryd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/mcp.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st.Conn())
	bus := notify.NewBus()
	received := make(chan queue.PendingMessage, 16)
	sessions := sessionmgr.New(q, bus, func(ctx context.Context, sessionDbID int64, msg queue.PendingMessage) error {
		received <- msg
		return nil
	}, sessionmgr.Options{})
	t.Cleanup(sessions.Shutdown)

	cfg := config.Config{TotalObservationCount: 40, FullObservationCount: 10, SessionSummaryCount: 10, FullObservationField: "facts"}
	ce := contextengine.New(st, cfg)
	return New(cfg, st, sessions, ce)
}

func makeRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func TestHandleInjectContext_EmptyStore(t *testing.T) {
	s := newTestServer(t)
	req := makeRequest("inject_context", map[string]any{"projects": []any{"demo"}})

	result, err := s.handleInjectContext(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %s", resultText(t, result))
	}
}

func TestHandleInjectContext_NoContextDisabled(t *testing.T) {
	s := newTestServer(t)
	s.cfg.NoContext = true

	req := makeRequest("inject_context", map[string]any{})
	result, err := s.handleInjectContext(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resultText(t, result) != "" {
		t.Errorf("expected empty body when NoContext is set, got %q", resultText(t, result))
	}
}

func TestHandleRecordObservation_MissingFields(t *testing.T) {
	s := newTestServer(t)
	req := makeRequest("record_observation", map[string]any{"contentSessionId": "s1"})

	result, err := s.handleRecordObservation(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when tool_name is missing")
	}
}

func TestHandleRecordObservation_Success(t *testing.T) {
	s := newTestServer(t)
	req := makeRequest("record_observation", map[string]any{
		"contentSessionId": "s1",
		"tool_name":        "Read",
		"cwd":              "/home/user/demo",
	})

	result, err := s.handleRecordObservation(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %s", resultText(t, result))
	}

	sess, err := s.store.GetSessionByContentID("s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session to be created")
	}
	if sess.Project != "demo" {
		t.Errorf("expected project %q, got %q", "demo", sess.Project)
	}
}

func TestHandleRecordSummary_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	req := makeRequest("record_summary", map[string]any{
		"contentSessionId":        "missing",
		"last_assistant_message": "done",
	})

	result, err := s.handleRecordSummary(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for an unknown session")
	}
}

func TestHandleRecordSummary_Success(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.store.CreateSession("s1", "demo", 1000); err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := makeRequest("record_summary", map[string]any{
		"contentSessionId":        "s1",
		"last_assistant_message": "Fixed the bug in parser.go",
	})

	result, err := s.handleRecordSummary(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %s", resultText(t, result))
	}
}

func TestMarshalEnvelope_RoundTrips(t *testing.T) {
	raw, err := envelope.Marshal(envelope.KindObservation, "s1", envelope.Body{Version: 1, Project: "demo"})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var row queue.Row
	row.Payload = raw
	msg, err := queue.ToPendingMessage(row)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if msg.Kind != envelope.KindObservation || msg.ContentSession != "s1" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
}
