package envelope

import (
	"encoding/json"
	"testing"

	"github.com/pilot-dev/memoryd/internal/queue"
)

func TestMarshalRoundTrips(t *testing.T) {
	raw, err := Marshal(KindObservation, "s1", Body{Version: 1, Project: "demo", Tool: &ToolEvent{ToolName: "Read"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var row queue.Row
	row.Payload = raw
	msg, err := queue.ToPendingMessage(row)
	if err != nil {
		t.Fatalf("ToPendingMessage: %v", err)
	}
	if msg.Kind != KindObservation || msg.ContentSession != "s1" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}

	var body Body
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Project != "demo" || body.Tool == nil || body.Tool.ToolName != "Read" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestProjectFromCwd(t *testing.T) {
	cases := map[string]string{
		"/home/user/demo":  "demo",
		"/home/user/demo/": "demo",
		"":                 "unknown",
	}
	for in, want := range cases {
		if got := ProjectFromCwd(in); got != want {
			t.Errorf("ProjectFromCwd(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolInputField(t *testing.T) {
	raw := json.RawMessage(`{"file_path": "a.go", "n": 1}`)
	if got := ToolInputField(raw, "file_path"); got != "a.go" {
		t.Errorf("ToolInputField = %q, want a.go", got)
	}
	if got := ToolInputField(raw, "missing"); got != "" {
		t.Errorf("ToolInputField(missing) = %q, want empty", got)
	}
	if got := ToolInputField(nil, "file_path"); got != "" {
		t.Errorf("ToolInputField(nil) = %q, want empty", got)
	}
	if got := ToolInputField(json.RawMessage(`not json`), "file_path"); got != "" {
		t.Errorf("ToolInputField(malformed) = %q, want empty", got)
	}
}
