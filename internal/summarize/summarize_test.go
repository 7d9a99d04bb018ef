package summarize

import "testing"

func TestParseSummaryPlainJSON(t *testing.T) {
	s, err := parseSummary(`{"request":"fix the flaky test","investigated":"race in the queue drain","learned":null,"completed":"added a mutex","nextSteps":null}`)
	if err != nil {
		t.Fatalf("parseSummary: %v", err)
	}
	if s.Request != "fix the flaky test" {
		t.Fatalf("unexpected request: %q", s.Request)
	}
	if s.Investigated == nil || *s.Investigated != "race in the queue drain" {
		t.Fatalf("unexpected investigated: %v", s.Investigated)
	}
	if s.Learned != nil {
		t.Fatalf("expected nil learned, got %v", s.Learned)
	}
}

func TestParseSummaryStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"request\":\"add retries\",\"investigated\":null,\"learned\":null,\"completed\":null,\"nextSteps\":null}\n```"
	s, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("parseSummary: %v", err)
	}
	if s.Request != "add retries" {
		t.Fatalf("unexpected request: %q", s.Request)
	}
}

func TestParseSummaryMissingRequestErrors(t *testing.T) {
	_, err := parseSummary(`{"investigated":"x"}`)
	if err == nil {
		t.Fatal("expected error for missing request field")
	}
}

func TestParseSummaryInvalidJSONErrors(t *testing.T) {
	_, err := parseSummary("not json at all")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
