package planfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlan(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
}

const samplePlan = `Status: in_progress
Approved: yes
Iterations: 3

- [x] write the parser
- [x] wire it into List
- [ ] add tests
`

func TestResolveAcceptsDescendant(t *testing.T) {
	root := t.TempDir()
	writePlan(t, PlansDir(root), "foo.md", samplePlan)

	got, err := Resolve(root, "foo.md")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(PlansDir(root), "foo.md")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	cases := []string{
		"../secrets.md",
		"../../etc/passwd.md",
		"foo/../../bar.md",
	}
	for _, name := range cases {
		if _, err := Resolve(root, name); err != ErrOutsidePlansDir {
			t.Errorf("Resolve(%q): expected ErrOutsidePlansDir, got %v", name, err)
		}
	}
}

func TestResolveRejectsNonMarkdown(t *testing.T) {
	root := t.TempDir()
	if _, err := Resolve(root, "foo.txt"); err != ErrOutsidePlansDir {
		t.Fatalf("expected ErrOutsidePlansDir for non-.md suffix, got %v", err)
	}
}

func TestListEmptyDirReturnsNilNotError(t *testing.T) {
	root := t.TempDir()
	metas, err := List(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("expected no plans, got %d", len(metas))
	}
}

func TestListParsesAndSorts(t *testing.T) {
	root := t.TempDir()
	writePlan(t, PlansDir(root), "b.md", samplePlan)
	writePlan(t, PlansDir(root), "a.md", "Status: done\n")
	writePlan(t, PlansDir(root), "ignore.txt", "not markdown")

	metas, err := List(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(metas))
	}
	if metas[0].Name != "a.md" || metas[1].Name != "b.md" {
		t.Fatalf("expected sorted [a.md b.md], got [%s %s]", metas[0].Name, metas[1].Name)
	}
	if metas[1].Status != "in_progress" {
		t.Errorf("expected status in_progress, got %q", metas[1].Status)
	}
	if metas[1].TasksTotal != 3 || metas[1].TasksDone != 2 {
		t.Errorf("expected 2/3 tasks done, got %d/%d", metas[1].TasksDone, metas[1].TasksTotal)
	}
}

func TestParseHeaderFields(t *testing.T) {
	m := Parse([]byte(samplePlan))
	if m.Status != "in_progress" {
		t.Errorf("expected status in_progress, got %q", m.Status)
	}
	if m.Approved != "yes" {
		t.Errorf("expected approved yes, got %q", m.Approved)
	}
	if m.Iterations != "3" {
		t.Errorf("expected iterations 3, got %q", m.Iterations)
	}
}

func TestParseTaskCounts(t *testing.T) {
	m := Parse([]byte("- [x] a\n- [x] b\n- [ ] c\n- [ ] d\n"))
	if m.TasksTotal != 4 {
		t.Fatalf("expected 4 tasks, got %d", m.TasksTotal)
	}
	if m.TasksDone != 2 {
		t.Fatalf("expected 2 done, got %d", m.TasksDone)
	}
}

func TestParseNoTasksOrHeader(t *testing.T) {
	m := Parse([]byte("Just a plain paragraph with no colon fields.\n"))
	if m.TasksTotal != 0 || m.Status != "" {
		t.Fatalf("expected empty meta, got %+v", m)
	}
}

func TestReadActivePlanMissingFile(t *testing.T) {
	home := t.TempDir()
	if _, ok := ReadActivePlan(home, "session-1"); ok {
		t.Fatal("expected false for a missing active plan file")
	}
}

func TestReadActivePlanEmptySessionID(t *testing.T) {
	home := t.TempDir()
	if _, ok := ReadActivePlan(home, ""); ok {
		t.Fatal("expected false for an empty pilot session id")
	}
}

func TestReadActivePlanValid(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".pilot", "sessions", "session-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"plan_path":"docs/plans/foo.md","status":"in_progress"}`
	if err := os.WriteFile(filepath.Join(dir, "active_plan.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ap, ok := ReadActivePlan(home, "session-1")
	if !ok {
		t.Fatal("expected true for a valid active plan file")
	}
	if ap.PlanPath != "docs/plans/foo.md" || ap.Status != "in_progress" {
		t.Fatalf("unexpected active plan: %+v", ap)
	}
}

func TestReadActivePlanMalformedJSON(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".pilot", "sessions", "session-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "active_plan.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := ReadActivePlan(home, "session-1"); ok {
		t.Fatal("expected false for malformed JSON")
	}
}

func TestFormatIterations(t *testing.T) {
	if got := FormatIterations(" 5 "); got != "5" {
		t.Errorf("expected 5, got %q", got)
	}
	if got := FormatIterations("unknown"); got != "unknown" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
