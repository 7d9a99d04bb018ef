// Package planfile implements the filesystem side of plan discovery:
// locating and parsing plan Markdown files under
// <projectRoot>/docs/plans/, reading the per-editor-session "active plan"
// pointer, and enforcing the path-traversal rule shared by every plan
// route. Header and task-list parsing walks a goldmark AST instead of
// hand-rolled regexes over raw bytes.
package planfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// PlansDirName is the fixed subdirectory plan files live under, relative
// to a project root.
const PlansDirName = "docs/plans"

var parser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Meta is the parsed header/task-list summary of one plan file.
type Meta struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Status     string `json:"status,omitempty"`
	Approved   string `json:"approved,omitempty"`
	Iterations string `json:"iterations,omitempty"`
	TasksDone  int    `json:"tasksDone"`
	TasksTotal int    `json:"tasksTotal"`
}

// ErrOutsidePlansDir is returned by Resolve when the requested path is not
// a descendant of <projectRoot>/docs/plans, or does not end in ".md".
// Every plan route in internal/httpapi maps this to HTTP 403 (testable
// property #6).
var ErrOutsidePlansDir = fmt.Errorf("path escapes the project plans directory")

// PlansDir returns the canonical plans directory for a project root.
func PlansDir(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	return filepath.Join(abs, filepath.FromSlash(PlansDirName))
}

// Resolve validates name (a bare filename or a relative path) against
// projectRoot's plans directory and returns the canonical absolute path.
// It rejects any request whose canonical path is not a descendant of the
// plans directory or whose suffix is not ".md".
func Resolve(projectRoot, name string) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		return "", ErrOutsidePlansDir
	}
	plansDir := PlansDir(projectRoot)
	candidate := filepath.Join(plansDir, name)

	resolved, err := filepath.Abs(candidate)
	if err != nil {
		return "", ErrOutsidePlansDir
	}
	// filepath.Join cleans the joined path, so ".." segments in name are
	// applied lexically; a name that climbs out of plansDir leaves a
	// relative path starting with "..". The check is lexical only and
	// does not follow symlinks.
	rel, err := filepath.Rel(plansDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsidePlansDir
	}
	if !strings.HasSuffix(resolved, ".md") {
		return "", ErrOutsidePlansDir
	}
	return resolved, nil
}

// List enumerates every *.md file directly under projectRoot's plans
// directory, parsed into Meta. A missing plans directory yields an empty
// list, not an error.
func List(projectRoot string) ([]Meta, error) {
	plansDir := PlansDir(projectRoot)
	entries, err := os.ReadDir(plansDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plans dir: %w", err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".md") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(plansDir, ent.Name()))
		if err != nil {
			continue // Corruption-class: skip unreadable files, never abort the listing.
		}
		m := Parse(content)
		m.Name = ent.Name()
		m.Path = filepath.ToSlash(filepath.Join(PlansDirName, ent.Name()))
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// Parse extracts Status/Approved/Iterations header fields and task-list
// checkbox counts from a plan file's content.
func Parse(content []byte) Meta {
	var m Meta
	doc := parser.Parser().Parse(text.NewReader(content))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Paragraph:
			applyHeaderLine(&m, plainText(v, content))
		case *ast.ListItem:
			if cb := findTaskCheckbox(v); cb != nil {
				m.TasksTotal++
				if cb.IsChecked {
					m.TasksDone++
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return m
}

func applyHeaderLine(m *Meta, line string) {
	for _, raw := range strings.Split(line, "\n") {
		field, value, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(field) {
		case "Status":
			m.Status = value
		case "Approved":
			m.Approved = value
		case "Iterations":
			m.Iterations = value
		}
	}
}

func plainText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		}
	}
	return buf.String()
}

func findTaskCheckbox(n ast.Node) *east.TaskCheckBox {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if cb, ok := c.(*east.TaskCheckBox); ok {
			return cb
		}
		if found := findTaskCheckbox(c); found != nil {
			return found
		}
	}
	return nil
}

// ActivePlan is the contents of ~/.pilot/sessions/<id>/active_plan.json.
type ActivePlan struct {
	PlanPath string `json:"plan_path"`
	Status   string `json:"status"`
}

// ActivePlanPath returns the per-editor-session active-plan pointer file
// path for a given pilot session id.
func ActivePlanPath(homeDir, pilotSessionID string) string {
	return filepath.Join(homeDir, ".pilot", "sessions", pilotSessionID, "active_plan.json")
}

// ReadActivePlan tolerantly reads and parses the active-plan pointer file.
// A missing file or malformed JSON both yield (ActivePlan{}, false) rather
// than an error — context injection simply omits planPath scoping.
func ReadActivePlan(homeDir, pilotSessionID string) (ActivePlan, bool) {
	if pilotSessionID == "" {
		return ActivePlan{}, false
	}
	data, err := os.ReadFile(ActivePlanPath(homeDir, pilotSessionID))
	if err != nil {
		return ActivePlan{}, false
	}
	var ap ActivePlan
	if err := json.Unmarshal(data, &ap); err != nil {
		return ActivePlan{}, false
	}
	if ap.PlanPath == "" {
		return ActivePlan{}, false
	}
	return ap, true
}

// FormatIterations renders an iterations count for display when the
// header field was numeric-only; it is otherwise passed through verbatim.
func FormatIterations(raw string) string {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return strconv.Itoa(n)
	}
	return raw
}
