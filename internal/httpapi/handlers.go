package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pilot-dev/memoryd/internal/contextengine"
	"github.com/pilot-dev/memoryd/internal/envelope"
	"github.com/pilot-dev/memoryd/internal/errs"
	"github.com/pilot-dev/memoryd/internal/planfile"
	"github.com/pilot-dev/memoryd/internal/store"
)

func nowEpochMs() int64 { return time.Now().UnixMilli() }

// handleDashboardSessions implements GET /api/dashboard/sessions.
func (s *Server) handleDashboardSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.GetDashboardSessions()
	if err != nil {
		writeErr(w, err)
		return
	}
	excluded := make(map[string]bool, len(s.cfg.ExcludeProjects))
	for _, p := range s.cfg.ExcludeProjects {
		excluded[p] = true
	}
	out := make([]dashboardSessionView, 0, len(rows))
	for _, row := range rows {
		if excluded[row.Project] {
			continue
		}
		out = append(out, dashboardSessionView{
			SessionDbID:      row.SessionDbID,
			ContentSessionID: row.ContentSessionID,
			Project:          row.Project,
			Status:           row.Status,
			StartedAt:        row.StartedAt,
			PlanPath:         row.PlanPath,
			PlanStatus:       row.PlanStatus,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleObservation implements POST /api/sessions/observations. It
// persists the raw event as a pending-message row and returns
// immediately; materialization into the observations/user_prompts table
// happens asynchronously on the session's queue processor.
func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ContentSessionID == "" || req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId and tool_name are required")
		return
	}

	project := envelope.ProjectFromCwd(req.Cwd)
	sessionDbID, err := s.store.CreateSession(req.ContentSessionID, project, nowEpochMs())
	if err != nil {
		writeErr(w, err)
		return
	}

	body := envelope.Body{Version: 1, Project: project}
	kind := envelope.KindObservation
	if req.ToolName == envelope.ToolNamePromptSentinel {
		kind = envelope.KindPrompt
		body.Prompt = &envelope.PromptPayload{Text: envelope.ToolInputField(req.ToolInput, "prompt")}
	} else {
		body.Tool = &envelope.ToolEvent{ToolName: req.ToolName, ToolInput: req.ToolInput, ToolResponse: req.ToolResponse}
	}

	raw, err := envelope.Marshal(kind, req.ContentSessionID, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.sessions.Submit(sessionDbID, raw, nowEpochMs()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleSummarize implements POST /api/sessions/summarize.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ContentSessionID == "" || req.LastAssistantMsg == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId and last_assistant_message are required")
		return
	}

	sess, err := s.store.GetSessionByContentID(req.ContentSessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sess == nil {
		writeErr(w, errs.New(errs.KindNotFound, "unknown session "+req.ContentSessionID))
		return
	}

	body := envelope.Body{
		Version: 1,
		Project: sess.Project,
		Summary: &envelope.SummaryPayload{LastAssistantMessage: req.LastAssistantMsg},
	}
	raw, err := envelope.Marshal(envelope.KindSummary, req.ContentSessionID, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.sessions.Submit(sess.ID, raw, nowEpochMs()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleContextInject implements GET /api/context/inject.
func (s *Server) handleContextInject(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.cfg.NoContext {
		return
	}

	q := r.URL.Query()
	var projects []string
	if csv := q.Get("projects"); csv != "" {
		projects = splitCSV(csv)
	} else if single := q.Get("project"); single != "" {
		projects = []string{single}
	}

	renderMode := contextengine.RenderMarkdown
	if q.Get("colors") == "true" {
		renderMode = contextengine.RenderANSI
	}

	doc, err := s.ctxengine.Render(contextengine.Query{
		Projects:         projects,
		CurrentSessionID: q.Get("sessionId"),
		CurrentCwd:       q.Get("cwd"),
		PlanPath:         q.Get("planPath"),
		RenderMode:       renderMode,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	_, _ = w.Write([]byte(doc))
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// --- Plan file routes ---

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	metas, err := planfile.List(project)
	if err != nil {
		writeErr(w, errs.Wrap(errs.KindTransient, "list plans", err))
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleActivePlan(w http.ResponseWriter, r *http.Request) {
	home, err := os.UserHomeDir()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	ap, ok := planfile.ReadActivePlan(home, s.cfg.PilotSessionID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, ap)
}

func (s *Server) resolvePlanRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	project := r.URL.Query().Get("project")
	name := r.URL.Query().Get("path")
	if project == "" || name == "" {
		writeError(w, http.StatusBadRequest, "project and path are required")
		return "", false
	}
	resolved, err := planfile.Resolve(project, name)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return "", false
	}
	return resolved, true
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.resolvePlanRequest(w, r)
	if !ok {
		return
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		writeErr(w, errs.Wrap(errs.KindNotFound, "plan file not found", err))
		return
	}
	meta := planfile.Parse(content)
	meta.Path = r.URL.Query().Get("path")
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleGetPlanContent(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.resolvePlanRequest(w, r)
	if !ok {
		return
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		writeErr(w, errs.Wrap(errs.KindNotFound, "plan file not found", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(content)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.resolvePlanRequest(w, r)
	if !ok {
		return
	}
	if err := os.Remove(resolved); err != nil {
		if os.IsNotExist(err) {
			writeErr(w, errs.Wrap(errs.KindNotFound, "plan file not found", err))
			return
		}
		writeErr(w, errs.Wrap(errs.KindTransient, "delete plan file", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// --- Session <-> plan association routes ---

func (s *Server) sessionIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

func (s *Server) sessionIDFromContentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	cid := r.PathValue("cid")
	sess, err := s.store.GetSessionByContentID(cid)
	if err != nil {
		writeErr(w, err)
		return 0, false
	}
	if sess == nil {
		writeErr(w, errs.New(errs.KindNotFound, "unknown content session id "+cid))
		return 0, false
	}
	return sess.ID, true
}

func (s *Server) handleAssociatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}
	s.associatePlan(w, r, id)
}

func (s *Server) handleAssociatePlanByContentID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromContentID(w, r)
	if !ok {
		return
	}
	s.associatePlan(w, r, id)
}

func (s *Server) associatePlan(w http.ResponseWriter, r *http.Request, sessionDbID int64) {
	var req planAssociateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PlanPath == "" {
		writeError(w, http.StatusBadRequest, "planPath is required")
		return
	}
	if req.Status == "" {
		req.Status = string(store.PlanPending)
	}
	if err := s.plans.Associate(sessionDbID, req.PlanPath, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleGetSessionPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}
	s.getSessionPlan(w, id)
}

func (s *Server) handleGetSessionPlanByContentID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromContentID(w, r)
	if !ok {
		return
	}
	s.getSessionPlan(w, id)
}

func (s *Server) getSessionPlan(w http.ResponseWriter, sessionDbID int64) {
	plan, err := s.plans.GetForSession(sessionDbID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if plan == nil {
		writeErr(w, errs.New(errs.KindNotFound, "no plan associated with session"))
		return
	}
	writeJSON(w, http.StatusOK, planAssociationView{
		SessionDbID: sessionDbID,
		PlanPath:    plan.PlanPath,
		PlanStatus:  plan.PlanStatus,
		CreatedAt:   plan.CreatedAt,
		UpdatedAt:   plan.UpdatedAt,
	})
}

func (s *Server) handleClearSessionPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}
	s.clearSessionPlan(w, id)
}

func (s *Server) handleClearSessionPlanByContentID(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromContentID(w, r)
	if !ok {
		return
	}
	s.clearSessionPlan(w, id)
}

func (s *Server) clearSessionPlan(w http.ResponseWriter, sessionDbID int64) {
	if err := s.plans.Clear(sessionDbID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionIDFromPath(w, r)
	if !ok {
		return
	}
	var req planStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.plans.UpdateStatus(id, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// --- SSE stream ---

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := s.broadcast.Subscribe()
	defer unsubscribe()

	projects, _ := s.store.ListProjects()
	s.writeFrame(w, flusher, map[string]any{"type": "initial_load", "payload": map[string]any{"projects": projects}})
	s.writeFrame(w, flusher, map[string]any{
		"type": "processing_status",
		"payload": map[string]any{
			"queueDepth": s.sessions.QueueDepth(),
			"processing": s.sessions.Processing(),
		},
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, err := ev.Frame()
			if err != nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
