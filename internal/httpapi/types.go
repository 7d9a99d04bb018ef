package httpapi

import "encoding/json"

// observationRequest is the body of POST /api/sessions/observations.
type observationRequest struct {
	ContentSessionID string          `json:"contentSessionId"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	Cwd              string          `json:"cwd"`
}

// summarizeRequest is the body of POST /api/sessions/summarize.
type summarizeRequest struct {
	ContentSessionID    string `json:"contentSessionId"`
	LastAssistantMsg    string `json:"last_assistant_message"`
}

// planAssociateRequest is the body of POST /api/sessions/:id/plan.
type planAssociateRequest struct {
	PlanPath string `json:"planPath"`
	Status   string `json:"status"`
}

// planStatusRequest is the body of PUT /api/sessions/:id/plan/status.
type planStatusRequest struct {
	Status string `json:"status"`
}

// dashboardSessionView is the wire shape of one row in
// GET /api/dashboard/sessions.
type dashboardSessionView struct {
	SessionDbID      int64   `json:"sessionDbId"`
	ContentSessionID string  `json:"contentSessionId"`
	Project          string  `json:"project"`
	Status           string  `json:"status"`
	StartedAt        int64   `json:"startedAt"`
	PlanPath         *string `json:"planPath,omitempty"`
	PlanStatus       *string `json:"planStatus,omitempty"`
}

// planAssociationView is the wire shape of a session's plan association.
type planAssociationView struct {
	SessionDbID int64  `json:"sessionDbId"`
	PlanPath    string `json:"planPath"`
	PlanStatus  string `json:"planStatus"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// healthView is the wire shape of GET /health and GET /api/health.
type healthView struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	QueueDepth   int64  `json:"queueDepth"`
	Processing   bool   `json:"processing"`
	ActiveStream int    `json:"activeStreamClients"`
}
