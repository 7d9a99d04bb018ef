// Package planstore implements session-to-plan association CRUD,
// broadcasting plan_association_changed on every successful mutation and
// on no other call.
package planstore

import (
	"time"

	"github.com/pilot-dev/memoryd/internal/errs"
	"github.com/pilot-dev/memoryd/internal/store"
)

// Publisher is the minimal SSE fan-out surface planstore needs. Defined
// here (rather than depending on internal/sse directly) so the two
// packages don't form an import cycle; internal/sse.Broadcaster satisfies
// it.
type Publisher interface {
	Publish(eventType string, payload any)
}

// PlanStore is a thin, broadcast-aware wrapper around the store's plan
// association operations.
type PlanStore struct {
	store *store.Store
	pub   Publisher
	now   func() time.Time
}

// New creates a PlanStore. pub may be nil, in which case mutations are
// silent (used by tests that don't care about SSE fan-out).
func New(s *store.Store, pub Publisher) *PlanStore {
	return &PlanStore{store: s, pub: pub, now: time.Now}
}

type changedEvent struct {
	SessionDbID int64  `json:"sessionDbId"`
	PlanPath    string `json:"planPath,omitempty"`
	PlanStatus  string `json:"planStatus,omitempty"`
	Action      string `json:"action"`
}

func (p *PlanStore) broadcast(action string, sessionDbID int64, planPath, status string) {
	if p.pub == nil {
		return
	}
	p.pub.Publish("plan_association_changed", changedEvent{
		SessionDbID: sessionDbID,
		PlanPath:    planPath,
		PlanStatus:  status,
		Action:      action,
	})
}

// Associate upserts the plan association for sessionDbID.
func (p *PlanStore) Associate(sessionDbID int64, planPath, status string) error {
	if !store.ValidPlanStatus(status) {
		return errs.New(errs.KindContractViolation, "invalid plan status: "+status)
	}
	now := p.now().UTC().Format(time.RFC3339)
	if err := p.store.UpsertPlanAssociation(sessionDbID, planPath, status, now); err != nil {
		return err
	}
	p.broadcast("associate", sessionDbID, planPath, status)
	return nil
}

// UpdateStatus updates only the status of an existing association.
func (p *PlanStore) UpdateStatus(sessionDbID int64, status string) error {
	if !store.ValidPlanStatus(status) {
		return errs.New(errs.KindContractViolation, "invalid plan status: "+status)
	}
	now := p.now().UTC().Format(time.RFC3339)
	if err := p.store.UpdatePlanStatus(sessionDbID, status, now); err != nil {
		return err
	}
	plan, err := p.store.GetPlanForSession(sessionDbID)
	planPath := ""
	if err == nil && plan != nil {
		planPath = plan.PlanPath
	}
	p.broadcast("status", sessionDbID, planPath, status)
	return nil
}

// Clear removes the plan association for sessionDbID, if any.
func (p *PlanStore) Clear(sessionDbID int64) error {
	existed, err := p.store.ClearPlanAssociation(sessionDbID)
	if err != nil {
		return err
	}
	if existed {
		p.broadcast("clear", sessionDbID, "", "")
	}
	return nil
}

// GetForSession returns the plan association for a session, or nil.
func (p *PlanStore) GetForSession(sessionDbID int64) (*store.SessionPlan, error) {
	return p.store.GetPlanForSession(sessionDbID)
}

// GetByContentSessionID returns the plan association for a session looked
// up by its externally supplied content session id, or nil.
func (p *PlanStore) GetByContentSessionID(contentSessionID string) (*store.SessionPlan, error) {
	return p.store.GetPlanByContentSessionID(contentSessionID)
}
