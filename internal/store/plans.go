package store

import (
	"database/sql"
	"errors"

	"github.com/pilot-dev/memoryd/internal/errs"
)

// PlanStatus enumerates the lifecycle of a plan association.
type PlanStatus string

const (
	PlanPending  PlanStatus = "PENDING"
	PlanComplete PlanStatus = "COMPLETE"
	PlanVerified PlanStatus = "VERIFIED"
)

// ValidPlanStatus reports whether s is one of the enumerated statuses.
func ValidPlanStatus(s string) bool {
	switch PlanStatus(s) {
	case PlanPending, PlanComplete, PlanVerified:
		return true
	}
	return false
}

// SessionPlan is the 1:1 association from a session to a plan file.
type SessionPlan struct {
	SessionDbID int64
	PlanPath    string
	PlanStatus  string
	CreatedAt   string
	UpdatedAt   string
}

const planColumns = `session_db_id, plan_path, plan_status, created_at, updated_at`

func scanPlan(scanner interface{ Scan(...any) error }) (SessionPlan, error) {
	var p SessionPlan
	err := scanner.Scan(&p.SessionDbID, &p.PlanPath, &p.PlanStatus, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// UpsertPlanAssociation creates or updates the plan association for a
// session, using now (RFC3339) for created_at on insert and updated_at on
// every call.
func (s *Store) UpsertPlanAssociation(sessionDbID int64, planPath string, status string, now string) error {
	_, err := s.conn.Exec(`
		INSERT INTO session_plans (session_db_id, plan_path, plan_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_db_id) DO UPDATE SET plan_path = ?, plan_status = ?, updated_at = ?`,
		sessionDbID, planPath, status, now, now,
		planPath, status, now,
	)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "upsert plan association", err)
	}
	return nil
}

// UpdatePlanStatus updates only the status field of an existing association.
func (s *Store) UpdatePlanStatus(sessionDbID int64, status string, now string) error {
	res, err := s.conn.Exec(`UPDATE session_plans SET plan_status = ?, updated_at = ? WHERE session_db_id = ?`, status, now, sessionDbID)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "update plan status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "rows affected", err)
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, "no plan association for session")
	}
	return nil
}

// GetPlanForSession returns the plan association for a session, or nil if
// there is none.
func (s *Store) GetPlanForSession(sessionDbID int64) (*SessionPlan, error) {
	row := s.conn.QueryRow(`SELECT `+planColumns+` FROM session_plans WHERE session_db_id = ?`, sessionDbID)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "get plan for session", err)
	}
	return &p, nil
}

// GetPlanByContentSessionID joins through sdk_sessions to find a plan
// association by the externally supplied session ID.
func (s *Store) GetPlanByContentSessionID(contentSessionID string) (*SessionPlan, error) {
	row := s.conn.QueryRow(`
		SELECT p.session_db_id, p.plan_path, p.plan_status, p.created_at, p.updated_at
		FROM session_plans p
		JOIN sdk_sessions s ON s.id = p.session_db_id
		WHERE s.content_session_id = ?`, contentSessionID)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "get plan by content session id", err)
	}
	return &p, nil
}

// ClearPlanAssociation deletes the plan association for a session, if any.
func (s *Store) ClearPlanAssociation(sessionDbID int64) (bool, error) {
	res, err := s.conn.Exec(`DELETE FROM session_plans WHERE session_db_id = ?`, sessionDbID)
	if err != nil {
		return false, errs.Wrap(errs.KindTransient, "clear plan association", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.KindTransient, "rows affected", err)
	}
	return n > 0, nil
}
