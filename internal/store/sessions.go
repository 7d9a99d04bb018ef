package store

import (
	"database/sql"
	"fmt"

	"github.com/pilot-dev/memoryd/internal/errs"
)

// Session is the stable identity of one editor conversation.
type Session struct {
	ID               int64
	ContentSessionID string
	MemorySessionID  string
	Project          string
	Status           string // "active" or "completed"
	StartedAt        int64  // epoch ms
}

// CreateSession inserts a new session row, or returns the existing row's ID
// if contentSessionID has already been seen (idempotent on duplicate).
func (s *Store) CreateSession(contentSessionID, project string, startedAt int64) (int64, error) {
	existing, err := s.GetSessionByContentID(contentSessionID)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	res, err := s.conn.Exec(
		`INSERT INTO sdk_sessions (content_session_id, memory_session_id, project, status, started_at)
		 VALUES (?, ?, ?, 'active', ?)`,
		contentSessionID, contentSessionID, project, startedAt,
	)
	if err != nil {
		// Another writer raced us between the lookup and the insert; fall
		// back to the now-existing row rather than surfacing a UNIQUE
		// constraint violation.
		if existing, lookupErr := s.GetSessionByContentID(contentSessionID); lookupErr == nil && existing != nil {
			return existing.ID, nil
		}
		return 0, errs.Wrap(errs.KindTransient, "insert session", err)
	}
	return res.LastInsertId()
}

const sessionColumns = `id, content_session_id, memory_session_id, project, status, started_at`

func scanSession(scanner interface{ Scan(...any) error }, sess *Session) error {
	return scanner.Scan(&sess.ID, &sess.ContentSessionID, &sess.MemorySessionID, &sess.Project, &sess.Status, &sess.StartedAt)
}

// GetSessionByContentID looks up a session by its externally supplied ID.
func (s *Store) GetSessionByContentID(contentSessionID string) (*Session, error) {
	row := s.conn.QueryRow(`SELECT `+sessionColumns+` FROM sdk_sessions WHERE content_session_id = ?`, contentSessionID)
	sess := &Session{}
	if err := scanSession(row, sess); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "get session by content id", err)
	}
	return sess, nil
}

// GetSession looks up a session by its internal numeric ID.
func (s *Store) GetSession(sessionDbID int64) (*Session, error) {
	row := s.conn.QueryRow(`SELECT `+sessionColumns+` FROM sdk_sessions WHERE id = ?`, sessionDbID)
	sess := &Session{}
	if err := scanSession(row, sess); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "get session", err)
	}
	return sess, nil
}

// UpdateMemorySessionID rewrites the session's memory_session_id, the key
// observations and summaries are joined on, inside one transaction. Only
// the sdk_sessions row changes: observations, summaries, and prompts
// already stored under the old id keep it and no longer join to this
// session. See DESIGN.md "Open Question decisions".
func (s *Store) UpdateMemorySessionID(sessionDbID int64, newMemoryID string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "begin remap tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE sdk_sessions SET memory_session_id = ? WHERE id = ?`, newMemoryID, sessionDbID)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "update memory session id", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindTransient, "rows affected", err)
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, fmt.Sprintf("session %d not found", sessionDbID))
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindTransient, "commit remap tx", err)
	}
	return nil
}

// MarkCompleted transitions a session to status="completed".
func (s *Store) MarkCompleted(sessionDbID int64) error {
	_, err := s.conn.Exec(`UPDATE sdk_sessions SET status = 'completed' WHERE id = ?`, sessionDbID)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "mark session completed", err)
	}
	return nil
}

// DeleteSession removes a session row. ON DELETE CASCADE takes the
// associated session_plans row and pending_messages rows with it.
// Observations/summaries/prompts are keyed by memory_session_id, not the
// numeric id, so they are not cascade-deleted; retention prunes those.
func (s *Store) DeleteSession(sessionDbID int64) error {
	_, err := s.conn.Exec(`DELETE FROM sdk_sessions WHERE id = ?`, sessionDbID)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "delete session", err)
	}
	return nil
}

// ListProjects returns the distinct set of project names with at least one
// session, excluding nothing; EXCLUDE_PROJECTS is not applied here, and
// the SSE initial_load frame sends this list as is.
func (s *Store) ListProjects() ([]string, error) {
	rows, err := s.conn.Query(`SELECT DISTINCT project FROM sdk_sessions ORDER BY project`)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "list projects", err)
	}
	defer rows.Close() //nolint:errcheck

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errs.Wrap(errs.KindTransient, "scan project", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DashboardSession is the LEFT JOIN of a session with its plan association,
// filtered to status='active', for GET /api/dashboard/sessions.
type DashboardSession struct {
	SessionDbID      int64
	ContentSessionID string
	Project          string
	Status           string
	StartedAt        int64
	PlanPath         *string
	PlanStatus       *string
}

// GetDashboardSessions returns active sessions ordered by startedAt
// descending, LEFT JOINed with their plan association if any.
func (s *Store) GetDashboardSessions() ([]DashboardSession, error) {
	rows, err := s.conn.Query(`
		SELECT s.id, s.content_session_id, s.project, s.status, s.started_at,
		       p.plan_path, p.plan_status
		FROM sdk_sessions s
		LEFT JOIN session_plans p ON p.session_db_id = s.id
		WHERE s.status = 'active'
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "get dashboard sessions", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []DashboardSession
	for rows.Next() {
		var d DashboardSession
		if err := rows.Scan(&d.SessionDbID, &d.ContentSessionID, &d.Project, &d.Status, &d.StartedAt, &d.PlanPath, &d.PlanStatus); err != nil {
			return nil, errs.Wrap(errs.KindTransient, "scan dashboard session", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
