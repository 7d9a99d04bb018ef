package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/pilot-dev/memoryd/internal/errs"
)

// SessionSummary is one end-of-turn synthesis.
type SessionSummary struct {
	ID              int64
	MemorySessionID string
	Project         string
	Request         string
	Investigated    *string
	Learned         *string
	Completed       *string
	NextSteps       *string
	CreatedAtEpoch  int64
}

// InsertSessionSummary stores a summary and returns its generated ID.
func (s *Store) InsertSessionSummary(sum *SessionSummary) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO session_summaries (memory_session_id, project, request, investigated, learned, completed, next_steps, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.MemorySessionID, sum.Project, sum.Request, sum.Investigated, sum.Learned, sum.Completed, sum.NextSteps, sum.CreatedAtEpoch,
	)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "insert session summary", err)
	}
	return res.LastInsertId()
}

const summaryColumns = `id, memory_session_id, project, request, investigated, learned, completed, next_steps, created_at_epoch`

func scanSummary(scanner interface{ Scan(...any) error }) (SessionSummary, error) {
	var sum SessionSummary
	err := scanner.Scan(&sum.ID, &sum.MemorySessionID, &sum.Project, &sum.Request, &sum.Investigated, &sum.Learned, &sum.Completed, &sum.NextSteps, &sum.CreatedAtEpoch)
	return sum, err
}

// SummaryFilter narrows a session-summary query, mirroring ObservationFilter.
type SummaryFilter struct {
	Project  string
	PlanPath string
	Limit    int
	Offset   int
}

// ListSessionSummaries returns the most recent summaries for a project,
// applying the same plan-scope join as ListObservations.
func (s *Store) ListSessionSummaries(f SummaryFilter) ([]SessionSummary, bool, error) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT ` + qualify(summaryColumns, "su") + ` FROM session_summaries su`)
	if f.PlanPath != "" {
		b.WriteString(` LEFT JOIN sdk_sessions s ON s.memory_session_id = su.memory_session_id`)
		b.WriteString(` LEFT JOIN session_plans p ON p.session_db_id = s.id`)
	}
	b.WriteString(` WHERE su.project = ?`)
	args = append(args, f.Project)

	if f.PlanPath != "" {
		b.WriteString(` AND (p.plan_path IS NULL OR p.plan_path = ?)`)
		args = append(args, f.PlanPath)
	}

	b.WriteString(` ORDER BY su.created_at_epoch DESC, su.id DESC LIMIT ? OFFSET ?`)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit+1, f.Offset)

	rows, err := s.conn.Query(b.String(), args...)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindTransient, "list session summaries", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, false, errs.Wrap(errs.KindTransient, "scan session summary", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errs.Wrap(errs.KindTransient, "list session summaries", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// LatestSummaryForSession returns the most recent summary for a memory
// session id, or nil if none exists.
func (s *Store) LatestSummaryForSession(memorySessionID string) (*SessionSummary, error) {
	row := s.conn.QueryRow(`SELECT `+summaryColumns+` FROM session_summaries WHERE memory_session_id = ? ORDER BY created_at_epoch DESC, id DESC LIMIT 1`, memorySessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "latest summary for session", err)
	}
	return &sum, nil
}
