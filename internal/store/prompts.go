package store

import "github.com/pilot-dev/memoryd/internal/errs"

// UserPrompt is the literal prompt text for one turn of a session, ordered
// by PromptNumber within the session.
type UserPrompt struct {
	ID              int64
	MemorySessionID string
	Project         string
	PromptNumber    int
	Text            string
	CreatedAtEpoch  int64
}

// InsertUserPrompt stores a prompt and returns its generated ID.
func (s *Store) InsertUserPrompt(p *UserPrompt) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO user_prompts (memory_session_id, project, prompt_number, text, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)`,
		p.MemorySessionID, p.Project, p.PromptNumber, p.Text, p.CreatedAtEpoch,
	)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "insert user prompt", err)
	}
	return res.LastInsertId()
}

// NextPromptNumber returns the next PromptNumber to use for a session
// (1-indexed).
func (s *Store) NextPromptNumber(memorySessionID string) (int, error) {
	var max int
	err := s.conn.QueryRow(`SELECT COALESCE(MAX(prompt_number), 0) FROM user_prompts WHERE memory_session_id = ?`, memorySessionID).Scan(&max)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "next prompt number", err)
	}
	return max + 1, nil
}

// ListUserPrompts returns prompts for a session ordered by PromptNumber.
func (s *Store) ListUserPrompts(memorySessionID string) ([]UserPrompt, error) {
	rows, err := s.conn.Query(`
		SELECT id, memory_session_id, project, prompt_number, text, created_at_epoch
		FROM user_prompts WHERE memory_session_id = ? ORDER BY prompt_number ASC`, memorySessionID)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "list user prompts", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []UserPrompt
	for rows.Next() {
		var p UserPrompt
		if err := rows.Scan(&p.ID, &p.MemorySessionID, &p.Project, &p.PromptNumber, &p.Text, &p.CreatedAtEpoch); err != nil {
			return nil, errs.Wrap(errs.KindTransient, "scan user prompt", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
