// Package queue implements the durable per-session pending-message queue.
// Producers append; consumers atomically claim-and-delete one row or a
// bounded batch, using SQLite's RETURNING clause so the select and delete
// are a single statement — no separate transaction needed given the
// store's single-connection writer.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/pilot-dev/memoryd/internal/errs"
)

// Row is a durable queue row as stored: an opaque JSON payload the
// consumer is responsible for parsing. Schema-versioned payloads that fail
// to parse are a Corruption error, never fatal to the batch.
type Row struct {
	ID             int64
	SessionID      int64
	Payload        json.RawMessage
	CreatedAtEpoch int64
}

// PendingMessage is a parsed Row.
type PendingMessage struct {
	ID             int64           `json:"-"`
	SessionID      int64           `json:"-"`
	CreatedAtEpoch int64           `json:"-"`
	Kind           string          `json:"kind"`
	ContentSession string          `json:"contentSessionId,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
}

// Queue is the durable pending-message store.
type Queue struct {
	conn *sql.DB
}

// New wraps an existing SQLite connection (shared with internal/store, the
// single logical writer).
func New(conn *sql.DB) *Queue {
	return &Queue{conn: conn}
}

// Enqueue appends a payload for sessionDbID and returns the generated row
// id.
func (q *Queue) Enqueue(sessionDbID int64, payload json.RawMessage, createdAtEpoch int64) (int64, error) {
	res, err := q.conn.Exec(
		`INSERT INTO pending_messages (session_id, payload, created_at_epoch) VALUES (?, ?, ?)`,
		sessionDbID, []byte(payload), createdAtEpoch,
	)
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "enqueue pending message", err)
	}
	return res.LastInsertId()
}

func scanRow(scanner interface{ Scan(...any) error }) (Row, error) {
	var r Row
	var payload []byte
	err := scanner.Scan(&r.ID, &r.SessionID, &payload, &r.CreatedAtEpoch)
	r.Payload = payload
	return r, err
}

// ClaimAndDelete atomically selects and removes the oldest pending row for
// sessionDbID, returning nil if the queue for that session is empty. No
// two concurrent callers can observe the same row (testable property #1).
func (q *Queue) ClaimAndDelete(sessionDbID int64) (*Row, error) {
	row := q.conn.QueryRow(`
		DELETE FROM pending_messages
		WHERE id = (SELECT id FROM pending_messages WHERE session_id = ? ORDER BY id ASC LIMIT 1)
		RETURNING id, session_id, payload, created_at_epoch`, sessionDbID)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "claim and delete", err)
	}
	return &r, nil
}

// ClaimAndDeleteBatch atomically selects and removes up to limit pending
// rows for sessionDbID, oldest first. Returns an empty (nil) slice, never
// an error, when the queue is empty.
func (q *Queue) ClaimAndDeleteBatch(sessionDbID int64, limit int) ([]Row, error) {
	if limit <= 0 {
		return nil, errs.New(errs.KindContractViolation, "limit must be positive")
	}

	rows, err := q.conn.Query(`
		DELETE FROM pending_messages
		WHERE id IN (SELECT id FROM pending_messages WHERE session_id = ? ORDER BY id ASC LIMIT ?)
		RETURNING id, session_id, payload, created_at_epoch`, sessionDbID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "claim and delete batch", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, "scan claimed row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "claim and delete batch", err)
	}

	// RETURNING does not guarantee row order; the DELETE's own ORDER BY
	// only bounds which rows are selected, not the order they come back.
	// Re-sort by id so callers see strict enqueue (FIFO) order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ToPendingMessage parses a Row's opaque payload. A malformed payload is a
// Corruption error: the caller logs it and skips the row, never aborting
// the surrounding batch.
func ToPendingMessage(r Row) (PendingMessage, error) {
	var msg PendingMessage
	if err := json.Unmarshal(r.Payload, &msg); err != nil {
		return PendingMessage{}, errs.Wrap(errs.KindCorruption, fmt.Sprintf("malformed payload in queue row %d", r.ID), err)
	}
	msg.ID = r.ID
	msg.SessionID = r.SessionID
	msg.CreatedAtEpoch = r.CreatedAtEpoch
	return msg, nil
}
