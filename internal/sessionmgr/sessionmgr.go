// Package sessionmgr implements the active-session registry that lazily
// starts one queueproc.Processor per
// session on first enqueue, evicts it on idle timeout, and reports the
// aggregated queue depth and processing flag the health endpoints expose.
package sessionmgr

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilot-dev/memoryd/internal/notify"
	"github.com/pilot-dev/memoryd/internal/queue"
	"github.com/pilot-dev/memoryd/internal/queueproc"
)

// Handler materializes one drained pending message into the store and
// notifies subscribers. Returning an error only logs; it never stops the
// processor, so one malformed message never blocks the rest of a
// session's queue.
type Handler func(ctx context.Context, sessionDbID int64, msg queue.PendingMessage) error

// Options configures the Manager. Zero values fall back to queueproc's
// own defaults (180s idle timeout, batch size 10).
type Options struct {
	IdleTimeout  time.Duration
	MaxBatchSize int
}

type activeSession struct {
	cancel     context.CancelFunc
	depth      atomic.Int64
	processing atomic.Bool
}

// Manager is the active-session registry. One Manager is shared by every
// call to Submit across the process's lifetime.
type Manager struct {
	q       *queue.Queue
	bus     *notify.Bus
	handler Handler
	opts    Options

	mu       sync.Mutex
	sessions map[int64]*activeSession
}

// New creates a Manager. handler is invoked once per drained message, on
// the session's own processor goroutine.
func New(q *queue.Queue, bus *notify.Bus, handler Handler, opts Options) *Manager {
	return &Manager{
		q:        q,
		bus:      bus,
		handler:  handler,
		opts:     opts,
		sessions: make(map[int64]*activeSession),
	}
}

// Submit enqueues a payload for sessionDbID and ensures a drain goroutine
// is running for that session, starting one if this is the session's
// first pending message since the last idle eviction.
func (m *Manager) Submit(sessionDbID int64, payload json.RawMessage, createdAtEpoch int64) (int64, error) {
	id, err := m.q.Enqueue(sessionDbID, payload, createdAtEpoch)
	if err != nil {
		return 0, err
	}

	as := m.ensureSession(sessionDbID)
	as.depth.Add(1)
	m.bus.Notify()
	return id, nil
}

func (m *Manager) ensureSession(sessionDbID int64) *activeSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if as, ok := m.sessions[sessionDbID]; ok {
		return as
	}

	ctx, cancel := context.WithCancel(context.Background())
	as := &activeSession{cancel: cancel}
	m.sessions[sessionDbID] = as
	go m.drain(ctx, sessionDbID, as)
	return as
}

func (m *Manager) drain(ctx context.Context, sessionDbID int64, as *activeSession) {
	proc := queueproc.New(m.q, m.bus, queueproc.Config{
		SessionDbID:   sessionDbID,
		IdleTimeout:   m.opts.IdleTimeout,
		MaxBatchSize:  m.opts.MaxBatchSize,
		OnIdleTimeout: func() { m.evict(sessionDbID) },
	})

	for rows := range proc.Batch(ctx) {
		as.processing.Store(true)
		for _, row := range rows {
			as.depth.Add(-1)
			msg, err := queue.ToPendingMessage(row)
			if err != nil {
				log.Printf("sessionmgr: session %d: corrupt pending message %d dropped: %v", sessionDbID, row.ID, err)
				continue
			}
			if err := m.handler(ctx, sessionDbID, msg); err != nil {
				log.Printf("sessionmgr: session %d: handler error for message %d: %v", sessionDbID, row.ID, err)
			}
		}
		as.processing.Store(false)
	}

	m.evict(sessionDbID)
}

func (m *Manager) evict(sessionDbID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionDbID)
}

// QueueDepth returns the sum of pending messages across every currently
// active session, for the /health and /api/health responses.
func (m *Manager) QueueDepth() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, as := range m.sessions {
		total += as.depth.Load()
	}
	return total
}

// Processing reports whether any active session is mid-drain.
func (m *Manager) Processing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, as := range m.sessions {
		if as.processing.Load() {
			return true
		}
	}
	return false
}

// ActiveSessionCount returns the number of sessions with a running
// processor goroutine (not the same as the dashboard's "active" status,
// which is a store-level field).
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown cancels every running processor and waits for nothing further
// — processors exit promptly on cancellation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*activeSession, 0, len(m.sessions))
	for _, as := range m.sessions {
		sessions = append(sessions, as)
	}
	m.mu.Unlock()

	for _, as := range sessions {
		as.cancel()
	}
}
