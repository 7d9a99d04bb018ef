// Package sse implements fan-out of server-sent events to every connected
// dashboard client: a single flat client set of buffered, non-blocking
// channels, since this stream is one global feed rather than one per
// session.
package sse

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is one frame broadcast to every connected client. Type is one of:
// new_observation, new_summary, new_prompt, processing_status,
// initial_load, plan_association_changed.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Frame renders e as an SSE wire frame: "data: <json>\n\n".
func (e Event) Frame() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}

const clientBuffer = 64

// client is one connected subscriber. Sends are non-blocking: a client
// that falls behind its buffer drops events rather than stalling the
// broadcaster.
type client struct {
	id uuid.UUID
	ch chan Event
}

// Broadcaster holds the set of connected responders and fans out events
// to all of them. A send whose channel is full is dropped for that
// client, not retried; an HTTP handler whose write subsequently fails
// returns, running the unsubscribe function Subscribe gave it, so the
// client is dropped at the transport layer.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*client
}

// NewBroadcaster returns a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[uuid.UUID]*client)}
}

// Subscribe registers a new client and returns a channel of events for it
// plus an unsubscribe function. Callers (the GET /stream handler) should
// defer the unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &client{id: uuid.New(), ch: make(chan Event, clientBuffer)}
	b.clients[c.id] = c

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[c.id]; ok {
			delete(b.clients, c.id)
			close(c.ch)
		}
	}
	return c.ch, unsubscribe
}

// Publish implements planstore.Publisher: it broadcasts a typed event with
// the given payload to every connected client.
func (b *Broadcaster) Publish(eventType string, payload any) {
	b.Broadcast(Event{Type: eventType, Payload: payload})
}

// Broadcast fans e out to every connected client, non-blocking per client.
func (b *Broadcaster) Broadcast(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		select {
		case c.ch <- e:
		default:
			// Slow consumer: drop rather than block the broadcaster.
		}
	}
}

// ClientCount reports the number of currently connected clients. Used by
// health/status reporting.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
