// Package notify implements the coarse, non-blocking "message available"
// signal shared by every session's queue iterator. Writers never know
// which consumer is parked, so a single broadcast wakes every iterator,
// each of which then performs its own per-session claim probe.
package notify

import "sync"

// Bus is a multi-consumer broadcast primitive. Notify never blocks, no
// matter how many (or how few) goroutines are currently waiting.
type Bus struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewBus returns a ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{ch: make(chan struct{})}
}

// Wait returns a channel that is closed the next time Notify is called.
// Callers select on it alongside cancellation and idle-timeout cases; it
// must be re-fetched after each wakeup since the old channel stays closed.
func (b *Bus) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// Notify wakes every goroutine currently blocked on a channel returned by
// Wait, then rotates in a fresh channel for subsequent waiters. Safe to
// call with no subscribers; safe to call concurrently with Wait.
func (b *Bus) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}
