// Package queueproc turns durable per-session queue rows into a
// cooperative, cancellable lazy sequence of messages. Two modes share one
// loop contract: claim, yield, and otherwise park until one of a
// notification, a cancellation, or an idle timeout fires.
package queueproc

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/pilot-dev/memoryd/internal/notify"
	"github.com/pilot-dev/memoryd/internal/queue"
)

// State is the processor's externally observable position in the queue
// drain state machine: {Draining, Parked, Cancelled, IdleExit}.
type State int32

const (
	StateDraining State = iota
	StateParked
	StateCancelled
	StateIdleExit
)

func (s State) String() string {
	switch s {
	case StateDraining:
		return "Draining"
	case StateParked:
		return "Parked"
	case StateCancelled:
		return "Cancelled"
	case StateIdleExit:
		return "IdleExit"
	default:
		return "Unknown"
	}
}

// Config configures one processor instance. Cancellation is expressed as
// the context.Context passed to Single/Batch rather than stored as a
// field, Go's idiomatic equivalent of a cancellation token.
type Config struct {
	SessionDbID  int64
	IdleTimeout  time.Duration // default 180s
	OnIdleTimeout func()
	MaxBatchSize int // default 10, batch mode only

	// ErrorBackoff overrides the 1s sleep-and-retry delay after a
	// transient claim error. Zero means the default; tests may shrink it.
	ErrorBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 180 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 10
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	return c
}

// Processor drains one session's pending_messages rows.
type Processor struct {
	q   *queue.Queue
	bus *notify.Bus
	cfg Config
	now func() time.Time

	state atomic.Int32
}

// New creates a Processor for a single session.
func New(q *queue.Queue, bus *notify.Bus, cfg Config) *Processor {
	return &Processor{q: q, bus: bus, cfg: cfg.withDefaults(), now: time.Now}
}

// State reports the processor's current state. Safe for concurrent use
// while the loop runs.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

type wakeReason int

const (
	wakeNotify wakeReason = iota
	wakeCancel
	wakeIdle
)

// waitForWork parks until a notification, a cancellation, or the idle
// deadline (measured from lastActivity) fires, whichever is first.
func (p *Processor) waitForWork(ctx context.Context, lastActivity time.Time) wakeReason {
	p.setState(StateParked)
	waitCh := p.bus.Wait()

	remaining := p.cfg.IdleTimeout - p.now().Sub(lastActivity)
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return wakeCancel
	case <-waitCh:
		return wakeNotify
	case <-timer.C:
		return wakeIdle
	}
}

// Single yields one message at a time. The returned channel is closed when
// the processor stops, whether by cancellation or idle timeout; callers
// distinguish the two via State() after the channel closes.
func (p *Processor) Single(ctx context.Context) <-chan queue.Row {
	out := make(chan queue.Row)
	go p.runSingle(ctx, out)
	return out
}

// Batch yields non-empty groups of up to MaxBatchSize messages, draining
// each session's backlog in as few claims as possible.
func (p *Processor) Batch(ctx context.Context) <-chan []queue.Row {
	out := make(chan []queue.Row)
	go p.runBatch(ctx, out)
	return out
}

func (p *Processor) runSingle(ctx context.Context, out chan<- queue.Row) {
	defer close(out)
	lastActivity := p.now()

	for {
		if ctx.Err() != nil {
			p.setState(StateCancelled)
			return
		}
		p.setState(StateDraining)

		row, err := p.q.ClaimAndDelete(p.cfg.SessionDbID)
		if err != nil {
			if !p.backoffOrCancel(ctx) {
				p.setState(StateCancelled)
				return
			}
			continue
		}
		if row != nil {
			lastActivity = p.now()
			select {
			case out <- *row:
				continue
			case <-ctx.Done():
				p.setState(StateCancelled)
				return
			}
		}

		switch p.waitForWork(ctx, lastActivity) {
		case wakeNotify:
			continue
		case wakeCancel:
			p.setState(StateCancelled)
			return
		case wakeIdle:
			p.setState(StateIdleExit)
			if p.cfg.OnIdleTimeout != nil {
				p.cfg.OnIdleTimeout()
			}
			return
		}
	}
}

func (p *Processor) runBatch(ctx context.Context, out chan<- []queue.Row) {
	defer close(out)
	lastActivity := p.now()

	for {
		if ctx.Err() != nil {
			p.setState(StateCancelled)
			return
		}
		p.setState(StateDraining)

		rows, err := p.q.ClaimAndDeleteBatch(p.cfg.SessionDbID, p.cfg.MaxBatchSize)
		if err != nil {
			if !p.backoffOrCancel(ctx) {
				p.setState(StateCancelled)
				return
			}
			continue
		}
		if len(rows) > 0 {
			lastActivity = p.now()
			select {
			case out <- rows:
				continue
			case <-ctx.Done():
				p.setState(StateCancelled)
				return
			}
		}

		switch p.waitForWork(ctx, lastActivity) {
		case wakeNotify:
			continue
		case wakeCancel:
			p.setState(StateCancelled)
			return
		case wakeIdle:
			p.setState(StateIdleExit)
			if p.cfg.OnIdleTimeout != nil {
				p.cfg.OnIdleTimeout()
			}
			return
		}
	}
}

// backoffOrCancel logs a transient claim error and sleeps ErrorBackoff,
// returning false (instead of sleeping) if cancellation fires first.
func (p *Processor) backoffOrCancel(ctx context.Context) bool {
	log.Printf("queueproc: session %d: transient claim error, retrying", p.cfg.SessionDbID)
	timer := time.NewTimer(p.cfg.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
