// Package retention implements bounded, periodic pruning of observations,
// session summaries, and user prompts.
package retention

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pilot-dev/memoryd/internal/store"
)

// startupDelay is how long the scheduler waits after start before its
// first run; period is the steady-state cadence thereafter.
const (
	startupDelay = 30 * time.Second
	period       = 24 * time.Hour
)

// Policy configures one pruning run.
type Policy struct {
	Enabled      bool
	MaxAgeDays   int
	MaxCount     int
	ExcludeTypes []string
	SoftDelete   bool // not read by runOnce: no soft-delete column exists, pruning always deletes
}

// Scheduler runs Policy-governed pruning on a timer.
type Scheduler struct {
	store  *store.Store
	policy Policy
	now    func() time.Time

	// startupDelay/period override the package defaults; tests shrink
	// these to avoid a real 30s/24h wait. Zero means "use the default".
	startupDelay time.Duration
	period       time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler bound to a store and a fixed policy snapshot.
func New(s *store.Store, policy Policy) *Scheduler {
	return &Scheduler{store: s, policy: policy, now: time.Now}
}

// Start begins the scheduler. Idempotent: a call while already running
// stops the previous instance first.
func (sch *Scheduler) Start() {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sch.cancel = cancel
	sch.done = done

	go sch.run(ctx, done)
}

// Stop halts the scheduler. Safe to call when not started.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.cancel == nil {
		return
	}
	sch.cancel()
	<-sch.done
	sch.cancel = nil
	sch.done = nil
}

func (sch *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := startupDelay
	if sch.startupDelay > 0 {
		delay = sch.startupDelay
	}
	cadence := period
	if sch.period > 0 {
		cadence = sch.period
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sch.runOnce(ctx)
			timer.Reset(cadence)
		}
	}
}

// runOnce executes a single pruning pass. Errors are logged; they never
// interrupt the periodic cadence.
func (sch *Scheduler) runOnce(ctx context.Context) {
	if !sch.policy.Enabled {
		return
	}

	g, _ := errgroup.WithContext(ctx)

	if sch.policy.MaxAgeDays > 0 {
		cutoff := sch.now().Add(-time.Duration(sch.policy.MaxAgeDays) * 24 * time.Hour).UnixMilli()
		g.Go(func() error {
			n, err := sch.store.PruneObservationsOlderThan(cutoff, sch.policy.ExcludeTypes)
			if err != nil {
				log.Printf("retention: prune observations by age: %v", err)
				return nil
			}
			if n > 0 {
				log.Printf("retention: pruned %d observations older than %d days", n, sch.policy.MaxAgeDays)
			}
			return nil
		})
		g.Go(func() error {
			n, err := sch.store.PruneSessionSummariesOlderThan(cutoff)
			if err != nil {
				log.Printf("retention: prune session summaries by age: %v", err)
				return nil
			}
			if n > 0 {
				log.Printf("retention: pruned %d session summaries older than %d days", n, sch.policy.MaxAgeDays)
			}
			return nil
		})
		g.Go(func() error {
			n, err := sch.store.PruneUserPromptsOlderThan(cutoff)
			if err != nil {
				log.Printf("retention: prune user prompts by age: %v", err)
				return nil
			}
			if n > 0 {
				log.Printf("retention: pruned %d user prompts older than %d days", n, sch.policy.MaxAgeDays)
			}
			return nil
		})
	}

	if sch.policy.MaxCount > 0 {
		g.Go(func() error {
			n, err := sch.store.PruneObservationsExceedingCount(sch.policy.MaxCount, sch.policy.ExcludeTypes)
			if err != nil {
				log.Printf("retention: prune observations by count: %v", err)
				return nil
			}
			if n > 0 {
				log.Printf("retention: pruned %d observations exceeding count cap %d", n, sch.policy.MaxCount)
			}
			return nil
		})
	}

	_ = g.Wait() // all goroutines above swallow their own errors
}
