package planstore

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/pilot-dev/memoryd/internal/store"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(eventType string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func setup(t *testing.T) (*store.Store, *PlanStore, *fakePublisher, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID, err := s.CreateSession("content-1", "proj", 1000)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	pub := &fakePublisher{}
	return s, New(s, pub), pub, sessionID
}

// TestAssociateBroadcasts covers testable property #7: every mutating
// call broadcasts plan_association_changed, and no other call does.
func TestAssociateBroadcasts(t *testing.T) {
	_, ps, pub, sessionID := setup(t)

	if err := ps.Associate(sessionID, "/plans/foo.md", string(store.PlanPending)); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 broadcast after Associate, got %d", pub.count())
	}

	plan, err := ps.GetForSession(sessionID)
	if err != nil {
		t.Fatalf("GetForSession: %v", err)
	}
	if plan == nil || plan.PlanPath != "/plans/foo.md" {
		t.Fatalf("expected plan association, got %+v", plan)
	}
	if pub.count() != 1 {
		t.Fatalf("read-only GetForSession must not broadcast, got %d", pub.count())
	}

	if err := ps.UpdateStatus(sessionID, string(store.PlanComplete)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if pub.count() != 2 {
		t.Fatalf("expected 2 broadcasts after UpdateStatus, got %d", pub.count())
	}

	if err := ps.Clear(sessionID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if pub.count() != 3 {
		t.Fatalf("expected 3 broadcasts after Clear, got %d", pub.count())
	}
}

func TestClearNoOpDoesNotBroadcast(t *testing.T) {
	_, ps, pub, sessionID := setup(t)

	if err := ps.Clear(sessionID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if pub.count() != 0 {
		t.Fatalf("Clear on a session with no association must not broadcast, got %d", pub.count())
	}
}

func TestAssociateRejectsInvalidStatus(t *testing.T) {
	_, ps, pub, sessionID := setup(t)

	if err := ps.Associate(sessionID, "/plans/foo.md", "bogus"); err == nil {
		t.Fatal("expected error for invalid plan status")
	}
	if pub.count() != 0 {
		t.Fatalf("rejected mutation must not broadcast, got %d", pub.count())
	}
}

func TestGetByContentSessionID(t *testing.T) {
	_, ps, _, sessionID := setup(t)

	if err := ps.Associate(sessionID, "/plans/foo.md", string(store.PlanPending)); err != nil {
		t.Fatalf("Associate: %v", err)
	}

	plan, err := ps.GetByContentSessionID("content-1")
	if err != nil {
		t.Fatalf("GetByContentSessionID: %v", err)
	}
	if plan == nil || plan.PlanPath != "/plans/foo.md" {
		t.Fatalf("expected plan association via content session id, got %+v", plan)
	}
}
