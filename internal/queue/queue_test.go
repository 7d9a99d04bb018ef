package queue

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pilot-dev/memoryd/internal/store"
)

func setup(t *testing.T) (*store.Store, *Queue, int64) {
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

	return s, New(s.Conn()), sessionID
}

func TestEnqueueAndClaimAndDelete(t *testing.T) {
	_, q, sessionID := setup(t)

	payload, _ := json.Marshal(map[string]string{"kind": "observation"})
	if _, err := q.Enqueue(sessionID, payload, 1000); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	row, err := q.ClaimAndDelete(sessionID)
	if err != nil {
		t.Fatalf("ClaimAndDelete: %v", err)
	}
	if row == nil {
		t.Fatal("expected a row, got nil")
	}

	// Second claim on an empty queue returns nil, no error.
	row, err = q.ClaimAndDelete(sessionID)
	if err != nil {
		t.Fatalf("ClaimAndDelete (empty): %v", err)
	}
	if row != nil {
		t.Fatalf("expected nil on empty queue, got %+v", row)
	}
}

// TestClaimAndDeleteIsAtomic covers testable property #1: for all pairs of
// concurrent claimAndDelete attempts on the same session, at most one
// returns a given row, and across N rows exactly N successful claims occur
// in total (no duplicate delivery, no lost row).
func TestClaimAndDeleteIsAtomic(t *testing.T) {
	_, q, sessionID := setup(t)

	const n = 20
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"i": i})
		if _, err := q.Enqueue(sessionID, payload, int64(1000+i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	workers := 8
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				row, err := q.ClaimAndDelete(sessionID)
				if err != nil {
					t.Errorf("ClaimAndDelete: %v", err)
					return
				}
				if row == nil {
					return
				}
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != n {
		t.Fatalf("expected exactly %d claims across all workers, got %d", n, claimed)
	}
}

// TestFIFOOrdering covers testable property #3.
func TestFIFOOrdering(t *testing.T) {
	_, q, sessionID := setup(t)

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]int{"i": i})
		if _, err := q.Enqueue(sessionID, payload, int64(1000+i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		row, err := q.ClaimAndDelete(sessionID)
		if err != nil {
			t.Fatalf("ClaimAndDelete: %v", err)
		}
		if row == nil {
			t.Fatalf("expected row %d, got nil", i)
		}
		var raw map[string]int
		if err := json.Unmarshal(row.Payload, &raw); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if raw["i"] != i {
			t.Fatalf("expected FIFO order, got i=%d at position %d", raw["i"], i)
		}
	}
}

func TestClaimAndDeleteBatch(t *testing.T) {
	_, q, sessionID := setup(t)

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]int{"i": i})
		if _, err := q.Enqueue(sessionID, payload, int64(1000+i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	// Mirrors S2: enqueue 5, drain with maxBatchSize=2, expect [2, 2, 1].
	sizes := []int{}
	for {
		rows, err := q.ClaimAndDeleteBatch(sessionID, 2)
		if err != nil {
			t.Fatalf("ClaimAndDeleteBatch: %v", err)
		}
		if len(rows) == 0 {
			break
		}
		sizes = append(sizes, len(rows))
	}

	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("expected batch sizes [2 2 1], got %v", sizes)
	}
}
