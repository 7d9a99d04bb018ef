package supervisor

import (
	"context"
	"testing"
	"time"
)

func noopTimeout(base time.Duration) time.Duration { return base }

// TestHealthyMatchingVersionNeverSpawns covers testable property #5:
// ensureWorker against an already-healthy matching-version daemon must
// not invoke spawnDaemon or writePidFile.
func TestHealthyMatchingVersionNeverSpawns(t *testing.T) {
	var spawned, wrote bool

	deps := Deps{
		Healthy:   func(ctx context.Context, port int, timeout time.Duration) bool { return true },
		PortInUse: func(port int) bool { return true },
		CheckVersionMatch: func(ctx context.Context, port int) (VersionInfo, error) {
			return VersionInfo{Matches: true}, nil
		},
		SpawnDaemon: func(ctx context.Context, port int) (int, bool) {
			spawned = true
			return 0, false
		},
		WritePidFile: func(data PidFileData) error {
			wrote = true
			return nil
		},
		PlatformTimeout: noopTimeout,
	}

	s := New(deps, 41777)
	res := s.EnsureWorker(context.Background())

	if !res.Ready {
		t.Fatalf("expected ready, got %+v", res)
	}
	if spawned || wrote {
		t.Fatalf("spawnDaemon/writePidFile must not be called, spawned=%v wrote=%v", spawned, wrote)
	}
}

// TestVersionMismatchTriggersRestart covers scenario S4.
func TestVersionMismatchTriggersRestart(t *testing.T) {
	var spawnCalls int
	var shutdownCalled, waitPortFreeCalled, removePidCalled, wrotePid bool

	deps := Deps{
		Healthy: func(ctx context.Context, port int, timeout time.Duration) bool { return true },
		PortInUse: func(port int) bool {
			return true
		},
		CheckVersionMatch: func(ctx context.Context, port int) (VersionInfo, error) {
			return VersionInfo{Matches: false, PluginVersion: "2.0.0", WorkerVersion: "1.0.0"}, nil
		},
		HTTPShutdown: func(ctx context.Context, port int) bool {
			shutdownCalled = true
			return true
		},
		WaitPortFree: func(ctx context.Context, port int, timeout time.Duration) bool {
			waitPortFreeCalled = true
			return true
		},
		RemovePidFile: func() error {
			removePidCalled = true
			return nil
		},
		SpawnDaemon: func(ctx context.Context, port int) (int, bool) {
			spawnCalls++
			return 99999, true
		},
		WritePidFile: func(data PidFileData) error {
			wrotePid = true
			if data.PID != 99999 {
				t.Fatalf("expected pid 99999, got %d", data.PID)
			}
			return nil
		},
		PlatformTimeout: noopTimeout,
	}

	// After cold start, the final health probe (inside coldStart) must
	// also report healthy so EnsureWorker converges to ready.
	callCount := 0
	baseHealthy := deps.Healthy
	deps.Healthy = func(ctx context.Context, port int, timeout time.Duration) bool {
		callCount++
		if callCount == 1 {
			return baseHealthy(ctx, port, timeout)
		}
		return true
	}

	s := New(deps, 41777)
	res := s.EnsureWorker(context.Background())

	if !res.Ready {
		t.Fatalf("expected ready, got %+v", res)
	}
	if !shutdownCalled || !waitPortFreeCalled || !removePidCalled {
		t.Fatalf("expected shutdown/waitPortFree/removePidFile all called")
	}
	if spawnCalls != 1 {
		t.Fatalf("expected spawnDaemon called exactly once, got %d", spawnCalls)
	}
	if !wrotePid {
		t.Fatalf("expected writePidFile called")
	}
}

// TestColdStartSpawnFailure covers scenario S5.
func TestColdStartSpawnFailure(t *testing.T) {
	var wrote bool

	deps := Deps{
		Healthy:   func(ctx context.Context, port int, timeout time.Duration) bool { return false },
		PortInUse: func(port int) bool { return false },
		CheckVersionMatch: func(ctx context.Context, port int) (VersionInfo, error) {
			t.Fatal("checkVersionMatch should not be called when not healthy")
			return VersionInfo{}, nil
		},
		SpawnDaemon: func(ctx context.Context, port int) (int, bool) {
			return 0, false
		},
		WritePidFile: func(data PidFileData) error {
			wrote = true
			return nil
		},
		PlatformTimeout: noopTimeout,
	}

	s := New(deps, 41777)
	res := s.EnsureWorker(context.Background())

	if res.Ready {
		t.Fatalf("expected not ready, got %+v", res)
	}
	if res.Error != "failed to spawn worker daemon" {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if wrote {
		t.Fatal("writePidFile must not be called on spawn failure")
	}
}

// TestPortInUseButUnhealthyFails exercises the "port in use but worker
// not responding" failure branch.
func TestPortInUseButUnhealthyFails(t *testing.T) {
	deps := Deps{
		Healthy:         func(ctx context.Context, port int, timeout time.Duration) bool { return false },
		PortInUse:       func(port int) bool { return true },
		PlatformTimeout: noopTimeout,
	}

	s := New(deps, 41777)
	res := s.EnsureWorker(context.Background())

	if res.Ready {
		t.Fatalf("expected not ready, got %+v", res)
	}
	if res.Error != "port in use but worker not responding" {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}
