// Package supervisor implements the ensureWorker state machine:
// guaranteeing a compatible worker is listening on the configured port
// before returning. Every side effect is a Deps function field, injected
// so the state machine can be exercised without a real subprocess or
// socket.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// VersionInfo is the result of comparing the caller's (plugin/hook) build
// against the worker currently listening on the port.
type VersionInfo struct {
	Matches        bool
	PluginVersion  string
	WorkerVersion  string
}

// PidFileData is the JSON shape written to the PID file on cold start.
type PidFileData struct {
	PID       int
	Port      int
	StartedAt int64
}

// Deps is every side effect ensureWorker needs, injected so the state
// machine is entirely unit-testable.
type Deps struct {
	// Healthy reports whether a worker answers its health check within
	// timeout.
	Healthy func(ctx context.Context, port int, timeout time.Duration) bool
	// PortInUse reports whether something is listening on port, without
	// regard to whether it answers health checks.
	PortInUse func(port int) bool
	// HTTPShutdown asks a running worker to exit gracefully (POST
	// /api/restart in the worker's own HttpSurface).
	HTTPShutdown func(ctx context.Context, port int) bool
	// WaitPortFree blocks until the port is no longer held, or timeout
	// elapses; returns whether it became free.
	WaitPortFree func(ctx context.Context, port int, timeout time.Duration) bool
	// RemovePidFile deletes the on-disk PID file, if any.
	RemovePidFile func() error
	// SpawnDaemon starts a new worker process and returns its PID, or
	// ok=false if spawning failed outright.
	SpawnDaemon func(ctx context.Context, port int) (pid int, ok bool)
	// WritePidFile persists the PID file after a successful spawn.
	WritePidFile func(data PidFileData) error
	// CheckVersionMatch queries the running worker's reported version and
	// compares it against the caller's own.
	CheckVersionMatch func(ctx context.Context, port int) (VersionInfo, error)
	// PlatformTimeout wraps a base timeout to adjust for slower
	// platforms.
	PlatformTimeout func(base time.Duration) time.Duration
	// Now returns the current time, for stamping the PID file. Defaults
	// to time.Now when nil.
	Now func() time.Time
}

func (d Deps) platformTimeout(base time.Duration) time.Duration {
	if d.PlatformTimeout != nil {
		return d.PlatformTimeout(base)
	}
	return base
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Result is ensureWorker's outcome.
type Result struct {
	Ready bool
	Error string
}

// Supervisor runs the ensureWorker state machine for one configured port.
type Supervisor struct {
	deps Deps
	port int
}

// New creates a Supervisor bound to deps and the port it must guarantee a
// worker on.
func New(deps Deps, port int) *Supervisor {
	return &Supervisor{deps: deps, port: port}
}

// EnsureWorker runs the full state machine and returns once a compatible
// worker is confirmed listening, or the attempt has definitively failed.
func (s *Supervisor) EnsureWorker(ctx context.Context) Result {
	probeTimeout := s.deps.platformTimeout(time.Second)

	var healthy bool
	var portInUse bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		healthy = s.deps.Healthy(gctx, s.port, probeTimeout)
		return nil
	})
	g.Go(func() error {
		portInUse = s.deps.PortInUse(s.port)
		return nil
	})
	_ = g.Wait() // both probes swallow their own errors; only their booleans matter

	if healthy {
		v, err := s.deps.CheckVersionMatch(ctx, s.port)
		if err == nil && v.Matches {
			return Result{Ready: true}
		}
		// A different daemon version (or an unreadable version response)
		// is a restart signal, never an error surface.
		s.deps.HTTPShutdown(ctx, s.port)
		s.deps.WaitPortFree(ctx, s.port, s.deps.platformTimeout(15*time.Second))
		_ = s.deps.RemovePidFile()
		return s.coldStart(ctx)
	}

	if portInUse {
		if s.deps.Healthy(ctx, s.port, s.deps.platformTimeout(15*time.Second)) {
			return Result{Ready: true}
		}
		return Result{Ready: false, Error: "port in use but worker not responding"}
	}

	return s.coldStart(ctx)
}

func (s *Supervisor) coldStart(ctx context.Context) Result {
	pid, ok := s.deps.SpawnDaemon(ctx, s.port)
	if !ok {
		return Result{Ready: false, Error: "failed to spawn worker daemon"}
	}

	if err := s.deps.WritePidFile(PidFileData{PID: pid, Port: s.port, StartedAt: s.deps.now().UnixMilli()}); err != nil {
		return Result{Ready: false, Error: fmt.Sprintf("write pid file: %v", err)}
	}

	if s.deps.Healthy(ctx, s.port, s.deps.platformTimeout(30*time.Second)) {
		return Result{Ready: true}
	}

	_ = s.deps.RemovePidFile()
	return Result{Ready: false, Error: "health check timeout"}
}
