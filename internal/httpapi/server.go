// Package httpapi implements the loopback HTTP + SSE service hooks write
// to and the dashboard reads from. Routing uses Go 1.22+'s
// net/http.ServeMux method+pattern matching directly, with no external
// router dependency.
package httpapi

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/pilot-dev/memoryd/internal/config"
	"github.com/pilot-dev/memoryd/internal/contextengine"
	"github.com/pilot-dev/memoryd/internal/planstore"
	"github.com/pilot-dev/memoryd/internal/sessionmgr"
	"github.com/pilot-dev/memoryd/internal/sse"
	"github.com/pilot-dev/memoryd/internal/store"
	"github.com/pilot-dev/memoryd/internal/summarize"
)

//go:embed static/index.html
var staticFS embed.FS

// Server is the loopback HTTP + SSE surface.
type Server struct {
	cfg        config.Config
	store      *store.Store
	sessions   *sessionmgr.Manager
	ctxengine  *contextengine.Engine
	plans      *planstore.PlanStore
	broadcast  *sse.Broadcaster
	summarizer *summarize.Client

	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server

	restartOnce chan struct{}
}

// New wires a Server over the already-constructed component instances.
// summarizer may be nil (e.g. in tests with no Anthropic credentials);
// POST /api/sessions/summarize only enqueues the raw assistant message,
// and the summary itself is synthesized later by internal/materialize.
func New(cfg config.Config, s *store.Store, sessions *sessionmgr.Manager, ce *contextengine.Engine, plans *planstore.PlanStore, broadcast *sse.Broadcaster, summarizer *summarize.Client) *Server {
	srv := &Server{
		cfg:         cfg,
		store:       s,
		sessions:    sessions,
		ctxengine:   ce,
		plans:       plans,
		broadcast:   broadcast,
		summarizer:  summarizer,
		startedAt:   time.Now(),
		mux:         http.NewServeMux(),
		restartOnce: make(chan struct{}),
	}
	srv.registerRoutes()
	srv.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

// Start begins serving HTTP requests. It blocks until Shutdown is called
// or the listener otherwise fails.
func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// RestartRequested returns a channel that is closed once POST /api/restart
// has been handled; main selects on it to exit the process so an external
// supervisor can spawn a fresh one.
func (s *Server) RestartRequested() <-chan struct{} {
	return s.restartOnce
}

func (s *Server) registerRoutes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /{$}", http.FileServer(http.FS(staticSub)))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("POST /api/restart", s.handleRestart)
	s.mux.HandleFunc("GET /stream", s.handleStream)

	s.mux.HandleFunc("GET /api/dashboard/sessions", s.handleDashboardSessions)

	s.mux.HandleFunc("POST /api/sessions/observations", s.handleObservation)
	s.mux.HandleFunc("POST /api/sessions/summarize", s.handleSummarize)

	s.mux.HandleFunc("GET /api/context/inject", s.handleContextInject)

	s.mux.HandleFunc("GET /api/plans", s.handleListPlans)
	s.mux.HandleFunc("GET /api/plans/active", s.handleActivePlan)
	s.mux.HandleFunc("GET /api/plan", s.handleGetPlan)
	s.mux.HandleFunc("GET /api/plan/content", s.handleGetPlanContent)
	s.mux.HandleFunc("DELETE /api/plan", s.handleDeletePlan)

	s.mux.HandleFunc("POST /api/sessions/{id}/plan", s.handleAssociatePlan)
	s.mux.HandleFunc("GET /api/sessions/{id}/plan", s.handleGetSessionPlan)
	s.mux.HandleFunc("DELETE /api/sessions/{id}/plan", s.handleClearSessionPlan)
	s.mux.HandleFunc("PUT /api/sessions/{id}/plan/status", s.handleUpdatePlanStatus)

	s.mux.HandleFunc("POST /api/sessions/by-content-id/{cid}/plan", s.handleAssociatePlanByContentID)
	s.mux.HandleFunc("GET /api/sessions/by-content-id/{cid}/plan", s.handleGetSessionPlanByContentID)
	s.mux.HandleFunc("DELETE /api/sessions/by-content-id/{cid}/plan", s.handleClearSessionPlanByContentID)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, config.Version)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{})
	select {
	case <-s.restartOnce:
		// already requested
	default:
		close(s.restartOnce)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthView{
		Status:       "ok",
		Version:      config.Version,
		QueueDepth:   s.sessions.QueueDepth(),
		Processing:   s.sessions.Processing(),
		ActiveStream: s.broadcast.ClientCount(),
	})
}
