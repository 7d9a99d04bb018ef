// Package mcpserver exposes memory-daemon operations as MCP (Model Context
// Protocol) tools over stdio: inject_context, record_observation, and
// record_summary. It mirrors the loopback HTTP routes in internal/httpapi
// for editors that speak MCP natively instead of issuing hook HTTP calls.
// Tool definitions and the stdio server bootstrap follow the mcp-go
// server.ServerTool registration pattern.
package mcpserver

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/pilot-dev/memoryd/internal/config"
	"github.com/pilot-dev/memoryd/internal/contextengine"
	"github.com/pilot-dev/memoryd/internal/sessionmgr"
	"github.com/pilot-dev/memoryd/internal/store"
)

// Server holds the dependencies the memory tools need.
type Server struct {
	cfg       config.Config
	store     *store.Store
	sessions  *sessionmgr.Manager
	ctxengine *contextengine.Engine
}

// New creates an MCP server backed by the daemon's own store, session
// manager, and context engine — the same instances the HTTP surface uses.
func New(cfg config.Config, s *store.Store, sessions *sessionmgr.Manager, ce *contextengine.Engine) *Server {
	return &Server{cfg: cfg, store: s, sessions: sessions, ctxengine: ce}
}

// ServeStdio starts the MCP stdio server. It blocks until stdin is closed.
func (s *Server) ServeStdio() error {
	mcpServer := server.NewMCPServer(
		"memoryd",
		config.Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: injectContextTool(), Handler: s.handleInjectContext},
		server.ServerTool{Tool: recordObservationTool(), Handler: s.handleRecordObservation},
		server.ServerTool{Tool: recordSummaryTool(), Handler: s.handleRecordSummary},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(context.Background(), os.Stdin, os.Stdout)
}
