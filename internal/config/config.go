// Package config defines the daemon's runtime configuration and the
// flag/env bindings that populate it.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/viper"
)

// Version is the daemon's build version. Overridden at link time with
// -ldflags "-X github.com/pilot-dev/memoryd/internal/config.Version=...".
var Version = "dev"

// Config holds all runtime configuration for the memory daemon. It is
// constructed once in main and threaded explicitly into every constructor
// — no package-level ambient state.
type Config struct {
	Host    string // WORKER_HOST
	Port    int    // WORKER_PORT
	Bind    string // WORKER_BIND, overrides Host:Port when set
	DataDir string // DATA_DIR, holds the SQLite file and the PID file

	LogLevel string

	// PilotSessionID identifies the active editor session for the local
	// plan-association lookup (~/.pilot/sessions/<id>/active_plan.json).
	PilotSessionID string

	// NoContext disables context injection entirely when true.
	NoContext bool

	// ExcludeProjects is a set of project names never surfaced in context
	// or the dashboard session list.
	ExcludeProjects []string

	// Retention policy, see internal/retention.
	RetentionMaxAgeDays int
	RetentionMaxCount   int
	RetentionEnabled    bool

	// Context composition defaults, see internal/contextengine.
	TotalObservationCount int
	FullObservationCount  int
	SessionSummaryCount   int

	// FullObservationField selects which observation field populates the
	// full-detail rendering: "facts", "narrative", or "text".
	FullObservationField string

	// ContextConcepts, when non-empty, restricts unscoped context queries
	// to observations whose concepts intersect this whitelist.
	ContextConcepts []string

	// AnthropicSummaryModel is the model used for structured session
	// summary synthesis in internal/summarize.
	AnthropicSummaryModel string
}

// Addr returns the address the HTTP surface should listen on.
func (c Config) Addr() string {
	if c.Bind != "" {
		return c.Bind
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults bound by the cobra command in cmd/memoryd.
func Load() (Config, error) {
	var excludeProjects []string
	if raw := viper.GetString("exclude_projects"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &excludeProjects); err != nil {
			return Config{}, fmt.Errorf("parse EXCLUDE_PROJECTS: %w", err)
		}
	}

	var contextConcepts []string
	if raw := viper.GetString("context_concepts"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &contextConcepts); err != nil {
			return Config{}, fmt.Errorf("parse CONTEXT_CONCEPTS: %w", err)
		}
	}

	fullObservationField := viper.GetString("full_observation_field")
	if fullObservationField == "" {
		fullObservationField = "facts"
	}

	return Config{
		Host:                  viper.GetString("host"),
		Port:                  viper.GetInt("port"),
		Bind:                  viper.GetString("bind"),
		DataDir:               viper.GetString("data_dir"),
		LogLevel:              viper.GetString("log_level"),
		PilotSessionID:        viper.GetString("pilot_session_id"),
		NoContext:             viper.GetBool("no_context"),
		ExcludeProjects:       excludeProjects,
		RetentionMaxAgeDays:   viper.GetInt("retention_max_age_days"),
		RetentionMaxCount:     viper.GetInt("retention_max_count"),
		RetentionEnabled:      viper.GetBool("retention_enabled"),
		TotalObservationCount: viper.GetInt("total_observation_count"),
		FullObservationCount:  viper.GetInt("full_observation_count"),
		SessionSummaryCount:   viper.GetInt("session_summary_count"),
		AnthropicSummaryModel: viper.GetString("summary_model"),
		FullObservationField:  fullObservationField,
		ContextConcepts:       contextConcepts,
	}, nil
}
