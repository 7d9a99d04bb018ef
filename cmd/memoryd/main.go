// Command memoryd is the local memory and context daemon: lifecycle
// supervisor, durable per-session queue, context composition, retention,
// and the loopback HTTP + SSE surface. Hook CLIs, the dashboard UI, and
// config-file bootstrap are external collaborators invoked separately.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pilot-dev/memoryd/internal/config"
	"github.com/pilot-dev/memoryd/internal/contextengine"
	"github.com/pilot-dev/memoryd/internal/httpapi"
	"github.com/pilot-dev/memoryd/internal/materialize"
	"github.com/pilot-dev/memoryd/internal/mcpserver"
	"github.com/pilot-dev/memoryd/internal/notify"
	"github.com/pilot-dev/memoryd/internal/planstore"
	"github.com/pilot-dev/memoryd/internal/queue"
	"github.com/pilot-dev/memoryd/internal/retention"
	"github.com/pilot-dev/memoryd/internal/sessionmgr"
	"github.com/pilot-dev/memoryd/internal/sse"
	"github.com/pilot-dev/memoryd/internal/store"
	"github.com/pilot-dev/memoryd/internal/summarize"
	"github.com/pilot-dev/memoryd/internal/supervisor"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memoryd",
		Short: "Local memory and context daemon for an AI coding assistant",
	}

	f := rootCmd.PersistentFlags()
	f.String("host", "127.0.0.1", "bind host (WORKER_HOST)")
	f.Int("port", 41777, "bind port (WORKER_PORT)")
	f.String("bind", "", "full bind address, overrides host:port (WORKER_BIND)")
	f.String("data-dir", defaultDataDir(), "directory for the SQLite file and PID file (DATA_DIR)")
	f.String("log-level", "info", "log level")
	f.String("pilot-session-id", "", "active editor session id (PILOT_SESSION_ID)")
	f.Bool("no-context", false, "disable context injection entirely (NO_CONTEXT)")
	f.String("exclude-projects", "", "JSON array of project names to exclude (EXCLUDE_PROJECTS)")
	f.Int("retention-max-age-days", 90, "prune rows older than this many days")
	f.Int("retention-max-count", 5000, "prune observations exceeding this count per project")
	f.Bool("retention-enabled", true, "enable the retention scheduler")
	f.Int("total-observation-count", 40, "observations included in a rendered context document")
	f.Int("full-observation-count", 10, "most recent observations rendered in full detail")
	f.Int("session-summary-count", 10, "session summaries included in a rendered context document")
	f.String("full-observation-field", "facts", "field populating full-detail observation rendering")
	f.String("context-concepts", "", "JSON array restricting unscoped context queries to these concepts")
	f.String("summary-model", "claude-haiku-4-5", "Anthropic model used for session summary synthesis")

	bind := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bind("host", "host")
	bind("port", "port")
	bind("bind", "bind")
	bind("data_dir", "data-dir")
	bind("log_level", "log-level")
	bind("pilot_session_id", "pilot-session-id")
	bind("no_context", "no-context")
	bind("exclude_projects", "exclude-projects")
	bind("retention_max_age_days", "retention-max-age-days")
	bind("retention_max_count", "retention-max-count")
	bind("retention_enabled", "retention-enabled")
	bind("total_observation_count", "total-observation-count")
	bind("full_observation_count", "full-observation-count")
	bind("session_summary_count", "session-summary-count")
	bind("full_observation_field", "full-observation-field")
	bind("context_concepts", "context-concepts")
	bind("summary_model", "summary-model")

	viper.SetEnvPrefix("WORKER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// These five keys are documented as unprefixed env vars, unlike the
	// WORKER_-prefixed host/port/bind; bind them explicitly to their
	// unprefixed names in addition to the blanket AutomaticEnv prefix above.
	_ = viper.BindEnv("data_dir", "DATA_DIR")
	_ = viper.BindEnv("log_level", "LOG_LEVEL")
	_ = viper.BindEnv("pilot_session_id", "PILOT_SESSION_ID")
	_ = viper.BindEnv("no_context", "NO_CONTEXT")
	_ = viper.BindEnv("exclude_projects", "EXCLUDE_PROJECTS")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the daemon in the foreground",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "ensure",
			Short: "Guarantee a compatible worker is listening, spawning one if needed",
			RunE:  runEnsure,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the daemon version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(config.Version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pilot"
	}
	return filepath.Join(home, ".pilot")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Printf("memoryd %s starting on %s (data dir %s)", config.Version, cfg.Addr(), cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "memoryd.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	q := queue.New(st.Conn())
	bus := notify.NewBus()
	broadcast := sse.NewBroadcaster()
	plans := planstore.New(st, broadcast)
	ctxEngine := contextengine.New(st, cfg)

	var summarizer *summarize.Client
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		summarizer = summarize.New(cfg.AnthropicSummaryModel)
	} else {
		log.Printf("memoryd: ANTHROPIC_API_KEY not set, session summaries will store the raw assistant message")
	}

	mat := materialize.New(st, broadcast, summarizer, func() int64 { return time.Now().UnixMilli() })
	sessions := sessionmgr.New(q, bus, mat.Handle, sessionmgr.Options{})

	server := httpapi.New(cfg, st, sessions, ctxEngine, plans, broadcast, summarizer)

	retentionScheduler := retention.New(st, retention.Policy{
		Enabled:    cfg.RetentionEnabled,
		MaxAgeDays: cfg.RetentionMaxAgeDays,
		MaxCount:   cfg.RetentionMaxCount,
	})
	retentionScheduler.Start()

	mcpSrv := mcpserver.New(cfg, st, sessions, ctxEngine)
	go func() {
		if err := mcpSrv.ServeStdio(); err != nil {
			log.Printf("mcpserver: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Printf("memoryd: received %s, shutting down", sig)
	case <-server.RestartRequested():
		log.Printf("memoryd: restart requested")
	case err := <-errCh:
		log.Printf("memoryd: http server error: %v", err)
	}

	retentionScheduler.Stop()
	sessions.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("memoryd: http server shutdown: %v", err)
	}

	cancel()
	return nil
}

func runEnsure(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sup := supervisor.New(clientDeps(cfg), cfg.Port)
	result := sup.EnsureWorker(context.Background())
	if !result.Ready {
		return fmt.Errorf("ensureWorker: %s", result.Error)
	}
	fmt.Println(`{"ready":true}`)
	return nil
}

// clientDeps wires supervisor.Deps for the CLI-side "ensure" subcommand: a
// thin HTTP client against the worker's own health/version/restart routes,
// plus spawning a detached `memoryd serve` child process on cold start.
func clientDeps(cfg config.Config) supervisor.Deps {
	httpClient := &http.Client{}

	return supervisor.Deps{
		Healthy: func(ctx context.Context, port int, timeout time.Duration) bool {
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
			if err != nil {
				return false
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return false
			}
			defer resp.Body.Close() //nolint:errcheck
			return resp.StatusCode == http.StatusOK
		},
		PortInUse: func(port int) bool {
			ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				return true
			}
			_ = ln.Close()
			return false
		},
		HTTPShutdown: func(ctx context.Context, port int) bool {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://127.0.0.1:%d/api/restart", port), nil)
			if err != nil {
				return false
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return false
			}
			defer resp.Body.Close() //nolint:errcheck
			return true
		},
		WaitPortFree: func(ctx context.Context, port int, timeout time.Duration) bool {
			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
				if err == nil {
					_ = ln.Close()
					return true
				}
				select {
				case <-ctx.Done():
					return false
				case <-time.After(100 * time.Millisecond):
				}
			}
			return false
		},
		RemovePidFile: func() error {
			return os.Remove(pidFilePath(cfg))
		},
		SpawnDaemon: func(ctx context.Context, port int) (int, bool) {
			exe, err := os.Executable()
			if err != nil {
				return 0, false
			}
			proc := exec.Command(exe, "serve", "--port", fmt.Sprintf("%d", port), "--data-dir", cfg.DataDir)
			proc.Stdout = nil
			proc.Stderr = nil
			if err := proc.Start(); err != nil {
				return 0, false
			}
			return proc.Process.Pid, true
		},
		WritePidFile: func(data supervisor.PidFileData) error {
			raw, err := json.Marshal(data)
			if err != nil {
				return err
			}
			return os.WriteFile(pidFilePath(cfg), raw, 0o644)
		},
		CheckVersionMatch: func(ctx context.Context, port int) (supervisor.VersionInfo, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/api/version", port), nil)
			if err != nil {
				return supervisor.VersionInfo{}, err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return supervisor.VersionInfo{}, err
			}
			defer resp.Body.Close() //nolint:errcheck
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return supervisor.VersionInfo{}, err
			}
			workerVersion := strings.TrimSpace(string(body))
			return supervisor.VersionInfo{
				Matches:       workerVersion == config.Version,
				PluginVersion: config.Version,
				WorkerVersion: workerVersion,
			}, nil
		},
	}
}

func pidFilePath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "memoryd.pid")
}
