// Command eco drives the ecosync engine: pulls, queue drains, favorites and
// history, the delta-inbox daemon and the live dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecoterms/ecosync/internal/cache"
	"github.com/ecoterms/ecosync/internal/config"
	"github.com/ecoterms/ecosync/internal/diag"
	"github.com/ecoterms/ecosync/internal/logging"
	"github.com/ecoterms/ecosync/internal/queue"
	"github.com/ecoterms/ecosync/internal/remote"
	"github.com/ecoterms/ecosync/internal/seed"
	engine "github.com/ecoterms/ecosync/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "eco",
	Short: "Offline-first sync for the environmental terms dictionary",
	Long: `eco keeps a local copy of the environmental terms dictionary in sync
with the remote backend, and replays favorites and search history written
while offline.

Settings come from config.toml (or .yaml) in the data directory, then
ECO_* environment variables, e.g. ECO_REMOTE_URL=libsql://terms.turso.io.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "user", Title: "Dictionary Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	rootCmd.PersistentFlags().String("config", "", "Config file (default: <data dir>/config.toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log engine activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds everything a command needs to talk to the engine.
type app struct {
	cfg     *config.Config
	logs    *logging.Factory
	store   *cache.Store
	backend *remote.SQL
	queue   *queue.Queue
	metrics *diag.Metrics
	engine  engine.Orchestrator

	mu   sync.Mutex
	last map[string]engine.Event
}

type openOptions struct {
	// start runs Engine.Start, which bootstraps the cache and syncs when
	// the backend is reachable.
	start bool

	// onEvent receives engine events in addition to the app's own log.
	onEvent func(engine.Event)

	// logToStderr logs to stderr even without --verbose.
	logToStderr bool
}

// loadConfig resolves the config for cmd's --config flag.
func loadConfig(cmd *cobra.Command) *config.Config {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openApp wires config, logging, cache, remote, queue and engine. Failures
// are fatal. The caller must Close the app.
func openApp(ctx context.Context, cmd *cobra.Command, opts openOptions) *app {
	cfg := loadConfig(cmd)
	verbose, _ := cmd.Flags().GetBool("verbose")

	a := &app{
		cfg: cfg,
		logs: logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Verbose:    verbose || opts.logToStderr,
		}),
		metrics: diag.NewMetrics(),
		last:    make(map[string]engine.Event),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatalf(a, "failed to create data directory: %v", err)
	}

	store, err := cache.OpenWithConfig(cfg.DBPath, &cache.Config{
		SchemaVersion: cfg.SchemaVersion,
		Logger:        a.logs.Logger("cache"),
	})
	if err != nil {
		fatalf(a, "failed to open cache: %v", err)
	}
	a.store = store

	// A nil interface keeps the engine offline; a typed nil would not.
	var rem remote.Remote
	if cfg.Remote.URL != "" {
		backend, err := remote.Open(ctx, remote.Config{
			URL:       cfg.Remote.URL,
			AuthToken: cfg.Remote.Token,
			Timeout:   cfg.Remote.Timeout,
			Logger:    a.logs.Logger("remote"),
		})
		if err != nil {
			a.warnf("remote unavailable, working offline: %v", err)
		} else {
			a.backend = backend
			rem = backend
		}
	}

	a.queue = queue.New(store, &queue.Config{
		RetryCeiling: cfg.Queue.RetryCeiling,
		// The engine is assigned below, before anything can enqueue.
		Online:          func() bool { return a.engine != nil && a.engine.Online() },
		AutoDrainWriter: rem,
		Diag:            a.metrics,
		Logger:          a.logs.Logger("queue"),
	})

	a.engine = engine.New(store, rem, a.queue, &engine.Config{
		Floor:         seed.Default().Terms,
		HistoryLimit:  cfg.History.Limit,
		ReconnectWait: engine.DefaultReconnectWait,
		Diag:          a.metrics,
		OnEvent: func(e engine.Event) {
			a.mu.Lock()
			a.last[e.Type] = e
			a.mu.Unlock()
			if opts.onEvent != nil {
				opts.onEvent(e)
			}
		},
		Logger: a.logs.Logger("sync"),
	})

	if opts.start {
		if err := a.engine.Start(ctx); err != nil {
			fatalf(a, "%v", err)
		}
	}
	return a
}

// lastEvent returns the most recent event of type typ.
func (a *app) lastEvent(typ string) (engine.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.last[typ]
	return e, ok
}

func (a *app) warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// Close releases the backend, the cache and the log file.
func (a *app) Close() {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.warnf("%v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.warnf("%v", err)
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// fatalf prints an error, closes a (if any) and exits 1.
func fatalf(a *app, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if a != nil {
		a.Close()
	}
	os.Exit(1)
}

// commandContext bounds one-shot commands.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

// describeErr renders engine errors for humans.
func describeErr(err error) string {
	switch {
	case errors.Is(err, engine.ErrOffline):
		return "backend unreachable (set remote.url or check connectivity)"
	case errors.Is(err, engine.ErrAnonymous):
		return "no user signed in (run 'eco signin <user-id>')"
	case errors.Is(err, remote.ErrTransient):
		return fmt.Sprintf("backend error: %v", err)
	default:
		return err.Error()
	}
}
