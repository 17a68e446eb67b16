package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ecoterms/ecosync/internal/daemon"
	"github.com/ecoterms/ecosync/internal/dashboard"
	engine "github.com/ecoterms/ecosync/internal/sync"
	"github.com/ecoterms/ecosync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Serve the cached dictionary and sync when the backend is reachable
  2. Probe the backend every daemon.probe_interval, draining the queue
     and pulling whenever it comes back online
  3. Watch the inbox directory for *.json delta files, merge them, and
     move applied files to inbox/processed/

Only one daemon can run per data directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		runDaemon(cmd, withDashboard)
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the live dashboard")
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port (default: dashboard.port)")
	rootCmd.AddCommand(daemonCmd)
}

// runDaemon runs the daemon until SIGINT or SIGTERM, optionally with the
// dashboard attached to the engine's events.
func runDaemon(cmd *cobra.Command, withDashboard bool) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var handler *dashboard.Handler
	a := openApp(ctx, cmd, openOptions{
		logToStderr: true,
		onEvent: func(e engine.Event) {
			if handler != nil {
				handler.OnEvent(e)
			}
		},
	})
	defer a.Close()

	var server *dashboard.Server
	stopServer := func() {
		if server == nil {
			return
		}
		if err := server.Stop(); err != nil {
			a.warnf("dashboard shutdown: %v", err)
		}
	}

	port, _ := cmd.Flags().GetInt("port")
	if withDashboard {
		if port == 0 {
			port = a.cfg.Dashboard.Port
		}
		server = dashboard.NewServer(&dashboard.Config{
			Port:     port,
			Status:   func() dashboard.StatusData { return statusOf(a) },
			Gatherer: a.metrics.Registry(),
			Logger:   a.logs.Logger("dashboard"),
		})
		if err := server.Start(); err != nil {
			fatalf(a, "failed to start dashboard: %v", err)
		}
		handler = dashboard.NewHandler(server, a.logs.Logger("dashboard"))
	}

	d, err := daemon.NewWithConfig(a.engine, a.cfg.Daemon.Inbox, &daemon.Config{
		ProbeInterval:    a.cfg.Daemon.ProbeInterval,
		DebounceInterval: a.cfg.Daemon.Debounce,
		LockPath:         a.cfg.LockPath(),
		Logger:           a.logs.Logger("daemon"),
	})
	if err != nil {
		stopServer()
		fatalf(a, "failed to create daemon: %v", err)
	}

	fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Inbox: %s\n", a.cfg.Daemon.Inbox)
	fmt.Printf("   Cache: %s\n", a.cfg.DBPath)
	if a.cfg.Remote.URL == "" {
		fmt.Printf("   Backend: %s\n", ui.RenderMuted("(not configured, offline only)"))
	} else {
		fmt.Printf("   Backend: %s\n", a.cfg.Remote.URL)
	}
	if server != nil {
		fmt.Printf("   Dashboard: http://localhost:%d/status\n", port)
		fmt.Printf("   WebSocket: ws://localhost:%d/ws\n", port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	err = d.Start(ctx)
	stopServer()
	switch {
	case errors.Is(err, daemon.ErrLocked):
		fatalf(a, "another daemon is already running for %s", a.cfg.DataDir)
	case err != nil && !errors.Is(err, context.Canceled):
		fatalf(a, "daemon stopped with error: %v", err)
	}
	fmt.Println("\nDaemon stopped")
}

// statusOf snapshots the engine for the dashboard.
func statusOf(a *app) dashboard.StatusData {
	queued, err := a.queue.Len(context.Background())
	if err != nil {
		queued = -1
	}
	return dashboard.StatusData{
		State:    string(a.engine.State()),
		Online:   a.engine.Online(),
		Identity: a.engine.Identity().String(),
		Terms:    len(a.engine.Terms()),
		LastSync: a.engine.Cursor().LastSyncDisplay,
		Queued:   queued,
	}
}
