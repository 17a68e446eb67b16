package main

import (
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync daemon with the real-time WebSocket dashboard",
	Long: `Run the sync daemon with a dashboard server attached. Same as
'eco daemon --dashboard'.

WebSocket messages include:
- status: engine state, connectivity, identity, term count, queue size
  (sent on connect and after every pull, drain or identity change)
- sync_event: every engine event as it happens

Endpoints:
  ws://localhost:8080/ws       event feed
  http://localhost:8080/status current status as JSON
  http://localhost:8080/health liveness
  http://localhost:8080/metrics Prometheus counters

Example usage:
  eco dashboard                  # Start on dashboard.port (default 8080)
  eco dashboard --port 9000      # Start on custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, true)
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: dashboard.port)")
	rootCmd.AddCommand(dashboardCmd)
}
