package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecoterms/ecosync/internal/config"
	"github.com/ecoterms/ecosync/internal/schema"
	"github.com/ecoterms/ecosync/internal/seed"
	"github.com/ecoterms/ecosync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.toml to the data directory",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		cfg := loadConfig(cmd)

		path, err := config.WriteStarter(cfg.DataDir, cfg, force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		file := cfg.File
		if file == "" {
			file = ui.RenderMuted("(none, using defaults and environment)")
		}
		token := ""
		if cfg.Remote.Token != "" {
			token = "********"
		}
		ui.KeyValues(os.Stdout,
			[2]string{"config file", file},
			[2]string{"data_dir", cfg.DataDir},
			[2]string{"db_path", cfg.DBPath},
			[2]string{"schema_version", cfg.SchemaVersion},
			[2]string{"remote.url", cfg.Remote.URL},
			[2]string{"remote.token", token},
			[2]string{"remote.timeout", cfg.Remote.Timeout.String()},
			[2]string{"queue.retry_ceiling", strconv.Itoa(cfg.Queue.RetryCeiling)},
			[2]string{"history.limit", strconv.Itoa(cfg.History.Limit)},
			[2]string{"daemon.probe_interval", cfg.Daemon.ProbeInterval.String()},
			[2]string{"daemon.debounce", cfg.Daemon.Debounce.String()},
			[2]string{"daemon.inbox", cfg.Daemon.Inbox},
			[2]string{"dashboard.port", strconv.Itoa(cfg.Dashboard.Port)},
			[2]string{"log.file", cfg.Log.File},
		)
	},
}

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "advanced",
	Short:   "Inspect or reset the local cache",
}

var cacheEntriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List stored keys",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{})
		defer a.Close()

		entries, err := a.store.Entries(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Cache is empty")
			return
		}
		for _, e := range entries {
			fmt.Printf("%-28s %8s  %s\n", e.Key, formatBytes(e.Bytes), ui.RenderMuted(e.UpdatedAt))
		}
	},
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every cached value",
	Long: `Delete the cached dictionary, sync cursor, favorites, history, session
and offline queue. The next command reseeds from the bundled dataset and
pulls everything. Queued actions that were never replayed are lost.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		yes, _ := cmd.Flags().GetBool("yes")
		a := openApp(ctx, cmd, openOptions{})
		defer a.Close()

		if !yes {
			queued, _ := a.queue.Len(ctx)
			desc := a.cfg.DBPath
			if queued > 0 {
				desc = fmt.Sprintf("%s\n%d queued action(s) will be lost.", desc, queued)
			}
			ok, err := ui.Confirm("Reset the local cache?", desc, false)
			if err != nil {
				fatalf(a, "%v", err)
			}
			if !ok {
				fmt.Println("Aborted (use --yes to skip the prompt)")
				return
			}
		}

		if err := a.store.Reset(ctx); err != nil {
			fatalf(a, "%v", err)
		}
		fmt.Printf("%s Cache reset\n", ui.RenderPass("✓"))
	},
}

var deltaCmd = &cobra.Command{
	Use:     "delta",
	GroupID: "sync",
	Short:   "Apply term delta files",
}

var deltaApplyCmd = &cobra.Command{
	Use:   "apply <file.json>...",
	Short: "Merge delta files into the local dictionary",
	Long: `Merge JSON delta files (a list of {"t","d","c","deleted_at"} rows) into
the local dictionary. The sync cursor does not move. A running daemon does
the same for files dropped into its inbox.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		failed := 0
		for _, path := range args {
			raw, err := schema.ReadDeltaFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), path, err)
				failed++
				continue
			}
			n, err := a.engine.ApplyDelta(ctx, raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), path, err)
				failed++
				continue
			}
			fmt.Printf("%s %s: %d row(s) applied\n", ui.RenderPass("✓"), path, n)
		}
		fmt.Printf("   Terms: %d\n", len(a.engine.Terms()))
		if failed > 0 {
			a.Close()
			os.Exit(1)
		}
	},
}

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "advanced",
	Short:   "Manage a development backend",
}

var remotePublishCmd = &cobra.Command{
	Use:   "publish-seed",
	Short: "Create the backend tables and publish a dataset to them",
	Long: `Create the backend tables if missing and upsert every term of a dataset,
stamped with the current time. Intended for development backends.

Examples:
  ECO_REMOTE_URL=./backend.db eco remote publish-seed
  eco remote publish-seed --file terms.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		file, _ := cmd.Flags().GetString("file")
		a := openApp(ctx, cmd, openOptions{})
		defer a.Close()

		if a.backend == nil {
			fatalf(a, "remote.url is not set or the backend could not be opened")
		}

		ds := seed.Default()
		if file != "" {
			loaded, err := seed.Load(file)
			if err != nil {
				fatalf(a, "%v", err)
			}
			ds = loaded
		}

		if err := a.backend.InitSchema(ctx); err != nil {
			fatalf(a, "%v", err)
		}
		start := time.Now()
		if err := a.backend.PublishTerms(ctx, ds.Terms, start); err != nil {
			fatalf(a, "%s", describeErr(err))
		}
		fmt.Printf("%s Published %d terms (dataset %s) in %v\n",
			ui.RenderPass("✓"), len(ds.Terms), ds.Version, time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	cacheResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	cacheCmd.AddCommand(cacheEntriesCmd)
	cacheCmd.AddCommand(cacheResetCmd)

	deltaCmd.AddCommand(deltaApplyCmd)

	remotePublishCmd.Flags().String("file", "", "YAML dataset to publish (default: bundled dataset)")
	remoteCmd.AddCommand(remotePublishCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(deltaCmd)
	rootCmd.AddCommand(remoteCmd)
}

func formatBytes(n int) string {
	switch {
	case n > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
