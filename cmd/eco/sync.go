package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/ecoterms/ecosync/internal/cache"
	"github.com/ecoterms/ecosync/internal/ui"
	engine "github.com/ecoterms/ecosync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull term deltas and replay queued actions",
	Long: `Synchronize the local dictionary with the remote backend.

The local cache always serves a complete dictionary: the last synced set,
or the bundled dataset when the cache is empty or was written by another
dataset version. Pulls are incremental from the last successful sync.`,
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch and merge term changes since the last sync",
	Long: `Fetch term rows changed since the last sync, clean them, and merge them
into the local dictionary. Deleted terms are removed.

--since rewinds the sync cursor before pulling. It accepts RFC 3339
timestamps and phrases such as "2 days ago" or "last monday".

Examples:
  eco sync pull
  eco sync pull --since "3 days ago"
  eco sync pull --full`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		full, _ := cmd.Flags().GetBool("full")
		sinceText, _ := cmd.Flags().GetString("since")

		a := openApp(ctx, cmd, openOptions{})
		defer a.Close()

		if full || sinceText != "" {
			var since time.Time
			if !full {
				t, err := parseSince(sinceText, time.Now())
				if err != nil {
					fatalf(a, "%v", err)
				}
				since = t
			}
			if err := rewindCursor(ctx, a, since); err != nil {
				fatalf(a, "%v", err)
			}
		}

		fmt.Printf("%s Pulling term changes...\n", ui.RenderAccent("🔄"))
		start := time.Now()
		if err := a.engine.Start(ctx); err != nil {
			fatalf(a, "%v", err)
		}

		if !a.engine.Online() {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), describeErr(engine.ErrOffline))
			fmt.Printf("   Serving %d cached terms (last sync: %s)\n", len(a.engine.Terms()), lastSync(a))
			return
		}

		e, ok := a.lastEvent(engine.EventPull)
		switch {
		case !ok:
			fmt.Printf("%s Already up to date\n", ui.RenderPass("✓"))
		case e.Error != "":
			fatalf(a, "pull failed: %s", e.Error)
		default:
			fmt.Printf("%s Pull complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			fmt.Printf("   Applied: %d\n", e.Applied)
		}
		fmt.Printf("   Terms: %d\n", len(a.engine.Terms()))
		fmt.Printf("   Last sync: %s\n", lastSync(a))
	},
}

var syncDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay the signed-in user's queued actions",
	Long: `Replay favorites and history writes that were queued while offline.

Actions are applied in the order they were queued. A failed write is
retried on later drains and dropped after queue.retry_ceiling retries.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		e, ok := a.lastEvent(engine.EventDrain)
		if !ok {
			res, err := a.engine.Drain(ctx)
			if err != nil {
				fatalf(a, "%s", describeErr(err))
			}
			if res.Skipped {
				fmt.Printf("%s Another drain is in progress\n", ui.RenderWarn("⚠"))
				return
			}
			e = engine.Event{Applied: res.Applied, Requeued: res.Requeued, Dropped: res.Dropped}
		}
		if e.Error != "" {
			fatalf(a, "drain failed: %s", e.Error)
		}

		fmt.Printf("%s Drain complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Applied: %d\n", e.Applied)
		fmt.Printf("   Requeued: %d\n", e.Requeued)
		if e.Dropped > 0 {
			fmt.Printf("   Dropped: %s\n", ui.RenderFail(strconv.Itoa(e.Dropped)))
		}
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state, identity and queue size",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		queued, err := a.queue.Len(ctx)
		if err != nil {
			fatalf(a, "failed to read queue: %v", err)
		}

		connectivity := ui.RenderPass("online")
		if !a.engine.Online() {
			connectivity = ui.RenderWarn("offline")
		}
		backend := a.cfg.Remote.URL
		if backend == "" {
			backend = ui.RenderMuted("(not configured)")
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		ui.KeyValues(os.Stdout,
			[2]string{"State", string(a.engine.State())},
			[2]string{"Backend", backend},
			[2]string{"Connectivity", connectivity},
			[2]string{"Identity", a.engine.Identity().String()},
			[2]string{"Terms", strconv.Itoa(len(a.engine.Terms()))},
			[2]string{"Dataset", a.engine.Cursor().SchemaVersion},
			[2]string{"Last sync", lastSync(a)},
			[2]string{"Queued", strconv.Itoa(queued)},
			[2]string{"Cache", a.cfg.DBPath},
		)
		fmt.Println()
	},
}

func init() {
	syncPullCmd.Flags().String("since", "", "Rewind the cursor to this time before pulling")
	syncPullCmd.Flags().Bool("full", false, "Pull every row, ignoring the last sync time")
	syncPullCmd.MarkFlagsMutuallyExclusive("since", "full")

	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncDrainCmd)
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

// parseSince accepts RFC 3339, a YYYY-MM-DD date, or a natural-language
// time relative to now. Times after now are rejected.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("--since must not be empty")
	}

	t, err := parseTime(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if t.After(now) {
		return time.Time{}, fmt.Errorf("--since %q is in the future", text)
	}
	return t, nil
}

func parseTime(text string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, errors.New("no time found")
	}
	return r.Time, nil
}

// rewindCursor moves the stored cursor back to since. A zero since clears
// it so the next pull fetches every row. A cache that was never synced
// already pulls everything and is left alone.
func rewindCursor(ctx context.Context, a *app, since time.Time) error {
	cursor, err := a.store.LoadSyncCursor(ctx)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load sync cursor: %w", err)
	}

	if since.IsZero() {
		cursor.LastSyncISO = ""
		cursor.LastSyncDisplay = ""
	} else {
		cursor = cursor.Advance(since)
	}
	if err := a.store.SaveSyncCursor(ctx, cursor); err != nil {
		return fmt.Errorf("failed to rewind sync cursor: %w", err)
	}
	return nil
}

func lastSync(a *app) string {
	if d := a.engine.Cursor().LastSyncDisplay; d != "" {
		return d
	}
	return "never"
}
