package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ecoterms/ecosync/internal/lookup"
	"github.com/ecoterms/ecosync/internal/schema"
	"github.com/ecoterms/ecosync/internal/ui"
)

var signinCmd = &cobra.Command{
	Use:     "signin <user-id>",
	GroupID: "user",
	Short:   "Sign in and merge local favorites and history into the account",
	Long: `Switch from the anonymous session to a user account.

Favorites and history recorded while signed out are merged into the
account and cleared from the anonymous session. When the backend is
reachable, favorites and recent history are reconciled with the cloud
and queued actions are replayed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		name, _ := cmd.Flags().GetString("name")
		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		id := schema.Authenticated(strings.TrimSpace(args[0]))
		if id.IsAnonymous() {
			fatalf(a, "user id must not be empty")
		}
		if err := a.engine.SignIn(ctx, id, name); err != nil {
			fatalf(a, "%s", describeErr(err))
		}

		favs, err := a.engine.Favorites(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}
		hist, err := a.engine.History(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), id)
		fmt.Printf("   Favorites: %d\n", favs.Len())
		fmt.Printf("   History: %d\n", len(hist))
		if !a.engine.Online() {
			fmt.Printf("%s Offline: cloud reconcile runs on the next sync\n", ui.RenderWarn("⚠"))
		}
	},
}

var signoutCmd = &cobra.Command{
	Use:     "signout",
	GroupID: "user",
	Short:   "Return to the anonymous session",
	Long: `Return to the anonymous session. Actions still queued for the user are
kept and replayed after the next sign-in.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		was := a.engine.Identity()
		if was.IsAnonymous() {
			fmt.Printf("%s Not signed in\n", ui.RenderWarn("⚠"))
			return
		}
		if err := a.engine.SignOut(ctx); err != nil {
			fatalf(a, "%v", err)
		}
		fmt.Printf("%s Signed out %s\n", ui.RenderPass("✓"), was)

		pending, err := a.queue.Pending(ctx, was.UserID())
		if err == nil && len(pending) > 0 {
			fmt.Printf("   %d queued action(s) kept for the next sign-in\n", len(pending))
		}
	},
}

var searchCmd = &cobra.Command{
	Use:     "search [query]",
	GroupID: "user",
	Short:   "Search the dictionary",
	Long: `Search term titles, ignoring case and accents. Exact matches rank first,
then prefixes, substrings and loose subsequences.

Queries of three or more characters are added to the search history.

Examples:
  eco search agua
  eco search --category Clima
  eco search --letter z`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		category, _ := cmd.Flags().GetString("category")
		letter, _ := cmd.Flags().GetString("letter")
		limit, _ := cmd.Flags().GetInt("limit")
		if utf8.RuneCountInString(letter) > 1 {
			fmt.Fprintf(os.Stderr, "Error: --letter takes a single letter\n")
			os.Exit(1)
		}

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		var query string
		if len(args) == 1 {
			query = strings.TrimSpace(args[0])
		}

		matches := lookup.Search(a.engine.Terms(), lookup.Filter{
			Query:    query,
			Category: category,
			Letter:   letter,
		})
		if query != "" {
			if _, err := a.engine.RecordSearch(ctx, query); err != nil {
				a.warnf("failed to record search: %v", err)
			}
		}

		if len(matches) == 0 {
			fmt.Printf("%s No terms found\n", ui.RenderWarn("⚠"))
			return
		}

		favs, err := a.engine.Favorites(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}

		shown := matches
		if limit > 0 && len(shown) > limit {
			shown = shown[:limit]
		}
		for _, m := range shown {
			star := " "
			if favs.Contains(m.Term.Title) {
				star = ui.RenderAccent("★")
			}
			fmt.Printf("%s %s %s\n", star, ui.RenderAccent(m.Term.Title), ui.RenderMuted("["+m.Term.Category+"]"))
			fmt.Printf("    %s\n", m.Term.Definition)
		}
		if len(shown) < len(matches) {
			fmt.Printf("\n%s\n", ui.RenderMuted(fmt.Sprintf("... %d more (use --limit 0 for all)", len(matches)-len(shown))))
		}
	},
}

var categoriesCmd = &cobra.Command{
	Use:     "categories",
	GroupID: "user",
	Short:   "List term categories",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		terms := a.engine.Terms()
		counts := make(map[string]int)
		for _, t := range terms {
			counts[t.Category]++
		}
		for _, c := range lookup.Categories(terms) {
			n := len(terms)
			if c != lookup.AllCategories {
				n = counts[c]
			}
			fmt.Printf("%s %s\n", c, ui.RenderMuted("("+strconv.Itoa(n)+")"))
		}
	},
}

var favoritesCmd = &cobra.Command{
	Use:     "favorites",
	GroupID: "user",
	Short:   "List or toggle favorite terms",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		favs, err := a.engine.Favorites(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}
		if favs.Len() == 0 {
			fmt.Println("No favorites yet")
			return
		}
		for _, title := range favs.Items() {
			fmt.Printf("%s %s\n", ui.RenderAccent("★"), title)
		}
	},
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle <title>",
	Short: "Add a term to favorites, or remove it if present",
	Long: `Toggle a favorite. When signed in, the change is written to the backend,
or queued and replayed later if the backend is unreachable.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		title := args[0]
		if !knownTitle(a.engine.Terms(), title) {
			a.warnf("%q is not in the dictionary", title)
		}

		added, err := a.engine.ToggleFavorite(ctx, title)
		if err != nil {
			fatalf(a, "%v", err)
		}
		if added {
			fmt.Printf("%s Added %s to favorites\n", ui.RenderPass("✓"), title)
		} else {
			fmt.Printf("%s Removed %s from favorites\n", ui.RenderPass("✓"), title)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "user",
	Short:   "Show recent searches",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		hist, err := a.engine.History(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}
		if len(hist) == 0 {
			fmt.Println("No searches yet")
			return
		}
		for i, q := range hist {
			fmt.Printf("%s %s\n", ui.RenderMuted(fmt.Sprintf("%2d.", i+1)), q)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "user",
	Short:   "Show favorite and search counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		a := openApp(ctx, cmd, openOptions{start: true})
		defer a.Close()

		st, err := a.engine.Stats(ctx)
		if err != nil {
			fatalf(a, "%v", err)
		}
		source := "local"
		if st.Remote {
			source = "cloud"
		}
		fmt.Printf("\n%s Profile (%s)\n\n", ui.RenderAccent("📊"), a.engine.Identity())
		ui.KeyValues(os.Stdout,
			[2]string{"Favorites", strconv.Itoa(st.Favorites)},
			[2]string{"Searches", strconv.Itoa(st.History)},
			[2]string{"Source", source},
		)
		fmt.Println()
	},
}

func init() {
	signinCmd.Flags().String("name", "", "Display name for a new profile")

	searchCmd.Flags().StringP("category", "c", "", "Only terms in this category")
	searchCmd.Flags().StringP("letter", "l", "", "Only titles starting with this letter")
	searchCmd.Flags().IntP("limit", "n", 20, "Maximum results to show (0 for all)")

	favoritesCmd.AddCommand(favoritesToggleCmd)

	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}

func knownTitle(terms []schema.Term, title string) bool {
	for _, t := range terms {
		if t.Title == title {
			return true
		}
	}
	return false
}
