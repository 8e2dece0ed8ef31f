package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
	"github.com/nextlevelbuilder/hermit/internal/store/file"
	"github.com/nextlevelbuilder/hermit/internal/store/sqlite"
)

var (
	sessionsArchived bool
	sessionsLimit    int
	sessionsAll      bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and clear chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	Run: func(cmd *cobra.Command, args []string) {
		_, mgr := openSessions()

		infos := mgr.List()
		if len(infos) == 0 {
			fmt.Println("No sessions.")
			return
		}
		rows := make([][]string, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, []string{
				info.Key,
				fmt.Sprintf("%d", info.MessageCount),
				info.Created.Format("2006-01-02 15:04"),
				info.Updated.Format("2006-01-02 15:04"),
			})
		}
		renderTable(os.Stdout, []string{"KEY", "MESSAGES", "CREATED", "UPDATED"}, rows)
	},
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Print a session's transcript",
	Long: `Print the live transcript of a session. With --archived the ended
conversations recorded in the archive database are printed instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, mgr := openSessions()
		key := args[0]

		if sessionsArchived {
			printArchivedHistory(cfg, key)
			return
		}

		turns := mgr.History(key)
		if len(turns) == 0 {
			fmt.Printf("Session %s has no messages. Try --archived for ended conversations.\n", key)
			return
		}
		printTurns(turns)
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear [key]",
	Short: "Delete a session (or all of them with --all)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, mgr := openSessions()

		if sessionsAll {
			var cleared int
			for _, info := range mgr.List() {
				if err := mgr.Delete(info.Key); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to delete %s: %v\n", info.Key, err)
					continue
				}
				cleared++
			}
			fmt.Printf("Cleared %d sessions.\n", cleared)
			return
		}

		if len(args) != 1 {
			fmt.Fprintln(os.Stderr, "Provide a session key or --all.")
			os.Exit(1)
		}
		key := args[0]
		if !mgr.Exists(key) {
			fmt.Printf("Session %s not found.\n", key)
			return
		}
		if err := mgr.Delete(key); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to delete session: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Session %s cleared.\n", key)
	},
}

func init() {
	sessionsHistoryCmd.Flags().BoolVar(&sessionsArchived, "archived", false, "show archived conversations from the database")
	sessionsHistoryCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 5, "maximum archived conversations to show")
	sessionsClearCmd.Flags().BoolVar(&sessionsAll, "all", false, "clear every session")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
}

func openSessions() (*config.Config, store.SessionStore) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	stores, err := file.NewStores(cfg.WorkspacePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open stores: %v\n", err)
		os.Exit(1)
	}
	return cfg, stores.Sessions
}

func printArchivedHistory(cfg *config.Config, key string) {
	if !cfg.Archive.IsEnabled() {
		fmt.Fprintln(os.Stderr, "Archiving is disabled in the config.")
		os.Exit(1)
	}
	db, err := sqlite.Open(cfg.ArchivePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open archive: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	archives, err := db.ListArchives(key, sessionsLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list archives: %v\n", err)
		os.Exit(1)
	}
	if len(archives) == 0 {
		fmt.Printf("No archived conversations for %s.\n", key)
		return
	}
	for i, a := range archives {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("=== %s — %s, %d messages (%s to %s) ===\n",
			a.SessionKey, a.Reason, a.MessageCount,
			a.StartedAt.Format("2006-01-02 15:04"), a.EndedAt.Format("2006-01-02 15:04"))
		printTurns(a.Transcript)
	}
}

func printTurns(turns []sessions.Turn) {
	for _, t := range turns {
		switch t.Role {
		case "tool":
			fmt.Printf("[tool:%s] %s\n", t.Name, clip(strings.ReplaceAll(t.Content, "\n", " "), 120))
		case "assistant":
			for _, tc := range t.ToolCalls {
				fmt.Printf("[assistant → %s] %s\n", tc.Function.Name, clip(tc.Function.Arguments, 120))
			}
			if t.Content != "" {
				fmt.Printf("[assistant] %s\n", t.Content)
			}
		default:
			fmt.Printf("[%s] %s\n", t.Role, t.Content)
		}
	}
}
