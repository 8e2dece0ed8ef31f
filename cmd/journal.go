package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/journal"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Read the daily journal",
}

var journalShowCmd = &cobra.Command{
	Use:   "show [date]",
	Short: "Print one day's journal entry (default today, dates are YYYY-MM-DD)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		js := openJournalStore()

		date := js.Today()
		if len(args) == 1 {
			date = args[0]
		}
		text, err := js.Read(date)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("No journal entry for %s.\n", date)
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read journal: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Println()
		}
	},
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List days that have journal entries, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		js := openJournalStore()

		dates, err := js.List(journalLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list journal: %v\n", err)
			os.Exit(1)
		}
		if len(dates) == 0 {
			fmt.Println("No journal entries yet.")
			return
		}

		rows := make([][]string, 0, len(dates))
		for _, date := range dates {
			sessionsCol, tagsCol := "", ""
			if meta, merr := js.ReadMeta(date); merr == nil && meta != nil {
				sessionsCol = fmt.Sprintf("%d", len(meta.SessionKeys))
				tagsCol = strings.Join(meta.Tags, ", ")
			}
			rows = append(rows, []string{date, sessionsCol, clip(tagsCol, 40)})
		}
		renderTable(os.Stdout, []string{"DATE", "SESSIONS", "TAGS"}, rows)
	},
}

func init() {
	journalListCmd.Flags().IntVarP(&journalLimit, "limit", "n", 14, "maximum days to list")

	journalCmd.AddCommand(journalShowCmd)
	journalCmd.AddCommand(journalListCmd)
}

func openJournalStore() *journal.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	js, err := journal.NewStore(cfg.WorkspacePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal store: %v\n", err)
		os.Exit(1)
	}
	return js
}
