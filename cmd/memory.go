package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/memory"
)

var (
	memoryStatus   string
	memoryArchived bool
	memoryLimit    int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the markdown memory store",
}

var memoryListCmd = &cobra.Command{
	Use:   "list [category]",
	Short: "List memory items, newest first",
	Long:  "List items in one category (fact, decision, goal, task, reflection) or all of them.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ms := openMemoryStore()

		categories := memory.Categories
		if len(args) == 1 {
			c := memory.Category(strings.ToLower(args[0]))
			if !c.Valid() {
				fmt.Fprintf(os.Stderr, "Unknown category %q. Valid: fact, decision, goal, task, reflection.\n", args[0])
				os.Exit(1)
			}
			categories = []memory.Category{c}
		}

		var rows [][]string
		for _, c := range categories {
			items, err := ms.List(c, memory.ListOptions{Status: memoryStatus, IncludeArchived: memoryArchived})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to list %s: %v\n", c, err)
				os.Exit(1)
			}
			for _, it := range items {
				status := it.Status
				if it.Archived() {
					status = "archived"
				}
				rows = append(rows, []string{
					it.ID,
					string(it.Category),
					status,
					it.UpdatedAt.Format("2006-01-02 15:04"),
					clip(it.Title, 48),
				})
			}
		}
		if len(rows) == 0 {
			fmt.Println("No memory items.")
			return
		}
		renderTable(os.Stdout, []string{"ID", "CATEGORY", "STATUS", "UPDATED", "TITLE"}, rows)
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory by title, tags and content",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ms := openMemoryStore()

		query := strings.Join(args, " ")
		results, err := ms.Search(query, memoryLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if len(results) == 0 {
			fmt.Printf("No matches for %q.\n", query)
			return
		}

		rows := make([][]string, 0, len(results))
		for _, r := range results {
			rows = append(rows, []string{
				r.Item.ID,
				string(r.Item.Category),
				r.MatchedIn,
				clip(r.Item.Title, 48),
			})
		}
		renderTable(os.Stdout, []string{"ID", "CATEGORY", "MATCHED", "TITLE"}, rows)
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one memory item in full",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ms := openMemoryStore()

		it, err := ms.Get(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

		var confidence string
		if it.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *it.Confidence)
		}
		fmt.Printf("%s %s\n\n", it.Category, it.ID)
		for _, f := range []struct{ label, value string }{
			{"Title", it.Title},
			{"Tags", strings.Join(it.Tags, ", ")},
			{"Status", it.Status},
			{"Priority", it.Priority},
			{"Assignee", it.Assignee},
			{"Deadline", it.Deadline},
			{"Goal", it.RelatedGoal},
			{"Horizon", it.Horizon},
			{"Confidence", confidence},
			{"Source", it.Source},
			{"Supersedes", it.Supersedes},
			{"Scope", it.Scope},
			{"Context", it.Context},
			{"Created", it.CreatedAt.Format("2006-01-02 15:04")},
			{"Updated", it.UpdatedAt.Format("2006-01-02 15:04")},
			{"File", it.Path()},
		} {
			if f.value != "" {
				fmt.Printf("%-12s%s\n", f.label+":", f.value)
			}
		}
		fmt.Println()
		fmt.Println(it.Content)
	},
}

var memoryContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the memory context block injected into prompts",
	Run: func(cmd *cobra.Command, args []string) {
		ms := openMemoryStore()

		text, err := ms.BuildContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build context: %v\n", err)
			os.Exit(1)
		}
		if text == "" {
			fmt.Println("Memory is empty.")
			return
		}
		fmt.Println(text)
	},
}

func init() {
	memoryListCmd.Flags().StringVar(&memoryStatus, "status", "", "filter by status (open, done, active, ...)")
	memoryListCmd.Flags().BoolVar(&memoryArchived, "archived", false, "include archived items")
	memorySearchCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 20, "maximum results")

	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryContextCmd)
}

// openMemoryStore loads the config and opens the memory store, exiting
// on failure. Shared by the memory subcommands.
func openMemoryStore() *memory.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	ms, err := memory.NewStore(cfg.WorkspacePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open memory store: %v\n", err)
		os.Exit(1)
	}
	return ms
}
