package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hermit/internal/store"
)

const defaultSearchLimit = 10

// MemorySearchTool searches across all memory categories, archived items
// included.
type MemorySearchTool struct {
	store store.MemoryStore
}

func NewMemorySearchTool(ms store.MemoryStore) *MemorySearchTool {
	return &MemorySearchTool{store: ms}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Search long-term memory (facts, decisions, goals, tasks, reflections) by keyword."
}
func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search terms",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum results to return (default 10)",
				"minimum":     1.0,
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	limit := defaultSearchLimit
	if n, ok := argInt(args, "limit"); ok && n > 0 {
		limit = n
	}

	results, err := t.store.Search(query, limit)
	if err != nil {
		return ErrorResult("Error searching memory: %v", err)
	}
	if len(results) == 0 {
		return NewResult(fmt.Sprintf("No memories found for: %s", query))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d memories for: %s\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. [%s] %s (id %s, matched %s)\n", i+1, r.Item.Category, r.Item.Title, r.Item.ID, r.MatchedIn)
		if snippet := truncate(strings.TrimSpace(r.Item.Content), 200); snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", snippet)
		}
	}
	return NewResult(sb.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
