package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	defaultSearchCount   = 5
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	webUserAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// SearchProvider abstracts a web search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
	Name() string
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// WebSearchTool queries the configured backends in order: Brave when an
// API key is set, DuckDuckGo as the keyless fallback.
type WebSearchTool struct {
	providers  []SearchProvider
	maxResults int
}

func NewWebSearchTool(braveAPIKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 || maxResults > maxSearchCount {
		maxResults = defaultSearchCount
	}
	var providers []SearchProvider
	if braveAPIKey != "" {
		providers = append(providers, newBraveSearchProvider(braveAPIKey))
	}
	providers = append(providers, newDuckDuckGoSearchProvider())
	return &WebSearchTool{providers: providers, maxResults: maxResults}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets from search results."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results to return (1-10)",
				"minimum":     1.0,
				"maximum":     float64(maxSearchCount),
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if query == "" {
		return ErrorResult("query is required")
	}
	count := t.maxResults
	if c, ok := argInt(args, "count"); ok && c >= 1 && c <= maxSearchCount {
		count = c
	}

	var lastErr error
	for _, provider := range t.providers {
		results, err := provider.Search(ctx, query, count)
		if err != nil {
			slog.Warn("web_search provider failed", "provider", provider.Name(), "error", err)
			lastErr = err
			continue
		}
		return NewResult(formatSearchResults(query, results, provider.Name()))
	}
	return ErrorResult("all search providers failed: %v", lastErr)
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s (via %s)\n\n", query, provider)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
