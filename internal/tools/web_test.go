package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubSearchProvider struct {
	name    string
	results []searchResult
	err     error
}

func (p *stubSearchProvider) Name() string { return p.name }
func (p *stubSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	return p.results, p.err
}

func TestWebSearchTool_FirstProviderWins(t *testing.T) {
	tool := &WebSearchTool{
		maxResults: 5,
		providers: []SearchProvider{
			&stubSearchProvider{name: "primary", results: []searchResult{
				{Title: "Go docs", URL: "https://go.dev", Description: "The Go homepage"},
			}},
			&stubSearchProvider{name: "fallback", err: errors.New("should not be called")},
		},
	}

	res := tool.Execute(context.Background(), map[string]interface{}{"query": "golang"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Text)
	}
	if !strings.Contains(res.Text, "Search results for: golang (via primary)") {
		t.Errorf("missing header: %q", res.Text)
	}
	if !strings.Contains(res.Text, "1. Go docs\n   https://go.dev") {
		t.Errorf("missing result: %q", res.Text)
	}
}

func TestWebSearchTool_FallsBack(t *testing.T) {
	tool := &WebSearchTool{
		maxResults: 5,
		providers: []SearchProvider{
			&stubSearchProvider{name: "broken", err: errors.New("rate limited")},
			&stubSearchProvider{name: "backup", results: []searchResult{
				{Title: "Result", URL: "https://example.com"},
			}},
		},
	}

	res := tool.Execute(context.Background(), map[string]interface{}{"query": "anything"})
	if res.IsError {
		t.Fatalf("fallback did not engage: %s", res.Text)
	}
	if !strings.Contains(res.Text, "(via backup)") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestWebSearchTool_AllFail(t *testing.T) {
	tool := &WebSearchTool{
		maxResults: 5,
		providers:  []SearchProvider{&stubSearchProvider{name: "only", err: errors.New("down")}},
	}

	res := tool.Execute(context.Background(), map[string]interface{}{"query": "x"})
	if !res.IsError || !strings.Contains(res.Text, "all search providers failed") {
		t.Errorf("result = %+v", res)
	}
}

func TestNewWebSearchTool_ProviderOrder(t *testing.T) {
	withKey := NewWebSearchTool("key123", 5)
	if len(withKey.providers) != 2 || withKey.providers[0].Name() != "brave" || withKey.providers[1].Name() != "duckduckgo" {
		t.Errorf("providers with key: %d", len(withKey.providers))
	}

	keyless := NewWebSearchTool("", 5)
	if len(keyless.providers) != 1 || keyless.providers[0].Name() != "duckduckgo" {
		t.Errorf("providers without key: %d", len(keyless.providers))
	}
}

func TestExtractDDGResults(t *testing.T) {
	html := `
<div><a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=abc">Example <b>Page</b></a></div>
<div><a class="result__snippet" href="#">A useful <b>snippet</b> here.</a></div>
<div><a rel="nofollow" class="result__a" href="https://plain.example.org">Plain Link</a></div>`

	results := extractDDGResults(html, 5)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "Example Page" {
		t.Errorf("Title = %q", results[0].Title)
	}
	if results[0].URL != "https://example.com/page" {
		t.Errorf("URL = %q", results[0].URL)
	}
	if results[0].Description != "A useful snippet here." {
		t.Errorf("Description = %q", results[0].Description)
	}
	if results[1].URL != "https://plain.example.org" {
		t.Errorf("second URL = %q", results[1].URL)
	}
}

func TestFormatSearchResults_Empty(t *testing.T) {
	got := formatSearchResults("nothing", nil, "brave")
	if got != "No results found for: nothing" {
		t.Errorf("got %q", got)
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>
<body><nav>Menu</nav><p>First &amp; foremost.</p><ul><li>one</li><li>two</li></ul>
<footer>legal</footer></body></html>`

	got := htmlToText(html)
	if strings.Contains(got, "alert") || strings.Contains(got, "Menu") || strings.Contains(got, "legal") {
		t.Errorf("non-content survived: %q", got)
	}
	if !strings.Contains(got, "First & foremost.") {
		t.Errorf("paragraph lost: %q", got)
	}
	if !strings.Contains(got, "- one") || !strings.Contains(got, "- two") {
		t.Errorf("list items lost: %q", got)
	}
}

func TestExtractJSON(t *testing.T) {
	got := extractJSON([]byte(`{"b":1,"a":[true]}`))
	if !strings.Contains(got, "\"a\": [") {
		t.Errorf("not pretty-printed: %q", got)
	}
	raw := extractJSON([]byte("not json"))
	if raw != "not json" {
		t.Errorf("raw passthrough = %q", raw)
	}
}

func TestWebFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><p>Hello fetch</p></body></html>"))
	}))
	defer srv.Close()

	tool := NewWebFetchTool(0)
	res := tool.Execute(context.Background(), map[string]interface{}{"url": srv.URL})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Text)
	}
	if !strings.Contains(res.Text, "Status: 200") {
		t.Errorf("missing status: %q", res.Text)
	}
	if !strings.Contains(res.Text, "Hello fetch") {
		t.Errorf("missing content: %q", res.Text)
	}
}

func TestWebFetchTool_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	tool := NewWebFetchTool(0)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"url":       srv.URL,
		"max_chars": float64(200),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Text)
	}
	if !strings.Contains(res.Text, "... (truncated at 200 chars)") {
		t.Errorf("missing truncation marker: %q", res.Text)
	}
}

func TestWebFetchTool_RejectsSchemes(t *testing.T) {
	tool := NewWebFetchTool(0)
	res := tool.Execute(context.Background(), map[string]interface{}{"url": "ftp://example.com/file"})
	if !res.IsError || res.Text != "only http and https URLs are supported" {
		t.Errorf("result = %+v", res)
	}
}
