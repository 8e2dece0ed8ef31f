package memory

import (
	"path/filepath"
	"sort"
	"strings"
)

// SearchResult pairs a matched item with where the query matched.
type SearchResult struct {
	Item      *Item
	MatchedIn string // "filename", "title", "tags" or "content"
}

// Search scans all items (archived included) for a case-insensitive match.
// Per item the match order is filename stem, title, tags, content — the
// first hit wins and is recorded. Results come back newest first by
// updated_at; limit truncates after sorting.
func (s *Store) Search(query string, limit int) ([]SearchResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, it := range s.scanAll() {
		if field, ok := matchItem(it, q); ok {
			results = append(results, SearchResult{Item: it, MatchedIn: field})
		}
	}

	sortResultsByUpdated(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchItem(it *Item, q string) (string, bool) {
	stem := strings.TrimSuffix(filepath.Base(it.path), ".md")
	if strings.Contains(strings.ToLower(stem), q) {
		return "filename", true
	}
	if strings.Contains(strings.ToLower(it.Title), q) {
		return "title", true
	}
	for _, tag := range it.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return "tags", true
		}
	}
	if strings.Contains(strings.ToLower(it.Content), q) {
		return "content", true
	}
	return "", false
}

func sortResultsByUpdated(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Item.UpdatedAt.After(results[j].Item.UpdatedAt)
	})
}
