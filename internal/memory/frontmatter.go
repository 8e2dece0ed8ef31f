package memory

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// timestampLayout is the on-disk timestamp format. The clock part uses
// hyphens, matching the filename timestamps, so one format serves both.
const timestampLayout = "2006-01-02T15-04-05"

func formatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// parseTimestamp accepts the native layout plus common fallbacks so files
// touched by other tools still load.
func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{
			timestampLayout,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02",
		} {
			if ts, err := time.ParseInLocation(layout, t, time.Local); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// encodeItem renders the item as frontmatter + body. Key order is fixed:
// id, title, created_at, updated_at, type, tags, then the category fields,
// then any preserved extras.
func encodeItem(it *Item) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	writeScalar(&b, "id", it.ID)
	writeScalar(&b, "title", it.Title)
	writeScalar(&b, "created_at", formatTimestamp(it.CreatedAt))
	writeScalar(&b, "updated_at", formatTimestamp(it.UpdatedAt))
	writeScalar(&b, "type", string(it.Category))
	writeTags(&b, it.Tags)

	switch it.Category {
	case CategoryTask:
		writeScalar(&b, "status", it.Status)
		writeScalar(&b, "assignee", it.Assignee)
		writeOptional(&b, "deadline", it.Deadline)
		writeOptional(&b, "priority", it.Priority)
		writeOptional(&b, "related_goal", it.RelatedGoal)
	case CategoryGoal:
		writeScalar(&b, "status", it.Status)
		writeOptional(&b, "priority", it.Priority)
		writeOptional(&b, "horizon", it.Horizon)
	case CategoryFact:
		if it.Confidence != nil {
			fmt.Fprintf(&b, "confidence: %s\n", strconv.FormatFloat(*it.Confidence, 'g', -1, 64))
		}
		writeOptional(&b, "source", it.Source)
	case CategoryDecision:
		writeScalar(&b, "status", it.Status)
		writeOptional(&b, "supersedes", it.Supersedes)
		writeOptional(&b, "rationale", it.Rationale)
		writeOptional(&b, "scope", it.Scope)
	case CategoryReflection:
		writeOptional(&b, "context", it.Context)
	}

	if len(it.Extras) > 0 {
		keys := make([]string, 0, len(it.Extras))
		for k := range it.Extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out, err := yaml.Marshal(map[string]interface{}{k: it.Extras[k]})
			if err != nil {
				continue
			}
			b.Write(out)
		}
	}

	b.WriteString("---\n\n")
	b.WriteString(it.Content)
	b.WriteString("\n")
	return []byte(b.String())
}

func writeScalar(b *strings.Builder, key, val string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(yamlScalar(val))
	b.WriteString("\n")
}

func writeOptional(b *strings.Builder, key, val string) {
	if val != "" {
		writeScalar(b, key, val)
	}
}

func writeTags(b *strings.Builder, tags []string) {
	if len(tags) == 0 {
		b.WriteString("tags: []\n")
		return
	}
	b.WriteString("tags:\n")
	for _, tag := range tags {
		b.WriteString("  - ")
		b.WriteString(yamlScalar(tag))
		b.WriteString("\n")
	}
}

// yamlScalar quotes a string only when plain YAML would misread it.
// Double-quoted Go escaping is valid YAML double-quote style.
func yamlScalar(s string) string {
	if needsQuote(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "yes", "no", "on", "off", "~":
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if s != strings.TrimSpace(s) {
		return true
	}
	for i, r := range s {
		plain := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == ' ' || r == '_' || r == '.' || r == '/' || r == '@' || r == '-'
		if !plain {
			return true
		}
		if i == 0 && (r == '-' || r == '@' || r == '.' || r == '/') {
			return true
		}
	}
	return false
}

// parseItem loads an item from raw file bytes. Unknown frontmatter keys are
// preserved in Extras; missing required keys fail the parse.
func parseItem(data []byte, path string) (*Item, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, fmt.Errorf("missing frontmatter")
	}
	rest := text[len("---\n"):]
	var fmBlock, body string
	if end := strings.Index(rest, "\n---\n"); end >= 0 {
		fmBlock = rest[:end+1]
		body = rest[end+len("\n---\n"):]
	} else if strings.HasSuffix(rest, "\n---") {
		fmBlock = rest[:len(rest)-len("---")]
	} else {
		return nil, fmt.Errorf("unterminated frontmatter")
	}
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimRight(body, "\n")

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(fmBlock), &raw); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	it := &Item{path: path, archived: strings.Contains(filepath.ToSlash(path), "/archived/")}
	it.Content = body

	takeString := func(key string) string {
		if v, ok := raw[key]; ok {
			delete(raw, key)
			return fmt.Sprint(v)
		}
		return ""
	}

	it.ID = takeString("id")
	it.Title = takeString("title")
	it.Category = Category(takeString("type"))
	if it.ID == "" || it.Title == "" || !it.Category.Valid() {
		return nil, fmt.Errorf("missing required frontmatter keys")
	}

	if v, ok := raw["created_at"]; ok {
		delete(raw, "created_at")
		if ts, ok := parseTimestamp(v); ok {
			it.CreatedAt = ts
		}
	}
	if v, ok := raw["updated_at"]; ok {
		delete(raw, "updated_at")
		if ts, ok := parseTimestamp(v); ok {
			it.UpdatedAt = ts
		}
	}

	if v, ok := raw["tags"]; ok {
		delete(raw, "tags")
		if list, ok := v.([]interface{}); ok {
			for _, el := range list {
				it.Tags = append(it.Tags, fmt.Sprint(el))
			}
		}
	}

	if v, ok := raw["confidence"]; ok {
		delete(raw, "confidence")
		switch n := v.(type) {
		case float64:
			it.Confidence = &n
		case int:
			f := float64(n)
			it.Confidence = &f
		}
	}

	it.Status = takeString("status")
	it.Assignee = takeString("assignee")
	it.Deadline = takeString("deadline")
	it.Priority = takeString("priority")
	it.RelatedGoal = takeString("related_goal")
	it.Horizon = takeString("horizon")
	it.Source = takeString("source")
	it.Supersedes = takeString("supersedes")
	it.Rationale = takeString("rationale")
	it.Scope = takeString("scope")
	it.Context = takeString("context")

	if len(raw) > 0 {
		it.Extras = raw
	}
	return it, nil
}
