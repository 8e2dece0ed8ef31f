// Package journal keeps the agent's daily narrative: one markdown file per
// UTC day under {workspace}/journal, a frontmatter header on the first write
// of the day, plain appends after that.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// dateLayout names journal files, one per UTC day.
const dateLayout = "2006-01-02"

// ErrEmptyContent rejects empty or whitespace-only entries.
var ErrEmptyContent = errors.New("journal entry content is empty")

// Store is the file-backed journal under {workspace}/journal.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens the journal under the given workspace, creating the
// directory when missing.
func NewStore(workspace string) (*Store, error) {
	s := &Store{
		dir: filepath.Join(workspace, "journal"),
		now: time.Now,
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return s, nil
}

// Dir returns the journal directory path.
func (s *Store) Dir() string { return s.dir }

// Today returns the current UTC day in journal date form.
func (s *Store) Today() string { return s.now().UTC().Format(dateLayout) }

// EntryOptions carry the header metadata for the day's first write. Later
// appends on the same day ignore them: the header is written once.
type EntryOptions struct {
	SessionKeys []string
	Tags        []string
}

// Append writes content to today's file and returns its path. The first
// write of a day emits the frontmatter header; appends never rewrite what
// is already there.
func (s *Store) Append(content string, opts EntryOptions) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.Today()
	path := filepath.Join(s.dir, date+".md")

	_, err := os.Stat(path)
	fresh := os.IsNotExist(err)
	if err != nil && !fresh {
		return "", fmt.Errorf("stat journal file: %w", err)
	}

	payload := "\n" + content + "\n"
	if fresh {
		payload = header(date, opts) + payload
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(payload); err != nil {
		return "", fmt.Errorf("append journal entry: %w", err)
	}
	return path, nil
}

func header(date string, opts EntryOptions) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "date: %s\n", date)
	writeList(&b, "session_keys", opts.SessionKeys)
	writeList(&b, "tags", opts.Tags)
	b.WriteString("---\n")
	return b.String()
}

func writeList(b *strings.Builder, key string, vals []string) {
	if len(vals) == 0 {
		return
	}
	b.WriteString(key)
	b.WriteString(":\n")
	for _, v := range vals {
		fmt.Fprintf(b, "  - %s\n", v)
	}
}

func (s *Store) path(date string) string {
	if date == "" {
		date = s.Today()
	}
	return filepath.Join(s.dir, date+".md")
}

// Read returns the full entry for the given day ("" means today). Missing
// days surface the underlying fs.ErrNotExist.
func (s *Store) Read(date string) (string, error) {
	data, err := os.ReadFile(s.path(date))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Body returns the day's entry with the frontmatter header stripped.
func (s *Store) Body(date string) (string, error) {
	text, err := s.Read(date)
	if err != nil {
		return "", err
	}
	return stripHeader(text), nil
}

func stripHeader(text string) string {
	if !strings.HasPrefix(text, "---\n") {
		return text
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return text
	}
	return strings.TrimPrefix(rest[end+len("\n---\n"):], "\n")
}

// Exists reports whether the day already has an entry.
func (s *Store) Exists(date string) bool {
	_, err := os.Stat(s.path(date))
	return err == nil
}

// Meta is the parsed frontmatter of a journal file.
type Meta struct {
	Date        string   `yaml:"date"`
	SessionKeys []string `yaml:"session_keys"`
	Tags        []string `yaml:"tags"`
}

// ReadMeta parses the entry's frontmatter. Files without a header return an
// empty Meta rather than an error.
func (s *Store) ReadMeta(date string) (*Meta, error) {
	text, err := s.Read(date)
	if err != nil {
		return nil, err
	}
	meta := &Meta{}
	if !strings.HasPrefix(text, "---\n") {
		return meta, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return meta, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), meta); err != nil {
		return nil, fmt.Errorf("parse journal frontmatter: %w", err)
	}
	return meta, nil
}

// List returns entry dates, newest first. limit > 0 truncates.
func (s *Store) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read journal dir: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}
