package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the file-backed memory store rooted at {workspace}/memory.
// Writes are serialized; reads scan the directory tree so external edits
// (the user opening the files in an editor) are always visible.
type Store struct {
	root string
	mu   sync.RWMutex
}

// NewStore opens the memory store under the given workspace, creating the
// category directories when missing.
func NewStore(workspace string) (*Store, error) {
	s := &Store{root: filepath.Join(workspace, "memory")}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the memory directory path.
func (s *Store) Root() string { return s.root }

func (s *Store) ensureDirs() error {
	for _, c := range Categories {
		if err := os.MkdirAll(s.categoryDir(c), 0o755); err != nil {
			return fmt.Errorf("create memory dir: %w", err)
		}
	}
	for _, c := range []Category{CategoryGoal, CategoryTask} {
		if err := os.MkdirAll(s.archivedDir(c), 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}
	return nil
}

func (s *Store) categoryDir(c Category) string {
	return filepath.Join(s.root, c.DirName())
}

func (s *Store) archivedDir(c Category) string {
	return filepath.Join(s.categoryDir(c), "archived")
}

// FactOptions are the optional fields of a fact.
type FactOptions struct {
	Confidence *float64
	Source     string
}

// DecisionOptions are the optional fields of a decision.
type DecisionOptions struct {
	Status     string // default "active"
	Supersedes string
	Rationale  string
	Scope      string
}

// GoalOptions are the optional fields of a goal.
type GoalOptions struct {
	Status   string // default "active"
	Priority string
	Horizon  string
}

// TaskOptions are the fields of a task beyond title/content.
type TaskOptions struct {
	Status      string // default "open"
	Assignee    string // required
	Deadline    string
	Priority    string
	RelatedGoal string
}

// ReflectionOptions are the optional fields of a reflection.
type ReflectionOptions struct {
	Context string
}

// WriteFact stores a fact.
func (s *Store) WriteFact(title, content string, tags []string, opts FactOptions) (*Item, error) {
	return s.write(&Item{
		Title:      strings.TrimSpace(title),
		Content:    strings.TrimSpace(content),
		Category:   CategoryFact,
		Tags:       tags,
		Confidence: opts.Confidence,
		Source:     opts.Source,
	})
}

// WriteDecision stores a decision. When it supersedes another decision, the
// referenced decision is marked superseded (if it can be found).
func (s *Store) WriteDecision(title, content string, tags []string, opts DecisionOptions) (*Item, error) {
	status := opts.Status
	if status == "" {
		status = DecisionActive
	}
	return s.write(&Item{
		Title:      strings.TrimSpace(title),
		Content:    strings.TrimSpace(content),
		Category:   CategoryDecision,
		Tags:       tags,
		Status:     status,
		Supersedes: opts.Supersedes,
		Rationale:  opts.Rationale,
		Scope:      opts.Scope,
	})
}

// WriteGoal stores a goal.
func (s *Store) WriteGoal(title, content string, tags []string, opts GoalOptions) (*Item, error) {
	status := opts.Status
	if status == "" {
		status = GoalActive
	}
	return s.write(&Item{
		Title:    strings.TrimSpace(title),
		Content:  strings.TrimSpace(content),
		Category: CategoryGoal,
		Tags:     tags,
		Status:   status,
		Priority: opts.Priority,
		Horizon:  opts.Horizon,
	})
}

// WriteTask stores a task. Assignee is required.
func (s *Store) WriteTask(title, content string, tags []string, opts TaskOptions) (*Item, error) {
	status := opts.Status
	if status == "" {
		status = TaskOpen
	}
	return s.write(&Item{
		Title:       strings.TrimSpace(title),
		Content:     strings.TrimSpace(content),
		Category:    CategoryTask,
		Tags:        tags,
		Status:      status,
		Assignee:    strings.TrimSpace(opts.Assignee),
		Deadline:    opts.Deadline,
		Priority:    opts.Priority,
		RelatedGoal: opts.RelatedGoal,
	})
}

// WriteReflection stores a reflection. Reflections are append-only: once
// written they can be neither updated nor deleted.
func (s *Store) WriteReflection(title, content string, tags []string, opts ReflectionOptions) (*Item, error) {
	return s.write(&Item{
		Title:    strings.TrimSpace(title),
		Content:  strings.TrimSpace(content),
		Category: CategoryReflection,
		Tags:     tags,
		Context:  opts.Context,
	})
}

// write validates and stores an item. Re-committing identical title+content
// (same ID) rewrites the existing file in place instead of creating a
// duplicate.
func (s *Store) write(it *Item) (*Item, error) {
	if err := it.validate(); err != nil {
		return nil, err
	}
	it.ID = ComputeID(it.Title, it.Content)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing := s.findByID(it.ID); existing != nil && existing.Category == it.Category {
		it.CreatedAt = existing.CreatedAt
		it.UpdatedAt = now
		it.path = existing.path
		it.archived = existing.archived
		if err := s.writeFile(it, existing.path); err != nil {
			return nil, err
		}
		return it, nil
	}

	it.CreatedAt = now
	it.UpdatedAt = now

	dir := s.categoryDir(it.Category)
	if shouldArchive(it) {
		dir = s.archivedDir(it.Category)
		it.archived = true
	}
	path := s.uniquePath(dir, newFileName(it))
	if err := s.writeFile(it, path); err != nil {
		return nil, err
	}

	if it.Category == CategoryDecision && it.Supersedes != "" {
		s.markSuperseded(it.Supersedes, it.ID)
	}
	return it, nil
}

// shouldArchive reports whether the item's status places its file under
// the category's archived directory.
func shouldArchive(it *Item) bool {
	switch it.Category {
	case CategoryGoal:
		return it.Status == GoalAchieved || it.Status == GoalAbandoned
	case CategoryTask:
		return it.Status == TaskDone
	}
	return false
}

// newFileName builds {timestamp}-{rand}-{category}-{slug}.md.
func newFileName(it *Item) string {
	ts := it.CreatedAt.Format(timestampLayout)
	rand := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%s-%s.md", ts, rand, it.Category, slugify(it.Title))
}

// uniquePath resolves filename collisions by appending -1, -2, … before .md.
func (s *Store) uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	base := strings.TrimSuffix(name, ".md")
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.md", base, i))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

// writeFile atomically writes the item to path (temp file + rename).
func (s *Store) writeFile(it *Item, path string) error {
	data := encodeItem(it)
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "memory-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close memory file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename memory file: %w", err)
	}
	cleanup = false
	it.path = path
	return nil
}

// markSuperseded flips the referenced decision to superseded. Missing
// targets only warn: the new decision stands either way.
func (s *Store) markSuperseded(oldID, byID string) {
	old := s.findByID(oldID)
	if old == nil || old.Category != CategoryDecision {
		slog.Warn("superseded decision not found", "id", oldID, "superseded_by", byID)
		return
	}
	old.Status = DecisionSuperseded
	old.UpdatedAt = time.Now()
	if err := s.writeFile(old, old.path); err != nil {
		slog.Warn("failed to mark decision superseded", "id", oldID, "error", err)
	}
}

// Get returns the item with the given ID, or nil when absent. Duplicate IDs
// log a warning; the newest copy wins.
func (s *Store) Get(id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByID(id), nil
}

// findByID scans all categories lexicographically. Callers hold s.mu.
func (s *Store) findByID(id string) *Item {
	var found *Item
	for _, it := range s.scanAll() {
		if it.ID != id {
			continue
		}
		if found == nil {
			found = it
			continue
		}
		slog.Warn("duplicate memory id", "id", id, "a", found.path, "b", it.path)
		if it.UpdatedAt.After(found.UpdatedAt) {
			found = it
		}
	}
	return found
}

// ListOptions filter List results.
type ListOptions struct {
	Query           string // case-insensitive substring over title+content
	Status          string
	IncludeArchived bool
}

// List returns the category's items, newest first by updated_at.
func (s *Store) List(category Category, opts ListOptions) ([]*Item, error) {
	if !category.Valid() {
		return nil, validationErr("Unknown category: %s", category)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.scanCategory(category, opts.IncludeArchived)

	filtered := items[:0]
	q := strings.ToLower(strings.TrimSpace(opts.Query))
	for _, it := range items {
		if q != "" &&
			!strings.Contains(strings.ToLower(it.Title), q) &&
			!strings.Contains(strings.ToLower(it.Content), q) {
			continue
		}
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		filtered = append(filtered, it)
	}

	sortByUpdated(filtered)
	return filtered, nil
}

// Update loads the item, applies mutate, and rewrites it with a bumped
// updated_at. Missing items return (nil, nil). Category and ID are fixed;
// status changes follow the lifecycle rules.
func (s *Store) Update(id string, mutate func(*Item) error) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.findByID(id)
	if it == nil {
		return nil, nil
	}

	switch it.Category {
	case CategoryReflection:
		return nil, &RuleViolation{Reason: "Reflections are append-only and cannot be updated"}
	case CategoryDecision:
		slog.Warn("updating a decision; decisions should be superseded, not edited", "id", id)
	}

	oldStatus := it.Status
	wasArchived := it.archived
	oldPath := it.path

	if err := mutate(it); err != nil {
		return nil, err
	}
	it.ID = id
	if err := it.validate(); err != nil {
		return nil, err
	}

	if it.Category == CategoryTask && it.Status != oldStatus && !taskTransitionAllowed(oldStatus, it.Status) {
		slog.Warn("task status transition outside the state machine",
			"id", id, "from", oldStatus, "to", it.Status)
	}

	it.UpdatedAt = time.Now()

	newPath := oldPath
	if shouldArchive(it) && !wasArchived {
		newPath = filepath.Join(s.archivedDir(it.Category), filepath.Base(oldPath))
		it.archived = true
	}
	if err := s.writeFile(it, newPath); err != nil {
		return nil, err
	}
	if newPath != oldPath {
		if err := os.Remove(oldPath); err != nil {
			slog.Warn("failed to remove pre-archive file", "path", oldPath, "error", err)
		}
	}
	return it, nil
}

// Delete removes the item's file. Decisions and reflections refuse; other
// categories warn and proceed. Missing items return (false, nil).
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.findByID(id)
	if it == nil {
		return false, nil
	}

	switch it.Category {
	case CategoryDecision:
		return false, &RuleViolation{Reason: "Decisions cannot be deleted; supersede them instead"}
	case CategoryReflection:
		return false, &RuleViolation{Reason: "Reflections are append-only and cannot be deleted"}
	case CategoryFact:
		slog.Warn("deleting a fact; facts are meant to be long-lived", "id", id, "title", it.Title)
	default:
		slog.Warn("deleting memory item", "category", it.Category, "id", id, "title", it.Title)
	}

	if err := os.Remove(it.path); err != nil {
		return false, fmt.Errorf("delete memory file: %w", err)
	}
	return true, nil
}

// scanAll reads every item across all categories, archived included,
// in category order and lexicographic file order. Callers hold s.mu.
func (s *Store) scanAll() []*Item {
	var items []*Item
	for _, c := range Categories {
		items = append(items, s.scanCategory(c, true)...)
	}
	return items
}

// scanCategory reads the category directory (files sorted by name), then
// the archived subdirectory when asked. Callers hold s.mu.
func (s *Store) scanCategory(c Category, includeArchived bool) []*Item {
	items := s.scanDir(s.categoryDir(c))
	if includeArchived {
		items = append(items, s.scanDir(s.archivedDir(c))...)
	}
	return items
}

func (s *Store) scanDir(dir string) []*Item {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var items []*Item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable memory file", "path", path, "error", err)
			continue
		}
		it, err := parseItem(data, path)
		if err != nil {
			slog.Warn("skipping invalid memory file", "path", path, "error", err)
			continue
		}
		items = append(items, it)
	}
	return items
}

// sortByUpdated orders newest first; ties keep scan order.
func sortByUpdated(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
}
