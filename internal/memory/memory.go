// Package memory implements the category-typed long-term store: markdown
// files with YAML frontmatter under workspace/memory/, one file per item.
//
// Five categories exist — fact, decision, goal, task, reflection — each with
// its own directory, frontmatter fields, and lifecycle rules. Item identity
// is content-derived (sha256 over title+content), which makes re-commits of
// the same knowledge idempotent.
package memory

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Category is a memory item category.
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryDecision   Category = "decision"
	CategoryGoal       Category = "goal"
	CategoryTask       Category = "task"
	CategoryReflection Category = "reflection"
)

// Categories lists all categories in context-rendering order.
var Categories = []Category{
	CategoryFact,
	CategoryDecision,
	CategoryGoal,
	CategoryTask,
	CategoryReflection,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFact, CategoryDecision, CategoryGoal, CategoryTask, CategoryReflection:
		return true
	}
	return false
}

// DirName returns the plural directory name for the category.
func (c Category) DirName() string {
	return string(c) + "s"
}

// Task status values and transitions.
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskDeferred   = "deferred"
)

// Goal status values.
const (
	GoalActive    = "active"
	GoalAchieved  = "achieved"
	GoalAbandoned = "abandoned"
)

// Decision status values.
const (
	DecisionActive     = "active"
	DecisionSuperseded = "superseded"
)

// taskTransitions is the allowed task state machine. Done is terminal.
var taskTransitions = map[string][]string{
	TaskOpen:       {TaskInProgress, TaskDone, TaskDeferred},
	TaskInProgress: {TaskDone, TaskDeferred},
	TaskDeferred:   {TaskOpen, TaskInProgress},
	TaskDone:       {},
}

// taskTransitionAllowed reports whether from → to is in the state machine.
func taskTransitionAllowed(from, to string) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Item is one memory entry.
type Item struct {
	ID        string
	Title     string
	Content   string
	Category  Category
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Category-specific fields. Zero values mean "not set" except Status,
	// which is always populated for task/goal/decision items.
	Status      string   // task, goal, decision
	Assignee    string   // task
	Deadline    string   // task
	Priority    string   // task, goal
	RelatedGoal string   // task
	Horizon     string   // goal
	Confidence  *float64 // fact
	Source      string   // fact
	Supersedes  string   // decision
	Rationale   string   // decision
	Scope       string   // decision
	Context     string   // reflection

	// Extras holds unknown frontmatter keys so third-party edits survive a
	// load/store round trip.
	Extras map[string]interface{}

	path     string // absolute file path, set on load/store
	archived bool   // file lives under an archived/ directory
}

// Path returns the item's file location on disk (empty before first store).
func (it *Item) Path() string { return it.path }

// Archived reports whether the item's file lives in an archived directory.
func (it *Item) Archived() bool { return it.archived }

// ComputeID derives the content-addressed item ID: the first 8 hex chars of
// SHA-256 over "title:content".
func ComputeID(title, content string) string {
	sum := sha256.Sum256([]byte(title + ":" + content))
	return fmt.Sprintf("%x", sum)[:8]
}

// ValidationError reports invalid input to a memory operation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErr(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// RuleViolation reports a lifecycle rule breach (deleting a decision,
// editing a reflection).
type RuleViolation struct {
	Reason string
}

func (e *RuleViolation) Error() string { return e.Reason }

// validate checks an item before it is written.
func (it *Item) validate() error {
	if strings.TrimSpace(it.Title) == "" {
		return validationErr("Title is required")
	}
	if strings.TrimSpace(it.Content) == "" {
		return validationErr("Content is required")
	}
	if !it.Category.Valid() {
		return validationErr("Unknown category: %s", it.Category)
	}
	if it.Confidence != nil && (*it.Confidence < 0.0 || *it.Confidence > 1.0) {
		return validationErr("Confidence must be between 0.0 and 1.0")
	}

	switch it.Category {
	case CategoryTask:
		if strings.TrimSpace(it.Assignee) == "" {
			return validationErr("Task assignee is required")
		}
		switch it.Status {
		case TaskOpen, TaskInProgress, TaskDone, TaskDeferred:
		default:
			return validationErr("Invalid task status: %s", it.Status)
		}
	case CategoryGoal:
		switch it.Status {
		case GoalActive, GoalAchieved, GoalAbandoned:
		default:
			return validationErr("Invalid goal status: %s", it.Status)
		}
	case CategoryDecision:
		switch it.Status {
		case DecisionActive, DecisionSuperseded:
		default:
			return validationErr("Invalid decision status: %s", it.Status)
		}
		if it.Supersedes != "" && strings.TrimSpace(it.Rationale) == "" {
			return validationErr("Rationale required when superseding another decision")
		}
	}
	return nil
}

// slugify turns a title into the filename slug: lowercase, whitespace runs
// collapsed to "-", anything outside [a-z0-9_-] removed, capped at 50 chars,
// "untitled" when nothing survives.
func slugify(title string) string {
	s := strings.ToLower(title)
	s = strings.Join(strings.Fields(s), "-")

	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		return "untitled"
	}
	return s
}
