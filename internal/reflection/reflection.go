// Package reflection derives meta-observations about the agent's own
// behavior from a finished session: tool failures, user corrections,
// repeated tool calls, uncertainty markers. Detection is deterministic —
// no model call — so it runs even when every job model is unset. Valid
// candidates are committed as append-only reflection memory items; the
// committed set feeds bootstrap promotion.
package reflection

import (
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/hermit/internal/memory"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

// Reflection candidate types.
const (
	TypeMistake     = "mistake"     // something went wrong
	TypeUncertainty = "uncertainty" // the agent was unsure
	TypePattern     = "pattern"     // repeated behavior observed
	TypeImprovement = "improvement" // suggestion for improvement
	TypeInsight     = "insight"     // general insight about the work
)

// Candidate is one meta-observation about agent behavior. Unlike
// distillation output it is about the agent, not the domain.
type Candidate struct {
	Type          string
	Title         string
	Content       string
	Confidence    *float64
	Tags          []string
	SourceSession string

	ToolInvolved   string
	ErrorPattern   string // for mistakes
	Frequency      string // for patterns
	Impact         string // low, medium, high
	Suggestion     string
	SessionContext string
	UserCorrection bool
}

// Validate returns every problem with the candidate, empty when it is fit
// to commit.
func (c *Candidate) Validate() []string {
	var errs []string
	if strings.TrimSpace(c.Title) == "" {
		errs = append(errs, "Title is required")
	}
	if strings.TrimSpace(c.Content) == "" {
		errs = append(errs, "Content is required")
	}
	if c.Confidence != nil && (*c.Confidence < 0 || *c.Confidence > 1) {
		errs = append(errs, "Confidence must be between 0.0 and 1.0")
	}
	if c.Type == TypeMistake && c.ErrorPattern == "" {
		errs = append(errs, "Error pattern required for mistakes")
	}
	if c.Type == TypePattern && c.Frequency == "" {
		errs = append(errs, "Frequency required for patterns")
	}
	return errs
}

// MemoryContext assembles the candidate's metadata into the context field
// of the stored reflection, one line per known attribute.
func (c *Candidate) MemoryContext() string {
	var parts []string
	if c.SessionContext != "" {
		parts = append(parts, "Context: "+c.SessionContext)
	}
	if c.ToolInvolved != "" {
		parts = append(parts, "Tool: "+c.ToolInvolved)
	}
	if c.ErrorPattern != "" {
		parts = append(parts, "Error: "+c.ErrorPattern)
	}
	if c.Frequency != "" {
		parts = append(parts, "Frequency: "+c.Frequency)
	}
	if c.Impact != "" {
		parts = append(parts, "Impact: "+c.Impact)
	}
	if c.Suggestion != "" {
		parts = append(parts, "Suggestion: "+c.Suggestion)
	}
	if c.UserCorrection {
		parts = append(parts, "User correction: yes")
	}
	return strings.Join(parts, "\n")
}

// Analyzer commits analysis results to the memory store.
type Analyzer struct {
	memory store.MemoryStore
}

// New returns an Analyzer writing through the given memory store.
func New(mem store.MemoryStore) *Analyzer {
	return &Analyzer{memory: mem}
}

// Run analyzes one session snapshot and commits the valid candidates as
// reflection items. It returns the committed set, which the caller may hand
// to bootstrap promotion. Commit failures log and continue.
func (a *Analyzer) Run(sessionKey string, turns []sessions.Turn) []*Candidate {
	candidates := Analyze(turns)
	if len(candidates) == 0 {
		slog.Debug("no reflections generated", "session", sessionKey)
		return nil
	}

	var committed []*Candidate
	for _, c := range candidates {
		c.SourceSession = sessionKey
		if errs := c.Validate(); len(errs) > 0 {
			slog.Warn("reflection failed validation",
				"session", sessionKey, "title", c.Title, "errors", strings.Join(errs, "; "))
			continue
		}
		tags := append(append([]string{}, c.Tags...), c.Type, "reflection")
		_, err := a.memory.WriteReflection(c.Title, c.Content, tags, memory.ReflectionOptions{
			Context: c.MemoryContext(),
		})
		if err != nil {
			slog.Error("reflection commit failed",
				"session", sessionKey, "title", c.Title, "error", err)
			continue
		}
		committed = append(committed, c)
	}

	if len(committed) > 0 {
		slog.Info("reflection complete", "session", sessionKey, "insights", len(committed))
	}
	return committed
}
