// Package distill extracts atomic memory candidates from finished session
// transcripts. It runs as a background job after a session ends, proposes
// facts, decisions, goals, tasks and reflections via an LLM, validates each
// proposal, and commits the survivors through the typed memory writes.
//
// Distillation is local-only by policy: it runs on the configured
// distillation model or not at all, never on the primary.
package distill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/memory"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

const (
	distillTemperature = 0.1
	distillMaxTokens   = 2048

	// Transcript bounds keep the prompt inside small-model context windows.
	maxTurns     = 50
	maxTurnChars = 500

	// Assignee stamped on extracted tasks the model left unassigned.
	defaultAssignee = "distilled"
)

// ErrNoModel means no distillation model is configured. The job is skipped
// rather than falling back to the primary.
var ErrNoModel = errors.New("no distillation model configured")

// ModelCaller is the slice of the provider registry the distiller needs.
type ModelCaller interface {
	ModelForJob(job string) (string, bool)
	Chat(ctx context.Context, model string, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// Distiller turns session transcripts into committed memory items.
type Distiller struct {
	models ModelCaller
	memory store.MemoryStore
}

// New returns a Distiller writing through the given memory store.
func New(models ModelCaller, mem store.MemoryStore) *Distiller {
	return &Distiller{models: models, memory: mem}
}

// Run distills one session snapshot and returns the number of committed
// items. ErrNoModel means the job was skipped. Unparseable model output is
// logged and dropped, not returned as an error: the run itself completed.
func (d *Distiller) Run(ctx context.Context, sessionKey string, turns []sessions.Turn) (int, error) {
	model, ok := d.models.ModelForJob(config.JobDistillation)
	if !ok {
		return 0, ErrNoModel
	}
	if len(turns) == 0 {
		return 0, nil
	}

	resp, err := d.models.Chat(ctx, model, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: buildPrompt(turns)}},
		Options: map[string]interface{}{
			providers.OptTemperature: distillTemperature,
			providers.OptMaxTokens:   distillMaxTokens,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("distillation model call: %w", err)
	}

	content := providers.StripThinking(resp.Content)
	if content == "" {
		return 0, nil
	}

	candidates, err := parseCandidates(content)
	if err != nil {
		slog.Warn("distillation response unparseable", "session", sessionKey, "error", err)
		return 0, nil
	}

	committed := 0
	for _, m := range candidates {
		c, err := decodeCandidate(m)
		if err != nil {
			slog.Warn("dropping malformed candidate", "session", sessionKey, "error", err)
			continue
		}
		c.SourceSession = sessionKey
		if c.Type == memory.CategoryTask && strings.TrimSpace(c.TaskAssignee) == "" {
			c.TaskAssignee = defaultAssignee
		}
		if errs := c.Validate(); len(errs) > 0 {
			slog.Warn("candidate failed validation",
				"session", sessionKey, "title", c.Title, "errors", strings.Join(errs, "; "))
			continue
		}
		if err := d.commit(c); err != nil {
			slog.Error("memory commit failed", "session", sessionKey, "title", c.Title, "error", err)
			continue
		}
		committed++
	}

	if committed > 0 {
		slog.Info("distillation complete", "session", sessionKey, "candidates", committed)
	} else {
		slog.Debug("no candidates distilled", "session", sessionKey)
	}
	return committed, nil
}

// buildPrompt renders the extraction prompt: user and assistant turns only,
// each clipped to maxTurnChars, scanning the first maxTurns turns.
func buildPrompt(turns []sessions.Turn) string {
	var b strings.Builder
	b.WriteString("Extract atomic knowledge candidates from this agent session.\n\n" +
		"Look for:\n" +
		"- FACTS: User preferences, project context, established truths\n" +
		"- DECISIONS: Architectural choices, trade-offs, locked decisions\n" +
		"- GOALS: Objectives, outcomes the user wants to achieve\n" +
		"- TASKS: Action items, todos, things to do\n" +
		"- REFLECTIONS: Insights, patterns, observations about the work\n\n" +
		"Session content:\n")

	scan := turns
	if len(scan) > maxTurns {
		scan = scan[:maxTurns]
	}
	for _, t := range scan {
		switch t.Role {
		case "user":
			b.WriteString("User: " + clip(t.Content, maxTurnChars) + "\n")
		case "assistant":
			b.WriteString("Assistant: " + clip(t.Content, maxTurnChars) + "\n")
		}
	}

	b.WriteString("\n\nReturn candidates as a JSON object with 'candidates' array.\n" +
		"Each candidate must have: type, title, content.\n" +
		"Optional: confidence (0-1), tags, and type-specific fields.\n" +
		"Be conservative - only extract clear, atomic knowledge.")
	return b.String()
}

// parseCandidates pulls the outermost JSON object out of the model response
// and decodes its candidates array. Strict JSON first, JSON5 as the fallback
// for trailing commas and unquoted keys.
func parseCandidates(content string) ([]map[string]interface{}, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	raw := []byte(content[start : end+1])

	var p struct {
		Candidates []map[string]interface{} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		if err5 := json5.Unmarshal(raw, &p); err5 != nil {
			return nil, fmt.Errorf("response is not valid JSON: %w", err)
		}
	}
	return p.Candidates, nil
}

func (d *Distiller) commit(c *Candidate) error {
	var err error
	switch c.Type {
	case memory.CategoryFact:
		_, err = d.memory.WriteFact(c.Title, c.Content, c.Tags, memory.FactOptions{
			Confidence: c.Confidence,
			Source:     c.FactSource,
		})
	case memory.CategoryDecision:
		_, err = d.memory.WriteDecision(c.Title, c.Content, c.Tags, memory.DecisionOptions{
			Status:     c.DecisionStatus,
			Supersedes: c.DecisionSupersedes,
			Rationale:  c.DecisionRationale,
		})
	case memory.CategoryGoal:
		_, err = d.memory.WriteGoal(c.Title, c.Content, c.Tags, memory.GoalOptions{
			Status:   c.GoalStatus,
			Priority: c.GoalPriority,
			Horizon:  c.GoalHorizon,
		})
	case memory.CategoryTask:
		_, err = d.memory.WriteTask(c.Title, c.Content, c.Tags, memory.TaskOptions{
			Status:   c.TaskStatus,
			Assignee: c.TaskAssignee,
			Deadline: c.TaskDeadline,
			Priority: c.TaskPriority,
		})
	case memory.CategoryReflection:
		_, err = d.memory.WriteReflection(c.Title, c.Content, c.Tags, memory.ReflectionOptions{
			Context: c.ReflectionContext,
		})
	default:
		err = fmt.Errorf("unknown candidate type %q", c.Type)
	}
	return err
}

// clip truncates to at most n runes, with no marker. Model-facing text, not
// user-facing.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
