package distill

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hermit/internal/memory"
)

// Candidate is a proposed memory item extracted from a session transcript.
// It is a proposal only: validation and the typed memory write decide what
// actually gets stored.
type Candidate struct {
	Type          memory.Category
	Title         string
	Content       string
	Confidence    *float64 // nil means the model gave none; treated as full confidence
	Tags          []string
	SourceSession string

	// Task fields.
	TaskStatus   string
	TaskAssignee string
	TaskDeadline string
	TaskPriority string

	// Goal fields.
	GoalStatus   string
	GoalPriority string
	GoalHorizon  string

	// Decision fields.
	DecisionStatus     string
	DecisionRationale  string
	DecisionSupersedes string

	// Fact fields.
	FactSource string

	// Reflection fields.
	ReflectionContext string
}

// decodeCandidate builds a Candidate from one element of the model's
// `candidates` array. The type is matched case-insensitively; a missing or
// unknown type is a decode error, everything else is left for Validate.
func decodeCandidate(m map[string]interface{}) (*Candidate, error) {
	raw := strings.ToLower(strings.TrimSpace(stringField(m, "type")))
	if raw == "" {
		return nil, fmt.Errorf("candidate type is required")
	}
	typ := memory.Category(raw)
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown candidate type %q", raw)
	}

	confidence, err := floatField(m, "confidence")
	if err != nil {
		return nil, err
	}

	return &Candidate{
		Type:       typ,
		Title:      stringField(m, "title"),
		Content:    stringField(m, "content"),
		Confidence: confidence,
		Tags:       stringsField(m, "tags"),

		TaskStatus:   stringField(m, "task_status"),
		TaskAssignee: stringField(m, "task_assignee"),
		TaskDeadline: stringField(m, "task_deadline"),
		TaskPriority: stringField(m, "task_priority"),

		GoalStatus:   stringField(m, "goal_status"),
		GoalPriority: stringField(m, "goal_priority"),
		GoalHorizon:  stringField(m, "goal_horizon"),

		DecisionStatus:     stringField(m, "decision_status"),
		DecisionRationale:  stringField(m, "decision_rationale"),
		DecisionSupersedes: stringField(m, "decision_supersedes"),

		FactSource: stringField(m, "fact_source"),

		ReflectionContext: stringField(m, "reflection_context"),
	}, nil
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
	if c.Type == memory.CategoryTask && strings.TrimSpace(c.TaskAssignee) == "" {
		errs = append(errs, "Task assignee is required")
	}
	if c.Type == memory.CategoryDecision && c.DecisionSupersedes != "" &&
		strings.TrimSpace(c.DecisionRationale) == "" {
		errs = append(errs, "Rationale required when superseding another decision")
	}
	return errs
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func floatField(m map[string]interface{}, key string) (*float64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &f, nil
}

func stringsField(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
