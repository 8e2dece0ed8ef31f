package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/hermit/internal/memory"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

// The write_* tools are the model's only path into long-term memory. Each
// category gets its own tool so the schema can require the right fields.

func memoryItemSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"title": map[string]interface{}{
			"type":        "string",
			"description": "Short descriptive title",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "The knowledge to remember, as markdown",
		},
		"tags": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Lowercase topic tags",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	req := append([]string{"title", "content"}, required...)
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   req,
	}
}

// --- write_fact ---

type WriteFactTool struct {
	store store.MemoryStore
}

func NewWriteFactTool(ms store.MemoryStore) *WriteFactTool { return &WriteFactTool{store: ms} }

func (t *WriteFactTool) Name() string { return "write_fact" }
func (t *WriteFactTool) Description() string {
	return "Save a fact to long-term memory. Use for stable knowledge about the user or the world."
}
func (t *WriteFactTool) Parameters() map[string]interface{} {
	return memoryItemSchema(map[string]interface{}{
		"confidence": map[string]interface{}{
			"type":        "number",
			"description": "How certain this fact is (0.0-1.0)",
			"minimum":     0.0,
			"maximum":     1.0,
		},
		"source": map[string]interface{}{
			"type":        "string",
			"description": "Where the fact came from",
		},
	})
}

func (t *WriteFactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	opts := memory.FactOptions{Source: argString(args, "source")}
	if c, ok := argFloat(args, "confidence"); ok {
		opts.Confidence = &c
	}
	item, err := t.store.WriteFact(argString(args, "title"), argString(args, "content"), argStrings(args, "tags"), opts)
	if err != nil {
		return ErrorResult("Error saving fact: %v", err)
	}
	return NewResult(fmt.Sprintf("Fact saved: %s", item.Title))
}

// --- write_decision ---

type WriteDecisionTool struct {
	store store.MemoryStore
}

func NewWriteDecisionTool(ms store.MemoryStore) *WriteDecisionTool {
	return &WriteDecisionTool{store: ms}
}

func (t *WriteDecisionTool) Name() string { return "write_decision" }
func (t *WriteDecisionTool) Description() string {
	return "Record a decision with its rationale. Decisions are never deleted; new ones supersede old ones."
}
func (t *WriteDecisionTool) Parameters() map[string]interface{} {
	return memoryItemSchema(map[string]interface{}{
		"rationale": map[string]interface{}{
			"type":        "string",
			"description": "Why this decision was made",
		},
		"supersedes": map[string]interface{}{
			"type":        "string",
			"description": "ID of the decision this replaces (rationale required when set)",
		},
		"scope": map[string]interface{}{
			"type":        "string",
			"description": "What the decision applies to",
		},
	})
}

func (t *WriteDecisionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	opts := memory.DecisionOptions{
		Rationale:  argString(args, "rationale"),
		Supersedes: argString(args, "supersedes"),
		Scope:      argString(args, "scope"),
	}
	item, err := t.store.WriteDecision(argString(args, "title"), argString(args, "content"), argStrings(args, "tags"), opts)
	if err != nil {
		return ErrorResult("Error saving decision: %v", err)
	}
	return NewResult(fmt.Sprintf("Decision saved: %s", item.Title))
}

// --- write_goal ---

type WriteGoalTool struct {
	store store.MemoryStore
}

func NewWriteGoalTool(ms store.MemoryStore) *WriteGoalTool { return &WriteGoalTool{store: ms} }

func (t *WriteGoalTool) Name() string { return "write_goal" }
func (t *WriteGoalTool) Description() string {
	return "Save a goal being pursued. Achieved or abandoned goals are archived automatically."
}
func (t *WriteGoalTool) Parameters() map[string]interface{} {
	return memoryItemSchema(map[string]interface{}{
		"status": map[string]interface{}{
			"type":        "string",
			"description": "Goal status",
			"enum":        []string{"active", "achieved", "abandoned"},
		},
		"priority": map[string]interface{}{
			"type":        "string",
			"description": "Priority (e.g. high, medium, low)",
		},
		"horizon": map[string]interface{}{
			"type":        "string",
			"description": "Time horizon (e.g. short, long)",
		},
	})
}

func (t *WriteGoalTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	opts := memory.GoalOptions{
		Status:   argString(args, "status"),
		Priority: argString(args, "priority"),
		Horizon:  argString(args, "horizon"),
	}
	item, err := t.store.WriteGoal(argString(args, "title"), argString(args, "content"), argStrings(args, "tags"), opts)
	if err != nil {
		return ErrorResult("Error saving goal: %v", err)
	}
	return NewResult(fmt.Sprintf("Goal saved: %s", item.Title))
}

// --- write_task ---

type WriteTaskTool struct {
	store store.MemoryStore
}

func NewWriteTaskTool(ms store.MemoryStore) *WriteTaskTool { return &WriteTaskTool{store: ms} }

func (t *WriteTaskTool) Name() string { return "write_task" }
func (t *WriteTaskTool) Description() string {
	return "Save an actionable task with an assignee. Done tasks are archived automatically."
}
func (t *WriteTaskTool) Parameters() map[string]interface{} {
	return memoryItemSchema(map[string]interface{}{
		"assignee": map[string]interface{}{
			"type":        "string",
			"description": "Who the task is assigned to",
		},
		"status": map[string]interface{}{
			"type":        "string",
			"description": "Task status",
			"enum":        []string{"open", "in_progress", "done", "deferred"},
		},
		"deadline": map[string]interface{}{
			"type":        "string",
			"description": "Deadline (e.g. 2026-09-01)",
		},
		"priority": map[string]interface{}{
			"type":        "string",
			"description": "Priority (e.g. high, medium, low)",
		},
		"related_goal": map[string]interface{}{
			"type":        "string",
			"description": "ID of the goal this task serves",
		},
	}, "assignee")
}

func (t *WriteTaskTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	opts := memory.TaskOptions{
		Status:      argString(args, "status"),
		Assignee:    argString(args, "assignee"),
		Deadline:    argString(args, "deadline"),
		Priority:    argString(args, "priority"),
		RelatedGoal: argString(args, "related_goal"),
	}
	item, err := t.store.WriteTask(argString(args, "title"), argString(args, "content"), argStrings(args, "tags"), opts)
	if err != nil {
		return ErrorResult("Error saving task: %v", err)
	}
	return NewResult(fmt.Sprintf("Task saved: %s (assigned to %s)", item.Title, item.Assignee))
}

// --- write_reflection ---

type WriteReflectionTool struct {
	store store.MemoryStore
}

func NewWriteReflectionTool(ms store.MemoryStore) *WriteReflectionTool {
	return &WriteReflectionTool{store: ms}
}

func (t *WriteReflectionTool) Name() string { return "write_reflection" }
func (t *WriteReflectionTool) Description() string {
	return "Record a lesson learned or observation about own behavior. Reflections are append-only."
}
func (t *WriteReflectionTool) Parameters() map[string]interface{} {
	return memoryItemSchema(map[string]interface{}{
		"context": map[string]interface{}{
			"type":        "string",
			"description": "Situation the reflection arose from",
		},
	})
}

func (t *WriteReflectionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	opts := memory.ReflectionOptions{Context: argString(args, "context")}
	item, err := t.store.WriteReflection(argString(args, "title"), argString(args, "content"), argStrings(args, "tags"), opts)
	if err != nil {
		return ErrorResult("Error saving reflection: %v", err)
	}
	return NewResult(fmt.Sprintf("Reflection saved: %s", item.Title))
}

// --- argument helpers ---

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func argFloat(args map[string]interface{}, key string) (float64, bool) {
	v, ok := args[key].(float64)
	return v, ok
}

func argInt(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func argStrings(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
