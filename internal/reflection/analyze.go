package reflection

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/hermit/internal/sessions"
)

// A tool called this many times in one session counts as a repetition
// pattern.
const repeatThreshold = 3

var toolErrorIndicators = []string{"error:", "failed", "exception", "traceback"}

var correctionIndicators = []string{"no,", "that's wrong", "i meant", "actually,", "not ", "wrong"}

var uncertaintyIndicators = []string{
	"i'm not sure", "i don't know", "might be", "could be",
	"possibly", "perhaps", "i think", "i believe", "uncertain",
}

// Analyze scans a session snapshot and returns reflection candidates, in a
// fixed order: tool failures, user corrections, repetition patterns,
// uncertainty markers, then one improvement when the session had two or
// more mistakes.
func Analyze(turns []sessions.Turn) []*Candidate {
	var out []*Candidate

	for _, t := range turns {
		if t.Role != "tool" {
			continue
		}
		lower := strings.ToLower(t.Content)
		if !containsAny(lower, toolErrorIndicators) {
			continue
		}
		tool := toolName(t)
		impact := "medium"
		if strings.Contains(lower, "error") {
			impact = "high"
		}
		out = append(out, &Candidate{
			Type:           TypeMistake,
			Title:          "Tool failure: " + tool,
			Content:        fmt.Sprintf("Tool %s failed with: %s", tool, clip(t.Content, 200)),
			ToolInvolved:   tool,
			ErrorPattern:   clip(t.Content, 100),
			Impact:         impact,
			SessionContext: "Tool call: " + tool,
		})
	}

	for _, t := range turns {
		if t.Role != "user" {
			continue
		}
		if !containsAny(strings.ToLower(t.Content), correctionIndicators) {
			continue
		}
		out = append(out, &Candidate{
			Type:           TypeMistake,
			Title:          "User correction required",
			Content:        "User corrected agent: " + clip(t.Content, 200),
			ErrorPattern:   clip(t.Content, 100),
			UserCorrection: true,
			SessionContext: "User correction",
			Suggestion:     "Review context before responding",
		})
	}

	// Count tool invocations in first-seen order so output is stable.
	counts := make(map[string]int)
	var order []string
	for _, t := range turns {
		if t.Role != "tool" {
			continue
		}
		tool := toolName(t)
		if _, seen := counts[tool]; !seen {
			order = append(order, tool)
		}
		counts[tool]++
	}
	for _, tool := range order {
		n := counts[tool]
		if n < repeatThreshold {
			continue
		}
		out = append(out, &Candidate{
			Type:         TypePattern,
			Title:        "Repeated tool usage: " + tool,
			Content:      fmt.Sprintf("Tool %s called %d times in session", tool, n),
			ToolInvolved: tool,
			Frequency:    fmt.Sprintf("%d times in one session", n),
			Impact:       "medium",
			Suggestion:   "Consider caching or batching requests",
		})
	}

	for _, t := range turns {
		if t.Role != "assistant" {
			continue
		}
		if !containsAny(strings.ToLower(t.Content), uncertaintyIndicators) {
			continue
		}
		out = append(out, &Candidate{
			Type:           TypeUncertainty,
			Title:          "Uncertainty in General",
			Content:        "Agent expressed uncertainty: " + clip(t.Content, 200),
			SessionContext: "Assistant uncertainty",
			Suggestion:     "Consider adding knowledge or clarifying questions",
		})
	}

	mistakes := 0
	for _, c := range out {
		if c.Type == TypeMistake {
			mistakes++
		}
	}
	if mistakes >= 2 {
		out = append(out, &Candidate{
			Type:       TypeImprovement,
			Title:      "Multiple failures detected",
			Content:    fmt.Sprintf("Session had %d mistakes - review error handling", mistakes),
			Impact:     "high",
			Suggestion: "Improve error recovery or add validation",
		})
	}
	return out
}

func toolName(t sessions.Turn) string {
	if t.Name == "" {
		return "unknown"
	}
	return t.Name
}

func containsAny(lower string, indicators []string) bool {
	for _, in := range indicators {
		if strings.Contains(lower, in) {
			return true
		}
	}
	return false
}

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
