package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
)

const (
	compactTemperature = 0.3
	compactMaxTokens   = 1024
	compactTimeout     = 120 * time.Second
)

// boundedHistory returns the session transcript as provider messages,
// trimmed to the most recent memory window and repaired for tool pairing.
func (l *Loop) boundedHistory(key string) []providers.Message {
	turns := l.sessions.History(key)
	if len(turns) > l.memoryWindow {
		turns = turns[len(turns)-l.memoryWindow:]
	}
	return repairHistory(sessions.ToMessages(turns))
}

// repairHistory enforces tool_use/tool_result pairing on a transcript
// slice. Window trimming and compaction can cut mid-exchange; providers
// reject transcripts where the pairing is broken.
//
// Repairs applied:
//   - leading tool results with no preceding assistant tool call: dropped
//   - tool results that answer no expected call id: dropped
//   - expected call ids with no result: a placeholder result is synthesized
func repairHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool result at history start",
			"tool_call_id", msgs[start].ToolCallID)
		start++
	}
	if start >= len(msgs) {
		return nil
	}

	var out []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		switch {
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			expected := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expected[tc.ID] = true
			}
			out = append(out, msg)

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				result := msgs[i]
				if expected[result.ToolCallID] {
					out = append(out, result)
					delete(expected, result.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result", "tool_call_id", result.ToolCallID)
				}
			}

			for id := range expected {
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				out = append(out, providers.Message{
					Role:       "tool",
					Content:    "[Tool result missing — session was compacted]",
					ToolCallID: id,
				})
			}

		case msg.Role == "tool":
			slog.Warn("dropping orphaned tool result mid-history", "tool_call_id", msg.ToolCallID)

		default:
			out = append(out, msg)
		}
	}
	return out
}

// estimateTokens approximates the prompt cost of a transcript with the
// char/3 heuristic, scaled up by the last observed prompt size when the
// provider reported one. Overestimating is fine; it only compacts earlier.
func estimateTokens(turns []sessions.Turn, lastPromptTokens, lastMessageCount int) int {
	chars := 0
	for _, t := range turns {
		chars += utf8.RuneCountInString(t.Content)
	}
	estimate := chars / 3

	if lastPromptTokens > 0 && lastMessageCount > 0 && len(turns) > 0 {
		perMessage := float64(lastPromptTokens) / float64(lastMessageCount)
		if observed := int(perMessage * float64(len(turns))); observed > estimate {
			estimate = observed
		}
	}
	return estimate
}

// maybeCompact kicks off background summarisation when the session history
// has outgrown its share of the context window. At most one compaction per
// session runs at a time; TryLock skips instead of queueing because the
// next message re-triggers the check anyway.
func (l *Loop) maybeCompact(key string) {
	history := l.sessions.History(key)

	lastTokens, lastCount := l.sessions.LastPromptTokens(key)
	estimate := estimateTokens(history, lastTokens, lastCount)

	share := l.compactionCfg.MaxHistoryShare
	if share <= 0 {
		share = 0.75
	}
	minMessages := l.compactionCfg.MinMessages
	if minMessages <= 0 {
		minMessages = 50
	}

	threshold := int(float64(l.contextWindow) * share)
	if len(history) <= minMessages && estimate <= threshold {
		return
	}

	model, ok := l.models.ModelForJob(config.JobSummarisation)
	if !ok {
		return
	}

	muI, _ := l.compactMu.LoadOrStore(key, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	if !mu.TryLock() {
		slog.Debug("compaction already in progress", "session", key)
		return
	}

	keepLast := l.compactionCfg.KeepLastMessages
	if keepLast <= 0 {
		keepLast = 4
	}

	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		defer mu.Unlock()
		l.compactSession(key, model, keepLast)
	}()
}

// compactSession summarises everything but the last keepLast turns into
// the session summary, then truncates the history.
func (l *Loop) compactSession(key, model string, keepLast int) {
	// Re-check under the lock: a concurrent compaction may have finished
	// between the threshold check and acquiring it.
	history := l.sessions.History(key)
	if len(history) <= keepLast {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), compactTimeout)
	defer cancel()

	var b strings.Builder
	for _, t := range history[:len(history)-keepLast] {
		switch t.Role {
		case "user":
			fmt.Fprintf(&b, "user: %s\n", t.Content)
		case "assistant":
			fmt.Fprintf(&b, "assistant: %s\n", providers.StripThinking(t.Content))
		}
	}

	prompt := "Provide a concise summary of this conversation, preserving key context:\n"
	if summary := l.sessions.Summary(key); summary != "" {
		prompt += "Existing context: " + summary + "\n"
	}
	prompt += "\n" + b.String()

	resp, err := l.models.Chat(ctx, model, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options: map[string]interface{}{
			providers.OptTemperature: compactTemperature,
			providers.OptMaxTokens:   compactMaxTokens,
		},
	})
	if err != nil {
		slog.Warn("compaction failed", "session", key, "error", err)
		return
	}

	l.sessions.SetSummary(key, providers.StripThinking(resp.Content))
	l.sessions.TruncateHistory(key, keepLast)
	l.sessions.IncrementCompaction(key)
	if err := l.sessions.Save(key); err != nil {
		slog.Warn("session save failed after compaction", "session", key, "error", err)
	}
	slog.Info("session compacted", "session", key, "kept", keepLast)
}
