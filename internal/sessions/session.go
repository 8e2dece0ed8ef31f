package sessions

import (
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/providers"
)

// maxToolResultLen caps how much of a tool result the transcript keeps.
const maxToolResultLen = 500

// truncatedSuffix marks a cut-off tool result.
const truncatedSuffix = "\n... (truncated)"

// Turn is one persisted transcript entry. The shape is wire-compatible
// with the chat completions message format: tool call arguments are kept
// as JSON strings, tool results carry the call id and tool name.
type Turn struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Timestamp  string           `json:"timestamp,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// ToolCallRecord is a persisted tool invocation on an assistant turn.
type ToolCallRecord struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Session stores the conversation state for one channel peer.
type Session struct {
	Key      string    `json:"key"`
	Messages []Turn    `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`

	Channel          string `json:"channel,omitempty"`
	Model            string `json:"model,omitempty"`
	Provider         string `json:"provider,omitempty"`
	InputTokens      int64  `json:"input_tokens,omitempty"`
	OutputTokens     int64  `json:"output_tokens,omitempty"`
	CompactionCount  int    `json:"compaction_count,omitempty"`
	LastPromptTokens int    `json:"last_prompt_tokens,omitempty"`
	LastMessageCount int    `json:"last_message_count,omitempty"`
}

// Snapshot is an immutable copy of a session's identity and transcript,
// taken at session end. Background cognition works from the snapshot so a
// later reset or new conversation cannot change what it sees.
type Snapshot struct {
	Key      string
	Messages []Turn
}

// SessionInfo is a lightweight session descriptor for listings.
type SessionInfo struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"message_count"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// TurnFromMessage converts a provider message into the persisted
// transcript shape: tool call arguments become JSON strings.
func TurnFromMessage(msg providers.Message) Turn {
	t := Turn{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
		Name:       msg.Name,
	}
	for _, tc := range msg.ToolCalls {
		args := "{}"
		if tc.Arguments != nil {
			if data, err := json.Marshal(tc.Arguments); err == nil {
				args = string(data)
			}
		}
		t.ToolCalls = append(t.ToolCalls, ToolCallRecord{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return t
}

// ToMessage converts a stored turn back into a provider message. Argument
// strings that fail to parse come back as empty maps.
func (t Turn) ToMessage() providers.Message {
	msg := providers.Message{
		Role:       t.Role,
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
		Name:       t.Name,
	}
	for _, tc := range t.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return msg
}

// ToMessages converts a transcript slice for a model call.
func ToMessages(turns []Turn) []providers.Message {
	msgs := make([]providers.Message, len(turns))
	for i, t := range turns {
		msgs[i] = t.ToMessage()
	}
	return msgs
}

// TruncateToolResult caps a tool result for transcript storage.
func TruncateToolResult(content string) string {
	if len(content) <= maxToolResultLen {
		return content
	}
	return content[:maxToolResultLen] + truncatedSuffix
}

// copyTurns deep-copies a transcript slice.
func copyTurns(src []Turn) []Turn {
	out := make([]Turn, len(src))
	copy(out, src)
	for i := range out {
		if len(src[i].ToolCalls) > 0 {
			out[i].ToolCalls = make([]ToolCallRecord, len(src[i].ToolCalls))
			copy(out[i].ToolCalls, src[i].ToolCalls)
		}
	}
	return out
}
