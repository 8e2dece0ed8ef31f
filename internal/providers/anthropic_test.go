package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProvider_Chat_WireFormat(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "sk-ant" {
			t.Errorf("x-api-key = %q, want sk-ant", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q, want %q", got, anthropicAPIVersion)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":3}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "persona"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", ToolCalls: []ToolCall{
				{ID: "tu_1", Name: "write_fact", Arguments: map[string]interface{}{"title": "x"}},
			}},
			{Role: "tool", ToolCallID: "tu_1", Content: "Fact saved: x"},
		},
		Tools: []ToolDefinition{{
			Type: "function",
			Function: ToolFunctionSchema{
				Name:        "write_fact",
				Description: "save a fact",
				Parameters:  map[string]interface{}{"type": "object"},
			},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("TotalTokens = %d, want 8", resp.Usage.TotalTokens)
	}

	// System prompt travels top-level, not as a message.
	sys := captured["system"].([]interface{})
	if sys[0].(map[string]interface{})["text"] != "persona" {
		t.Error("system block missing")
	}
	msgs := captured["messages"].([]interface{})
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3 (system excluded)", len(msgs))
	}

	// Assistant tool call becomes a tool_use block.
	asst := msgs[1].(map[string]interface{})
	blocks := asst["content"].([]interface{})
	tu := blocks[0].(map[string]interface{})
	if tu["type"] != "tool_use" || tu["id"] != "tu_1" || tu["name"] != "write_fact" {
		t.Errorf("tool_use block = %v", tu)
	}

	// Tool result becomes a user tool_result block.
	toolMsg := msgs[2].(map[string]interface{})
	if toolMsg["role"] != "user" {
		t.Errorf("tool result role = %v, want user", toolMsg["role"])
	}
	tr := toolMsg["content"].([]interface{})[0].(map[string]interface{})
	if tr["type"] != "tool_result" || tr["tool_use_id"] != "tu_1" {
		t.Errorf("tool_result block = %v", tr)
	}

	// Tool schema uses input_schema.
	tools := captured["tools"].([]interface{})
	tool := tools[0].(map[string]interface{})
	if _, ok := tool["input_schema"]; !ok {
		t.Error("tool definition missing input_schema")
	}
}

func TestAnthropicProvider_Chat_ToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"tool_use","id":"tu_7","name":"memory_search","input":{"query":"deadlines"}}],"stop_reason":"tool_use","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "what are my deadlines"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments["query"] != "deadlines" {
		t.Errorf("arguments = %v", resp.ToolCalls[0].Arguments)
	}
}

func TestAnthropicProvider_Defaults(t *testing.T) {
	p := NewAnthropicProvider("k")
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.DefaultModel() != defaultClaudeModel {
		t.Errorf("DefaultModel() = %q, want %q", p.DefaultModel(), defaultClaudeModel)
	}

	p2 := NewAnthropicProvider("k", WithAnthropicModel("claude-opus-4-5"))
	if p2.DefaultModel() != "claude-opus-4-5" {
		t.Errorf("DefaultModel() = %q, want claude-opus-4-5", p2.DefaultModel())
	}
}
