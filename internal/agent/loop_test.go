package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/journal"
	"github.com/nextlevelbuilder/hermit/internal/memory"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
	"github.com/nextlevelbuilder/hermit/internal/tools"
)

// scriptedModels plays back a fixed response sequence; the last response
// repeats once the script runs out. All jobs route to the same model.
type scriptedModels struct {
	mu        sync.Mutex
	model     string
	responses []*providers.ChatResponse
	err       error
	requests  []providers.ChatRequest
}

func (s *scriptedModels) PrimaryModel() string      { return s.model }
func (s *scriptedModels) ProviderFor(string) string { return "stub" }

func (s *scriptedModels) ModelForJob(string) (string, bool) {
	return s.model, s.model != ""
}

func (s *scriptedModels) Chat(_ context.Context, _ string, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &providers.ChatResponse{Content: "done", FinishReason: "stop"}, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *scriptedModels) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedModels) request(i int) providers.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

// fakeArchive records archival calls in memory.
type fakeArchive struct {
	mu       sync.Mutex
	archives []store.SessionArchive
	runs     []store.CognitionRun
}

func (f *fakeArchive) ArchiveSession(a store.SessionArchive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archives = append(f.archives, a)
	return nil
}

func (f *fakeArchive) RecordCognitionRun(r store.CognitionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeArchive) ListArchives(string, int) ([]store.SessionArchive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.SessionArchive{}, f.archives...), nil
}

func (f *fakeArchive) ListCognitionRuns(string, int) ([]store.CognitionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.CognitionRun{}, f.runs...), nil
}

func (f *fakeArchive) Close() error { return nil }

func (f *fakeArchive) runsByJob() map[string]store.CognitionRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.CognitionRun, len(f.runs))
	for _, r := range f.runs {
		out[r.Job] = r
	}
	return out
}

// echoTool is a trivial tool for exercising the dispatch cycle.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the given text back." }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}
func (echoTool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	text, _ := args["text"].(string)
	return tools.NewResult("echo: " + text)
}

func newTestLoop(t *testing.T, models ModelCaller, mutate func(*LoopConfig)) (*Loop, *bus.MessageBus, *fakeArchive) {
	t.Helper()
	ws := t.TempDir()

	mem, err := memory.NewStore(ws)
	if err != nil {
		t.Fatalf("memory.NewStore() error = %v", err)
	}
	jnl, err := journal.NewStore(ws)
	if err != nil {
		t.Fatalf("journal.NewStore() error = %v", err)
	}

	b := bus.NewWithBuffer(32)
	arch := &fakeArchive{}

	reg := tools.NewRegistry()
	reg.Register(tools.NewMessageTool(b))
	reg.Register(echoTool{})

	cfg := LoopConfig{
		Models:    models,
		Tools:     reg,
		Sessions:  sessions.NewManager(filepath.Join(ws, "sessions")),
		Memory:    mem,
		Journal:   jnl,
		Archive:   arch,
		Bus:       b,
		Workspace: ws,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewLoop(cfg), b, arch
}

func consumeOutbound(t *testing.T, b *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, ok := b.ConsumeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message before timeout")
	}
	return out
}

func TestProcessMessage_RepliesAndPersists(t *testing.T) {
	models := &scriptedModels{
		model:     "test-model",
		responses: []*providers.ChatResponse{{Content: "Hello there.", FinishReason: "stop"}},
	}
	l, _, _ := newTestLoop(t, models, nil)

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel:  "telegram",
		SenderID: "u7",
		ChatID:   "42",
		Content:  "hi",
		Metadata: map[string]string{"message_id": "m1"},
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if resp == nil {
		t.Fatal("processMessage() returned nil response")
	}
	if resp.Channel != "telegram" || resp.ChatID != "42" {
		t.Errorf("response addressed to %s:%s, want telegram:42", resp.Channel, resp.ChatID)
	}
	if resp.Content != "Hello there." {
		t.Errorf("response content = %q", resp.Content)
	}
	if resp.Metadata["message_id"] != "m1" {
		t.Errorf("response metadata = %v, want message_id carried over", resp.Metadata)
	}

	hist := l.sessions.History("telegram:42")
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[0].Content != "hi" {
		t.Errorf("first turn = %+v", hist[0])
	}
	if hist[1].Role != "assistant" || hist[1].Content != "Hello there." {
		t.Errorf("second turn = %+v", hist[1])
	}

	req := models.request(0)
	if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, "You are hermit") {
		t.Errorf("first request message is not the system prompt: %+v", req.Messages[0])
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "hi" {
		t.Errorf("last request message = %+v", last)
	}
	if got := req.Options[providers.OptMaxTokens]; got != 8192 {
		t.Errorf("max_tokens = %v, want 8192", got)
	}
	if got := req.Options[providers.OptTemperature]; got != 0.1 {
		t.Errorf("temperature = %v, want 0.1", got)
	}
}

func TestProcessMessage_SlashNew(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, arch := newTestLoop(t, models, nil)

	l.sessions.GetOrCreate("cli:u1")
	l.sessions.AddTurn("cli:u1", sessions.Turn{Role: "user", Content: "remember this"})
	l.sessions.AddTurn("cli:u1", sessions.Turn{Role: "assistant", Content: "Noted."})

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel:  "cli",
		SenderID: "u1",
		ChatID:   "u1",
		Content:  "/new",
		Metadata: map[string]string{"message_id": "m2"},
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if resp.Content != "New session started." {
		t.Errorf("reply = %q, want %q", resp.Content, "New session started.")
	}
	if resp.Metadata["message_id"] != "m2" {
		t.Errorf("reply metadata = %v, want message_id carried over", resp.Metadata)
	}
	if hist := l.sessions.History("cli:u1"); len(hist) != 0 {
		t.Errorf("history not cleared: %d turns", len(hist))
	}

	l.Wait(5 * time.Second)

	archives, _ := arch.ListArchives("cli:u1", 0)
	if len(archives) != 1 {
		t.Fatalf("archives = %d, want 1", len(archives))
	}
	if archives[0].Reason != store.EndReasonExplicit || archives[0].MessageCount != 2 {
		t.Errorf("archive = reason %q count %d, want explicit/2", archives[0].Reason, archives[0].MessageCount)
	}

	runs := arch.runsByJob()
	for _, job := range []string{"journal", "distill", "reflect"} {
		r, ok := runs[job]
		if !ok {
			t.Errorf("no cognition run recorded for %s", job)
			continue
		}
		if r.Status != store.RunOK {
			t.Errorf("%s run status = %q (%s), want ok", job, r.Status, r.Detail)
		}
	}
}

func TestProcessMessage_SlashHelp(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, _ := newTestLoop(t, models, nil)

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "u1", Content: "  /Help  ",
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	want := "🦀 hermit commands:\n/new — Start a new conversation\n/help — Show available commands"
	if resp.Content != want {
		t.Errorf("help reply = %q, want %q", resp.Content, want)
	}
	if models.requestCount() != 0 {
		t.Errorf("slash command reached the model: %d requests", models.requestCount())
	}
}

func TestProcessMessage_ToolCycle(t *testing.T) {
	models := &scriptedModels{
		model: "test-model",
		responses: []*providers.ChatResponse{
			{
				FinishReason: "tool_calls",
				ToolCalls: []providers.ToolCall{{
					ID:        "call_1",
					Name:      "echo",
					Arguments: map[string]interface{}{"text": "ping"},
				}},
			},
			{Content: "Echoed back.", FinishReason: "stop"},
		},
	}
	l, _, _ := newTestLoop(t, models, nil)

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "u1", Content: "say ping",
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if resp.Content != "Echoed back." {
		t.Errorf("final reply = %q", resp.Content)
	}
	if models.requestCount() != 2 {
		t.Fatalf("model calls = %d, want 2", models.requestCount())
	}

	hist := l.sessions.History("cli:u1")
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4 (user, assistant, tool, assistant)", len(hist))
	}
	if len(hist[1].ToolCalls) != 1 || hist[1].ToolCalls[0].Function.Name != "echo" {
		t.Errorf("assistant tool calls = %+v", hist[1].ToolCalls)
	}
	if hist[1].ToolCalls[0].Function.Arguments != `{"text":"ping"}` {
		t.Errorf("tool call arguments = %q", hist[1].ToolCalls[0].Function.Arguments)
	}
	if hist[2].Role != "tool" || hist[2].Content != "echo: ping" || hist[2].ToolCallID != "call_1" || hist[2].Name != "echo" {
		t.Errorf("tool turn = %+v", hist[2])
	}
	if hist[3].Role != "assistant" || hist[3].Content != "Echoed back." {
		t.Errorf("final turn = %+v", hist[3])
	}

	// The second call must include the tool exchange.
	second := models.request(1)
	lastMsg := second.Messages[len(second.Messages)-1]
	if lastMsg.Role != "tool" || lastMsg.Content != "echo: ping" {
		t.Errorf("second request last message = %+v", lastMsg)
	}
}

func TestProcessMessage_SuppressesAfterMessageTool(t *testing.T) {
	models := &scriptedModels{
		model: "test-model",
		responses: []*providers.ChatResponse{
			{
				FinishReason: "tool_calls",
				ToolCalls: []providers.ToolCall{{
					ID:        "c1",
					Name:      "message",
					Arguments: map[string]interface{}{"content": "Working on it."},
				}},
			},
			{Content: "All done.", FinishReason: "stop"},
		},
	}
	l, b, _ := newTestLoop(t, models, nil)

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u7", ChatID: "42", Content: "long task",
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if resp != nil {
		t.Fatalf("final reply not suppressed: %+v", resp)
	}

	out := consumeOutbound(t, b)
	if out.Content != "Working on it." || out.Channel != "telegram" || out.ChatID != "42" {
		t.Errorf("mid-run message = %+v", out)
	}

	// The transcript still records the suppressed final reply.
	hist := l.sessions.History("telegram:42")
	if len(hist) != 4 || hist[3].Content != "All done." {
		t.Errorf("history = %d turns, last = %+v", len(hist), hist[len(hist)-1])
	}
}

func TestProcessMessage_IterationBudget(t *testing.T) {
	models := &scriptedModels{
		model: "test-model",
		responses: []*providers.ChatResponse{{
			FinishReason: "tool_calls",
			ToolCalls: []providers.ToolCall{{
				ID:        "c1",
				Name:      "echo",
				Arguments: map[string]interface{}{"text": "again"},
			}},
		}},
	}
	l, _, _ := newTestLoop(t, models, func(cfg *LoopConfig) {
		cfg.MaxToolIterations = 2
	})

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "u1", Content: "loop forever",
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	want := "I reached the maximum number of tool call iterations (2) without completing the task. You can try breaking the task into smaller steps."
	if resp.Content != want {
		t.Errorf("budget reply = %q, want %q", resp.Content, want)
	}
	if models.requestCount() != 2 {
		t.Errorf("model calls = %d, want 2", models.requestCount())
	}

	// user + 2×(assistant, tool) + budget assistant
	hist := l.sessions.History("cli:u1")
	if len(hist) != 6 {
		t.Fatalf("history length = %d, want 6", len(hist))
	}
	if hist[5].Role != "assistant" || hist[5].Content != want {
		t.Errorf("last turn = %+v", hist[5])
	}
}

func TestHandleMessage_ErrorReply(t *testing.T) {
	models := &scriptedModels{model: "test-model", err: errors.New("provider exploded")}
	l, b, _ := newTestLoop(t, models, nil)

	l.handleMessage(context.Background(), bus.InboundMessage{
		Channel: "telegram", SenderID: "u7", ChatID: "42", Content: "hi",
	})

	out := consumeOutbound(t, b)
	if !strings.HasPrefix(out.Content, "Sorry, I encountered an error: ") {
		t.Errorf("error reply = %q", out.Content)
	}
	if !strings.Contains(out.Content, "provider exploded") {
		t.Errorf("error reply lost the cause: %q", out.Content)
	}
	if out.Channel != "telegram" || out.ChatID != "42" {
		t.Errorf("error reply addressed to %s:%s", out.Channel, out.ChatID)
	}
	if len(out.Metadata) != 0 {
		t.Errorf("error reply carries metadata: %v", out.Metadata)
	}
}

func TestHandleMessage_CLIUnblocksOnSuppressedReply(t *testing.T) {
	models := &scriptedModels{
		model: "test-model",
		responses: []*providers.ChatResponse{
			{
				FinishReason: "tool_calls",
				ToolCalls: []providers.ToolCall{{
					ID:        "c1",
					Name:      "message",
					Arguments: map[string]interface{}{"content": "Partial news."},
				}},
			},
			{Content: "Final.", FinishReason: "stop"},
		},
	}
	l, b, _ := newTestLoop(t, models, nil)

	l.handleMessage(context.Background(), bus.InboundMessage{
		Channel: "cli", SenderID: "u1", ChatID: "u1", Content: "go",
		Metadata: map[string]string{"message_id": "m9"},
	})

	first := consumeOutbound(t, b)
	if first.Content != "Partial news." {
		t.Fatalf("first outbound = %+v", first)
	}
	second := consumeOutbound(t, b)
	if second.Content != "" {
		t.Errorf("unblock message has content: %q", second.Content)
	}
	if second.Metadata["message_id"] != "m9" {
		t.Errorf("unblock metadata = %v, want message_id carried over", second.Metadata)
	}
}

func TestProcessSystemMessage(t *testing.T) {
	models := &scriptedModels{
		model:     "test-model",
		responses: []*providers.ChatResponse{{Content: "", FinishReason: "stop"}},
	}
	l, _, _ := newTestLoop(t, models, nil)

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel:  "system",
		SenderID: "spawn",
		ChatID:   "telegram:42",
		Content:  "Subtask finished: report ready.",
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if resp.Channel != "telegram" || resp.ChatID != "42" {
		t.Errorf("system reply addressed to %s:%s, want telegram:42", resp.Channel, resp.ChatID)
	}
	if resp.Content != "Background task completed." {
		t.Errorf("system reply = %q", resp.Content)
	}
	if resp.Metadata != nil {
		t.Errorf("system reply carries metadata: %v", resp.Metadata)
	}

	// The announcement lands in the origin session's transcript.
	hist := l.sessions.History("telegram:42")
	if len(hist) != 1 || hist[0].Role != "user" || hist[0].Content != "Subtask finished: report ready." {
		t.Errorf("origin history = %+v", hist)
	}
}

func TestProcessSystemMessage_NoOriginPrefix(t *testing.T) {
	models := &scriptedModels{
		model:     "test-model",
		responses: []*providers.ChatResponse{{Content: "ok", FinishReason: "stop"}},
	}
	l, _, _ := newTestLoop(t, models, nil)

	resp, err := l.processMessage(context.Background(), bus.InboundMessage{
		Channel: "system", SenderID: "cron", ChatID: "direct", Content: "tick",
	}, "", nil)
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if resp.Channel != "cli" || resp.ChatID != "direct" {
		t.Errorf("fallback origin = %s:%s, want cli:direct", resp.Channel, resp.ChatID)
	}
}

func TestProcessDirect(t *testing.T) {
	models := &scriptedModels{
		model:     "test-model",
		responses: []*providers.ChatResponse{{Content: "Direct result.", FinishReason: "stop"}},
	}
	l, _, _ := newTestLoop(t, models, nil)

	got, err := l.ProcessDirect(context.Background(), "run the job", "cron:daily")
	if err != nil {
		t.Fatalf("ProcessDirect() error = %v", err)
	}
	if got != "Direct result." {
		t.Errorf("ProcessDirect() = %q", got)
	}
	if hist := l.sessions.History("cron:daily"); len(hist) != 2 {
		t.Errorf("cron session history = %d turns, want 2", len(hist))
	}
}

func TestProcessDirect_DefaultSession(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, _ := newTestLoop(t, models, nil)

	if _, err := l.ProcessDirect(context.Background(), "hello", ""); err != nil {
		t.Fatalf("ProcessDirect() error = %v", err)
	}
	if !l.sessions.Exists("cli:direct") {
		t.Error("default session cli:direct was not created")
	}
}

func TestToolHint(t *testing.T) {
	long := strings.Repeat("a", 50)
	tests := []struct {
		name  string
		calls []providers.ToolCall
		want  string
	}{
		{
			name:  "single string arg",
			calls: []providers.ToolCall{{Name: "exec", Arguments: map[string]interface{}{"command": "ls -la"}}},
			want:  `exec("ls -la")`,
		},
		{
			name:  "long value truncated",
			calls: []providers.ToolCall{{Name: "read_file", Arguments: map[string]interface{}{"path": long}}},
			want:  `read_file("` + strings.Repeat("a", 40) + `…")`,
		},
		{
			name:  "non-string first arg",
			calls: []providers.ToolCall{{Name: "wait", Arguments: map[string]interface{}{"seconds": float64(5)}}},
			want:  "wait",
		},
		{
			name:  "no args",
			calls: []providers.ToolCall{{Name: "list_sessions"}},
			want:  "list_sessions",
		},
		{
			name: "multiple calls joined",
			calls: []providers.ToolCall{
				{Name: "a", Arguments: map[string]interface{}{"x": "1"}},
				{Name: "b", Arguments: map[string]interface{}{"y": "2"}},
			},
			want: `a("1"), b("2")`,
		},
		{
			name:  "first key in sorted order",
			calls: []providers.ToolCall{{Name: "t", Arguments: map[string]interface{}{"zeta": "last", "alpha": "first"}}},
			want:  `t("first")`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolHint(tt.calls); got != tt.want {
				t.Errorf("toolHint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogPreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short passthrough", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello..."},
		{"multibyte safe", strings.Repeat("é", 12), 10, strings.Repeat("é", 10) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := logPreview(tt.in, tt.max); got != tt.want {
				t.Errorf("logPreview(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, _ := newTestLoop(t, models, nil)

	if err := os.WriteFile(filepath.Join(l.workspace, bootstrap.SoulFile), []byte("Be curt."), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.memory.WriteFact("Likes tea", "User drinks green tea.", nil, memory.FactOptions{}); err != nil {
		t.Fatal(err)
	}

	prompt := l.buildSystemPrompt("cli")

	for _, want := range []string{
		"You are hermit",
		"Model: test-model",
		"Channel: cli",
		"Be curt.",
		"# Memory",
		"### Likes tea",
		"# Tools",
		"- echo: Echo the given text back.",
		"- message: ",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildMessages_SummaryInjection(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, _ := newTestLoop(t, models, nil)

	l.sessions.GetOrCreate("cli:s")
	l.sessions.SetSummary("cli:s", "We set up nightly backups.")
	l.sessions.AddTurn("cli:s", sessions.Turn{Role: "user", Content: "earlier question"})
	l.sessions.AddTurn("cli:s", sessions.Turn{Role: "assistant", Content: "earlier answer"})

	msgs := l.buildMessages("cli:s", "cli", "continue", nil)
	if len(msgs) != 6 {
		t.Fatalf("messages = %d, want 6 (system, summary pair, 2 history, current)", len(msgs))
	}
	if msgs[1].Role != "user" || msgs[1].Content != "[Previous conversation summary]\nWe set up nightly backups." {
		t.Errorf("summary user turn = %+v", msgs[1])
	}
	if msgs[2].Role != "assistant" || msgs[2].Content != "I understand the context from our previous conversation. How can I help you?" {
		t.Errorf("summary ack turn = %+v", msgs[2])
	}
	if msgs[5].Role != "user" || msgs[5].Content != "continue" {
		t.Errorf("current turn = %+v", msgs[5])
	}
}
