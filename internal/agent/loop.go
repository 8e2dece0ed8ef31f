// Package agent implements the message loop: intake and session routing,
// the model-call/tool-dispatch cycle, transcript persistence, inactivity
// sweeps, and the background cognition fan-out when sessions end.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/distill"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/reflection"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
	"github.com/nextlevelbuilder/hermit/internal/tools"
	"github.com/nextlevelbuilder/hermit/internal/tracing"
)

const (
	defaultMaxTokens         = 8192
	defaultTemperature       = 0.1
	defaultMaxToolIterations = 40
	defaultMemoryWindow      = 100
	defaultContextWindow     = 200000
	defaultInactivityTimeout = 30 * time.Minute
)

// Canned replies for the loop's edge states.
const (
	newSessionReply     = "New session started."
	helpReply           = "🦀 hermit commands:\n/new — Start a new conversation\n/help — Show available commands"
	emptyReply          = "I've completed processing but have no response to give."
	backgroundDoneReply = "Background task completed."
)

// ModelCaller is the model surface the loop depends on: routing plus chat.
// *providers.Registry satisfies it.
type ModelCaller interface {
	PrimaryModel() string
	ProviderFor(model string) string
	ModelForJob(job string) (string, bool)
	Chat(ctx context.Context, model string, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// LoopConfig wires the loop's collaborators and tuning knobs. Zero-valued
// knobs fall back to the configuration defaults.
type LoopConfig struct {
	Models   ModelCaller
	Tools    *tools.Registry
	Sessions store.SessionStore
	Memory   store.MemoryStore
	Journal  store.JournalStore
	Archive  store.ArchiveStore // optional; nil disables archival
	Personas *bootstrap.Loader
	Bus      *bus.MessageBus
	Tracer   *tracing.Tracer

	Workspace string

	MaxTokens         int
	Temperature       float64
	MaxToolIterations int
	MemoryWindow      int
	ContextWindow     int
	InactivityTimeout time.Duration

	Compaction config.CompactionConfig
	Channels   config.ChannelsConfig
	Reflection config.ReflectionConfig
}

// Loop is the agent's message processor. One loop serves every channel:
// inbound messages are handled sequentially, sessions end on inactivity or
// an explicit /new, and ended sessions fan out to background cognition.
type Loop struct {
	models   ModelCaller
	tools    *tools.Registry
	sessions store.SessionStore
	memory   store.MemoryStore
	journal  store.JournalStore
	archive  store.ArchiveStore
	personas *bootstrap.Loader
	bus      *bus.MessageBus
	tracer   *tracing.Tracer

	workspace string

	maxTokens         int
	temperature       float64
	maxToolIterations int
	memoryWindow      int
	contextWindow     int
	inactivityTimeout time.Duration

	compactionCfg config.CompactionConfig
	channelsCfg   config.ChannelsConfig

	distiller *distill.Distiller
	analyzer  *reflection.Analyzer
	promoter  *bootstrap.Promoter

	timerMu sync.Mutex
	timers  map[string]time.Time

	compactMu sync.Map // session key → *sync.Mutex

	bg sync.WaitGroup
}

// NewLoop builds a Loop. The model caller, tool registry, stores and bus
// are required; Personas defaults to a loader over the workspace.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = defaultMemoryWindow
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = defaultContextWindow
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	if cfg.Personas == nil {
		cfg.Personas = bootstrap.NewLoader(cfg.Workspace)
	}

	l := &Loop{
		models:            cfg.Models,
		tools:             cfg.Tools,
		sessions:          cfg.Sessions,
		memory:            cfg.Memory,
		journal:           cfg.Journal,
		archive:           cfg.Archive,
		personas:          cfg.Personas,
		bus:               cfg.Bus,
		tracer:            cfg.Tracer,
		workspace:         cfg.Workspace,
		maxTokens:         cfg.MaxTokens,
		temperature:       cfg.Temperature,
		maxToolIterations: cfg.MaxToolIterations,
		memoryWindow:      cfg.MemoryWindow,
		contextWindow:     cfg.ContextWindow,
		inactivityTimeout: cfg.InactivityTimeout,
		compactionCfg:     cfg.Compaction,
		channelsCfg:       cfg.Channels,
		timers:            make(map[string]time.Time),
	}

	l.distiller = distill.New(cfg.Models, cfg.Memory)
	l.analyzer = reflection.New(cfg.Memory)
	if cfg.Reflection.AutoPromoteEnabled() {
		l.promoter = bootstrap.NewPromoter(cfg.Models, cfg.Workspace, cfg.Reflection)
		if cfg.Reflection.NotifyEnabled() {
			l.promoter.SetNotify(l.notifySelfImprovement)
		}
	}
	return l
}

// Run consumes inbound messages until ctx is cancelled. Each message is
// handled to completion before the next is taken, so tool context and the
// message-tool turn flag never interleave across runs.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("agent loop started", "model", l.models.PrimaryModel())
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("agent loop stopped")
			return nil
		}
		l.handleMessage(ctx, msg)
	}
}

// handleMessage wraps one message in the delivery envelope: a reply is
// published, a failure apologizes, and a CLI message that produced no
// reply still gets an empty correlated response so the blocked command
// returns.
func (l *Loop) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	resp, err := l.processMessage(ctx, msg, "", l.progressFunc(msg))
	switch {
	case err != nil:
		slog.Error("message processing failed", "channel", msg.Channel, "error", err)
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: fmt.Sprintf("Sorry, I encountered an error: %v", err),
		})
	case resp != nil:
		l.bus.PublishOutbound(*resp)
	case msg.Channel == "cli":
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Metadata: msg.Metadata,
		})
	}
}

// processMessage runs one inbound message through intake, the agent loop,
// persistence and the timeout sweep. A nil response with nil error means
// delivery was already handled (message tool sent mid-run).
func (l *Loop) processMessage(ctx context.Context, msg bus.InboundMessage, keyOverride string, progress func(content string, hint bool)) (*bus.OutboundMessage, error) {
	if msg.Channel == "system" {
		return l.processSystemMessage(ctx, msg)
	}

	slog.Info("processing message",
		"channel", msg.Channel, "sender", msg.SenderID,
		"preview", logPreview(msg.Content, 80))

	key := keyOverride
	if key == "" {
		key = msg.SessionKey()
	}
	l.sessions.GetOrCreate(key)
	l.touchTimer(key)

	switch strings.ToLower(strings.TrimSpace(msg.Content)) {
	case "/new":
		// Snapshot before the reset so background cognition sees the
		// conversation that just ended.
		if snap, ok := l.sessions.Snapshot(key); ok {
			l.endSession(snap, store.EndReasonExplicit)
		}
		l.sessions.Reset(key)
		if err := l.sessions.Save(key); err != nil {
			slog.Error("session save failed", "session", key, "error", err)
		}
		return &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: newSessionReply, Metadata: msg.Metadata}, nil
	case "/help":
		return &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: helpReply, Metadata: msg.Metadata}, nil
	}

	ctx, span := l.tracer.StartRun(ctx, msg.Channel, key)
	defer span.End()

	l.tools.SetContext(msg.Channel, msg.ChatID, msg.Metadata["message_id"])
	if mt := l.messageTool(); mt != nil {
		mt.BeginTurn()
	}

	msgs := l.buildMessages(key, msg.Channel, msg.Content, msg.Media)

	final, pendingMsgs, err := l.runAgentLoop(ctx, key, msg.Channel, msgs, progress)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	slog.Info("response ready",
		"channel", msg.Channel, "sender", msg.SenderID,
		"preview", logPreview(final, 120))

	userTurn := providers.Message{Role: "user", Content: msg.Content}
	l.saveTurns(key, append([]providers.Message{userTurn}, pendingMsgs...)...)

	l.maybeCompact(key)
	l.sweepTimeouts()

	// A mid-run send already reached the user; delivering the final reply
	// on top of it would double-message.
	if mt := l.messageTool(); mt != nil {
		if sent, _ := mt.SentThisTurn(); sent {
			slog.Debug("final reply suppressed, message tool already delivered", "session", key)
			return nil, nil
		}
	}

	if final == "" {
		final = emptyReply
	}
	return &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: final, Metadata: msg.Metadata}, nil
}

// processSystemMessage handles internally generated work (cron fires,
// heartbeat prompts, spawn announcements) addressed to an origin session
// encoded in ChatID as "channel:chat_id". The run is quiet: no slash
// commands, no progress, no mid-run suppression.
func (l *Loop) processSystemMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	channel, chatID := "cli", msg.ChatID
	if c, rest, found := strings.Cut(msg.ChatID, ":"); found {
		channel, chatID = c, rest
	}

	slog.Info("processing system message", "sender", msg.SenderID, "origin", channel+":"+chatID)

	key := sessions.BuildKey(channel, chatID)
	l.sessions.GetOrCreate(key)
	l.tools.SetContext(channel, chatID, msg.Metadata["message_id"])
	l.touchTimer(key)

	ctx, span := l.tracer.StartRun(ctx, channel, key)
	defer span.End()

	msgs := l.buildMessages(key, channel, msg.Content, nil)

	final, pendingMsgs, err := l.runAgentLoop(ctx, key, channel, msgs, nil)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	userTurn := providers.Message{Role: "user", Content: msg.Content}
	l.saveTurns(key, append([]providers.Message{userTurn}, pendingMsgs...)...)

	if final == "" {
		final = backgroundDoneReply
	}
	return &bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: final}, nil
}

// runAgentLoop drives the model-call / tool-dispatch cycle until the model
// answers without tool calls or the iteration budget runs out. It returns
// the final reply plus the provider messages appended during the run,
// which the caller persists. Token usage and session metadata are recorded
// here so a later Save picks them up.
func (l *Loop) runAgentLoop(ctx context.Context, key, channel string, msgs []providers.Message, progress func(content string, hint bool)) (string, []providers.Message, error) {
	model, ok := l.models.ModelForJob(config.JobInteractiveResponse)
	if !ok {
		slog.Warn("no model available for interactive response", "session", key)
		return "", nil, nil
	}

	var (
		pending    []providers.Message
		totalUsage providers.Usage
		lastPrompt int
		lastCount  int
		final      string
		completed  bool
	)

	iteration := 0
	for iteration < l.maxToolIterations {
		iteration++

		callCtx, span := l.tracer.StartModelCall(ctx, model, iteration)
		resp, err := l.models.Chat(callCtx, model, providers.ChatRequest{
			Messages: msgs,
			Tools:    l.tools.Definitions(),
			Options: map[string]interface{}{
				providers.OptMaxTokens:   l.maxTokens,
				providers.OptTemperature: l.temperature,
			},
		})
		if err != nil {
			tracing.RecordError(span, err)
			span.End()
			return "", nil, fmt.Errorf("model call failed (iteration %d): %w", iteration, err)
		}
		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			lastPrompt = resp.Usage.PromptTokens
			lastCount = len(msgs)
			tracing.AddUsage(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		span.End()

		if len(resp.ToolCalls) == 0 {
			final = providers.StripThinking(resp.Content)
			completed = true
			break
		}

		if progress != nil {
			if visible := providers.StripThinking(resp.Content); visible != "" {
				progress(visible, false)
			}
			progress(toolHint(resp.ToolCalls), true)
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		msgs = append(msgs, assistantMsg)
		pending = append(pending, assistantMsg)

		var collected []indexedResult
		if len(resp.ToolCalls) == 1 {
			collected = []indexedResult{l.execToolCall(ctx, 0, resp.ToolCalls[0])}
		} else {
			// Tools run in parallel; results re-order by call index so the
			// transcript stays deterministic.
			resultCh := make(chan indexedResult, len(resp.ToolCalls))
			var wg sync.WaitGroup
			for i, tc := range resp.ToolCalls {
				wg.Add(1)
				go func(idx int, tc providers.ToolCall) {
					defer wg.Done()
					resultCh <- l.execToolCall(ctx, idx, tc)
				}(i, tc)
			}
			go func() { wg.Wait(); close(resultCh) }()
			collected = make([]indexedResult, 0, len(resp.ToolCalls))
			for r := range resultCh {
				collected = append(collected, r)
			}
			sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
		}

		for _, r := range collected {
			toolMsg := providers.Message{
				Role:       "tool",
				Content:    r.result.Text,
				ToolCallID: r.tc.ID,
				Name:       r.tc.Name,
			}
			msgs = append(msgs, toolMsg)
			pending = append(pending, toolMsg)
		}
	}

	if !completed {
		final = fmt.Sprintf("I reached the maximum number of tool call iterations (%d) without completing the task. You can try breaking the task into smaller steps.", l.maxToolIterations)
	}
	if final != "" {
		pending = append(pending, providers.Message{Role: "assistant", Content: final})
	}

	l.sessions.UpdateMetadata(key, model, l.models.ProviderFor(model), channel)
	if totalUsage.PromptTokens > 0 || totalUsage.CompletionTokens > 0 {
		l.sessions.AccumulateTokens(key, int64(totalUsage.PromptTokens), int64(totalUsage.CompletionTokens))
	}
	if lastPrompt > 0 {
		l.sessions.SetLastPromptTokens(key, lastPrompt, lastCount)
	}

	return final, pending, nil
}

// indexedResult carries one tool call's outcome back to transcript order.
type indexedResult struct {
	idx    int
	tc     providers.ToolCall
	result *tools.Result
}

func (l *Loop) execToolCall(ctx context.Context, idx int, tc providers.ToolCall) indexedResult {
	argsJSON, _ := json.Marshal(tc.Arguments)
	slog.Info("tool call", "tool", tc.Name, "args", logPreview(string(argsJSON), 200))

	toolCtx, span := l.tracer.StartToolCall(ctx, tc.Name)
	result := l.tools.Execute(toolCtx, tc.Name, tc.Arguments)
	if result.IsError {
		errMsg := logPreview(result.Text, 200)
		slog.Warn("tool error", "tool", tc.Name, "error", errMsg)
		tracing.RecordError(span, errors.New(errMsg))
	}
	span.End()

	return indexedResult{idx: idx, tc: tc, result: result}
}

// saveTurns flushes this run's provider messages to the transcript and
// persists the session. The manager stamps timestamps and truncates tool
// results on write.
func (l *Loop) saveTurns(key string, msgs ...providers.Message) {
	for _, m := range msgs {
		l.sessions.AddTurn(key, sessions.TurnFromMessage(m))
	}
	l.touchTimer(key)
	if err := l.sessions.Save(key); err != nil {
		slog.Error("session save failed", "session", key, "error", err)
	}
}

// ProcessDirect runs one message through the loop synchronously, outside
// the bus consume cycle. Cron jobs, heartbeats and spawned tasks use it;
// the session key names the origin (for example "cron:morning-brief").
// Returns the final reply, or "" when the run produced none.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	key := sessionKey
	if key == "" {
		key = sessions.BuildKey("cli", "direct")
	}
	channel, chatID := sessions.ParseKey(key)
	if chatID == "" {
		channel, chatID = "cli", "direct"
	}

	msg := bus.InboundMessage{
		Channel:  channel,
		SenderID: "direct",
		ChatID:   chatID,
		Content:  content,
	}
	resp, err := l.processMessage(ctx, msg, key, nil)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

// Wait blocks until background cognition and compaction tasks finish, or
// the timeout elapses.
func (l *Loop) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		l.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("background tasks still running at shutdown", "timeout", timeout)
	}
}

// progressFunc builds the intermediate-update publisher for one message,
// honoring the channel progress settings. Returns nil when neither
// progress text nor tool hints should go out.
func (l *Loop) progressFunc(msg bus.InboundMessage) func(content string, hint bool) {
	sendText := l.channelsCfg.SendProgressEnabled()
	sendHints := l.channelsCfg.SendToolHints
	if !sendText && !sendHints {
		return nil
	}
	return func(content string, hint bool) {
		if hint && !sendHints {
			return
		}
		if !hint && !sendText {
			return
		}
		meta := make(map[string]string, len(msg.Metadata)+2)
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		meta[bus.MetaProgress] = "true"
		if hint {
			meta[bus.MetaToolHint] = "true"
		}
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  content,
			Metadata: meta,
		})
	}
}

// toolHint renders a compact hint for a batch of tool calls, for example
// `read_file("notes/todo.md"), exec("ls")`. Long argument values are cut
// at 40 runes.
func toolHint(calls []providers.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, tc := range calls {
		part := tc.Name
		if val, ok := firstStringArg(tc.Arguments); ok {
			if r := []rune(val); len(r) > 40 {
				val = string(r[:40]) + "…"
			}
			part = tc.Name + `("` + val + `")`
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// firstStringArg returns the value of the first argument key in sorted
// order, when that value is a string.
func firstStringArg(args map[string]interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s, ok := args[keys[0]].(string)
	return s, ok
}

func (l *Loop) messageTool() *tools.MessageTool {
	t, ok := l.tools.Get("message")
	if !ok {
		return nil
	}
	mt, _ := t.(*tools.MessageTool)
	return mt
}

// logPreview truncates s for log lines, rune-safe.
func logPreview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
