package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
)

const spawnTimeout = 10 * time.Minute

// SpawnRunner runs a task in its own session and returns the final text.
// The agent loop satisfies it.
type SpawnRunner interface {
	ProcessDirect(ctx context.Context, content, sessionKey string) (string, error)
}

// SpawnTool starts a fire-and-forget background run. The result is
// announced to the origin chat through the bus when the run finishes.
type SpawnTool struct {
	runner SpawnRunner
	msgBus *bus.MessageBus

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewSpawnTool(runner SpawnRunner, b *bus.MessageBus) *SpawnTool {
	return &SpawnTool{runner: runner, msgBus: b}
}

func (t *SpawnTool) SetContext(channel, chatID, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Run a task in the background and continue. The result is announced when it finishes."
}
func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "What the background run should do",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.runner == nil {
		return ErrorResult("background runner not available")
	}
	task := argString(args, "task")
	if strings.TrimSpace(task) == "" {
		return ErrorResult("task is required")
	}

	id := uuid.NewString()[:8]
	sessionKey := sessions.SpawnKey(id)

	t.mu.Lock()
	channel := t.channel
	chatID := t.chatID
	t.mu.Unlock()

	// Detached from the tool call: the run must outlive this turn.
	go t.run(sessionKey, task, channel, chatID)

	return NewResult(fmt.Sprintf("Spawned background task %s for: %s", id, truncate(task, 80)))
}

func (t *SpawnTool) run(sessionKey, task, channel, chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), spawnTimeout)
	defer cancel()

	result, err := t.runner.ProcessDirect(ctx, task, sessionKey)
	if err != nil {
		slog.Warn("background task failed", "session", sessionKey, "error", err)
		result = fmt.Sprintf("Background task failed: %v", err)
	}
	if strings.TrimSpace(result) == "" {
		result = "Background task completed."
	}

	if t.msgBus == nil || channel == "" {
		slog.Info("background task finished without a delivery target", "session", sessionKey)
		return
	}
	t.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: result,
	})
}
