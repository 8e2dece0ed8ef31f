package tools

import (
	"context"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/hermit/internal/bus"
)

// MessageTool sends a message to the user mid-run, before the model's
// final reply. The loop checks SentThisTurn afterwards so an identical
// final reply is not delivered twice.
type MessageTool struct {
	msgBus *bus.MessageBus

	mu       sync.Mutex
	channel  string
	chatID   string
	sent     bool
	lastSent string
}

func NewMessageTool(b *bus.MessageBus) *MessageTool {
	return &MessageTool{msgBus: b}
}

// SetContext records where the current message came from; that is where
// sends go unless the call overrides them.
func (t *MessageTool) SetContext(channel, chatID, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

// BeginTurn clears the sent flag. The loop calls it before each run.
func (t *MessageTool) BeginTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = false
	t.lastSent = ""
}

// SentThisTurn reports whether a message went out since BeginTurn, along
// with the last content sent.
func (t *MessageTool) SentThisTurn() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.lastSent
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, without waiting for the final reply."
}
func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Message text to send",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Override the delivery channel",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Override the delivery chat",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.msgBus == nil {
		return ErrorResult("message bus not available")
	}
	content := argString(args, "content")
	if strings.TrimSpace(content) == "" {
		return ErrorResult("content is required")
	}

	t.mu.Lock()
	channel := t.channel
	chatID := t.chatID
	t.mu.Unlock()
	if c := argString(args, "channel"); c != "" {
		channel = c
	}
	if c := argString(args, "chat_id"); c != "" {
		chatID = c
	}
	if channel == "" {
		return ErrorResult("no delivery channel available")
	}

	t.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})

	t.mu.Lock()
	t.sent = true
	t.lastSent = content
	t.mu.Unlock()

	return NewResult("Message sent.")
}
