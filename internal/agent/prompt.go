package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/providers"
)

// buildSystemPrompt assembles the system prompt: identity header, the
// persona files that exist (AGENTS, SOUL, IDENTITY, TOOLS, in that order),
// the memory context, and the tool inventory.
func (l *Loop) buildSystemPrompt(channel string) string {
	var b strings.Builder

	b.WriteString("You are hermit, a long-running personal agent.\n\n")
	fmt.Fprintf(&b, "Model: %s\n", l.models.PrimaryModel())
	fmt.Fprintf(&b, "Workspace: %s\n", l.workspace)
	fmt.Fprintf(&b, "Channel: %s\n", channel)
	fmt.Fprintf(&b, "Current time: %s\n", time.Now().UTC().Format(time.RFC3339))

	for _, name := range bootstrap.PersonaFiles {
		content := strings.TrimSpace(l.personas.Content(name))
		if content == "" {
			continue
		}
		b.WriteString("\n---\n\n")
		b.WriteString(content)
		b.WriteString("\n")
	}

	if memoryCtx, err := l.memory.BuildContext(); err != nil {
		slog.Warn("memory context unavailable", "error", err)
	} else if memoryCtx != "" {
		b.WriteString("\n---\n\n# Memory\n\n")
		b.WriteString(memoryCtx)
		b.WriteString("\n")
	}

	if names := l.tools.Names(); len(names) > 0 {
		b.WriteString("\n---\n\n# Tools\n\n")
		for _, name := range names {
			if t, ok := l.tools.Get(name); ok {
				fmt.Fprintf(&b, "- %s: %s\n", name, t.Description())
			}
		}
	}

	return b.String()
}

// buildMessages assembles the model context for one run: system prompt,
// the stored summary (as a visible exchange, so compaction survives in
// the transcript the model sees), bounded history, then the current
// message with any attached images.
func (l *Loop) buildMessages(key, channel, content string, media []string) []providers.Message {
	msgs := []providers.Message{{Role: "system", Content: l.buildSystemPrompt(channel)}}

	if summary := l.sessions.Summary(key); summary != "" {
		msgs = append(msgs,
			providers.Message{
				Role:    "user",
				Content: "[Previous conversation summary]\n" + summary,
			},
			providers.Message{
				Role:    "assistant",
				Content: "I understand the context from our previous conversation. How can I help you?",
			},
		)
	}

	msgs = append(msgs, l.boundedHistory(key)...)

	current := providers.Message{Role: "user", Content: content}
	if len(media) > 0 {
		current.Images = loadImages(media)
	}
	return append(msgs, current)
}
