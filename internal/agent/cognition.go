package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/journal"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

// jobTimeout bounds one background cognition job.
const jobTimeout = 5 * time.Minute

const (
	journalTemperature = 0.05
	journalMaxTokens   = 256
)

// endSession runs the session-end fan-out: archive the transcript, then
// schedule journal synthesis, memory distillation and reflection against
// the snapshot. The jobs run in the background; the snapshot keeps them
// independent of whatever the session does next.
func (l *Loop) endSession(snap sessions.Snapshot, reason string) {
	slog.Info("session ended", "reason", reason, "session", snap.Key)
	l.removeTimer(snap.Key)

	key, turns := snap.Key, snap.Messages

	if len(turns) > 0 && l.archive != nil {
		l.archiveSession(snap, reason)
	}

	journalModel, _ := l.models.ModelForJob(config.JobJournalSynthesis)
	l.spawnJob("journal", key, journalModel, func(ctx context.Context) error {
		return l.synthesizeJournal(ctx, key, turns)
	})

	if model, ok := l.models.ModelForJob(config.JobDistillation); ok {
		l.spawnJob("distill", key, model, func(ctx context.Context) error {
			_, err := l.distiller.Run(ctx, key, turns)
			return err
		})
	} else {
		slog.Debug("distillation skipped, no local model configured", "session", key)
		l.recordSkip("distill", key, "no model for distillation")
	}

	if model, ok := l.models.ModelForJob(config.JobReflection); ok {
		l.spawnJob("reflect", key, model, func(ctx context.Context) error {
			committed := l.analyzer.Run(key, turns)
			if l.promoter != nil && len(committed) > 0 {
				l.promoter.Promote(ctx, committed)
			}
			return nil
		})
	} else {
		l.recordSkip("reflect", key, "no model for reflection")
	}
}

// spawnJob runs one cognition job in the background with a bounded
// lifetime and records its outcome. Failures warn and are otherwise
// swallowed: cognition never disturbs message processing.
func (l *Loop) spawnJob(job, key, model string, fn func(ctx context.Context) error) {
	l.bg.Add(1)
	go func() {
		defer l.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now().UTC()
		err := fn(ctx)

		run := store.CognitionRun{
			SessionKey: key,
			Job:        job,
			Model:      model,
			Status:     store.RunOK,
			StartedAt:  start,
			Duration:   time.Since(start),
		}
		if err != nil {
			slog.Warn("background task failed", "job", job, "session", key, "error", err)
			run.Status = store.RunFailed
			run.Detail = err.Error()
		}
		l.recordRun(run)
	}()
}

func (l *Loop) recordRun(run store.CognitionRun) {
	if l.archive == nil {
		return
	}
	if err := l.archive.RecordCognitionRun(run); err != nil {
		slog.Warn("cognition run not recorded", "job", run.Job, "session", run.SessionKey, "error", err)
	}
}

func (l *Loop) recordSkip(job, key, detail string) {
	l.recordRun(store.CognitionRun{
		SessionKey: key,
		Job:        job,
		Status:     store.RunSkipped,
		Detail:     detail,
		StartedAt:  time.Now().UTC(),
	})
}

// archiveSession writes the ended session's transcript to the archive.
func (l *Loop) archiveSession(snap sessions.Snapshot, reason string) {
	started := time.Now().UTC()
	if info, ok := l.sessions.Info(snap.Key); ok && !info.Created.IsZero() {
		started = info.Created.UTC()
	}
	err := l.archive.ArchiveSession(store.SessionArchive{
		SessionKey:   snap.Key,
		Reason:       reason,
		MessageCount: len(snap.Messages),
		StartedAt:    started,
		EndedAt:      time.Now().UTC(),
		Transcript:   snap.Messages,
	})
	if err != nil {
		slog.Warn("session not archived", "session", snap.Key, "error", err)
	}
}

// synthesizeJournal writes a daily-journal entry narrating the ended
// session. The model gets only aggregate facts about the conversation,
// never the transcript. When the model call fails, a deterministic
// fallback entry is written instead so the day still has a record.
func (l *Loop) synthesizeJournal(ctx context.Context, key string, turns []sessions.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	var userCount, assistantCount int
	toolSet := make(map[string]struct{})
	for _, t := range turns {
		switch t.Role {
		case "user":
			userCount++
		case "assistant":
			assistantCount++
		case "tool":
			name := t.Name
			if name == "" {
				name = "unknown"
			}
			toolSet[name] = struct{}{}
		}
	}
	toolNames := make([]string, 0, len(toolSet))
	for name := range toolSet {
		toolNames = append(toolNames, name)
	}
	sort.Strings(toolNames)
	toolList := "none"
	if len(toolNames) > 0 {
		toolList = strings.Join(toolNames, ", ")
	}

	prompt := fmt.Sprintf(
		"Summarize this agent session as a brief narrative.\nUser messages: %d\nAssistant responses: %d\nTools used: %s\n\nWrite 2-3 sentences about what was accomplished.",
		userCount, assistantCount, toolList)

	model, _ := l.models.ModelForJob(config.JobJournalSynthesis)
	resp, err := l.models.Chat(ctx, model, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options: map[string]interface{}{
			providers.OptTemperature: journalTemperature,
			providers.OptMaxTokens:   journalMaxTokens,
		},
	})

	content := ""
	if err == nil {
		content = strings.TrimSpace(providers.StripThinking(resp.Content))
	}
	tags := []string{"session", "synthesis"}
	if content == "" {
		if err != nil {
			slog.Warn("journal synthesis model call failed, writing fallback entry", "session", key, "error", err)
		}
		content = fmt.Sprintf("## Session: %s\n\nUser sent %d message(s). Agent responded %d time(s). Tools: %s.",
			key, userCount, assistantCount, toolList)
		tags = []string{"session", "fallback"}
	}

	if _, err := l.journal.Append(content, journal.EntryOptions{SessionKeys: []string{key}, Tags: tags}); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

// notifySelfImprovement tells the user their agent just updated its own
// bootstrap files, on the channel most recently used.
func (l *Loop) notifySelfImprovement(message string) {
	channel, chatID := l.sessions.LastUsedChannel()
	if channel == "" {
		slog.Debug("self-improvement notice dropped, no channel seen yet")
		return
	}
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: message,
	})
}
