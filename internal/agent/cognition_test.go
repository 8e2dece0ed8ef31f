package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

// jobGatedModels routes jobs through an explicit map; unlisted jobs
// report no model.
type jobGatedModels struct {
	*scriptedModels
	jobs map[string]string
}

func (j *jobGatedModels) ModelForJob(job string) (string, bool) {
	m, ok := j.jobs[job]
	return m, ok && m != ""
}

func TestEndSession_FansOut(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, arch := newTestLoop(t, models, nil)

	snap := sessions.Snapshot{
		Key: "telegram:9",
		Messages: []sessions.Turn{
			{Role: "user", Content: "check the weather"},
			{Role: "assistant", Content: "It is sunny."},
		},
	}
	l.endSession(snap, store.EndReasonTimeout)
	l.Wait(5 * time.Second)

	archives, _ := arch.ListArchives("", 0)
	if len(archives) != 1 {
		t.Fatalf("archives = %d, want 1", len(archives))
	}
	a := archives[0]
	if a.SessionKey != "telegram:9" || a.Reason != store.EndReasonTimeout || a.MessageCount != 2 {
		t.Errorf("archive = %+v", a)
	}
	if len(a.Transcript) != 2 {
		t.Errorf("archived transcript = %d turns, want 2", len(a.Transcript))
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
		if r.SessionKey != "telegram:9" {
			t.Errorf("%s run session = %q", job, r.SessionKey)
		}
		if r.Model != "test-model" {
			t.Errorf("%s run model = %q", job, r.Model)
		}
		if r.StartedAt.IsZero() {
			t.Errorf("%s run has zero start time", job)
		}
	}
}

func TestEndSession_SkipsUnroutedJobs(t *testing.T) {
	models := &jobGatedModels{
		scriptedModels: &scriptedModels{model: "test-model"},
		jobs:           map[string]string{config.JobJournalSynthesis: "journal-model"},
	}
	l, _, arch := newTestLoop(t, models, nil)

	l.endSession(sessions.Snapshot{
		Key:      "cli:u1",
		Messages: []sessions.Turn{{Role: "user", Content: "hi"}},
	}, store.EndReasonExplicit)
	l.Wait(5 * time.Second)

	runs := arch.runsByJob()
	if r := runs["journal"]; r.Status != store.RunOK || r.Model != "journal-model" {
		t.Errorf("journal run = %+v, want ok via journal-model", r)
	}
	if r := runs["distill"]; r.Status != store.RunSkipped || r.Detail != "no model for distillation" {
		t.Errorf("distill run = %+v, want skipped", r)
	}
	if r := runs["reflect"]; r.Status != store.RunSkipped || r.Detail != "no model for reflection" {
		t.Errorf("reflect run = %+v, want skipped", r)
	}
}

func TestEndSession_EmptySnapshot(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, arch := newTestLoop(t, models, nil)

	l.endSession(sessions.Snapshot{Key: "cli:empty"}, store.EndReasonExplicit)
	l.Wait(5 * time.Second)

	if archives, _ := arch.ListArchives("", 0); len(archives) != 0 {
		t.Errorf("empty session archived: %+v", archives)
	}
	// Journal synthesis still runs; it no-ops on an empty transcript.
	if r, ok := arch.runsByJob()["journal"]; !ok || r.Status != store.RunOK {
		t.Errorf("journal run = %+v, want ok", r)
	}
	if models.requestCount() != 0 {
		t.Errorf("empty session reached the model: %d calls", models.requestCount())
	}
}

func TestEndSession_FailedJobRecorded(t *testing.T) {
	models := &scriptedModels{model: "test-model", err: errors.New("model down")}
	l, _, arch := newTestLoop(t, models, nil)

	l.endSession(sessions.Snapshot{
		Key:      "cli:u1",
		Messages: []sessions.Turn{{Role: "user", Content: "hi"}},
	}, store.EndReasonTimeout)
	l.Wait(5 * time.Second)

	// Journal synthesis falls back to a deterministic entry, so it still
	// succeeds; distillation surfaces the model failure.
	runs := arch.runsByJob()
	if r := runs["journal"]; r.Status != store.RunOK {
		t.Errorf("journal run = %+v, want ok via fallback", r)
	}
	if r := runs["distill"]; r.Status != store.RunFailed || !strings.Contains(r.Detail, "model down") {
		t.Errorf("distill run = %+v, want failed with cause", r)
	}
}

func TestSynthesizeJournal_Fallback(t *testing.T) {
	models := &scriptedModels{model: "test-model", err: errors.New("offline")}
	l, _, _ := newTestLoop(t, models, nil)

	turns := []sessions.Turn{
		{Role: "user", Content: "run the backup"},
		{Role: "assistant", Content: "Running it now."},
		{Role: "tool", Content: "done", ToolCallID: "c1", Name: "exec"},
	}
	if err := l.synthesizeJournal(context.Background(), "cli:test", turns); err != nil {
		t.Fatalf("synthesizeJournal() error = %v", err)
	}

	entry, err := l.journal.Read(l.journal.Today())
	if err != nil {
		t.Fatalf("journal read: %v", err)
	}
	if !strings.Contains(entry, "## Session: cli:test") {
		t.Errorf("fallback entry missing session heading:\n%s", entry)
	}
	if !strings.Contains(entry, "User sent 1 message(s). Agent responded 1 time(s). Tools: exec.") {
		t.Errorf("fallback entry missing aggregate line:\n%s", entry)
	}
}

func TestSynthesizeJournal_ModelNarrative(t *testing.T) {
	models := &scriptedModels{
		model:     "test-model",
		responses: []*providers.ChatResponse{{Content: "The user configured nightly backups.", FinishReason: "stop"}},
	}
	l, _, _ := newTestLoop(t, models, nil)

	turns := []sessions.Turn{
		{Role: "user", Content: "set up backups"},
		{Role: "assistant", Content: "Configured nightly backups."},
	}
	if err := l.synthesizeJournal(context.Background(), "cli:n", turns); err != nil {
		t.Fatalf("synthesizeJournal() error = %v", err)
	}

	entry, err := l.journal.Read(l.journal.Today())
	if err != nil {
		t.Fatalf("journal read: %v", err)
	}
	if !strings.Contains(entry, "The user configured nightly backups.") {
		t.Errorf("entry missing model narrative:\n%s", entry)
	}

	// The model sees aggregates, never transcript text.
	req := models.request(0)
	if strings.Contains(req.Messages[0].Content, "set up backups") {
		t.Errorf("journal prompt leaks transcript content:\n%s", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[0].Content, "User messages: 1") {
		t.Errorf("journal prompt missing aggregates:\n%s", req.Messages[0].Content)
	}
}

func TestSweepTimeouts(t *testing.T) {
	models := &scriptedModels{model: "test-model"}
	l, _, arch := newTestLoop(t, models, func(cfg *LoopConfig) {
		cfg.InactivityTimeout = time.Minute
	})

	l.sessions.GetOrCreate("cli:idle")
	l.sessions.AddTurn("cli:idle", sessions.Turn{Role: "user", Content: "old question"})
	l.sessions.AddTurn("cli:idle", sessions.Turn{Role: "assistant", Content: "Old answer."})
	l.sessions.GetOrCreate("cli:active")
	l.sessions.AddTurn("cli:active", sessions.Turn{Role: "user", Content: "recent"})

	now := time.Now().UTC()
	l.timerMu.Lock()
	l.timers["cli:idle"] = now.Add(-2 * time.Minute)
	l.timers["cli:active"] = now.Add(-10 * time.Second)
	l.timerMu.Unlock()

	l.sweepTimeouts()
	l.Wait(5 * time.Second)

	archives, _ := arch.ListArchives("", 0)
	if len(archives) != 1 {
		t.Fatalf("archives = %d, want only the idle session", len(archives))
	}
	if archives[0].SessionKey != "cli:idle" || archives[0].Reason != store.EndReasonTimeout {
		t.Errorf("archive = %+v", archives[0])
	}

	l.timerMu.Lock()
	_, idleTracked := l.timers["cli:idle"]
	_, activeTracked := l.timers["cli:active"]
	l.timerMu.Unlock()
	if idleTracked {
		t.Error("idle session timer not removed after sweep")
	}
	if !activeTracked {
		t.Error("active session timer removed by sweep")
	}

	// A timeout archives the transcript but does not clear it.
	if got := len(l.sessions.History("cli:idle")); got != 2 {
		t.Errorf("idle history = %d turns, want preserved 2", got)
	}
}
