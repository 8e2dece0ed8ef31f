package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetOrCreate(t *testing.T) {
	m := NewManager(t.TempDir())

	s1 := m.GetOrCreate("cli:direct")
	s2 := m.GetOrCreate("cli:direct")
	if s1 != s2 {
		t.Error("GetOrCreate created a second session for the same key")
	}
	if s1.Key != "cli:direct" {
		t.Errorf("Key = %q", s1.Key)
	}
	if !m.Exists("cli:direct") {
		t.Error("Exists() = false after create")
	}
	if m.Exists("other:1") {
		t.Error("Exists() = true for unknown key")
	}
}

func TestAddTurn_StampsTimestamp(t *testing.T) {
	m := NewManager(t.TempDir())

	m.AddTurn("cli:direct", Turn{Role: "user", Content: "hello"})
	m.AddTurn("cli:direct", Turn{Role: "assistant", Content: "hi", Timestamp: "2026-08-26T00:00:00Z"})

	hist := m.History("cli:direct")
	if len(hist) != 2 {
		t.Fatalf("len = %d, want 2", len(hist))
	}
	if hist[0].Timestamp == "" {
		t.Error("missing stamped timestamp")
	}
	if _, err := time.Parse(time.RFC3339, hist[0].Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC 3339: %v", hist[0].Timestamp, err)
	}
	if hist[1].Timestamp != "2026-08-26T00:00:00Z" {
		t.Errorf("existing timestamp overwritten: %q", hist[1].Timestamp)
	}
}

func TestHistory_ReturnsCopy(t *testing.T) {
	m := NewManager(t.TempDir())
	m.AddTurn("cli:direct", Turn{Role: "user", Content: "original"})

	hist := m.History("cli:direct")
	hist[0].Content = "mutated"

	if got := m.History("cli:direct"); got[0].Content != "original" {
		t.Errorf("stored turn changed through the copy: %q", got[0].Content)
	}

	if m.History("unknown:1") != nil {
		t.Error("History() for unknown key should be nil")
	}
}

func TestSnapshot_ImmutableAfterReset(t *testing.T) {
	m := NewManager(t.TempDir())
	m.AddTurn("cli:direct", Turn{Role: "user", Content: "one"})
	m.AddTurn("cli:direct", Turn{Role: "assistant", Content: "two"})

	snap, ok := m.Snapshot("cli:direct")
	if !ok {
		t.Fatal("Snapshot() not found")
	}
	if snap.Key != "cli:direct" || len(snap.Messages) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}

	m.Reset("cli:direct")
	m.AddTurn("cli:direct", Turn{Role: "user", Content: "three"})

	if len(snap.Messages) != 2 || snap.Messages[0].Content != "one" {
		t.Errorf("snapshot changed after reset: %+v", snap.Messages)
	}
	if got := m.History("cli:direct"); len(got) != 1 || got[0].Content != "three" {
		t.Errorf("post-reset history = %+v", got)
	}

	if _, ok := m.Snapshot("unknown:1"); ok {
		t.Error("Snapshot() = ok for unknown key")
	}
}

func TestReset_ClearsSummary(t *testing.T) {
	m := NewManager(t.TempDir())
	m.GetOrCreate("cli:direct")
	m.SetSummary("cli:direct", "so far so good")

	if m.Summary("cli:direct") != "so far so good" {
		t.Fatal("summary not set")
	}
	m.Reset("cli:direct")
	if m.Summary("cli:direct") != "" {
		t.Error("summary survived reset")
	}
}

func TestTruncateAndReplaceHistory(t *testing.T) {
	m := NewManager(t.TempDir())
	for i := 0; i < 5; i++ {
		m.AddTurn("cli:direct", Turn{Role: "user", Content: strings.Repeat("x", i+1)})
	}

	m.TruncateHistory("cli:direct", 2)
	hist := m.History("cli:direct")
	if len(hist) != 2 || hist[0].Content != "xxxx" {
		t.Errorf("truncated history = %+v", hist)
	}

	m.ReplaceHistory("cli:direct", []Turn{{Role: "system", Content: "summary pair"}})
	hist = m.History("cli:direct")
	if len(hist) != 1 || hist[0].Content != "summary pair" {
		t.Errorf("replaced history = %+v", hist)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	m.AddTurn("cli:direct", Turn{Role: "user", Content: "persist me"})
	m.AddTurn("cli:direct", Turn{
		Role: "assistant",
		ToolCalls: []ToolCallRecord{{
			ID:       "call_1",
			Type:     "function",
			Function: FunctionCall{Name: "exec", Arguments: `{"command":"ls"}`},
		}},
	})
	m.SetSummary("cli:direct", "short summary")
	m.UpdateMetadata("cli:direct", "claude-sonnet-4-5-20250929", "anthropic", "cli")

	if err := m.Save("cli:direct"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cli_direct.json")); err != nil {
		t.Fatalf("expected cli_direct.json: %v", err)
	}

	m2 := NewManager(dir)
	hist := m2.History("cli:direct")
	if len(hist) != 2 {
		t.Fatalf("reloaded history len = %d, want 2", len(hist))
	}
	if hist[1].ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Errorf("tool call lost in round trip: %+v", hist[1].ToolCalls)
	}
	if m2.Summary("cli:direct") != "short summary" {
		t.Errorf("Summary = %q", m2.Summary("cli:direct"))
	}
}

func TestSave_TruncatesToolTurns(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	long := strings.Repeat("z", 800)
	m.AddTurn("cli:direct", Turn{Role: "tool", Content: long, ToolCallID: "call_1", Name: "exec"})

	if err := m.Save("cli:direct"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// In memory the full result stays available.
	if got := m.History("cli:direct"); len(got[0].Content) != 800 {
		t.Errorf("in-memory content len = %d, want 800", len(got[0].Content))
	}

	data, err := os.ReadFile(filepath.Join(dir, "cli_direct.json"))
	if err != nil {
		t.Fatal(err)
	}
	var stored Session
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("unmarshal stored session: %v", err)
	}
	if !strings.HasSuffix(stored.Messages[0].Content, "\n... (truncated)") {
		t.Error("persisted tool turn not truncated")
	}
	if len(stored.Messages[0].Content) != 500+len("\n... (truncated)") {
		t.Errorf("persisted len = %d", len(stored.Messages[0].Content))
	}
}

func TestDelete_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	m.AddTurn("cli:direct", Turn{Role: "user", Content: "bye"})
	if err := m.Save("cli:direct"); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete("cli:direct"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if m.Exists("cli:direct") {
		t.Error("session still present after delete")
	}
	if _, err := os.Stat(filepath.Join(dir, "cli_direct.json")); !os.IsNotExist(err) {
		t.Error("session file still present after delete")
	}

	if err := m.Delete("never:existed"); err != nil {
		t.Errorf("Delete() of unknown key = %v, want nil", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	m := NewManager(t.TempDir())

	a := m.GetOrCreate("telegram:42")
	a.Updated = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := m.GetOrCreate("cli:direct")
	b.Updated = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	c := m.GetOrCreate("slack:7")
	c.Updated = time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	infos := m.List()
	if len(infos) != 3 {
		t.Fatalf("len = %d, want 3", len(infos))
	}
	for i, want := range []string{"cli:direct", "slack:7", "telegram:42"} {
		if infos[i].Key != want {
			t.Errorf("infos[%d].Key = %q, want %q", i, infos[i].Key, want)
		}
	}
}

func TestLastUsedChannel_SkipsInternal(t *testing.T) {
	m := NewManager(t.TempDir())

	a := m.GetOrCreate("telegram:42")
	a.Updated = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := m.GetOrCreate("cli:direct")
	b.Updated = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	hb := m.GetOrCreate("heartbeat:main")
	hb.Updated = time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	sp := m.GetOrCreate("spawn:x")
	sp.Updated = time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)

	channel, chatID := m.LastUsedChannel()
	if channel != "cli" || chatID != "direct" {
		t.Errorf("LastUsedChannel() = (%q, %q), want (cli, direct)", channel, chatID)
	}
}

func TestLastUsedChannel_Empty(t *testing.T) {
	m := NewManager(t.TempDir())
	m.GetOrCreate("heartbeat:main")

	if ch, id := m.LastUsedChannel(); ch != "" || id != "" {
		t.Errorf("LastUsedChannel() = (%q, %q), want empty", ch, id)
	}
}
