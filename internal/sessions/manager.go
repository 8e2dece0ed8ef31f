package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager handles session lifecycle, lookup and JSON persistence. Sessions
// live in memory and are written one file per session under the storage
// directory ({workspace}/sessions).
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
}

// NewManager opens the session store. Existing session files are loaded;
// unreadable ones are skipped with a warning.
func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}
	if storage != "" {
		if err := os.MkdirAll(storage, 0o755); err != nil {
			slog.Warn("failed to create session storage", "path", storage, "error", err)
		}
		m.loadAll()
	}
	return m
}

// GetOrCreate returns the session for key, creating it when absent.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		Key:      key,
		Messages: []Turn{},
		Created:  now,
		Updated:  now,
	}
	m.sessions[key] = s
	return s
}

// Exists reports whether a session is present without creating one.
func (m *Manager) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[key]
	return ok
}

// AddTurn appends a transcript turn, stamping a UTC timestamp when the
// turn has none.
func (m *Manager) AddTurn(key string, turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		s = &Session{
			Key:      key,
			Messages: []Turn{},
			Created:  time.Now(),
		}
		m.sessions[key] = s
	}
	if turn.Timestamp == "" {
		turn.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	s.Messages = append(s.Messages, turn)
	s.Updated = time.Now()
}

// History returns a copy of the session's transcript.
func (m *Manager) History(key string) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	return copyTurns(s.Messages)
}

// Snapshot returns an immutable copy of the session for background
// cognition. The second return is false when the session does not exist.
func (m *Manager) Snapshot(key string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Key: key, Messages: copyTurns(s.Messages)}, true
}

// Summary returns the session summary ("" when absent).
func (m *Manager) Summary(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

// SetSummary replaces the session summary.
func (m *Manager) SetSummary(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Summary = summary
		s.Updated = time.Now()
	}
}

// UpdateMetadata sets model/provider/channel metadata on a session.
// Empty arguments leave the current value in place.
func (m *Manager) UpdateMetadata(key, model, provider, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if model != "" {
		s.Model = model
	}
	if provider != "" {
		s.Provider = provider
	}
	if channel != "" {
		s.Channel = channel
	}
}

// AccumulateTokens adds token counts from a completed model call.
func (m *Manager) AccumulateTokens(key string, inputTokens, outputTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
	}
}

// IncrementCompaction bumps the compaction counter after summarization.
func (m *Manager) IncrementCompaction(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.CompactionCount++
	}
}

// CompactionCount returns how many times the session has been compacted.
func (m *Manager) CompactionCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.CompactionCount
	}
	return 0
}

// SetLastPromptTokens records the prompt size of the last model call.
func (m *Manager) SetLastPromptTokens(key string, tokens, msgCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.LastPromptTokens = tokens
		s.LastMessageCount = msgCount
	}
}

// LastPromptTokens returns the last known prompt tokens and message count.
func (m *Manager) LastPromptTokens(key string) (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.LastPromptTokens, s.LastMessageCount
	}
	return 0, 0
}

// TruncateHistory keeps only the last keepLast turns.
func (m *Manager) TruncateHistory(key string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if keepLast <= 0 {
		s.Messages = []Turn{}
	} else if len(s.Messages) > keepLast {
		s.Messages = s.Messages[len(s.Messages)-keepLast:]
	}
	s.Updated = time.Now()
}

// ReplaceHistory swaps the whole transcript (used by compaction).
func (m *Manager) ReplaceHistory(key string, turns []Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}
	s.Messages = copyTurns(turns)
	s.Updated = time.Now()
}

// Reset clears the session's transcript and summary, keeping the entry.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		s.Messages = []Turn{}
		s.Summary = ""
		s.Updated = time.Now()
	}
}

// Delete removes a session and its file.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.storage != "" {
		path := filepath.Join(m.storage, sanitizeFilename(key)+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Info returns the session's descriptor.
func (m *Manager) Info(key string) (SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{
		Key:          key,
		MessageCount: len(s.Messages),
		Created:      s.Created,
		Updated:      s.Updated,
	}, true
}

// List returns descriptors for all sessions, most recently updated first.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]SessionInfo, 0, len(m.sessions))
	for key, s := range m.sessions {
		result = append(result, SessionInfo{
			Key:          key,
			MessageCount: len(s.Messages),
			Created:      s.Created,
			Updated:      s.Updated,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Updated.After(result[j].Updated)
	})
	return result
}

// LastUsedChannel finds the most recently updated deliverable session and
// returns its channel and chat id. Internal sessions (heartbeat, spawn,
// cron) are skipped. Returns ("", "") when none qualify.
func (m *Manager) LastUsedChannel() (channel, chatID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var bestKey string
	var bestUpdated time.Time
	for key, s := range m.sessions {
		if IsInternal(key) {
			continue
		}
		if s.Updated.After(bestUpdated) {
			bestUpdated = s.Updated
			bestKey = key
		}
	}
	if bestKey == "" {
		return "", ""
	}
	return ParseKey(bestKey)
}

// Save persists a session to disk atomically. Tool turns are truncated to
// the transcript cap on the way out.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := *s
	snapshot.Messages = copyTurns(s.Messages)
	m.mu.RUnlock()

	for i := range snapshot.Messages {
		if snapshot.Messages[i].Role == "tool" {
			snapshot.Messages[i].Content = TruncateToolResult(snapshot.Messages[i].Content)
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	path := filepath.Join(m.storage, filename+".json")

	tmp, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// SaveAll persists every session, collecting the first error.
func (m *Manager) SaveAll() error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, key := range keys {
		if err := m.Save(key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("save session %s: %w", key, err)
		}
	}
	return firstErr
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, f.Name()))
		if err != nil {
			slog.Warn("skipping unreadable session file", "file", f.Name(), "error", err)
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			slog.Warn("skipping invalid session file", "file", f.Name(), "error", err)
			continue
		}
		if s.Key == "" {
			continue
		}
		m.sessions[s.Key] = &s
	}
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
