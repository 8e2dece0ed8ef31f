package store

import (
	"github.com/nextlevelbuilder/hermit/internal/sessions"
)

// SessionStore manages conversation sessions.
type SessionStore interface {
	GetOrCreate(key string) *sessions.Session
	Exists(key string) bool
	AddTurn(key string, turn sessions.Turn)
	History(key string) []sessions.Turn
	Snapshot(key string) (sessions.Snapshot, bool)
	Summary(key string) string
	SetSummary(key, summary string)
	UpdateMetadata(key, model, provider, channel string)
	AccumulateTokens(key string, input, output int64)
	IncrementCompaction(key string)
	CompactionCount(key string) int
	SetLastPromptTokens(key string, tokens, msgCount int)
	LastPromptTokens(key string) (tokens, msgCount int)
	TruncateHistory(key string, keepLast int)
	ReplaceHistory(key string, turns []sessions.Turn)
	Reset(key string)
	Delete(key string) error
	Info(key string) (sessions.SessionInfo, bool)
	List() []sessions.SessionInfo
	LastUsedChannel() (channel, chatID string)
	Save(key string) error
	SaveAll() error
}
