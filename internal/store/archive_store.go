package store

import (
	"time"

	"github.com/nextlevelbuilder/hermit/internal/sessions"
)

// Session end reasons recorded in the archive.
const (
	EndReasonTimeout  = "timeout"
	EndReasonExplicit = "explicit"
)

// Cognition run outcomes.
const (
	RunOK      = "ok"
	RunSkipped = "skipped"
	RunFailed  = "failed"
)

// SessionArchive is one archived (ended) session.
type SessionArchive struct {
	ID           int64
	SessionKey   string
	Reason       string
	MessageCount int
	StartedAt    time.Time
	EndedAt      time.Time
	Transcript   []sessions.Turn
}

// CognitionRun is one recorded background cognition job outcome.
type CognitionRun struct {
	ID         int64
	SessionKey string
	Job        string
	Model      string
	Status     string
	Detail     string
	StartedAt  time.Time
	Duration   time.Duration
}

// ArchiveStore records ended sessions and cognition outcomes. Archival is
// best-effort: callers log failures and carry on.
type ArchiveStore interface {
	ArchiveSession(arch SessionArchive) error
	RecordCognitionRun(run CognitionRun) error
	ListArchives(sessionKey string, limit int) ([]SessionArchive, error)
	ListCognitionRuns(sessionKey string, limit int) ([]CognitionRun, error)
	Close() error
}
