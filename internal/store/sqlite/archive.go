// Package sqlite persists ended-session transcripts and background
// cognition run outcomes in a single SQLite database file. The schema is
// managed with embedded golang-migrate migrations.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 50

// Archive is the SQLite-backed store.ArchiveStore.
type Archive struct {
	db *sql.DB
}

var _ store.ArchiveStore = (*Archive)(nil)

// Open opens (creating if needed) the archive database at path and runs
// any pending migrations.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// Single writer keeps modernc's file locking out of the picture.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ArchiveSession writes one ended session with its full transcript.
func (a *Archive) ArchiveSession(arch store.SessionArchive) error {
	transcript := arch.Transcript
	if transcript == nil {
		transcript = []sessions.Turn{}
	}
	raw, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO session_archives (session_key, reason, message_count, started_at, ended_at, transcript)
		VALUES (?, ?, ?, ?, ?, ?)`,
		arch.SessionKey,
		arch.Reason,
		arch.MessageCount,
		arch.StartedAt.UTC().UnixMilli(),
		arch.EndedAt.UTC().UnixMilli(),
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert session archive: %w", err)
	}
	return nil
}

// RecordCognitionRun writes one background cognition outcome.
func (a *Archive) RecordCognitionRun(run store.CognitionRun) error {
	_, err := a.db.Exec(`
		INSERT INTO cognition_runs (session_key, job, model, status, detail, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.SessionKey,
		run.Job,
		run.Model,
		run.Status,
		run.Detail,
		run.StartedAt.UTC().UnixMilli(),
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert cognition run: %w", err)
	}
	return nil
}

// ListArchives returns archived sessions, newest first. An empty
// sessionKey matches all sessions; limit <= 0 applies the default.
func (a *Archive) ListArchives(sessionKey string, limit int) ([]store.SessionArchive, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, session_key, reason, message_count, started_at, ended_at, transcript
		FROM session_archives`
	args := []any{}
	if sessionKey != "" {
		query += ` WHERE session_key = ?`
		args = append(args, sessionKey)
	}
	query += ` ORDER BY ended_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session archives: %w", err)
	}
	defer rows.Close()

	var out []store.SessionArchive
	for rows.Next() {
		var (
			arch       store.SessionArchive
			startedMs  int64
			endedMs    int64
			transcript string
		)
		if err := rows.Scan(&arch.ID, &arch.SessionKey, &arch.Reason, &arch.MessageCount, &startedMs, &endedMs, &transcript); err != nil {
			return nil, fmt.Errorf("scan session archive: %w", err)
		}
		arch.StartedAt = time.UnixMilli(startedMs).UTC()
		arch.EndedAt = time.UnixMilli(endedMs).UTC()
		if err := json.Unmarshal([]byte(transcript), &arch.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript for archive %d: %w", arch.ID, err)
		}
		out = append(out, arch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session archives: %w", err)
	}
	return out, nil
}

// ListCognitionRuns returns recorded runs, newest first. An empty
// sessionKey matches all sessions; limit <= 0 applies the default.
func (a *Archive) ListCognitionRuns(sessionKey string, limit int) ([]store.CognitionRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, session_key, job, model, status, detail, started_at, duration_ms
		FROM cognition_runs`
	args := []any{}
	if sessionKey != "" {
		query += ` WHERE session_key = ?`
		args = append(args, sessionKey)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cognition runs: %w", err)
	}
	defer rows.Close()

	var out []store.CognitionRun
	for rows.Next() {
		var (
			run        store.CognitionRun
			startedMs  int64
			durationMs int64
		)
		if err := rows.Scan(&run.ID, &run.SessionKey, &run.Job, &run.Model, &run.Status, &run.Detail, &startedMs, &durationMs); err != nil {
			return nil, fmt.Errorf("scan cognition run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedMs).UTC()
		run.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cognition runs: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
