// Package cron runs scheduled prompts through the agent. Jobs carry a
// five-field cron expression validated with gronx; a due job runs in its
// own cron:{id} session and any output is delivered to the chat that
// scheduled it. Jobs persist as JSON so schedules survive restarts.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
	"github.com/nextlevelbuilder/hermit/internal/tools"
)

const (
	tickInterval = time.Minute
	runTimeout   = 5 * time.Minute
)

// Job is one scheduled prompt.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

type fileFormat struct {
	Jobs []Job `json:"jobs"`
}

// Runner executes a due job's prompt in its own session. The agent loop
// satisfies it.
type Runner interface {
	ProcessDirect(ctx context.Context, content, sessionKey string) (string, error)
}

// Service owns the schedule: job CRUD, persistence, and the minute tick
// that fires due jobs.
type Service struct {
	path   string
	runner Runner
	msgBus *bus.MessageBus

	mu    sync.Mutex
	jobs  map[string]*Job
	hooks []func(now time.Time)

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewService loads the persisted schedule from path. A missing file is an
// empty schedule, not an error.
func NewService(path string, runner Runner, b *bus.MessageBus) (*Service, error) {
	s := &Service{
		path:   path,
		runner: runner,
		msgBus: b,
		jobs:   make(map[string]*Job),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cron jobs: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse cron jobs: %w", err)
	}

	now := time.Now().UTC()
	for _, j := range f.Jobs {
		if j.ID == "" {
			continue
		}
		job := j
		if job.NextRun.IsZero() {
			job.NextRun = nextAfter(job.Schedule, now)
		}
		s.jobs[job.ID] = &job
	}
	return nil
}

// AddJob validates the expression, persists the job and returns its id.
func (s *Service) AddJob(name, schedule, message, channel, chatID string) (string, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return "", fmt.Errorf("invalid cron expression %q", schedule)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("message is required")
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString()[:8],
		Name:      strings.TrimSpace(name),
		Schedule:  schedule,
		Message:   message,
		Channel:   channel,
		ChatID:    chatID,
		CreatedAt: now,
		NextRun:   nextAfter(schedule, now),
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return "", fmt.Errorf("persist cron jobs: %w", err)
	}
	slog.Info("cron job added", "job", job.ID, "name", job.Name, "schedule", schedule)
	return job.ID, nil
}

// RemoveJob deletes a job. It reports whether the id existed.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	if err := s.persistLocked(); err != nil {
		slog.Warn("cron state not persisted", "error", err)
	}
	slog.Info("cron job removed", "job", id)
	return true
}

// Jobs returns the schedule sorted by creation time.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sortJobs(out)
	return out
}

// ListJobs adapts the schedule to the shape the cron tool consumes.
func (s *Service) ListJobs() []tools.ScheduledJob {
	jobs := s.Jobs()
	out := make([]tools.ScheduledJob, len(jobs))
	for i, j := range jobs {
		out[i] = tools.ScheduledJob{
			ID:       j.ID,
			Name:     j.Name,
			Schedule: j.Schedule,
			Message:  j.Message,
		}
	}
	return out
}

// OnTick registers extra work to run on every scheduler tick, such as the
// session inactivity sweep. Hooks run synchronously on the tick goroutine
// and must be fast.
func (s *Service) OnTick(name string, fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
	slog.Debug("cron tick hook registered", "name", name)
}

// Start launches the tick loop. Calling Start on a running service is a
// no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	jobs := len(s.jobs)
	s.mu.Unlock()

	slog.Info("cron scheduler started", "jobs", jobs)
	go s.run(ctx, done)
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("cron scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(now.UTC())
		}
	}
}

// Stop cancels the tick loop and waits for in-flight job runs.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()
}

// tick fires every due job and advances its next-run time before the run
// starts, so a slow job cannot fire twice.
func (s *Service) tick(now time.Time) {
	s.mu.Lock()
	var due []Job
	for _, j := range s.jobs {
		// Zero NextRun means the expression stopped resolving; the job
		// stays listed but never fires.
		if !j.NextRun.IsZero() && !now.Before(j.NextRun) {
			j.LastRun = now
			j.NextRun = nextAfter(j.Schedule, now)
			due = append(due, *j)
		}
	}
	if len(due) > 0 {
		if err := s.persistLocked(); err != nil {
			slog.Warn("cron state not persisted", "error", err)
		}
	}
	hooks := append(([]func(time.Time))(nil), s.hooks...)
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].ID < due[k].ID })
	for _, job := range due {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.runJob(job)
		}(job)
	}
	for _, fn := range hooks {
		fn(now)
	}
}

func (s *Service) runJob(job Job) {
	slog.Info("cron job firing", "job", job.ID, "name", job.Name)
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	result, err := s.runner.ProcessDirect(ctx, job.Message, sessions.CronKey(job.ID))
	if err != nil {
		slog.Warn("cron job failed", "job", job.ID, "error", err)
		result = fmt.Sprintf("Scheduled task %q failed: %v", job.Name, err)
	}

	// Unlike spawn, a quiet run delivers nothing: recurring jobs would
	// otherwise announce themselves on every fire.
	if s.msgBus == nil || job.Channel == "" || strings.TrimSpace(result) == "" {
		return
	}
	s.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: job.Channel,
		ChatID:  job.ChatID,
		Content: result,
	})
}

func (s *Service) persistLocked() error {
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	sortJobs(jobs)

	data, err := json.MarshalIndent(fileFormat{Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "cron-*.tmp")
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
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// nextAfter computes the next fire time strictly after from. A zero time
// disables the job.
func nextAfter(expr string, from time.Time) time.Time {
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		slog.Warn("cron next-run computation failed", "schedule", expr, "error", err)
		return time.Time{}
	}
	return next
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
