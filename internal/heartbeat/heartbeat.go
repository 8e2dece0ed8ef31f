// Package heartbeat periodically runs the workspace HEARTBEAT.md prompt
// through the agent so time-sensitive memory (stale tasks, quiet goals)
// gets looked at even when nobody is talking to the agent. A run that
// answers with the HEARTBEAT_OK sentinel has nothing to say and is not
// delivered.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/sessions"
)

// OKSentinel in a heartbeat response means nothing needs attention; the
// response is suppressed.
const OKSentinel = "HEARTBEAT_OK"

const (
	defaultInterval = 30 * time.Minute
	runTimeout      = 5 * time.Minute
)

// Runner executes the heartbeat prompt in the shared heartbeat session.
// The agent loop satisfies it.
type Runner interface {
	ProcessDirect(ctx context.Context, content, sessionKey string) (string, error)
}

// ChannelSource reports the most recently used delivery target.
type ChannelSource interface {
	LastUsedChannel() (channel, chatID string)
}

// Service drives the periodic heartbeat run.
type Service struct {
	workspace string
	interval  time.Duration
	runner    Runner
	channels  ChannelSource
	msgBus    *bus.MessageBus

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds a heartbeat service reading HEARTBEAT.md from the
// workspace. A non-positive interval falls back to 30 minutes.
func NewService(workspace string, interval time.Duration, runner Runner, channels ChannelSource, b *bus.MessageBus) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		workspace: workspace,
		interval:  interval,
		runner:    runner,
		channels:  channels,
		msgBus:    b,
	}
}

// Start launches the heartbeat ticker. Calling Start on a running service
// is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	slog.Info("heartbeat started", "interval", s.interval)
	go s.run(ctx, done)
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat stopped")
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

// Stop cancels the ticker and waits for it to exit. An in-flight beat
// finishes on its own bounded context.
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
}

// beat runs one heartbeat: load the prompt, run it through the agent,
// deliver anything that is not the all-clear.
func (s *Service) beat(ctx context.Context) {
	prompt, ok := s.prompt()
	if !ok {
		slog.Debug("heartbeat skipped, nothing actionable in prompt file")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	result, err := s.runner.ProcessDirect(ctx, prompt, sessions.HeartbeatKey())
	if err != nil {
		slog.Warn("heartbeat run failed", "error", err)
		return
	}

	result = strings.TrimSpace(result)
	if result == "" || strings.Contains(result, OKSentinel) {
		slog.Debug("heartbeat ok")
		return
	}

	channel, chatID := "", ""
	if s.channels != nil {
		channel, chatID = s.channels.LastUsedChannel()
	}
	if channel == "" || s.msgBus == nil {
		slog.Info("heartbeat result dropped, no delivery target")
		return
	}
	s.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: result,
	})
	slog.Info("heartbeat result delivered", "channel", channel)
}

// prompt loads HEARTBEAT.md. A missing or trivial file (headings and
// comments only) means no beat.
func (s *Service) prompt() (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.workspace, bootstrap.HeartbeatFile))
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if trivial(content) {
		return "", false
	}
	return content, true
}

// trivial reports whether the prompt has nothing actionable: empty, or
// only markdown headings and comment lines.
func trivial(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") {
			continue
		}
		return false
	}
	return true
}
