package agent

import (
	"log/slog"
	"sort"
	"time"

	"github.com/nextlevelbuilder/hermit/internal/store"
)

// touchTimer resets the inactivity clock for a session. Called on every
// message the session processes.
func (l *Loop) touchTimer(key string) {
	l.timerMu.Lock()
	l.timers[key] = time.Now().UTC()
	l.timerMu.Unlock()
}

// removeTimer drops the session's timer entry, if any.
func (l *Loop) removeTimer(key string) {
	l.timerMu.Lock()
	delete(l.timers, key)
	l.timerMu.Unlock()
}

// timedOut returns the sessions idle strictly longer than the inactivity
// timeout, sorted for deterministic processing order.
func (l *Loop) timedOut(now time.Time) []string {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	var keys []string
	for key, last := range l.timers {
		if idle := now.Sub(last); idle > l.inactivityTimeout {
			slog.Info("session inactive past timeout", "session", key, "idle", idle.Round(time.Second))
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// SweepIdle ends sessions idle past the inactivity timeout. The scheduler
// calls this every minute so idle sessions end even when no new message
// arrives to trigger the post-turn sweep.
func (l *Loop) SweepIdle() {
	l.sweepTimeouts()
}

// sweepTimeouts ends every timed-out session with reason timeout. The
// snapshot is taken synchronously so nothing that happens to the session
// afterwards can change what background cognition sees. A timeout does
// not clear the transcript; only /new does.
func (l *Loop) sweepTimeouts() {
	for _, key := range l.timedOut(time.Now().UTC()) {
		snap, ok := l.sessions.Snapshot(key)
		if !ok {
			l.removeTimer(key)
			continue
		}
		l.endSession(snap, store.EndReasonTimeout)
	}
}
