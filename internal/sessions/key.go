// Package sessions — conversation state, one session per channel peer.
//
// Session keys follow the canonical format:
//
//	{channel}:{chat_id}
//
// Examples:
//
//	cli:direct
//	telegram:386246614
//	heartbeat:main
//	spawn:a1b2c3
//	cron:morning-brief
//
// The heartbeat, spawn and cron prefixes mark internal sessions that never
// correspond to a deliverable chat channel.
package sessions

import (
	"fmt"
	"strings"
)

// BuildKey builds the canonical session key for a channel conversation.
func BuildKey(channel, chatID string) string {
	return fmt.Sprintf("%s:%s", channel, chatID)
}

// ParseKey splits a session key into channel and chat id. Keys without a
// separator come back as (key, "").
func ParseKey(key string) (channel, chatID string) {
	idx := strings.Index(key, ":")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// HeartbeatKey returns the fixed session key heartbeat runs share.
func HeartbeatKey() string {
	return "heartbeat:main"
}

// SpawnKey builds the session key for a spawned subagent run.
func SpawnKey(id string) string {
	return "spawn:" + id
}

// CronKey builds the session key for a scheduled job.
func CronKey(jobID string) string {
	return "cron:" + jobID
}

// IsHeartbeat reports whether the key belongs to a heartbeat session.
func IsHeartbeat(key string) bool {
	return strings.HasPrefix(key, "heartbeat:")
}

// IsSpawn reports whether the key belongs to a spawned subagent session.
func IsSpawn(key string) bool {
	return strings.HasPrefix(key, "spawn:")
}

// IsCron reports whether the key belongs to a cron session.
func IsCron(key string) bool {
	return strings.HasPrefix(key, "cron:")
}

// IsInternal reports whether the key belongs to any non-deliverable
// session (heartbeat, spawn, cron).
func IsInternal(key string) bool {
	return IsHeartbeat(key) || IsSpawn(key) || IsCron(key)
}
