package config

import (
	"strings"
	"sync"
	"time"
)

// Config is the root configuration for hermit.
type Config struct {
	Agents     AgentsConfig     `json:"agents"`
	Reflection ReflectionConfig `json:"reflection"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Gateway    GatewayConfig    `json:"gateway"`
	Tools      ToolsConfig      `json:"tools"`
	Compaction CompactionConfig `json:"compaction,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	Archive    ArchiveConfig    `json:"archive,omitempty"`
	Cron       CronConfig       `json:"cron,omitempty"`
	mu         sync.RWMutex
}

// AgentsConfig contains the agent defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults are the settings for the main agent.
type AgentDefaults struct {
	Workspace                string          `json:"workspace"`
	Provider                 string          `json:"provider"`
	Model                    string          `json:"model"`
	JobModels                JobModelsConfig `json:"job_models"`
	MaxTokens                int             `json:"max_tokens"`
	Temperature              float64         `json:"temperature"`
	MaxToolIterations        int             `json:"max_tool_iterations"`
	MemoryWindow             int             `json:"memory_window"`
	InactivityTimeoutSeconds int             `json:"inactivity_timeout_seconds"`
	ContextWindow            int             `json:"context_window,omitempty"`
}

// JobModelsConfig routes background cognition jobs to models.
//
// Resolution is mechanical, not heuristic:
//   - a non-empty value is used as-is
//   - an empty journal_synthesis/reflection/summarisation falls back to
//     the primary model
//   - an empty distillation means "skip the job" — distillation never
//     escalates to the primary model
type JobModelsConfig struct {
	InteractiveResponse string `json:"interactive_response,omitempty"`
	JournalSynthesis    string `json:"journal_synthesis,omitempty"`
	Distillation        string `json:"distillation,omitempty"`
	Reflection          string `json:"reflection,omitempty"`
	Summarisation       string `json:"summarisation,omitempty"`
}

// Job class names used for model routing.
const (
	JobInteractiveResponse = "interactive_response"
	JobJournalSynthesis    = "journal_synthesis"
	JobDistillation        = "distillation"
	JobReflection          = "reflection"
	JobSummarisation       = "summarisation"
)

// ModelForJob resolves the model for a job class. An empty return value
// means the job should be skipped (distillation only).
func (j JobModelsConfig) ModelForJob(job, primary string) string {
	var m string
	switch job {
	case JobInteractiveResponse:
		m = j.InteractiveResponse
	case JobJournalSynthesis:
		m = j.JournalSynthesis
	case JobDistillation:
		m = j.Distillation
	case JobReflection:
		m = j.Reflection
	case JobSummarisation:
		m = j.Summarisation
	}
	if s := strings.TrimSpace(m); s != "" {
		return s
	}
	if job == JobDistillation {
		return ""
	}
	return primary
}

// ReflectionConfig controls promotion of reflections into bootstrap files.
type ReflectionConfig struct {
	AutoPromote  *bool    `json:"auto_promote,omitempty"`   // default true
	NotifyUser   *bool    `json:"notify_user,omitempty"`    // default true
	SmartInsert  bool     `json:"smart_insert,omitempty"`   // LLM-placed edits (falls back to append)
	TargetFiles  []string `json:"target_files,omitempty"`   // default: all bootstrap files
	MaxFileLines int      `json:"max_file_lines,omitempty"` // archive threshold (default 500)
}

// AutoPromoteEnabled reports whether reflections are promoted automatically.
func (r ReflectionConfig) AutoPromoteEnabled() bool {
	return r.AutoPromote == nil || *r.AutoPromote
}

// NotifyEnabled reports whether the user is notified about bootstrap edits.
func (r ReflectionConfig) NotifyEnabled() bool {
	return r.NotifyUser == nil || *r.NotifyUser
}

// ChannelsConfig controls how responses are delivered.
type ChannelsConfig struct {
	SendProgress  *bool `json:"send_progress,omitempty"`   // stream intermediate text (default true)
	SendToolHints bool  `json:"send_tool_hints,omitempty"` // stream tool-call hints (default false)
}

// SendProgressEnabled reports whether progress streaming is on.
func (c ChannelsConfig) SendProgressEnabled() bool {
	return c.SendProgress == nil || *c.SendProgress
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Gemini     ProviderConfig `json:"gemini"`
	Mistral    ProviderConfig `json:"mistral"`
	XAI        ProviderConfig `json:"xai"`
	Zhipu      ProviderConfig `json:"zhipu"`
	Custom     ProviderConfig `json:"custom"` // any OpenAI-compatible endpoint
}

// ProviderConfig holds credentials and limits for one provider.
type ProviderConfig struct {
	APIKey       string  `json:"api_key"`
	APIBase      string  `json:"api_base,omitempty"`
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"` // client-side limit, 0 = unlimited
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" ||
		p.OpenAI.APIKey != "" ||
		p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" ||
		p.DeepSeek.APIKey != "" ||
		p.Gemini.APIKey != "" ||
		p.Mistral.APIKey != "" ||
		p.XAI.APIKey != "" ||
		p.Zhipu.APIKey != "" ||
		p.Custom.APIKey != ""
}

// GatewayConfig controls the long-running gateway process.
type GatewayConfig struct {
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// HeartbeatConfig configures the periodic HEARTBEAT.md check.
type HeartbeatConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`    // default true
	IntervalS int   `json:"interval_s,omitempty"` // default 1800 (30 minutes)
}

// IsEnabled reports whether the heartbeat service should run.
func (h HeartbeatConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Interval returns the heartbeat period.
func (h HeartbeatConfig) Interval() time.Duration {
	if h.IntervalS > 0 {
		return time.Duration(h.IntervalS) * time.Second
	}
	return 30 * time.Minute
}

// ToolsConfig controls the built-in tools and MCP servers.
type ToolsConfig struct {
	Web                 WebToolsConfig              `json:"web"`
	Exec                ExecToolConfig              `json:"exec"`
	RestrictToWorkspace bool                        `json:"restrict_to_workspace,omitempty"`
	McpServers          map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
}

// WebToolsConfig controls web_search and web_fetch.
type WebToolsConfig struct {
	Search WebSearchConfig `json:"search"`
}

// WebSearchConfig configures the search backend.
// With an API key, Brave Search is used; without one, DuckDuckGo.
type WebSearchConfig struct {
	APIKey     string `json:"api_key"`
	MaxResults int    `json:"max_results,omitempty"` // default 5
}

// ExecToolConfig configures the shell exec tool.
type ExecToolConfig struct {
	Timeout int `json:"timeout,omitempty"` // seconds, default 60
}

// MCPServerConfig configures a single external MCP server connection.
type MCPServerConfig struct {
	Transport   string            `json:"transport"`              // "stdio" or "streamable-http"
	Command     string            `json:"command,omitempty"`      // stdio: command to spawn
	Args        []string          `json:"args,omitempty"`         // stdio: command arguments
	Env         map[string]string `json:"env,omitempty"`          // stdio: extra environment variables
	URL         string            `json:"url,omitempty"`          // http: server URL
	Headers     map[string]string `json:"headers,omitempty"`      // http: custom headers
	ToolTimeout int               `json:"tool_timeout,omitempty"` // seconds before a tool call is cancelled (default 30)
}

// CompactionConfig controls session summarisation thresholds.
type CompactionConfig struct {
	MaxHistoryShare  float64 `json:"max_history_share,omitempty"` // share of context window before compaction (default 0.75)
	MinMessages      int     `json:"min_messages,omitempty"`      // min messages before compaction triggers (default 50)
	KeepLastMessages int     `json:"keep_last_messages,omitempty"` // messages kept after compaction (default 4)
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend
// (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plain-text transport for local dev
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "hermit")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (auth tokens for cloud backends)
}

// ArchiveConfig configures the SQLite archive of ended sessions.
type ArchiveConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Path    string `json:"path,omitempty"`    // default ~/.hermit/hermit.db
}

// IsEnabled reports whether session archival is on.
func (a ArchiveConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// CronConfig configures scheduled jobs.
type CronConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Storage string `json:"storage,omitempty"` // default ~/.hermit/cron.json
}

// IsEnabled reports whether the scheduler should run.
func (c CronConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// InactivityTimeout returns the session inactivity timeout.
func (d AgentDefaults) InactivityTimeout() time.Duration {
	if d.InactivityTimeoutSeconds > 0 {
		return time.Duration(d.InactivityTimeoutSeconds) * time.Second
	}
	return 30 * time.Minute
}
