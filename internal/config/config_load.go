package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:                "~/.hermit/workspace",
				Provider:                 "anthropic",
				Model:                    "claude-sonnet-4-5-20250929",
				MaxTokens:                8192,
				Temperature:              0.1,
				MaxToolIterations:        40,
				MemoryWindow:             100,
				InactivityTimeoutSeconds: 1800,
				ContextWindow:            200000,
			},
		},
		Reflection: ReflectionConfig{
			MaxFileLines: 500,
		},
		Gateway: GatewayConfig{
			Heartbeat: HeartbeatConfig{IntervalS: 1800},
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Search: WebSearchConfig{MaxResults: 5},
			},
			Exec: ExecToolConfig{Timeout: 60},
		},
		Compaction: CompactionConfig{
			MaxHistoryShare:  0.75,
			MinMessages:      50,
			KeepLastMessages: 4,
		},
	}
}

// Load reads config from the given path. A missing file yields defaults.
// The file is parsed as JSON5, so comments and trailing commas are fine.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies HERMIT_* environment variables on top of the
// loaded file. Env always wins: it is the operational escape hatch.
func applyEnvOverrides(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	envStr("HERMIT_WORKSPACE", &cfg.Agents.Defaults.Workspace)
	envStr("HERMIT_PROVIDER", &cfg.Agents.Defaults.Provider)
	envStr("HERMIT_MODEL", &cfg.Agents.Defaults.Model)

	envStr("HERMIT_ANTHROPIC_API_KEY", &cfg.Providers.Anthropic.APIKey)
	envStr("HERMIT_OPENAI_API_KEY", &cfg.Providers.OpenAI.APIKey)
	envStr("HERMIT_OPENROUTER_API_KEY", &cfg.Providers.OpenRouter.APIKey)
	envStr("HERMIT_GROQ_API_KEY", &cfg.Providers.Groq.APIKey)
	envStr("HERMIT_DEEPSEEK_API_KEY", &cfg.Providers.DeepSeek.APIKey)
	envStr("HERMIT_GEMINI_API_KEY", &cfg.Providers.Gemini.APIKey)
	envStr("HERMIT_MISTRAL_API_KEY", &cfg.Providers.Mistral.APIKey)
	envStr("HERMIT_XAI_API_KEY", &cfg.Providers.XAI.APIKey)
	envStr("HERMIT_ZHIPU_API_KEY", &cfg.Providers.Zhipu.APIKey)
	envStr("HERMIT_CUSTOM_API_KEY", &cfg.Providers.Custom.APIKey)
	envStr("HERMIT_CUSTOM_API_BASE", &cfg.Providers.Custom.APIBase)

	envStr("HERMIT_BRAVE_API_KEY", &cfg.Tools.Web.Search.APIKey)

	if v := strings.TrimSpace(os.Getenv("HERMIT_INACTIVITY_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agents.Defaults.InactivityTimeoutSeconds = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("HERMIT_TELEMETRY_ENABLED")); v != "" {
		cfg.Telemetry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	envStr("HERMIT_TELEMETRY_ENDPOINT", &cfg.Telemetry.Endpoint)
	envStr("HERMIT_TELEMETRY_PROTOCOL", &cfg.Telemetry.Protocol)
	envStr("HERMIT_TELEMETRY_SERVICE_NAME", &cfg.Telemetry.ServiceName)

	envStr("HERMIT_ARCHIVE_PATH", &cfg.Archive.Path)
}

// Save writes config to the given path with secrets-safe permissions.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Hash returns a short fingerprint of the config, for change detection.
func Hash(cfg *Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// ConfigDir returns the hermit home directory (~/.hermit).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hermit"
	}
	return filepath.Join(home, ".hermit")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json5")
}

// ExpandHome expands a leading ~ in a path.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// WorkspacePath returns the agent workspace with ~ expanded.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws := c.Agents.Defaults.Workspace
	if ws == "" {
		ws = "~/.hermit/workspace"
	}
	return ExpandHome(ws)
}

// ArchivePath returns the SQLite archive location with ~ expanded.
func (c *Config) ArchivePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.Archive.Path
	if p == "" {
		p = filepath.Join(ConfigDir(), "hermit.db")
	}
	return ExpandHome(p)
}

// CronStoragePath returns the cron job store location with ~ expanded.
func (c *Config) CronStoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.Cron.Storage
	if p == "" {
		p = filepath.Join(ConfigDir(), "cron.json")
	}
	return ExpandHome(p)
}
