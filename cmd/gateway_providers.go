package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/providers"
)

// registerProviders mounts every provider that has an API key configured.
// Anthropic speaks its native API; everything else goes through the
// OpenAI-compatible client.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	if cfg.Providers.Anthropic.APIKey != "" {
		registry.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey))
		registry.SetRateLimit("anthropic", cfg.Providers.Anthropic.RateLimitRPS)
		slog.Info("registered provider", "name", "anthropic")
	}

	compat := []struct {
		name         string
		cfg          config.ProviderConfig
		apiBase      string
		defaultModel string
	}{
		{"openai", cfg.Providers.OpenAI, cfg.Providers.OpenAI.APIBase, "gpt-4o"},
		{"openrouter", cfg.Providers.OpenRouter, "https://openrouter.ai/api/v1", "anthropic/claude-sonnet-4-5-20250929"},
		{"groq", cfg.Providers.Groq, "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
		{"deepseek", cfg.Providers.DeepSeek, "https://api.deepseek.com/v1", "deepseek-chat"},
		{"gemini", cfg.Providers.Gemini, "https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.0-flash"},
		{"mistral", cfg.Providers.Mistral, "https://api.mistral.ai/v1", "mistral-large-latest"},
		{"xai", cfg.Providers.XAI, "https://api.x.ai/v1", "grok-3-mini"},
		{"zhipu", cfg.Providers.Zhipu, "https://open.bigmodel.cn/api/paas/v4", "glm-4.6"},
		{"custom", cfg.Providers.Custom, cfg.Providers.Custom.APIBase, ""},
	}
	for _, p := range compat {
		if p.cfg.APIKey == "" {
			continue
		}
		if p.apiBase == "" && p.name == "custom" {
			slog.Warn("custom provider has no api_base, skipping")
			continue
		}
		registry.Register(providers.NewOpenAIProvider(p.name, p.cfg.APIKey, p.apiBase, p.defaultModel))
		registry.SetRateLimit(p.name, p.cfg.RateLimitRPS)
		slog.Info("registered provider", "name", p.name)
	}
}
