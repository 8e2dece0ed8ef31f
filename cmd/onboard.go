package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive setup: provider, API key and workspace",
	Run: func(cmd *cobra.Command, args []string) {
		if !runOnboard(resolveConfigPath()) {
			os.Exit(1)
		}
	},
}

// runOnboard walks the setup wizard, writes the config file and seeds
// the workspace. Returns false when the user aborts or saving fails.
func runOnboard(cfgPath string) bool {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// A broken config file should not block re-onboarding.
		cfg = config.Default()
	}

	provider := cfg.Agents.Defaults.Provider
	if provider == "" {
		provider = "anthropic"
	}

	fmt.Println("Welcome to hermit. Let's set up your agent.")
	fmt.Println()

	providerForm := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Which provider should hermit use?").
			Options(
				huh.NewOption("Anthropic (Claude)", "anthropic"),
				huh.NewOption("OpenAI (GPT)", "openai"),
				huh.NewOption("OpenRouter", "openrouter"),
				huh.NewOption("Groq", "groq"),
				huh.NewOption("DeepSeek", "deepseek"),
				huh.NewOption("Gemini", "gemini"),
				huh.NewOption("Mistral", "mistral"),
				huh.NewOption("xAI (Grok)", "xai"),
				huh.NewOption("Zhipu (GLM)", "zhipu"),
			).
			Value(&provider),
	))
	if !runForm(providerForm) {
		return false
	}

	apiKey := ""
	model := defaultModelFor(provider)
	if cfg.Agents.Defaults.Provider == provider && cfg.Agents.Defaults.Model != "" {
		model = cfg.Agents.Defaults.Model
	}
	heartbeatOn := cfg.Gateway.Heartbeat.IsEnabled()

	detailForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("API key for %s", provider)).
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("an API key is required")
				}
				return nil
			}).
			Value(&apiKey),
		huh.NewInput().
			Title("Model").
			Value(&model),
		huh.NewConfirm().
			Title("Enable the heartbeat? (hermit checks in on its own every 30 minutes)").
			Value(&heartbeatOn),
	))
	if !runForm(detailForm) {
		return false
	}

	setProviderKey(cfg, provider, strings.TrimSpace(apiKey))
	cfg.Agents.Defaults.Provider = provider
	cfg.Agents.Defaults.Model = strings.TrimSpace(model)
	cfg.Gateway.Heartbeat.Enabled = &heartbeatOn

	if err := config.Save(cfg, cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
		return false
	}

	workspace := cfg.WorkspacePath()
	if _, err := bootstrap.EnsureWorkspace(workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to seed workspace: %v\n", err)
		return false
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Printf("Workspace ready at %s\n", workspace)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  hermit chat -m \"hello\"   send a one-shot message")
	fmt.Println("  hermit gateway           start the agent")
	return true
}

func runForm(form *huh.Form) bool {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
		} else {
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		}
		return false
	}
	return true
}

// defaultModelFor mirrors the per-provider defaults used at registration.
func defaultModelFor(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5-20250929"
	case "openai":
		return "gpt-4o"
	case "openrouter":
		return "anthropic/claude-sonnet-4-5-20250929"
	case "groq":
		return "llama-3.3-70b-versatile"
	case "deepseek":
		return "deepseek-chat"
	case "gemini":
		return "gemini-2.0-flash"
	case "mistral":
		return "mistral-large-latest"
	case "xai":
		return "grok-3-mini"
	case "zhipu":
		return "glm-4.6"
	}
	return ""
}

func setProviderKey(cfg *config.Config, provider, key string) {
	switch provider {
	case "anthropic":
		cfg.Providers.Anthropic.APIKey = key
	case "openai":
		cfg.Providers.OpenAI.APIKey = key
	case "openrouter":
		cfg.Providers.OpenRouter.APIKey = key
	case "groq":
		cfg.Providers.Groq.APIKey = key
	case "deepseek":
		cfg.Providers.DeepSeek.APIKey = key
	case "gemini":
		cfg.Providers.Gemini.APIKey = key
	case "mistral":
		cfg.Providers.Mistral.APIKey = key
	case "xai":
		cfg.Providers.XAI.APIKey = key
	case "zhipu":
		cfg.Providers.Zhipu.APIKey = key
	}
}
