package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/store/sqlite"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the hermit installation",
	Run:   runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) {
	fmt.Printf("hermit %s on %s/%s (%s)\n\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())

	cfgPath := resolveConfigPath()
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err != nil {
		report("config", "NOT FOUND — run 'hermit onboard'")
	} else if loaded, lerr := config.Load(cfgPath); lerr != nil {
		report("config", fmt.Sprintf("PARSE ERROR: %v", lerr))
	} else {
		cfg = loaded
		report("config", cfgPath)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	workspace := cfg.WorkspacePath()
	if info, err := os.Stat(workspace); err != nil {
		report("workspace", fmt.Sprintf("MISSING: %s (created on first run)", workspace))
	} else if !info.IsDir() {
		report("workspace", fmt.Sprintf("NOT A DIRECTORY: %s", workspace))
	} else if err := probeWritable(workspace); err != nil {
		report("workspace", fmt.Sprintf("NOT WRITABLE: %v", err))
	} else {
		report("workspace", workspace)
	}

	keys := []struct{ name, key string }{
		{"anthropic", cfg.Providers.Anthropic.APIKey},
		{"openai", cfg.Providers.OpenAI.APIKey},
		{"openrouter", cfg.Providers.OpenRouter.APIKey},
		{"groq", cfg.Providers.Groq.APIKey},
		{"deepseek", cfg.Providers.DeepSeek.APIKey},
		{"gemini", cfg.Providers.Gemini.APIKey},
		{"mistral", cfg.Providers.Mistral.APIKey},
		{"xai", cfg.Providers.XAI.APIKey},
		{"zhipu", cfg.Providers.Zhipu.APIKey},
		{"custom", cfg.Providers.Custom.APIKey},
	}
	var anyProvider bool
	for _, p := range keys {
		if p.key == "" {
			continue
		}
		anyProvider = true
		report(p.name, maskKey(p.key))
	}
	if !anyProvider {
		report("providers", "NONE CONFIGURED — run 'hermit onboard'")
	}

	if cfg.Archive.IsEnabled() {
		if db, err := sqlite.Open(cfg.ArchivePath()); err != nil {
			report("archive", fmt.Sprintf("OPEN FAILED: %v", err))
		} else {
			db.Close()
			report("archive", cfg.ArchivePath())
		}
	} else {
		report("archive", "disabled")
	}

	if cfg.Cron.IsEnabled() {
		report("cron", cfg.CronStoragePath())
	} else {
		report("cron", "disabled")
	}

	if cfg.Gateway.Heartbeat.IsEnabled() {
		report("heartbeat", fmt.Sprintf("every %s", cfg.Gateway.Heartbeat.Interval()))
	} else {
		report("heartbeat", "disabled")
	}

	if n := len(cfg.Tools.McpServers); n > 0 {
		names := make([]string, 0, n)
		for name := range cfg.Tools.McpServers {
			names = append(names, name)
		}
		sort.Strings(names)
		report("mcp", fmt.Sprintf("%d configured (%s)", n, strings.Join(names, ", ")))
	}

	checkBinary("sh")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func report(name, status string) {
	fmt.Printf("  %-12s %s\n", name, status)
}

// maskKey hides the middle of an API key. Keys too short to mask safely
// are hidden entirely.
func maskKey(key string) string {
	if len(key) < 12 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// probeWritable verifies the directory accepts new files.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkBinary(name string) {
	if path, err := exec.LookPath(name); err != nil {
		report(name, "NOT FOUND")
	} else {
		report(name, path)
	}
}
