package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/hermit/internal/agent"
	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/cron"
	"github.com/nextlevelbuilder/hermit/internal/heartbeat"
	"github.com/nextlevelbuilder/hermit/internal/mcp"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/store"
	"github.com/nextlevelbuilder/hermit/internal/store/file"
	"github.com/nextlevelbuilder/hermit/internal/store/sqlite"
	"github.com/nextlevelbuilder/hermit/internal/tools"
	"github.com/nextlevelbuilder/hermit/internal/tracing"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the hermit gateway (agent loop, scheduler, heartbeat)",
	Run:   runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	initLogging(os.Stdout)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if !cfg.HasAnyProvider() {
		fmt.Println("No configuration found. Starting setup wizard...")
		fmt.Println()
		if !runOnboard(cfgPath) {
			os.Exit(1)
		}
		cfg, err = config.Load(cfgPath)
		if err != nil {
			slog.Error("failed to reload config after onboarding", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Workspace and bootstrap files.
	workspace := cfg.WorkspacePath()
	if abs, aerr := filepath.Abs(workspace); aerr == nil {
		workspace = abs
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "path", workspace, "error", err)
		os.Exit(1)
	}
	if seeded, serr := bootstrap.EnsureWorkspace(workspace); serr != nil {
		slog.Warn("bootstrap seeding failed", "error", serr)
	} else if len(seeded) > 0 {
		slog.Info("bootstrap files seeded", "files", seeded)
	}

	personas := bootstrap.NewLoader(workspace)
	if err := personas.Watch(); err != nil {
		slog.Warn("bootstrap file watcher unavailable", "error", err)
	}
	defer personas.Close()

	// Stores.
	stores, err := file.NewStores(workspace)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	if cfg.Archive.IsEnabled() {
		db, derr := sqlite.Open(cfg.ArchivePath())
		if derr != nil {
			slog.Warn("archive store unavailable", "path", cfg.ArchivePath(), "error", derr)
		} else {
			stores.Archive = db
			defer db.Close()
			slog.Info("archive store opened", "path", cfg.ArchivePath())
		}
	}

	// Providers.
	registry := providers.NewRegistry()
	registerProviders(registry, cfg)
	if len(registry.Names()) == 0 {
		slog.Error("no providers registered; run 'hermit onboard' or set an API key")
		os.Exit(1)
	}
	registry.SetDefault(cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Model)
	registry.SetJobModels(cfg.Agents.Defaults.JobModels)

	// Tracing.
	var tracer *tracing.Tracer
	if cfg.Telemetry.Enabled {
		tracer, err = tracing.Setup(ctx, cfg.Telemetry)
		if err != nil {
			slog.Warn("tracing setup failed", "error", err)
		} else {
			defer tracer.Shutdown(context.Background())
		}
	}

	// Message bus and built-in tools.
	b := bus.New()
	toolsReg := tools.NewRegistry()
	registerBuiltinTools(toolsReg, cfg, workspace, b, stores.Memory)

	loop := agent.NewLoop(agent.LoopConfig{
		Models:            registry,
		Tools:             toolsReg,
		Sessions:          stores.Sessions,
		Memory:            stores.Memory,
		Journal:           stores.Journal,
		Archive:           stores.Archive,
		Personas:          personas,
		Bus:               b,
		Tracer:            tracer,
		Workspace:         workspace,
		MaxTokens:         cfg.Agents.Defaults.MaxTokens,
		Temperature:       cfg.Agents.Defaults.Temperature,
		MaxToolIterations: cfg.Agents.Defaults.MaxToolIterations,
		MemoryWindow:      cfg.Agents.Defaults.MemoryWindow,
		ContextWindow:     cfg.Agents.Defaults.ContextWindow,
		InactivityTimeout: cfg.Agents.Defaults.InactivityTimeout(),
		Compaction:        cfg.Compaction,
		Channels:          cfg.Channels,
		Reflection:        cfg.Reflection,
	})

	// Tools that need the loop itself.
	toolsReg.Register(tools.NewSpawnTool(loop, b))

	cronSvc, err := cron.NewService(cfg.CronStoragePath(), loop, b)
	if err != nil {
		slog.Warn("cron service unavailable", "error", err)
	} else {
		toolsReg.Register(tools.NewCronTool(cronSvc))
		cronSvc.OnTick("idle-session-sweep", func(time.Time) { loop.SweepIdle() })
		if cfg.Cron.IsEnabled() {
			cronSvc.Start(ctx)
			defer cronSvc.Stop()
		}
	}

	if cfg.Gateway.Heartbeat.IsEnabled() {
		hb := heartbeat.NewService(workspace, cfg.Gateway.Heartbeat.Interval(), loop, stores.Sessions, b)
		hb.Start(ctx)
		defer hb.Stop()
	}

	if len(cfg.Tools.McpServers) > 0 {
		mcpMgr := mcp.NewManager(toolsReg, cfg.Tools.McpServers)
		if merr := mcpMgr.Start(ctx); merr != nil {
			slog.Warn("some MCP servers failed to connect", "error", merr)
		}
		defer mcpMgr.Stop()
	}

	slog.Info("hermit gateway started",
		"version", Version,
		"provider", cfg.Agents.Defaults.Provider,
		"model", registry.PrimaryModel(),
		"workspace", workspace,
		"tools", len(toolsReg.Names()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return drainOutbound(gctx, b) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		loop.Wait(10 * time.Second)
		stores.Sessions.SaveAll()
		cancel()
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("hermit gateway stopped")
}

// registerBuiltinTools mounts the tools every run gets. Spawn and cron
// are registered later because they need the loop and the scheduler.
func registerBuiltinTools(reg *tools.Registry, cfg *config.Config, workspace string, b *bus.MessageBus, ms store.MemoryStore) {
	restrict := cfg.Tools.RestrictToWorkspace

	reg.Register(tools.NewReadFileTool(workspace, restrict))
	reg.Register(tools.NewWriteFileTool(workspace, restrict))
	reg.Register(tools.NewEditFileTool(workspace, restrict))
	reg.Register(tools.NewListDirTool(workspace, restrict))
	reg.Register(tools.NewExecTool(workspace, restrict, time.Duration(cfg.Tools.Exec.Timeout)*time.Second))

	reg.Register(tools.NewWebSearchTool(cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults))
	reg.Register(tools.NewWebFetchTool(0))

	reg.Register(tools.NewWriteFactTool(ms))
	reg.Register(tools.NewWriteDecisionTool(ms))
	reg.Register(tools.NewWriteGoalTool(ms))
	reg.Register(tools.NewWriteTaskTool(ms))
	reg.Register(tools.NewWriteReflectionTool(ms))
	reg.Register(tools.NewMemorySearchTool(ms))

	reg.Register(tools.NewMessageTool(b))
}

// drainOutbound consumes outbound messages. Hermit has no channel
// adapters, so deliveries land in the log; the chat command attaches its
// own consumer instead.
func drainOutbound(ctx context.Context, b *bus.MessageBus) error {
	for {
		msg, ok := b.ConsumeOutbound(ctx)
		if !ok {
			return ctx.Err()
		}
		if msg.Metadata[bus.MetaProgress] == "true" {
			slog.Debug("outbound progress", "channel", msg.Channel, "chat_id", msg.ChatID, "content", msg.Content)
			continue
		}
		if msg.Content == "" {
			continue
		}
		slog.Info("outbound message", "channel", msg.Channel, "chat_id", msg.ChatID, "content", msg.Content)
	}
}
