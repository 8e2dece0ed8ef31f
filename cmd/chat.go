package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/agent"
	"github.com/nextlevelbuilder/hermit/internal/bootstrap"
	"github.com/nextlevelbuilder/hermit/internal/bus"
	"github.com/nextlevelbuilder/hermit/internal/config"
	"github.com/nextlevelbuilder/hermit/internal/providers"
	"github.com/nextlevelbuilder/hermit/internal/store/file"
	"github.com/nextlevelbuilder/hermit/internal/tools"
)

var (
	chatMessage string
	chatID      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with hermit from the terminal",
	Long: `Chat runs the agent loop in-process and talks to it over the message
bus, so tool progress streams to stderr while replies go to stdout.
Use -m for a single message, or no flags for an interactive session.`,
	Run: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	chatCmd.Flags().StringVarP(&chatID, "session", "s", "local", "chat id (sessions are keyed cli:<id>)")
}

func runChat(cmd *cobra.Command, args []string) {
	// Keep stdout clean for replies; logs go to stderr and stay quiet
	// unless -v is set.
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.HasAnyProvider() {
		fmt.Fprintln(os.Stderr, "No provider configured. Run 'hermit onboard' first.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create workspace: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrap.EnsureWorkspace(workspace); err != nil {
		slog.Warn("bootstrap seeding failed", "error", err)
	}

	stores, err := file.NewStores(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open stores: %v\n", err)
		os.Exit(1)
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)
	if len(registry.Names()) == 0 {
		fmt.Fprintln(os.Stderr, "No providers registered. Run 'hermit onboard' first.")
		os.Exit(1)
	}
	registry.SetDefault(cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Model)
	registry.SetJobModels(cfg.Agents.Defaults.JobModels)

	b := bus.New()
	toolsReg := tools.NewRegistry()
	registerBuiltinTools(toolsReg, cfg, workspace, b, stores.Memory)

	loop := agent.NewLoop(agent.LoopConfig{
		Models:            registry,
		Tools:             toolsReg,
		Sessions:          stores.Sessions,
		Memory:            stores.Memory,
		Journal:           stores.Journal,
		Bus:               b,
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
	toolsReg.Register(tools.NewSpawnTool(loop, b))

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		if err := loop.Run(loopCtx); err != nil {
			slog.Error("agent loop exited", "error", err)
		}
	}()

	if chatMessage != "" {
		reply, err := sendAndWait(ctx, b, chatMessage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if reply != "" {
			fmt.Println(reply)
		}
		loop.Wait(2 * time.Second)
		return
	}

	fmt.Fprintf(os.Stderr, "hermit %s — chatting with %s\n", Version, registry.PrimaryModel())
	fmt.Fprintln(os.Stderr, "Type 'exit' to quit, '/new' for a fresh session, '/help' for commands.")
	fmt.Fprintln(os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := sendAndWait(ctx, b, input)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if reply != "" {
			fmt.Printf("\n%s\n\n", reply)
		}
	}

	// Give background cognition a moment to land before the process goes
	// away; sessions themselves are already saved per turn.
	loop.Wait(2 * time.Second)
}

// sendAndWait publishes one inbound message and consumes outbound frames
// until the turn's terminal frame arrives. Progress frames stream to
// stderr; unrelated frames (spawn announcements, heartbeat alerts) print
// to stdout and the wait continues.
func sendAndWait(ctx context.Context, b *bus.MessageBus, content string) (string, error) {
	msgID := uuid.NewString()[:8]
	b.PublishInbound(bus.InboundMessage{
		Channel:  "cli",
		SenderID: "user",
		ChatID:   chatID,
		Content:  content,
		Metadata: map[string]string{"message_id": msgID},
	})

	for {
		msg, ok := b.ConsumeOutbound(ctx)
		if !ok {
			return "", ctx.Err()
		}
		if msg.ChatID != chatID {
			continue
		}
		if msg.Metadata[bus.MetaProgress] == "true" {
			if msg.Metadata[bus.MetaToolHint] == "true" {
				fmt.Fprintf(os.Stderr, "  [tool] %s\n", msg.Content)
			} else {
				fmt.Fprintf(os.Stderr, "  %s\n", msg.Content)
			}
			continue
		}
		// The reply carries the message id it answers. The error envelope
		// carries no metadata at all.
		if msg.Metadata["message_id"] == msgID || len(msg.Metadata) == 0 {
			return msg.Content, nil
		}
		if msg.Content != "" {
			fmt.Printf("\n%s\n", msg.Content)
		}
	}
}
