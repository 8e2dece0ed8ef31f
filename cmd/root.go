// Package cmd wires the hermit CLI: the gateway service, the interactive
// chat client and the inspection commands for memory, journal and
// sessions.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hermit/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hermit",
	Short: "A long-running personal agent with a markdown memory",
	Long: `Hermit is a long-running personal agent. It keeps a markdown memory,
reflects on finished conversations in the background and writes a daily
journal. Running hermit without a subcommand starts the gateway.`,
	Run: func(cmd *cobra.Command, args []string) {
		runGateway(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.hermit/config.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd())
}

// resolveConfigPath picks the config file: the --config flag wins, then
// HERMIT_CONFIG, then the default location.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv("HERMIT_CONFIG"); env != "" {
		return env
	}
	return config.DefaultConfigPath()
}

// initLogging installs the process-wide text logger on the given writer.
func initLogging(w *os.File) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hermit %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
