// Package commands provides the CLI commands for agentdeck.
package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/chat"
	"github.com/agentdeck/agentdeck/internal/chatstore"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/internal/storage"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "agentdeck - chat client for your AI agent server",
	Long: `agentdeck talks to an AI agent server over its streaming chat API and
keeps your conversations on disk.

Run 'agentdeck chat "your message"' to send a message, or
'agentdeck sessions' to browse past conversations.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Pretty: printLogs,
		}
		if !printLogs {
			cfg.Output = io.Discard
		}
		logging.Init(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentdeck %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(settingsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles the wired components a command needs.
type app struct {
	settings *config.Manager
	store    *chatstore.Store
	bus      *event.Bus
	client   *agent.Client
	prober   *agent.Prober
	engine   *chat.Engine
}

// buildApp wires storage, settings, the event bus, the agent client, and
// the engine. The returned cleanup must be called before exit.
func buildApp() (*app, func(), error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, nil, err
	}

	settings, err := config.NewManager(paths.SettingsPath())
	if err != nil {
		return nil, nil, err
	}
	if err := settings.Watch(); err != nil {
		return nil, nil, err
	}

	store := chatstore.New(storage.New(paths.StoragePath()))
	bus := event.NewBus()
	client := agent.NewClient(settings.Current().ServerURL)
	prober := agent.NewProber(client, bus)
	engine := chat.NewEngine(store, client, bus, settings, prober)

	cleanup := func() {
		engine.Close()
		prober.Stop()
		settings.Close()
		bus.Close()
	}

	return &app{
		settings: settings,
		store:    store,
		bus:      bus,
		client:   client,
		prober:   prober,
		engine:   engine,
	}, cleanup, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
