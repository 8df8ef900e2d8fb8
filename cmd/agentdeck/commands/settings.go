package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change client settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Long: `Change a setting and persist it.

Keys: server-url, max-messages, theme, accent-color, auto-scroll, show-timestamps`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default settings",
	RunE:  runSettingsReset,
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	s := app.settings.Current()
	fmt.Printf("server-url       %s\n", s.ServerURL)
	fmt.Printf("max-messages     %d\n", s.MaxMessages)
	fmt.Printf("theme            %s\n", s.Theme)
	fmt.Printf("accent-color     %s\n", s.AccentColor)
	fmt.Printf("auto-scroll      %t\n", s.AutoScroll)
	fmt.Printf("show-timestamps  %t\n", s.ShowTimestamps)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	key, value := args[0], args[1]

	var mutate func(*config.Settings)
	switch key {
	case "server-url":
		mutate = func(s *config.Settings) { s.ServerURL = value }
	case "max-messages":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("max-messages must be a positive integer, got %q", value)
		}
		mutate = func(s *config.Settings) { s.MaxMessages = n }
	case "theme":
		mutate = func(s *config.Settings) { s.Theme = value }
	case "accent-color":
		mutate = func(s *config.Settings) { s.AccentColor = value }
	case "auto-scroll":
		mutate = func(s *config.Settings) { s.AutoScroll = value == "true" }
	case "show-timestamps":
		mutate = func(s *config.Settings) { s.ShowTimestamps = value == "true" }
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	return app.settings.Update(mutate)
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := app.settings.Reset(); err != nil {
		return err
	}
	fmt.Println("Settings restored to defaults.")
	return nil
}
