package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/content"
	"github.com/agentdeck/agentdeck/pkg/types"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse stored conversations",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := app.engine.Sessions(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Start one with 'agentdeck chat'.")
		return nil
	}

	for _, s := range sessions {
		updated := time.UnixMilli(s.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-16s  %3d messages  %s\n", s.ID, updated, len(s.Messages), truncate(s.Name, 50))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	session, ok, err := app.store.GetByID(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no session with id %s", args[0])
	}

	showTimestamps := app.settings.Current().ShowTimestamps

	fmt.Printf("%s (%s)\n\n", session.Name, session.ID)
	for _, msg := range session.Messages {
		printMessage(msg, showTimestamps)
		fmt.Println()
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := app.engine.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func printMessage(msg types.ChatMessage, showTimestamps bool) {
	header := msg.Role
	if showTimestamps {
		header += " " + time.UnixMilli(msg.Timestamp).Format("15:04:05")
	}
	if msg.ToolUsed != "" {
		header += " [" + msg.ToolUsed + "]"
	}
	fmt.Printf("--- %s ---\n", header)

	for _, fa := range msg.Files {
		fmt.Printf("(attached: %s, %d bytes)\n", fa.Name, fa.Size)
	}

	for _, seg := range content.Parse(msg.Content) {
		switch seg.Kind {
		case content.KindCode:
			fmt.Printf("\n    [%s]\n", seg.Language)
			for _, line := range strings.Split(seg.Content, "\n") {
				fmt.Printf("    %s\n", line)
			}
		case content.KindHighlight:
			fmt.Printf("*%s*\n", seg.Content)
		default:
			fmt.Println(seg.Content)
		}
	}
}
