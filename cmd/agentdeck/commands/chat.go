package commands

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/pkg/types"
)

const attachmentPreviewLimit = 200

var (
	chatSession  string
	chatContinue bool
	chatFiles    []string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Send a message to the agent",
	Long: `Send a message to the agent and stream the reply.

Examples:
  agentdeck chat "What's on my calendar today?"
  agentdeck chat --continue "And tomorrow?"
  agentdeck chat --file notes.txt "Summarize this"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session ID to continue")
	chatCmd.Flags().BoolVarP(&chatContinue, "continue", "c", false, "Continue the most recent session")
	chatCmd.Flags().StringArrayVarP(&chatFiles, "file", "f", nil, "File(s) to attach to the message")
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message required. Usage: agentdeck chat \"your message\"")
	}

	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID, err := resolveSessionID(ctx, app)
	if err != nil {
		return err
	}

	attachments, err := loadAttachments(chatFiles)
	if err != nil {
		return err
	}

	// Stream the reply as it arrives; warnings (unreachable agent, failed
	// save) surface after the message body. Deltas are delivered
	// synchronously on this goroutine, so streamed needs no locking.
	var streamed bool
	unsubMsg := app.bus.Subscribe(event.MessageUpdated, func(e event.Event) {
		data := e.Data.(event.MessageUpdatedData)
		if data.Info.Role == types.RoleAssistant && data.Delta != "" {
			streamed = true
			fmt.Print(data.Delta)
		}
	})
	defer unsubMsg()

	var notices []event.NotificationData
	unsubNote := app.bus.Subscribe(event.Notification, func(e event.Event) {
		notices = append(notices, e.Data.(event.NotificationData))
	})
	defer unsubNote()

	session, err := app.engine.Send(ctx, sessionID, message, attachments)
	if err != nil {
		return err
	}

	fmt.Print(wholeReply(session, streamed))
	fmt.Println()

	last := session.Messages[len(session.Messages)-1]
	if last.ToolUsed != "" {
		fmt.Fprintf(os.Stderr, "[tool: %s]\n", last.ToolUsed)
	}
	for _, n := range notices {
		fmt.Fprintf(os.Stderr, "%s: %s\n", n.Title, n.Message)
	}
	fmt.Fprintf(os.Stderr, "session: %s\n", session.ID)

	return nil
}

// wholeReply returns the assistant reply to print in full when nothing
// was streamed, such as the canned fallback recorded while the agent was
// unreachable. A reply that already went out as deltas is never repeated,
// even when a notification (a failed save, say) accompanied the turn.
func wholeReply(session *types.ChatSession, streamed bool) string {
	if streamed || len(session.Messages) == 0 {
		return ""
	}
	last := session.Messages[len(session.Messages)-1]
	if last.Role != types.RoleAssistant {
		return ""
	}
	return last.Content
}

// resolveSessionID picks the target session: an explicit id wins, then the
// most recent session with --continue, otherwise a fresh one.
func resolveSessionID(ctx context.Context, app *app) (string, error) {
	if chatSession != "" {
		return chatSession, nil
	}
	if chatContinue {
		sessions, err := app.engine.Sessions(ctx)
		if err != nil {
			return "", err
		}
		if len(sessions) > 0 {
			return sessions[0].ID, nil
		}
	}
	return app.engine.NewSessionID(), nil
}

func loadAttachments(paths []string) ([]types.FileAttachment, error) {
	var out []types.FileAttachment
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		out = append(out, types.FileAttachment{
			Name:    filepath.Base(path),
			Type:    mimeType,
			Size:    int64(len(data)),
			Preview: truncate(string(data), attachmentPreviewLimit),
		})
	}
	return out, nil
}
