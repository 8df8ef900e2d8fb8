// Package chat is the session orchestrator: it composes the agent client,
// the reply-stream ingestor, and the session store into complete user
// turns, publishing progress events on the bus as each turn unfolds.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/chatstore"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
	"github.com/agentdeck/agentdeck/internal/stream"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// welcomeMessage seeds every newly created session so the log is never
// empty on first render.
const welcomeMessage = "Hello! I'm your AI agent. I can help you manage your schedule, search Wikipedia, browse the web, and more. What would you like me to do?"

// sessionNameLimit caps how many characters of the naming message become
// the session name.
const sessionNameLimit = 50

// contextWindow is how many prior messages accompany a chat request for
// continuity.
const contextWindow = 10

// ErrEmptyMessage is returned by Send when the input is blank.
var ErrEmptyMessage = errors.New("message is empty")

// Engine drives one user turn end to end: load or create the session,
// append the user message, stream the agent's reply into the message log,
// then derive the name, apply retention, and persist.
//
// The engine is the sole live writer for any session id it is handling;
// concurrent Sends for different sessions are fine, concurrent Sends for
// the same session are not supported.
type Engine struct {
	store    *chatstore.Store
	client   *agent.Client
	bus      *event.Bus
	settings *config.Manager
	prober   *agent.Prober

	log zerolog.Logger

	mu          sync.Mutex
	inflight    map[string]context.CancelFunc
	unsubscribe func()
}

// NewEngine wires the orchestrator. The prober is optional; when nil,
// activity reporting is skipped. The engine tracks settings changes so a
// new server URL takes effect on the next request.
func NewEngine(store *chatstore.Store, client *agent.Client, bus *event.Bus, settings *config.Manager, prober *agent.Prober) *Engine {
	e := &Engine{
		store:    store,
		client:   client,
		bus:      bus,
		settings: settings,
		prober:   prober,
		log:      logging.Component("engine"),
		inflight: make(map[string]context.CancelFunc),
	}

	e.client.SetBaseURL(settings.Current().ServerURL)
	e.unsubscribe = settings.Subscribe(func(s config.Settings) {
		if s.ServerURL != e.client.BaseURL() {
			e.log.Info().Str("url", s.ServerURL).Msg("agent server url changed")
			e.client.SetBaseURL(s.ServerURL)
		}
	})

	return e
}

// Load returns the session with the given id, creating and persisting a
// fresh one seeded with the welcome message when none exists.
func (e *Engine) Load(ctx context.Context, sessionID string) (*types.ChatSession, error) {
	session, ok, err := e.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ok {
		return session, nil
	}

	session = &types.ChatSession{
		ID:   sessionID,
		Name: types.DefaultSessionName,
		Messages: []types.ChatMessage{{
			ID:        newMessageID(),
			Role:      types.RoleAssistant,
			Content:   welcomeMessage,
			Timestamp: time.Now().UnixMilli(),
		}},
	}

	if err := e.store.Save(ctx, session); err != nil {
		return nil, err
	}
	e.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: session.Clone()},
	})

	return session, nil
}

// Send runs one complete user turn against the session with the given id
// and returns the updated session.
//
// Agent unreachability is recovered locally: the reply is replaced with a
// canned fallback message, the turn still persists, and a notification
// event is published instead of an error. Persistence failures at the end
// of the turn are likewise surfaced as notifications; the in-memory
// result is still returned.
func (e *Engine) Send(ctx context.Context, sessionID, text string, files []types.FileAttachment) (*types.ChatSession, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	session, err := e.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs := newMessageLog(session.Messages)

	// Prior turns, before this message, travel along for continuity.
	history := contextMessages(msgs.snapshot())

	userMsg := types.ChatMessage{
		ID:        newMessageID(),
		Role:      types.RoleUser,
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
		Files:     files,
	}
	msgs.append(userMsg)
	e.publishMessage(sessionID, userMsg, "")

	streamCtx, cancel := context.WithCancel(ctx)
	e.register(sessionID, cancel)
	defer e.unregister(sessionID, cancel)

	e.setActivity(agent.StatusThinking, "")
	defer e.setActivity(agent.StatusIdle, "")

	body, err := e.client.Chat(streamCtx, &agent.ChatRequest{
		Message:        text,
		ConversationID: sessionID,
		Stream:         true,
		Files:          files,
		Context:        history,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("agent unreachable")
		msgs.append(e.fallbackMessage(text))
		e.notifyConnectionError()
		return e.finalize(ctx, session, msgs)
	}
	defer body.Close()

	assistantID := newMessageID()
	assistantMsg := types.ChatMessage{
		ID:        assistantID,
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UnixMilli(),
	}
	msgs.append(assistantMsg)

	var prevLen int
	ing := stream.New(assistantID, func(u stream.Update) {
		delta := u.Content[prevLen:]
		prevLen = len(u.Content)

		msgs.update(assistantID, func(m *types.ChatMessage) {
			m.Content = u.Content
			m.ToolUsed = u.ToolUsed
		})
		if u.ToolUsed != "" {
			e.setActivity(agent.StatusWorking, u.ToolUsed)
		}

		updated, _ := msgs.get(assistantID)
		e.publishMessageSync(sessionID, updated, delta)
	})

	res, err := ing.Run(streamCtx, body)
	switch {
	case err == nil:
		msgs.update(assistantID, func(m *types.ChatMessage) {
			m.Content = res.Content
			m.ToolUsed = res.ToolUsed
		})
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// Aborted by the user mid-stream. Keep whatever arrived.
		e.log.Debug().Str("session", sessionID).Msg("stream aborted")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		// The stream broke mid-reply. The partial message is dropped in
		// favor of the fallback, matching the unreachable case.
		e.log.Warn().Err(err).Str("session", sessionID).Msg("stream failed")
		msgs.remove(assistantID)
		msgs.append(e.fallbackMessage(text))
		e.notifyConnectionError()
	}

	return e.finalize(ctx, session, msgs)
}

// finalize applies naming and retention, persists the session, and
// publishes the updated event. Persistence failures degrade to a
// notification; the in-memory session is still returned.
func (e *Engine) finalize(ctx context.Context, session *types.ChatSession, msgs *messageLog) (*types.ChatSession, error) {
	session.Messages = msgs.snapshot()
	deriveName(session)
	trimMessages(session, e.settings.Current().MaxMessages)

	if err := e.store.Save(ctx, session); err != nil {
		e.log.Error().Err(err).Str("session", session.ID).Msg("failed to persist session")
		e.bus.Publish(event.Event{
			Type: event.Notification,
			Data: event.NotificationData{
				Title:   "Storage Error",
				Message: "Could not save the conversation. Recent messages may be lost on exit.",
				Level:   "error",
			},
		})
	}

	e.bus.Publish(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Info: session.Clone()},
	})

	return session, nil
}

// Abort cancels the in-flight request for the given session, if any.
func (e *Engine) Abort(sessionID string) {
	e.mu.Lock()
	cancel := e.inflight[sessionID]
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Sessions lists all sessions, most recently updated first.
func (e *Engine) Sessions(ctx context.Context) ([]*types.ChatSession, error) {
	return e.store.GetAll(ctx)
}

// Delete removes a session and announces the removal.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	if err := e.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.bus.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionDeletedData{SessionID: sessionID},
	})
	return nil
}

// NewSessionID mints an id for a session that does not exist yet.
func (e *Engine) NewSessionID() string {
	return e.store.GenerateID()
}

// Close aborts all in-flight requests and detaches from settings.
func (e *Engine) Close() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.inflight))
	for _, cancel := range e.inflight {
		cancels = append(cancels, cancel)
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

func (e *Engine) register(sessionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inflight[sessionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) unregister(sessionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	if e.inflight[sessionID] != nil {
		delete(e.inflight, sessionID)
	}
	e.mu.Unlock()
	cancel()
}

func (e *Engine) setActivity(activity, tool string) {
	if e.prober == nil {
		return
	}
	e.prober.SetActivity(activity, tool)
}

func (e *Engine) publishMessage(sessionID string, msg types.ChatMessage, delta string) {
	e.bus.Publish(event.Event{
		Type: event.MessageUpdated,
		Data: event.MessageUpdatedData{SessionID: sessionID, Info: &msg, Delta: delta},
	})
}

// publishMessageSync delivers streaming updates in order; async delivery
// could interleave deltas.
func (e *Engine) publishMessageSync(sessionID string, msg types.ChatMessage, delta string) {
	e.bus.PublishSync(event.Event{
		Type: event.MessageUpdated,
		Data: event.MessageUpdatedData{SessionID: sessionID, Info: &msg, Delta: delta},
	})
}

func (e *Engine) fallbackMessage(input string) types.ChatMessage {
	return types.ChatMessage{
		ID:        newMessageID(),
		Role:      types.RoleAssistant,
		Content:   fmt.Sprintf("I received your message: \"%s\". The agent server at %s is not reachable right now, so this is a local response. Please check that the server is running and try again.", input, e.client.BaseURL()),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (e *Engine) notifyConnectionError() {
	e.bus.Publish(event.Event{
		Type: event.Notification,
		Data: event.NotificationData{
			Title:   "Connection Error",
			Message: "Could not reach the agent server. A local fallback response was recorded.",
			Level:   "warning",
		},
	})
}

// contextMessages converts the tail of the log into wire-format context
// entries.
func contextMessages(messages []types.ChatMessage) []agent.ContextMessage {
	start := 0
	if len(messages) > contextWindow {
		start = len(messages) - contextWindow
	}

	out := make([]agent.ContextMessage, 0, len(messages)-start)
	for _, m := range messages[start:] {
		out = append(out, agent.ContextMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// deriveName names the session after its first real exchange: once more
// than one message exists, the second message's leading characters become
// the name. A name set this way sticks; later messages never rename.
func deriveName(session *types.ChatSession) {
	if session.Name != "" && session.Name != types.DefaultSessionName {
		return
	}
	if len(session.Messages) < 2 {
		return
	}

	name := strings.TrimSpace(session.Messages[1].Content)
	runes := []rune(name)
	if len(runes) > sessionNameLimit {
		name = string(runes[:sessionNameLimit]) + "..."
	}
	if name != "" {
		session.Name = name
	}
}

// trimMessages keeps the most recent max messages in their original
// order.
func trimMessages(session *types.ChatSession, max int) {
	if max <= 0 || len(session.Messages) <= max {
		return
	}
	session.Messages = session.Messages[len(session.Messages)-max:]
}

func newMessageID() string {
	return ulid.Make().String()
}
