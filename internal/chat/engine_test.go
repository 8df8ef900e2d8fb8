package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/chatstore"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/storage"
	"github.com/agentdeck/agentdeck/pkg/types"
)

type engineFixture struct {
	engine   *Engine
	store    *chatstore.Store
	bus      *event.Bus
	settings *config.Manager
}

func newEngineFixture(t *testing.T, serverURL string) *engineFixture {
	t.Helper()

	dir := t.TempDir()
	st := storage.New(filepath.Join(dir, "storage"))

	settings, err := config.NewManager(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	require.NoError(t, settings.Update(func(s *config.Settings) {
		s.ServerURL = serverURL
	}))

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	store := chatstore.New(st)
	engine := NewEngine(store, agent.NewClient(serverURL), bus, settings, nil)
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, store: store, bus: bus, settings: settings}
}

// ndjsonServer replies to every chat request with the given stream lines.
func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEngine_LoadCreatesSessionWithWelcome(t *testing.T) {
	fx := newEngineFixture(t, "http://localhost:1")
	id := fx.engine.NewSessionID()

	session, err := fx.engine.Load(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultSessionName, session.Name)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, types.RoleAssistant, session.Messages[0].Role)
	assert.NotEmpty(t, session.Messages[0].Content)

	// The fresh session is already durable.
	stored, ok, err := fx.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.Messages[0].ID, stored.Messages[0].ID)
}

func TestEngine_LoadExistingSession(t *testing.T) {
	fx := newEngineFixture(t, "http://localhost:1")

	existing := &types.ChatSession{
		ID:       "chat_existing",
		Name:     "Old talk",
		Messages: []types.ChatMessage{{ID: "m1", Role: types.RoleUser, Content: "hi"}},
	}
	require.NoError(t, fx.store.Save(context.Background(), existing))

	session, err := fx.engine.Load(context.Background(), "chat_existing")
	require.NoError(t, err)
	assert.Equal(t, "Old talk", session.Name)
	require.Len(t, session.Messages, 1)
}

func TestEngine_SendEmptyMessage(t *testing.T) {
	fx := newEngineFixture(t, "http://localhost:1")

	_, err := fx.engine.Send(context.Background(), "chat_x", "   \n", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEngine_SendStreamsReply(t *testing.T) {
	srv := ndjsonServer(t,
		`{"response":"The answer "}`,
		`{"response":"is 42.","tool_used":"calculator"}`,
	)
	fx := newEngineFixture(t, srv.URL)
	id := fx.engine.NewSessionID()

	session, err := fx.engine.Send(context.Background(), id, "What is the answer?", nil)
	require.NoError(t, err)

	// Welcome, user message, assistant reply.
	require.Len(t, session.Messages, 3)
	assert.Equal(t, types.RoleUser, session.Messages[1].Role)
	assert.Equal(t, "What is the answer?", session.Messages[1].Content)

	reply := session.Messages[2]
	assert.Equal(t, types.RoleAssistant, reply.Role)
	assert.Equal(t, "The answer is 42.", reply.Content)
	assert.Equal(t, "calculator", reply.ToolUsed)

	// The turn is durable.
	stored, ok, err := fx.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, stored.Messages, 3)
}

func TestEngine_SendDerivesSessionName(t *testing.T) {
	srv := ndjsonServer(t, `{"response":"Sure."}`)
	fx := newEngineFixture(t, srv.URL)
	id := fx.engine.NewSessionID()

	session, err := fx.engine.Send(context.Background(), id, "Schedule a meeting for tomorrow at noon please, with the whole team", nil)
	require.NoError(t, err)

	assert.Equal(t, "Schedule a meeting for tomorrow at noon please, wi...", session.Name)

	// The name sticks on later turns.
	session, err = fx.engine.Send(context.Background(), id, "Completely different topic now", nil)
	require.NoError(t, err)
	assert.Equal(t, "Schedule a meeting for tomorrow at noon please, wi...", session.Name)
}

func TestEngine_SendSendsContextWindow(t *testing.T) {
	var got agent.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"response":"ok"}`)
	}))
	t.Cleanup(srv.Close)
	fx := newEngineFixture(t, srv.URL)

	session := &types.ChatSession{ID: "chat_long", Name: "Long"}
	for i := 0; i < 25; i++ {
		session.Messages = append(session.Messages, types.ChatMessage{
			ID:      fmt.Sprintf("m%d", i),
			Role:    types.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
	}
	require.NoError(t, fx.store.Save(context.Background(), session))

	_, err := fx.engine.Send(context.Background(), "chat_long", "latest", nil)
	require.NoError(t, err)

	assert.Equal(t, "latest", got.Message)
	assert.Equal(t, "chat_long", got.ConversationID)
	assert.True(t, got.Stream)
	require.Len(t, got.Context, 10)
	assert.Equal(t, "message 15", got.Context[0].Content)
	assert.Equal(t, "message 24", got.Context[9].Content)
}

func TestEngine_SendFallbackWhenUnreachable(t *testing.T) {
	fx := newEngineFixture(t, "http://localhost:1")
	id := fx.engine.NewSessionID()

	notified := make(chan event.NotificationData, 1)
	fx.bus.Subscribe(event.Notification, func(e event.Event) {
		notified <- e.Data.(event.NotificationData)
	})

	session, err := fx.engine.Send(context.Background(), id, "hello?", nil)
	require.NoError(t, err, "unreachable agent is recovered, not fatal")

	require.Len(t, session.Messages, 3)
	fallback := session.Messages[2]
	assert.Equal(t, types.RoleAssistant, fallback.Role)
	assert.Contains(t, fallback.Content, "hello?")
	assert.Contains(t, fallback.Content, "not reachable")

	// The fallback turn persists like any other.
	stored, ok, err := fx.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, stored.Messages, 3)

	n := <-notified
	assert.Equal(t, "Connection Error", n.Title)
	assert.Equal(t, "warning", n.Level)
}

func TestEngine_SendAppliesRetention(t *testing.T) {
	srv := ndjsonServer(t, `{"response":"ok"}`)
	fx := newEngineFixture(t, srv.URL)
	require.NoError(t, fx.settings.Update(func(s *config.Settings) {
		s.MaxMessages = 4
	}))

	session := &types.ChatSession{ID: "chat_full", Name: "Full"}
	for i := 0; i < 10; i++ {
		session.Messages = append(session.Messages, types.ChatMessage{
			ID:      fmt.Sprintf("m%d", i),
			Role:    types.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
	}
	require.NoError(t, fx.store.Save(context.Background(), session))

	got, err := fx.engine.Send(context.Background(), "chat_full", "newest", nil)
	require.NoError(t, err)

	// Most recent four, original order: two survivors plus this turn.
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "message 8", got.Messages[0].Content)
	assert.Equal(t, "message 9", got.Messages[1].Content)
	assert.Equal(t, "newest", got.Messages[2].Content)
	assert.Equal(t, "ok", got.Messages[3].Content)
}

func TestEngine_SendPublishesDeltasInOrder(t *testing.T) {
	srv := ndjsonServer(t,
		`{"response":"alpha "}`,
		`{"response":"beta "}`,
		`{"response":"gamma"}`,
	)
	fx := newEngineFixture(t, srv.URL)
	id := fx.engine.NewSessionID()

	var deltas []string
	fx.bus.Subscribe(event.MessageUpdated, func(e event.Event) {
		data := e.Data.(event.MessageUpdatedData)
		if data.Info.Role == types.RoleAssistant && data.Delta != "" {
			deltas = append(deltas, data.Delta)
		}
	})

	session, err := fx.engine.Send(context.Background(), id, "go", nil)
	require.NoError(t, err)

	assert.Equal(t, "alpha beta gamma", session.Messages[2].Content)
	assert.Equal(t, session.Messages[2].Content, strings.Join(deltas, ""),
		"concatenated deltas reproduce the full reply")
}

func TestEngine_AbortKeepsPartialReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"response":"partial "}`)
		flusher.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	fx := newEngineFixture(t, srv.URL)
	id := fx.engine.NewSessionID()

	// The first streamed delta arrives on the sending goroutine, so
	// aborting from inside the subscriber is race-free.
	fx.bus.Subscribe(event.MessageUpdated, func(e event.Event) {
		data := e.Data.(event.MessageUpdatedData)
		if data.Delta != "" {
			fx.engine.Abort(id)
		}
	})

	session, err := fx.engine.Send(context.Background(), id, "never finishes", nil)
	require.NoError(t, err, "user abort is not an error")

	require.Len(t, session.Messages, 3)
	assert.Equal(t, "partial ", session.Messages[2].Content)
}

func TestEngine_DeletePublishesEvent(t *testing.T) {
	fx := newEngineFixture(t, "http://localhost:1")
	id := fx.engine.NewSessionID()
	_, err := fx.engine.Load(context.Background(), id)
	require.NoError(t, err)

	deleted := make(chan string, 1)
	fx.bus.Subscribe(event.SessionDeleted, func(e event.Event) {
		deleted <- e.Data.(event.SessionDeletedData).SessionID
	})

	require.NoError(t, fx.engine.Delete(context.Background(), id))

	_, ok, err := fx.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, id, <-deleted)
}

func TestEngine_SettingsChangeRetargetsClient(t *testing.T) {
	srv := ndjsonServer(t, `{"response":"from the new server"}`)
	fx := newEngineFixture(t, "http://localhost:1")

	require.NoError(t, fx.settings.Update(func(s *config.Settings) {
		s.ServerURL = srv.URL
	}))

	session, err := fx.engine.Send(context.Background(), fx.engine.NewSessionID(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "from the new server", session.Messages[2].Content)
}
