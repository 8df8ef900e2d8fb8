package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentdeck/agentdeck/citest/testutil"
	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/chat"
	"github.com/agentdeck/agentdeck/internal/chatstore"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/content"
	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/storage"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// testApp bundles a fully wired engine over throwaway storage.
type testApp struct {
	engine   *chat.Engine
	store    *chatstore.Store
	bus      *event.Bus
	settings *config.Manager
	dataDir  string
}

func newTestApp(serverURL, dataDir string) *testApp {
	settings, err := config.NewManager(filepath.Join(dataDir, "settings.json"))
	Expect(err).NotTo(HaveOccurred())
	Expect(settings.Update(func(s *config.Settings) {
		s.ServerURL = serverURL
	})).To(Succeed())

	bus := event.NewBus()
	store := chatstore.New(storage.New(filepath.Join(dataDir, "storage")))
	client := agent.NewClient(serverURL)
	engine := chat.NewEngine(store, client, bus, settings, nil)

	return &testApp{
		engine:   engine,
		store:    store,
		bus:      bus,
		settings: settings,
		dataDir:  dataDir,
	}
}

func (a *testApp) close() {
	a.engine.Close()
	a.bus.Close()
}

var _ = Describe("Chat engine", func() {
	var (
		dir *testutil.TempDir
		app *testApp
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		dir, err = testutil.NewTempDir()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(dir.Cleanup)

		app = newTestApp(mockAgent.URL(), dir.Path)
		DeferCleanup(app.close)

		ctx = context.Background()
	})

	It("streams a scripted reply into the session", func() {
		session, err := app.engine.Send(ctx, app.engine.NewSessionID(), "hello there", nil)
		Expect(err).NotTo(HaveOccurred())

		// Welcome, user turn, assistant reply.
		Expect(session.Messages).To(HaveLen(3))
		Expect(session.Messages[2].Role).To(Equal(types.RoleAssistant))
		Expect(session.Messages[2].Content).To(Equal("Hello! How can I help you today?"))
	})

	It("reports the tool the agent used", func() {
		session, err := app.engine.Send(ctx, app.engine.NewSessionID(), "look up Go on wikipedia", nil)
		Expect(err).NotTo(HaveOccurred())

		reply := session.Messages[len(session.Messages)-1]
		Expect(reply.ToolUsed).To(Equal("wikipedia"))
		Expect(reply.Content).To(ContainSubstring("Wikipedia"))

		req, ok := mockAgent.LastRequest()
		Expect(ok).To(BeTrue())
		Expect(req.Message).To(ContainSubstring("wikipedia"))
	})

	It("sends the conversation id and prior context on the wire", func() {
		id := app.engine.NewSessionID()

		_, err := app.engine.Send(ctx, id, "hello", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = app.engine.Send(ctx, id, "schedule a meeting for friday", nil)
		Expect(err).NotTo(HaveOccurred())

		// The shared mock accumulates traffic from other specs; pick out
		// this conversation.
		var reqs []testutil.MockRequest
		for _, r := range mockAgent.Requests() {
			if r.ConversationID == id {
				reqs = append(reqs, r)
			}
		}
		Expect(reqs).To(HaveLen(2))
		Expect(reqs[0].Stream).To(BeTrue())
		Expect(reqs[0].Context).To(HaveLen(1), "first turn carries only the welcome message")
		// Welcome, first user turn, first reply.
		Expect(reqs[1].Context).To(HaveLen(3))
	})

	It("records file attachments on the user turn", func() {
		name := "note-" + testutil.RandomString(6) + ".txt"
		path, err := dir.CreateFile(name, "remember the milk")
		Expect(err).NotTo(HaveOccurred())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		att := types.FileAttachment{
			Name:    name,
			Type:    "text/plain",
			Size:    int64(len(data)),
			Preview: string(data),
		}

		id := app.engine.NewSessionID()
		session, err := app.engine.Send(ctx, id, "hello, summarize this note", []types.FileAttachment{att})
		Expect(err).NotTo(HaveOccurred())

		user := session.Messages[1]
		Expect(user.Role).To(Equal(types.RoleUser))
		Expect(user.Files).To(HaveLen(1))
		Expect(user.Files[0].Name).To(Equal(name))

		// Attachment metadata survives persistence.
		stored, ok, err := app.store.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(stored.Messages[1].Files).To(HaveLen(1))
		Expect(stored.Messages[1].Files[0].Preview).To(Equal("remember the milk"))
	})

	It("derives the session name from the first user message", func() {
		session, err := app.engine.Send(ctx, app.engine.NewSessionID(), "hello world", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(session.Name).To(Equal("hello world"))
	})

	It("publishes streaming deltas that concatenate to the full reply", func() {
		var mu sync.Mutex
		var deltas []string
		app.bus.Subscribe(event.MessageUpdated, func(e event.Event) {
			data := e.Data.(event.MessageUpdatedData)
			if data.Info.Role == types.RoleAssistant && data.Delta != "" {
				mu.Lock()
				deltas = append(deltas, data.Delta)
				mu.Unlock()
			}
		})

		session, err := app.engine.Send(ctx, app.engine.NewSessionID(), "hello", nil)
		Expect(err).NotTo(HaveOccurred())

		mu.Lock()
		joined := strings.Join(deltas, "")
		mu.Unlock()
		Expect(joined).To(Equal(session.Messages[2].Content))
	})

	It("produces replies the content parser can segment", func() {
		session, err := app.engine.Send(ctx, app.engine.NewSessionID(), "show me code please", nil)
		Expect(err).NotTo(HaveOccurred())

		segments := content.Parse(session.Messages[2].Content)

		var kinds []content.Kind
		for _, seg := range segments {
			kinds = append(kinds, seg.Kind)
		}
		Expect(kinds).To(ContainElement(content.KindCode))
		Expect(kinds).To(ContainElement(content.KindHighlight))

		for _, seg := range segments {
			if seg.Kind == content.KindCode {
				Expect(seg.Language).To(Equal("go"))
			}
		}
	})

	It("persists sessions across engine restarts", func() {
		id := app.engine.NewSessionID()
		_, err := app.engine.Send(ctx, id, "hello again", nil)
		Expect(err).NotTo(HaveOccurred())
		app.engine.Close()

		reopened := newTestApp(mockAgent.URL(), app.dataDir)
		DeferCleanup(reopened.close)

		session, ok, err := reopened.store.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(session.Messages).To(HaveLen(3))
		Expect(session.Version).To(Equal(types.SchemaVersion))
	})

	It("lists sessions most recently updated first", func() {
		first := app.engine.NewSessionID()
		second := app.engine.NewSessionID()

		_, err := app.engine.Send(ctx, first, "hello one", nil)
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(5 * time.Millisecond)
		_, err = app.engine.Send(ctx, second, "hello two", nil)
		Expect(err).NotTo(HaveOccurred())

		sessions, err := app.engine.Sessions(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(HaveLen(2))
		Expect(sessions[0].ID).To(Equal(second))
		Expect(sessions[1].ID).To(Equal(first))
	})

	It("records a fallback reply when the agent is unreachable", func() {
		offlineDir, err := testutil.NewTempDir()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(offlineDir.Cleanup)

		offline := newTestApp("http://localhost:1", offlineDir.Path)
		DeferCleanup(offline.close)

		notices := make(chan event.NotificationData, 1)
		offline.bus.Subscribe(event.Notification, func(e event.Event) {
			select {
			case notices <- e.Data.(event.NotificationData):
			default:
			}
		})

		id := offline.engine.NewSessionID()
		session, err := offline.engine.Send(ctx, id, "anyone there?", nil)
		Expect(err).NotTo(HaveOccurred(), "an unreachable agent degrades, it does not fail")

		reply := session.Messages[len(session.Messages)-1]
		Expect(reply.Role).To(Equal(types.RoleAssistant))
		Expect(reply.Content).To(ContainSubstring("not reachable"))

		Eventually(notices, 2*time.Second).Should(Receive())

		// The fallback turn is durable like any other.
		stored, ok, err := offline.store.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(stored.Messages).To(HaveLen(3))
	})
})

var _ = Describe("Health probing", func() {
	It("reaches idle once the agent responds", func() {
		bus := event.NewBus()
		DeferCleanup(bus.Close)

		prober := agent.NewProber(agent.NewClient(mockAgent.URL()), bus)
		prober.Start()
		DeferCleanup(prober.Stop)

		Eventually(prober.Status, 5*time.Second).Should(Equal(agent.StatusIdle))
	})

	It("recovers after an outage", func() {
		// A dedicated mock so flipping health does not disturb other specs.
		srv := testutil.NewMockAgentServer()
		DeferCleanup(srv.Close)
		srv.SetHealthy(false)

		bus := event.NewBus()
		DeferCleanup(bus.Close)

		prober := agent.NewProber(agent.NewClient(srv.URL()), bus)
		prober.Start()
		DeferCleanup(prober.Stop)

		Eventually(prober.Status, 5*time.Second).Should(Equal(agent.StatusOffline))

		// The backoff retry picks the recovery up without a restart.
		srv.SetHealthy(true)
		Eventually(prober.Status, 10*time.Second).Should(Equal(agent.StatusIdle))
	})
})

var _ = Describe("Live agent", func() {
	It("reaches a configured agent server", func() {
		if testutil.SkipIfMissingEnv("AGENTDECK_E2E_SERVER_URL") {
			Skip("AGENTDECK_E2E_SERVER_URL not set")
		}

		client := agent.NewClient(os.Getenv("AGENTDECK_E2E_SERVER_URL"))
		Expect(client.Health(context.Background())).To(Succeed())
	})
})
