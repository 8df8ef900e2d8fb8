package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// MockAgentServer mimics the agent server's streaming chat API for
// testing: POST /chat answers with newline-delimited JSON records, GET
// /health reports liveness. Replies come from a scripted rule set so
// tests are deterministic.
type MockAgentServer struct {
	server *httptest.Server
	config *MockAgentConfig

	mu       sync.Mutex
	healthy  bool
	requests []MockRequest
}

// MockRequest records one incoming chat request for verification.
type MockRequest struct {
	Timestamp      time.Time
	Message        string
	ConversationID string
	Stream         bool
	Context        []map[string]any
}

// NewMockAgentServer starts a mock agent with the default rule set.
func NewMockAgentServer() *MockAgentServer {
	return NewMockAgentServerWithConfig(DefaultMockAgentConfig())
}

// NewMockAgentServerWithConfig starts a mock agent with scripted replies.
func NewMockAgentServerWithConfig(config *MockAgentConfig) *MockAgentServer {
	m := &MockAgentServer{
		config:  config,
		healthy: true,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Post("/chat", m.handleChat)
	r.Get("/health", m.handleHealth)

	m.server = httptest.NewServer(r)
	return m
}

// URL returns the mock server's base URL.
func (m *MockAgentServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAgentServer) Close() {
	m.server.Close()
}

// SetHealthy toggles the /health endpoint between 200 and 503.
func (m *MockAgentServer) SetHealthy(healthy bool) {
	m.mu.Lock()
	m.healthy = healthy
	m.mu.Unlock()
}

// Requests returns all recorded chat requests.
func (m *MockAgentServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent chat request, if any.
func (m *MockAgentServer) LastRequest() (MockRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return MockRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (m *MockAgentServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	healthy := m.healthy
	m.mu.Unlock()

	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte(`{"status":"healthy"}`))
}

func (m *MockAgentServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message        string           `json:"message"`
		ConversationID string           `json:"conversation_id"`
		Stream         bool             `json:"stream"`
		Context        []map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Timestamp:      time.Now(),
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Stream:         req.Stream,
		Context:        req.Context,
	})
	m.mu.Unlock()

	rule := m.config.FindMatchingRule(req.Message)

	if lag := m.config.Settings.LagMS; lag > 0 {
		time.Sleep(time.Duration(lag) * time.Millisecond)
	}

	m.writeStream(w, rule)
}

// writeStream emits the reply as NDJSON records, one word per record,
// with the tool marker on the first record when the rule names a tool.
func (m *MockAgentServer) writeStream(w http.ResponseWriter, rule *ReplyRule) {
	w.Header().Set("Content-Type", "application/x-ndjson")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	enc := json.NewEncoder(w)
	chunks := splitChunks(rule.Response, m.config.Settings.ChunkWords)
	for i, chunk := range chunks {
		rec := map[string]any{"response": chunk}
		if i == 0 && rule.Tool != "" {
			rec["tool_used"] = rule.Tool
		}
		enc.Encode(rec)
		flusher.Flush()

		if delay := m.config.Settings.ChunkDelayMS; delay > 0 {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	}
}

// splitChunks breaks text into chunks of roughly n words, keeping the
// original spacing so the concatenation reproduces the text exactly.
func splitChunks(text string, n int) []string {
	if n <= 0 {
		n = 1
	}
	if text == "" {
		return nil
	}

	var chunks []string
	var current string
	words := 0
	for _, r := range text {
		current += string(r)
		if r == ' ' {
			words++
			if words >= n {
				chunks = append(chunks, current)
				current = ""
				words = 0
			}
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// String implements fmt.Stringer for debug output.
func (m *MockAgentServer) String() string {
	return fmt.Sprintf("MockAgentServer(%s)", m.server.URL)
}
