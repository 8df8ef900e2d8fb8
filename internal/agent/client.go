// Package agent provides the HTTP client for the remote chat agent: the
// streaming /chat endpoint and the /health liveness probe.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/pkg/types"
)

// healthTimeout bounds a single liveness probe.
const healthTimeout = 5 * time.Second

// TransportError reports that a request could not be sent or a stream
// could not be opened. It is distinct from parse fallbacks, which are not
// errors at all, so callers can substitute a fallback message instead of
// silently stopping.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChatRequest is the body of POST {serverUrl}/chat.
type ChatRequest struct {
	Message        string                 `json:"message"`
	ConversationID string                 `json:"conversation_id"`
	Stream         bool                   `json:"stream"`
	Files          []types.FileAttachment `json:"files,omitempty"`
	Context        []ContextMessage       `json:"context,omitempty"`
}

// ContextMessage is one prior turn sent along for continuity.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to the agent server. The base URL can be swapped at
// runtime when settings change; in-flight requests keep the URL they
// started with.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	httpClient *http.Client
}

// NewClient creates a client for the given server URL. No overall timeout
// is set on the HTTP client; chat streams are open-ended and bounded by
// the request context instead.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// SetBaseURL points the client at a different agent server.
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	c.baseURL = url
	c.mu.Unlock()
}

// BaseURL returns the current agent server URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Chat opens a streaming chat request and returns the raw response body.
// The caller owns the body and must close it; cancelling ctx interrupts
// both the request and subsequent body reads.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &TransportError{Op: "chat", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return resp.Body, nil
}

// Health probes GET {serverUrl}/health. A nil return means the agent is
// reachable; anything else is a TransportError.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+"/health", nil)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "health", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return nil
}
