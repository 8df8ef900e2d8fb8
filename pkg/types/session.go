// Package types provides the core data types for the agentdeck client.
package types

// SchemaVersion tags persisted session records so future layout changes
// can be migrated. Records written before versioning carry an empty tag.
const SchemaVersion = "1"

// DefaultSessionName is the name of a session that has not yet acquired
// a derived name from its conversation content.
const DefaultSessionName = "New Chat"

// ChatSession is one persisted conversation: an ordered message log plus
// bookkeeping timestamps (Unix milliseconds).
//
// Messages preserve insertion order and are never reordered. UpdatedAt is
// stamped by the store on every save and never decreases.
type ChatSession struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
	Version   string        `json:"version,omitempty"`
}

// Clone returns a deep copy of the session. The store hands out clones so
// callers cannot mutate stored data through shared slices.
func (s *ChatSession) Clone() *ChatSession {
	out := *s
	if s.Messages != nil {
		out.Messages = make([]ChatMessage, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return &out
}
