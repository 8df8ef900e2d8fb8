package types

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn in a conversation.
//
// IDs are ULIDs, so they are unique within a session and sort by creation
// order; the orchestrator uses the ID as a stable merge key while a
// streamed reply is still growing. Content of an in-flight assistant
// message starts empty and only grows until the stream ends. ToolUsed,
// once set, is never cleared for the rest of the message's lifetime.
type ChatMessage struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"` // "user" | "assistant"
	Content   string           `json:"content"`
	Timestamp int64            `json:"timestamp"`
	ToolUsed  string           `json:"toolUsed,omitempty"`
	Files     []FileAttachment `json:"files,omitempty"`
}

// FileAttachment is metadata about a file the user attached to a message.
// Only metadata travels over the wire; the agent fetches content itself.
type FileAttachment struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int64  `json:"size,omitempty"`
	Preview string `json:"preview,omitempty"`
}
