package event

import "github.com/agentdeck/agentdeck/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.ChatSession `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.ChatSession `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	SessionID string `json:"sessionID"`
}

// MessageUpdatedData is the data for message.updated events. During
// streaming, Delta carries only the newly arrived fragment while Info
// holds the full accumulated message.
type MessageUpdatedData struct {
	SessionID string             `json:"sessionID"`
	Info      *types.ChatMessage `json:"info"`
	Delta     string             `json:"delta,omitempty"`
}

// StatusChangedData is the data for status.changed events.
type StatusChangedData struct {
	Status   string `json:"status"` // offline | connecting | idle | thinking | working
	ToolUsed string `json:"toolUsed,omitempty"`
}

// NotificationData is the data for user-visible notifications, such as a
// failed save or an unreachable agent.
type NotificationData struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"` // info | warning | error
}
