package chat

import "github.com/agentdeck/agentdeck/pkg/types"

// messageLog is the in-memory working copy of a session's message log: an
// arena keyed by message id with an explicit ordered index. Streaming
// updates address entries by id in O(1) while insertion order is
// preserved for rendering and persistence.
type messageLog struct {
	order []string
	byID  map[string]*types.ChatMessage
}

func newMessageLog(messages []types.ChatMessage) *messageLog {
	l := &messageLog{
		byID: make(map[string]*types.ChatMessage, len(messages)),
	}
	for _, msg := range messages {
		l.append(msg)
	}
	return l
}

// append adds a message at the end of the log.
func (l *messageLog) append(msg types.ChatMessage) {
	m := msg
	l.order = append(l.order, m.ID)
	l.byID[m.ID] = &m
}

// update applies fn to the message with the given id. Returns false if no
// such message exists.
func (l *messageLog) update(id string, fn func(*types.ChatMessage)) bool {
	m, ok := l.byID[id]
	if !ok {
		return false
	}
	fn(m)
	return true
}

// get returns a copy of the message with the given id.
func (l *messageLog) get(id string) (types.ChatMessage, bool) {
	m, ok := l.byID[id]
	if !ok {
		return types.ChatMessage{}, false
	}
	return *m, true
}

// remove deletes the message with the given id, if present.
func (l *messageLog) remove(id string) {
	if _, ok := l.byID[id]; !ok {
		return
	}
	delete(l.byID, id)
	for i, mid := range l.order {
		if mid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// snapshot returns the messages in insertion order as an independent
// slice.
func (l *messageLog) snapshot() []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id])
	}
	return out
}
