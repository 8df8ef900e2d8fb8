// Package chatstore provides the durable, keyed collection of chat
// sessions. It is the single source of truth for conversations across
// restarts; the engine owns only the in-memory working copy.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentdeck/agentdeck/internal/storage"
	"github.com/agentdeck/agentdeck/pkg/types"
)

const sessionCollection = "sessions"

// idPrefix keeps session ids recognizable in logs and routes.
const idPrefix = "chat_"

// PersistenceError reports that the durable medium could not be opened,
// read, or written. Callers must treat it as "no history available", not
// as "empty history".
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat storage %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err is a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Store gives chat sessions create/read/update/delete semantics with
// durability and recency ordering.
//
// Each operation is atomic with respect to itself; there is no cross-call
// locking. Two concurrent saves for the same id resolve last-write-wins by
// completion order. This is acceptable because the engine is the sole live
// writer per session id; the store deliberately adds no multi-writer merge
// logic.
type Store struct {
	storage *storage.Storage
	now     func() time.Time
}

// New creates a Store on top of the given storage layer.
func New(st *storage.Storage) *Store {
	return &Store{
		storage: st,
		now:     time.Now,
	}
}

// Save upserts a session by id. UpdatedAt is always stamped to the current
// time before writing, regardless of caller-supplied timestamps, and the
// messages field is replaced wholesale (no partial merge). The stamped
// timestamps are written back to the caller's copy.
func (s *Store) Save(ctx context.Context, session *types.ChatSession) error {
	now := s.now().UnixMilli()
	if session.CreatedAt == 0 {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.Version = types.SchemaVersion

	if err := s.storage.Put(ctx, sessionCollection, session.ID, session); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	return nil
}

// GetAll returns every session ordered by UpdatedAt descending (most
// recently touched first). Stored data is never mutated; callers receive
// independent copies.
func (s *Store) GetAll(ctx context.Context) ([]*types.ChatSession, error) {
	var sessions []*types.ChatSession

	err := s.storage.Scan(ctx, sessionCollection, func(key string, data json.RawMessage) error {
		var session types.ChatSession
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		sessions = append(sessions, &session)
		return nil
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt != sessions[j].UpdatedAt {
			return sessions[i].UpdatedAt > sessions[j].UpdatedAt
		}
		return sessions[i].ID > sessions[j].ID
	})

	return sessions, nil
}

// GetByID returns the session and true, or nil and false when no record
// exists. Absence is a normal outcome signaling the caller should
// initialize a new session, never an error.
func (s *Store) GetByID(ctx context.Context, id string) (*types.ChatSession, bool, error) {
	var session types.ChatSession
	err := s.storage.Get(ctx, sessionCollection, id, &session)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, &PersistenceError{Op: "read", Err: err}
	}

	return &session, true, nil
}

// Delete removes the session with the given id. Deleting a non-existent
// id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.storage.Delete(ctx, sessionCollection, id); err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}
	return nil
}

// GenerateID produces a collision-resistant session id: a ULID (monotonic
// time component plus random suffix) under a fixed prefix. The id doubles
// as the storage key and appears in routes, so it must stay unique across
// restarts with overwhelming probability.
func (s *Store) GenerateID() string {
	return idPrefix + ulid.Make().String()
}
