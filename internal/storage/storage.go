// Package storage provides durable file-based JSON storage. Records live
// under basePath/<collection>/<key>.json and are written atomically.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is a keyed JSON record store backed by the filesystem.
//
// Each Put is atomic with respect to itself (temp file + rename under an
// exclusive flock); there is no cross-call locking, so concurrent writes
// to the same key resolve last-write-wins by completion order.
type Storage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*FileLock
}

// New creates a Storage rooted at basePath. The directory is created
// lazily on first write.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// BasePath returns the root directory of the store.
func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) recordPath(collection, key string) string {
	return filepath.Join(s.basePath, collection, key+".json")
}

// Get reads the record at collection/key into v. Returns ErrNotFound if
// the record does not exist.
func (s *Storage) Get(ctx context.Context, collection, key string, v any) error {
	data, err := os.ReadFile(s.recordPath(collection, key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read record: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return nil
}

// Put writes v to collection/key, replacing any existing record. The write
// goes to a temp file first and is renamed into place so readers never see
// a partially written record.
func (s *Storage) Put(ctx context.Context, collection, key string, v any) error {
	path := s.recordPath(collection, key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Delete removes the record at collection/key. Deleting a record that does
// not exist is not an error.
func (s *Storage) Delete(ctx context.Context, collection, key string) error {
	path := s.recordPath(collection, key)

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}

	return nil
}

// Keys returns the keys of every record in a collection. A missing
// collection yields an empty slice, not an error.
func (s *Storage) Keys(ctx context.Context, collection string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}

	return keys, nil
}

// Scan calls fn with the raw bytes of every record in a collection. A
// record deleted between listing and reading is skipped; any other read
// failure aborts the scan, so a partial result is never mistaken for the
// whole collection. An error from fn also stops the scan.
func (s *Storage) Scan(ctx context.Context, collection string, fn func(key string, data json.RawMessage) error) error {
	dir := filepath.Join(s.basePath, collection)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read collection: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read record %s: %w", name, err)
		}

		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}

	return nil
}

// Exists reports whether a record exists at collection/key.
func (s *Storage) Exists(ctx context.Context, collection, key string) bool {
	_, err := os.Stat(s.recordPath(collection, key))
	return err == nil
}

func (s *Storage) lockFor(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}

	return lock
}
