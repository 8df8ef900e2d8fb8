package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/agentdeck/agentdeck/internal/logging"
)

// DefaultMaxMessages caps how many messages of a session are kept before
// persistence.
const DefaultMaxMessages = 100

// Settings holds the adjustable client behavior. MaxMessages feeds the
// retention policy; ServerURL is the agent endpoint; the remaining fields
// are consumed by renderers.
type Settings struct {
	ServerURL      string `json:"serverUrl"`
	AutoScroll     bool   `json:"autoScroll"`
	ShowTimestamps bool   `json:"showTimestamps"`
	MaxMessages    int    `json:"maxMessages"`
	AccentColor    string `json:"accentColor"`
	Theme          string `json:"theme"` // light | dark | system
}

// DefaultSettings returns the out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		ServerURL:      "http://localhost:8000",
		AutoScroll:     true,
		ShowTimestamps: true,
		MaxMessages:    DefaultMaxMessages,
		AccentColor:    "#3b82f6",
		Theme:          "system",
	}
}

type settingsSubscriber struct {
	id uint64
	fn func(Settings)
}

// Manager owns the settings value with an explicit lifecycle: constructed
// at startup, injected into whoever needs it. Change notification is an
// explicit subscription, not an ambient broadcast.
type Manager struct {
	path string

	mu          sync.RWMutex
	current     Settings
	subscribers []settingsSubscriber
	nextID      uint64

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager loads settings from path (JSONC, comments allowed), layered
// over defaults, with environment overrides applied last. A missing file
// is not an error.
func NewManager(path string) (*Manager, error) {
	m := &Manager{
		path:    path,
		current: DefaultSettings(),
	}

	if err := m.loadFile(); err != nil {
		return nil, err
	}

	return m, nil
}

// loadFile layers the settings file (if present) over defaults, then
// applies environment overrides so the environment always wins.
func (m *Manager) loadFile() error {
	loaded := DefaultSettings()

	data, err := os.ReadFile(m.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(jsonc.ToJSON(data), &loaded); err != nil {
			return fmt.Errorf("failed to parse settings: %w", err)
		}
	}

	if loaded.MaxMessages <= 0 {
		loaded.MaxMessages = DefaultMaxMessages
	}
	applyEnvOverrides(&loaded)

	m.mu.Lock()
	m.current = loaded
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides lets the environment win over the settings file.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("AGENTDECK_SERVER_URL"); v != "" {
		s.ServerURL = v
	}
	if v := os.Getenv("AGENTDECK_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxMessages = n
		}
	}
	if v := os.Getenv("AGENTDECK_THEME"); v != "" {
		s.Theme = v
	}
}

// Current returns a copy of the active settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update applies mutate to the settings, persists the result atomically,
// and notifies subscribers synchronously.
func (m *Manager) Update(mutate func(*Settings)) error {
	m.mu.Lock()
	next := m.current
	mutate(&next)
	m.current = next
	m.mu.Unlock()

	if err := m.persist(next); err != nil {
		return err
	}

	m.notify(next)
	return nil
}

// Reset restores defaults, removes the settings file, and notifies
// subscribers.
func (m *Manager) Reset() error {
	defaults := DefaultSettings()

	m.mu.Lock()
	m.current = defaults
	m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove settings file: %w", err)
	}

	m.notify(defaults)
	return nil
}

// Subscribe registers a callback invoked with the new value after every
// settings change. Returns an unsubscribe function.
func (m *Manager) Subscribe(fn func(Settings)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subscribers = append(m.subscribers, settingsSubscriber{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				break
			}
		}
	}
}

func (m *Manager) notify(s Settings) {
	m.mu.RLock()
	subs := make([]func(Settings), 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		subs = append(subs, sub.fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(s)
	}
}

func (m *Manager) persist(s Settings) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings: %w", err)
	}

	return nil
}

// Watch reloads the settings when the file is edited externally and
// notifies subscribers on change. Call Close to stop watching.
func (m *Manager) Watch() error {
	if m.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory; editors often replace files rather than
	// writing in place, which a file-level watch misses.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return err
	}

	m.watcher = w
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run()

	return nil
}

func (m *Manager) run() {
	defer close(m.doneCh)
	log := logging.Component("settings")

	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != m.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			prev := m.Current()
			if err := m.loadFile(); err != nil {
				log.Warn().Err(err).Msg("settings reload failed")
				continue
			}
			next := m.Current()
			if !reflect.DeepEqual(prev, next) {
				log.Debug().Msg("settings reloaded from disk")
				m.notify(next)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

// Close stops the file watcher, if running.
func (m *Manager) Close() {
	if m.watcher == nil {
		return
	}
	close(m.stopCh)
	m.watcher.Close()
	<-m.doneCh
	m.watcher = nil
}
