// Package config provides settings loading, persistence, and change
// notification.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard directories for agentdeck data.
type Paths struct {
	Data   string // ~/.local/share/agentdeck
	Config string // ~/.config/agentdeck
}

// GetPaths returns the standard paths, honoring XDG overrides.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "agentdeck"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "agentdeck"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the directory for persisted chat sessions.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// SettingsPath returns the settings file location.
func (p *Paths) SettingsPath() string {
	return filepath.Join(p.Config, "agentdeck.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}
