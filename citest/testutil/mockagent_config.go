package testutil

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MockAgentConfig defines the YAML schema for scripted agent replies.
type MockAgentConfig struct {
	Settings MockSettings `yaml:"settings"`
	Defaults MockDefaults `yaml:"defaults"`
	Replies  []ReplyRule  `yaml:"replies"`
}

// MockSettings configures mock agent streaming behavior.
type MockSettings struct {
	LagMS        int `yaml:"lag_ms"`         // Artificial delay before the first record
	ChunkWords   int `yaml:"chunk_words"`    // Words per streamed record
	ChunkDelayMS int `yaml:"chunk_delay_ms"` // Delay between records
}

// MockDefaults defines fallback behavior.
type MockDefaults struct {
	Fallback string `yaml:"fallback"` // Reply when no rules match
}

// ReplyRule maps a prompt pattern to a scripted reply.
type ReplyRule struct {
	Name     string      `yaml:"name"`     // Optional rule name for debugging
	Match    MatchConfig `yaml:"match"`    // How to match the prompt
	Response string      `yaml:"response"` // The reply text
	Tool     string      `yaml:"tool"`     // Optional tool identifier to report
	Priority int         `yaml:"priority"` // Higher priority rules win
}

// MatchConfig defines how to match a prompt.
type MatchConfig struct {
	// Simple string matching (case-insensitive contains)
	Contains string `yaml:"contains"`

	// All strings must be present (case-insensitive)
	ContainsAll []string `yaml:"contains_all"`

	// Any string must be present (case-insensitive)
	ContainsAny []string `yaml:"contains_any"`

	// Exact match (case-insensitive)
	Exact string `yaml:"exact"`
}

// DefaultMockAgentConfig returns a rule set covering the common test
// scenarios.
func DefaultMockAgentConfig() *MockAgentConfig {
	return &MockAgentConfig{
		Settings: MockSettings{
			LagMS:        0,
			ChunkWords:   2,
			ChunkDelayMS: 2,
		},
		Defaults: MockDefaults{
			Fallback: "I understand your request. Let me help you with that.",
		},
		Replies: []ReplyRule{
			{
				Name:     "wikipedia-lookup",
				Match:    MatchConfig{ContainsAny: []string{"wikipedia", "look up"}},
				Response: "According to Wikipedia, Go is a statically typed language designed at Google.",
				Tool:     "wikipedia",
				Priority: 10,
			},
			{
				Name:     "schedule-meeting",
				Match:    MatchConfig{ContainsAll: []string{"schedule", "meeting"}},
				Response: "Done! I scheduled the meeting for you.",
				Tool:     "calendar",
				Priority: 10,
			},
			{
				Name:     "code-sample",
				Match:    MatchConfig{Contains: "show me code"},
				Response: "Here is an example:\n```go\nfmt.Println(\"hi\")\n```\nThat prints **hi** to stdout.",
				Priority: 10,
			},
			{
				Name:     "simple-hello",
				Match:    MatchConfig{Contains: "hello"},
				Response: "Hello! How can I help you today?",
				Priority: 1,
			},
		},
	}
}

// LoadMockAgentConfig loads a rule set from a YAML file.
func LoadMockAgentConfig(path string) (*MockAgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config MockAgentConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadMockAgentConfigFromDir looks for mockagent.yaml in the given
// directory, falling back to mockagent.yml.
func LoadMockAgentConfigFromDir(dir string) (*MockAgentConfig, error) {
	path := filepath.Join(dir, "mockagent.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Join(dir, "mockagent.yml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, err
		}
	}
	return LoadMockAgentConfig(path)
}

// SaveMockAgentConfig writes a rule set to a YAML file.
func SaveMockAgentConfig(config *MockAgentConfig, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Matches checks whether the prompt matches this rule.
func (m *MatchConfig) Matches(prompt string) bool {
	promptLower := strings.ToLower(prompt)

	if m.Exact != "" {
		return strings.EqualFold(prompt, m.Exact)
	}

	if m.Contains != "" {
		return strings.Contains(promptLower, strings.ToLower(m.Contains))
	}

	if len(m.ContainsAll) > 0 {
		for _, s := range m.ContainsAll {
			if !strings.Contains(promptLower, strings.ToLower(s)) {
				return false
			}
		}
		return true
	}

	if len(m.ContainsAny) > 0 {
		for _, s := range m.ContainsAny {
			if strings.Contains(promptLower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}

	return false
}

// FindMatchingRule returns the highest-priority rule matching the
// prompt, or a synthetic fallback rule when none matches.
func (c *MockAgentConfig) FindMatchingRule(prompt string) *ReplyRule {
	var bestMatch *ReplyRule
	bestPriority := -1

	for i := range c.Replies {
		rule := &c.Replies[i]
		if rule.Match.Matches(prompt) && rule.Priority > bestPriority {
			bestMatch = rule
			bestPriority = rule.Priority
		}
	}

	if bestMatch != nil {
		return bestMatch
	}
	return &ReplyRule{Name: "fallback", Response: c.Defaults.Fallback}
}
