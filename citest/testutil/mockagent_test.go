package testutil

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchConfig(t *testing.T) {
	tests := []struct {
		name   string
		match  MatchConfig
		prompt string
		want   bool
	}{
		{"contains hit", MatchConfig{Contains: "hello"}, "Well HELLO there", true},
		{"contains miss", MatchConfig{Contains: "hello"}, "goodbye", false},
		{"contains all hit", MatchConfig{ContainsAll: []string{"schedule", "meeting"}}, "schedule a meeting", true},
		{"contains all partial", MatchConfig{ContainsAll: []string{"schedule", "meeting"}}, "schedule a call", false},
		{"contains any hit", MatchConfig{ContainsAny: []string{"wiki", "lookup"}}, "check the wiki", true},
		{"contains any miss", MatchConfig{ContainsAny: []string{"wiki", "lookup"}}, "check the docs", false},
		{"exact hit", MatchConfig{Exact: "ping"}, "PING", true},
		{"exact miss", MatchConfig{Exact: "ping"}, "ping pong", false},
		{"empty matches nothing", MatchConfig{}, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.match.Matches(tt.prompt))
		})
	}
}

func TestFindMatchingRule_Priority(t *testing.T) {
	config := &MockAgentConfig{
		Defaults: MockDefaults{Fallback: "fallback"},
		Replies: []ReplyRule{
			{Name: "low", Match: MatchConfig{Contains: "hello"}, Response: "low", Priority: 1},
			{Name: "high", Match: MatchConfig{Contains: "hello world"}, Response: "high", Priority: 10},
		},
	}

	rule := config.FindMatchingRule("hello world everyone")
	assert.Equal(t, "high", rule.Response)

	rule = config.FindMatchingRule("hello friend")
	assert.Equal(t, "low", rule.Response)

	rule = config.FindMatchingRule("nothing matches this")
	assert.Equal(t, "fallback", rule.Response)
}

func TestMockAgentConfig_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mockagent.yaml")

	original := DefaultMockAgentConfig()
	require.NoError(t, SaveMockAgentConfig(original, path))

	loaded, err := LoadMockAgentConfigFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, original.Defaults.Fallback, loaded.Defaults.Fallback)
	assert.Len(t, loaded.Replies, len(original.Replies))
	assert.Equal(t, original.Replies[0].Tool, loaded.Replies[0].Tool)
}

func TestSplitChunks_ReconstructsText(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	chunks := splitChunks(text, 2)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, ""))
}
