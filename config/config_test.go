package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "model:\n  provider: openai\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 40, cfg.Agent.HistoryWindow)
	assert.Equal(t, "memory", cfg.Memory.Type)
	assert.Equal(t, "/downloads", cfg.Export.DownloadPrefix)
	assert.Equal(t, "json", cfg.Log.Format)

	timeout, err := cfg.ToolTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	ttl, err := cfg.ArtifactTTL()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
agent:
  max_steps: 5
  tool_timeout: "10s"
model:
  provider: anthropic
  name: claude-3-5-sonnet-20241022
memory:
  type: postgres
  dsn: "postgres://localhost/chat"
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Agent.MaxSteps)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "postgres", cfg.Memory.Type)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadResolvesEnvRefs(t *testing.T) {
	t.Setenv("TEST_QUERYCHAT_KEY", "sk-resolved")
	t.Setenv("TEST_UNIDOC_KEY", "lic-resolved")
	path := writeConfig(t,
		"model:\n  api_key: ${TEST_QUERYCHAT_KEY}\nexport:\n  unidoc_license: ${TEST_UNIDOC_KEY}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-resolved", cfg.Model.APIKey)
	assert.Equal(t, "lic-resolved", cfg.Export.UnidocLicense)
}

func TestValidateRejectsContradictions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown provider", "model:\n  provider: cohere\n"},
		{"postgres memory without dsn", "memory:\n  type: postgres\n"},
		{"redis memory without addr", "memory:\n  type: redis\n"},
		{"bad tool timeout", "agent:\n  tool_timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
