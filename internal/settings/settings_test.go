package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "gpt-5-high", ResolveModel("codex", "admin", "opus"))
	assert.Equal(t, "gemini-2.5-flash", ResolveModel("gemini", "worker", "sonnet"))
	// unknown cli or model passes through verbatim
	assert.Equal(t, "custom-model", ResolveModel("cursor", "admin", "custom-model"))
	assert.Equal(t, "opus", ResolveModel("unknown-cli", "admin", "opus"))
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, ProfileStandard, s.Profile.Name)
	assert.Equal(t, "multi_agent", s.ToolPrefix)
	assert.True(t, s.EnableGit)
	assert.Equal(t, "info", s.LogLevel)
	assert.Empty(t, s.MetricsAddr)
}

func TestLoadFromProjectEnvFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".multi-agent-mcp"), 0o755))
	envContent := "MCP_MODEL_PROFILE_ACTIVE=performance\nMCP_TOOL_PREFIX=custom\nMCP_ENABLE_GIT=false\nMCP_METRICS_ADDR=:9090\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".multi-agent-mcp", ".env"), []byte(envContent), 0o644))

	s, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, ProfilePerformance, s.Profile.Name)
	assert.Equal(t, 16, s.Profile.MaxWorkers)
	assert.Equal(t, "custom", s.ToolPrefix)
	assert.False(t, s.EnableGit)
	assert.Equal(t, ":9090", s.MetricsAddr)
}

func TestLoadProcessEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".multi-agent-mcp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".multi-agent-mcp", ".env"), []byte("MCP_TOOL_PREFIX=from_file\n"), 0o644))
	t.Setenv("MCP_TOOL_PREFIX", "from_env")

	s, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "from_env", s.ToolPrefix)
}

func TestLoadRejectsUnknownProfile(t *testing.T) {
	t.Setenv("MCP_MODEL_PROFILE_ACTIVE", "turbo")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadMaxWorkersOverride(t *testing.T) {
	t.Setenv("MCP_MAX_WORKERS", "3")
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Profile.MaxWorkers)
}

func TestThinkingEnvOnlyForClaude(t *testing.T) {
	t.Setenv("MCP_THINKING_TOKENS", "2048")
	s, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"MAX_THINKING_TOKENS": "2048"}, s.ThinkingEnv("claude"))
	assert.Nil(t, s.ThinkingEnv("codex"))
}

func TestThinkingEnvZeroTokensOmitted(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, s.ThinkingEnv("claude"))
}
