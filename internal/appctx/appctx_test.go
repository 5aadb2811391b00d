package appctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent-mcp/orchestrator/internal/registry"
)

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".multi-agent-mcp"), 0o755))
	require.NoError(t, registry.SaveProjectConfig(root, &registry.ProjectConfig{
		MCPToolPrefix: "multi_agent",
		SessionID:     "sess-1",
		EnableGit:     false,
	}))
	return root
}

func TestNewRequiresActiveSession(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".multi-agent-mcp"), 0o755))
	require.NoError(t, registry.SaveProjectConfig(root, &registry.ProjectConfig{MCPToolPrefix: "multi_agent"}))

	_, err := New(root)
	assert.Error(t, err)
}

func TestNewWiresEveryManager(t *testing.T) {
	root := setupProject(t)

	app, err := New(root)
	require.NoError(t, err)

	assert.Equal(t, root, app.ProjectRoot)
	assert.Equal(t, "sess-1", app.SessionID)
	assert.Equal(t, filepath.Join(root, ".multi-agent-mcp", "sess-1"), app.SessionDir)

	assert.NotNil(t, app.Settings)
	assert.NotNil(t, app.Registry)
	assert.NotNil(t, app.Tmux)
	assert.NotNil(t, app.Agents)
	assert.NotNil(t, app.Dashboard)
	assert.NotNil(t, app.IPC)
	assert.NotNil(t, app.Memory)
	assert.NotNil(t, app.Scheduler)
	assert.NotNil(t, app.Batch)
	assert.NotNil(t, app.Healthcheck)
	assert.NotNil(t, app.Daemon)
	assert.NotNil(t, app.Lifecycle)
	assert.NotNil(t, app.CostCapture)
	assert.NotNil(t, app.Metrics)
}

func TestMCPDepsAdaptsManagers(t *testing.T) {
	root := setupProject(t)
	app, err := New(root)
	require.NoError(t, err)

	deps := app.MCPDeps()
	assert.Same(t, app.Agents, deps.Agents)
	assert.Same(t, app.Dashboard, deps.Dashboard)
	assert.Same(t, app.IPC, deps.IPC)
	assert.Same(t, app.Memory, deps.Memory)
	assert.Same(t, app.Scheduler, deps.Scheduler)
	assert.Same(t, app.Batch, deps.Batch)
	assert.Same(t, app.Healthcheck, deps.Healthcheck)
	assert.Same(t, app.Lifecycle, deps.Lifecycle)
	assert.Same(t, app.Tmux, deps.Tmux)
	assert.Equal(t, app.ProjectRoot, deps.ProjectRoot)
}

func TestLockUnlockDoesNotDeadlock(t *testing.T) {
	root := setupProject(t)
	app, err := New(root)
	require.NoError(t, err)

	app.Lock()
	app.Unlock()
	app.Lock()
	app.Unlock()
}
