package sessionlifecycle

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/ipc"
	"github.com/multi-agent-mcp/orchestrator/internal/registry"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
)

// fakeExecutor accepts every tmux command except has-session against a name
// not present in aliveSessions, so tests can drive CreateSession et al.
// without a real tmux binary.
type fakeExecutor struct {
	aliveSessions map[string]bool
}

func (f *fakeExecutor) Run(cmd *exec.Cmd) error {
	if len(cmd.Args) >= 4 && cmd.Args[1] == "has-session" {
		if f.aliveSessions[cmd.Args[3]] {
			return nil
		}
		return exec.ErrNotFound
	}
	if len(cmd.Args) >= 5 && cmd.Args[1] == "new-session" {
		if f.aliveSessions == nil {
			f.aliveSessions = map[string]bool{}
		}
		// tmux new-session -d -s <name>: the name is the fifth argument.
		f.aliveSessions[cmd.Args[4]] = true
	}
	return nil
}

func (f *fakeExecutor) Output(cmd *exec.Cmd) ([]byte, error) { return nil, nil }

func boolPtr(b bool) *bool { return &b }

func newLifecycle(t *testing.T, root string) (*Lifecycle, *tmuxdriver.Driver) {
	t.Helper()
	exec := &fakeExecutor{}
	tmux := tmuxdriver.NewWithExecutor(exec)
	agents := agentmanager.New()
	dash := dashboard.NewStore(filepath.Join(root, ".multi-agent-mcp", "sess"), "sess")
	ipcStore := ipc.NewStore(filepath.Join(root, ".multi-agent-mcp", "sess", "ipc"))
	reg := registry.NewGlobal(t.TempDir())
	return New(tmux, agents, dash, ipcStore, reg, nil), tmux
}

func TestWriteEnvTemplateIfAbsent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeEnvTemplateIfAbsent(root))

	content, err := os.ReadFile(filepath.Join(mcpDir(root), ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "MCP_TOOL_PREFIX=multi_agent")

	// an existing .env is preserved, not overwritten
	require.NoError(t, os.WriteFile(filepath.Join(mcpDir(root), ".env"), []byte("CUSTOM=1\n"), 0o600))
	require.NoError(t, writeEnvTemplateIfAbsent(root))
	content, err = os.ReadFile(filepath.Join(mcpDir(root), ".env"))
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM=1\n", string(content))
}

func TestEnsureGtrconfigNoOpWithoutGtrCLI(t *testing.T) {
	root := t.TempDir()
	// the sandbox has no gtr binary on PATH, so this should be a silent no-op
	require.NoError(t, ensureGtrconfig(root))
	_, err := os.Stat(filepath.Join(root, gtrconfigFilename))
	assert.True(t, os.IsNotExist(err))
}

func TestDetectStaleSessions(t *testing.T) {
	root := t.TempDir()
	mcp := filepath.Join(root, ".multi-agent-mcp")
	require.NoError(t, os.MkdirAll(filepath.Join(mcp, "sess_stale"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mcp, "sess_stale", "agents.json"), []byte("[]"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(mcp, "sess_clean"), 0o755))

	stale, err := DetectStaleSessions(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess_stale"}, stale)
}

func TestDetectStaleSessionsNoMcpDir(t *testing.T) {
	stale, err := DetectStaleSessions(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestMigrateProvisional(t *testing.T) {
	root := t.TempDir()
	lc, _ := newLifecycle(t, root)

	provDir := filepath.Join(mcpDir(root), "provisional-abc123")
	require.NoError(t, os.MkdirAll(provDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(provDir, "marker.txt"), []byte("x"), 0o644))

	require.NoError(t, lc.migrateProvisional(root, "sess_new"))

	newDir := sessionDir(root, "sess_new")
	_, err := os.Stat(filepath.Join(newDir, "marker.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(provDir)
	assert.True(t, os.IsNotExist(err))
}

func TestInitTmuxWorkspaceHeadless(t *testing.T) {
	root := t.TempDir()
	lc, tmux := newLifecycle(t, root)

	result, err := lc.InitTmuxWorkspace(root, InitOptions{EnableGit: boolPtr(false)})
	require.NoError(t, err)
	assert.True(t, result.Headless)
	assert.False(t, result.EnableGit)
	assert.NotEmpty(t, result.SessionID)
	assert.True(t, tmux.SessionExists(result.SessionName))

	cfg, err := registry.LoadProjectConfig(root, false)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, cfg.SessionID)
	assert.Equal(t, "multi_agent", cfg.MCPToolPrefix)

	_, err = os.Stat(filepath.Join(mcpDir(root), ".env"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(mcpDir(root), "memory"))
	assert.NoError(t, err)
}

func TestCleanupSessionResourcesClearsSessionID(t *testing.T) {
	root := t.TempDir()
	lc, _ := newLifecycle(t, root)

	_, err := lc.InitTmuxWorkspace(root, InitOptions{EnableGit: boolPtr(false)})
	require.NoError(t, err)

	require.NoError(t, lc.CleanupSessionResources(root, CleanupOptions{}))

	cfg, err := registry.LoadProjectConfig(root, false)
	require.NoError(t, err)
	assert.Empty(t, cfg.SessionID)
}
