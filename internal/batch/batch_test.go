package batch

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/settings"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

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
	return nil
}

func (f *fakeExecutor) Output(cmd *exec.Cmd) ([]byte, error) { return []byte(""), nil }

type fakeDashboard struct {
	assigned  []string
	summaries []string
	taskFiles map[string]string
	calls     []*types.CostCall
}

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{taskFiles: map[string]string{}}
}

func (d *fakeDashboard) AssignTask(taskID, agentID, branch, worktreePath string) error {
	d.assigned = append(d.assigned, taskID)
	return nil
}

func (d *fakeDashboard) UpdateAgentSummary(agentID string, role types.Role, status types.Status, currentTaskID string) error {
	d.summaries = append(d.summaries, agentID)
	return nil
}

func (d *fakeDashboard) WriteTaskFile(agentID, content string) error {
	d.taskFiles[agentID] = content
	return nil
}

func (d *fakeDashboard) RecordAPICall(call *types.CostCall) error {
	d.calls = append(d.calls, call)
	return nil
}

func standardProfile() settings.Profile {
	return settings.Profile{Name: settings.ProfileStandard, CLI: "claude", AdminModel: "opus", WorkerModel: "sonnet", MaxWorkers: 6, ThinkingMultiplier: 1.0}
}

func newEngine(t *testing.T, dash Dashboard, agents *agentmanager.Manager, profile settings.Profile) *Engine {
	t.Helper()
	exec := &fakeExecutor{aliveSessions: map[string]bool{"sess": true}}
	tmux := tmuxdriver.NewWithExecutor(exec)
	return NewEngine(dash, agents, tmux, "sess", t.TempDir(), t.TempDir(), "session-1", t.TempDir(), false, profile)
}

func TestCreateWorkersBatchRejectsNonOwnerNonAdmin(t *testing.T) {
	e := newEngine(t, newFakeDashboard(), agentmanager.New(), standardProfile())
	_, err := e.CreateWorkersBatch(context.Background(), types.RoleWorker, "main", []WorkerConfig{{}}, false)
	assert.Error(t, err)
}

func TestCreateWorkersBatchRejectsTaskContentWithoutTaskID(t *testing.T) {
	e := newEngine(t, newFakeDashboard(), agentmanager.New(), standardProfile())
	_, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", []WorkerConfig{
		{TaskContent: "do stuff"},
	}, false)
	assert.Error(t, err)
}

func TestCreateWorkersBatchRejectsWorktreeWithoutTaskID(t *testing.T) {
	e := newEngine(t, newFakeDashboard(), agentmanager.New(), standardProfile())
	_, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", []WorkerConfig{
		{EnableWorktree: true},
	}, false)
	assert.Error(t, err)
}

func TestCreateWorkersBatchRejectsOverCapacity(t *testing.T) {
	profile := standardProfile()
	profile.MaxWorkers = 1
	e := newEngine(t, newFakeDashboard(), agentmanager.New(), profile)
	_, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", []WorkerConfig{
		{}, {},
	}, false)
	assert.Error(t, err)
}

func TestCreateWorkersBatchRejectsOverCursorCap(t *testing.T) {
	profile := standardProfile()
	e := newEngine(t, newFakeDashboard(), agentmanager.New(), profile)
	configs := make([]WorkerConfig, 0)
	for i := 0; i < 50; i++ {
		configs = append(configs, WorkerConfig{PreferredCLI: types.CliCursor})
	}
	_, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", configs, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "並列実行数が上限")
}

func TestCreateWorkersBatchDispatchesNewWorkersWithoutTask(t *testing.T) {
	dash := newFakeDashboard()
	e := newEngine(t, dash, agentmanager.New(), standardProfile())

	result, err := e.CreateWorkersBatch(context.Background(), types.RoleAdmin, "main", []WorkerConfig{
		{PreferredCLI: types.CliClaude},
		{PreferredCLI: types.CliCodex},
	}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Workers, 2)
	for _, w := range result.Workers {
		assert.True(t, w.Success)
		assert.Equal(t, "assigned_no_dispatch", w.DispatchMode)
		assert.False(t, w.TaskSent)
	}
	assert.Empty(t, dash.calls, "no dispatch means no cost call recorded")
}

func TestCreateWorkersBatchDispatchesTaskContent(t *testing.T) {
	dash := newFakeDashboard()
	e := newEngine(t, dash, agentmanager.New(), standardProfile())

	result, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", []WorkerConfig{
		{TaskID: "T1", TaskContent: "fix the bug", TaskTitle: "Fix", PreferredCLI: types.CliClaude},
	}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Workers, 1)
	w := result.Workers[0]
	assert.Equal(t, "dispatched", w.DispatchMode)
	assert.True(t, w.TaskSent)
	assert.Contains(t, dash.assigned, "T1")
	require.Len(t, dash.calls, 1)
	assert.Equal(t, "T1", dash.calls[0].TaskID)
	assert.Equal(t, "estimated", dash.calls[0].Source)

	content, ok := dash.taskFiles[w.AgentID]
	require.True(t, ok)
	assert.Contains(t, content, "# Task: Fix")
	assert.Contains(t, content, "## Task ID\nT1")
}

func TestCreateWorkersBatchReusesIdleWorkerMatchingPreferredCLI(t *testing.T) {
	agents := agentmanager.New()
	window, pane := 0, 1
	session := "sess"
	idle := &types.Agent{
		ID:          "idle-1",
		Role:        types.RoleWorker,
		Status:      types.StatusIdle,
		AICli:       types.CliCodex,
		SessionName: &session,
		WindowIndex: &window,
		PaneIndex:   &pane,
	}
	agents.Put(idle)

	dash := newFakeDashboard()
	e := newEngine(t, dash, agents, standardProfile())

	result, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", []WorkerConfig{
		{PreferredCLI: types.CliCodex},
	}, true)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Workers, 1)
	assert.Equal(t, "idle-1", result.Workers[0].AgentID)

	reused, err := agents.GetAgent("idle-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBusy, reused.Status)
}

func TestCreateWorkersBatchNoReuseWhenDisabled(t *testing.T) {
	agents := agentmanager.New()
	window, pane := 0, 1
	session := "sess"
	agents.Put(&types.Agent{
		ID: "idle-1", Role: types.RoleWorker, Status: types.StatusIdle,
		AICli: types.CliCodex, SessionName: &session, WindowIndex: &window, PaneIndex: &pane,
	})

	dash := newFakeDashboard()
	e := newEngine(t, dash, agents, standardProfile())

	result, err := e.CreateWorkersBatch(context.Background(), types.RoleOwner, "main", []WorkerConfig{
		{PreferredCLI: types.CliCodex},
	}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.NotEqual(t, "idle-1", result.Workers[0].AgentID, "reuse disabled means a brand new agent is created")
}

func TestRenderTaskMarkdownDefaultsTitleToTaskID(t *testing.T) {
	content := renderTaskMarkdown(WorkerConfig{TaskID: "T9", TaskContent: "do it"})
	assert.Contains(t, content, "# Task: T9")
	assert.Contains(t, content, "## Checklist")
}

func TestPaneTargetEmptyWithoutSlot(t *testing.T) {
	assert.Equal(t, "", paneTarget(&types.Agent{}))
}
