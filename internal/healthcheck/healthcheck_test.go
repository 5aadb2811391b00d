package healthcheck

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// fakeExecutor treats has-session calls against a fixed set of names as
// alive, and accepts every other command, without touching a real tmux.
type fakeExecutor struct {
	aliveSessions map[string]bool
}

func (f *fakeExecutor) Run(cmd *exec.Cmd) error {
	if len(cmd.Args) >= 3 && cmd.Args[1] == "has-session" {
		name := cmd.Args[3]
		if f.aliveSessions[name] {
			return nil
		}
		return exec.ErrNotFound
	}
	return nil
}

func (f *fakeExecutor) Output(cmd *exec.Cmd) ([]byte, error) { return nil, nil }

type fakeDashboard struct {
	tasks      []*types.Task
	summary    dashboard.Summary
	assigned   []string
	removed    []string
	summaries  []string
}

func (d *fakeDashboard) ListTasks(status *types.TaskStatus, agentID string) ([]*types.Task, error) {
	return d.tasks, nil
}
func (d *fakeDashboard) AssignTask(taskID, agentID, branch, worktreePath string) error {
	d.assigned = append(d.assigned, taskID)
	return nil
}
func (d *fakeDashboard) UpdateAgentSummary(agentID string, role types.Role, status types.Status, currentTaskID string) error {
	d.summaries = append(d.summaries, agentID)
	return nil
}
func (d *fakeDashboard) RemoveAgentSummary(agentID string) error {
	d.removed = append(d.removed, agentID)
	return nil
}
func (d *fakeDashboard) GetSummary() dashboard.Summary { return d.summary }

func sessionAgent(id, session string, window, pane int) *types.Agent {
	return &types.Agent{
		ID:          id,
		Role:        types.RoleWorker,
		Status:      types.StatusIdle,
		SessionName: &session,
		WindowIndex: &window,
		PaneIndex:   &pane,
		Branch:      "feature/x",
	}
}

func TestCheckAgent(t *testing.T) {
	t.Run("agent not found", func(t *testing.T) {
		agents := agentmanager.New()
		m := New(tmuxdriver.New(), agents, &fakeDashboard{}, "/repo", false)
		st := m.CheckAgent("missing")
		assert.False(t, st.Healthy)
		assert.Equal(t, "agent not found", st.ErrorMessage)
	})

	t.Run("agent without a session name", func(t *testing.T) {
		agents := agentmanager.New()
		agents.Put(&types.Agent{ID: "a1", Role: types.RoleWorker})
		m := New(tmuxdriver.New(), agents, &fakeDashboard{}, "/repo", false)
		st := m.CheckAgent("a1")
		assert.False(t, st.Healthy)
		assert.Equal(t, "no session_name set", st.ErrorMessage)
	})

	t.Run("healthy when the tmux session exists", func(t *testing.T) {
		agents := agentmanager.New()
		agents.Put(sessionAgent("a1", "sess", 0, 1))
		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{aliveSessions: map[string]bool{"sess": true}})
		m := New(tmux, agents, &fakeDashboard{}, "/repo", false)
		st := m.CheckAgent("a1")
		assert.True(t, st.Healthy)
		assert.True(t, st.TmuxSessionAlive)
	})

	t.Run("unhealthy when the tmux session is gone", func(t *testing.T) {
		agents := agentmanager.New()
		agents.Put(sessionAgent("a1", "sess", 0, 1))
		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{})
		m := New(tmux, agents, &fakeDashboard{}, "/repo", false)
		st := m.CheckAgent("a1")
		assert.False(t, st.Healthy)
		assert.Equal(t, "tmux session not found", st.ErrorMessage)
	})
}

func TestFullRecoveryRejectsNonWorkers(t *testing.T) {
	agents := agentmanager.New()
	agents.Put(&types.Agent{ID: "o1", Role: types.RoleOwner})
	m := New(tmuxdriver.New(), agents, &fakeDashboard{}, "/repo", false)

	res := m.FullRecovery(context.Background(), "o1")
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, int64(0), m.RecoveryCount())
}

func TestFullRecoveryWithoutGit(t *testing.T) {
	agents := agentmanager.New()
	agents.Put(sessionAgent("a1", "sess", 0, 1))
	dash := &fakeDashboard{tasks: []*types.Task{
		{ID: "t1", Status: types.TaskInProgress},
		{ID: "t2", Status: types.TaskCompleted},
	}}
	tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{aliveSessions: map[string]bool{"sess": true}})
	m := New(tmux, agents, dash, "/repo", false)

	res := m.FullRecovery(context.Background(), "a1")
	require.Equal(t, "recovered", res.Status)
	assert.NotEmpty(t, res.NewAgentID)
	assert.Empty(t, res.NewWorktreePath, "no worktree is created when git is disabled")
	assert.Equal(t, int64(1), m.RecoveryCount())

	// the old agent is terminated and removed from the live dashboard summary
	assert.Contains(t, dash.removed, "a1")
	// only the in-progress task is reassigned, not the completed one
	assert.Equal(t, []string{"t1"}, dash.assigned)

	newAgent, err := agents.GetAgent(res.NewAgentID)
	require.NoError(t, err)
	assert.Equal(t, types.RoleWorker, newAgent.Role)
	assert.Equal(t, types.StatusIdle, newAgent.Status)
	assert.Equal(t, "feature/x", newAgent.Branch)
}

func TestFullRecoveryBlockedWhenWorktreeCannotBeCreated(t *testing.T) {
	agents := agentmanager.New()
	agents.Put(sessionAgent("a1", "sess", 0, 1))
	dash := &fakeDashboard{}
	tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{aliveSessions: map[string]bool{"sess": true}})
	// repoPath is not a git repository, so worktree setup fails on every
	// retry attempt and SetupWithHashRetry reports KindUnavailable once the
	// attempts are used up.
	m := New(tmux, agents, dash, t.TempDir(), true)

	res := m.FullRecovery(context.Background(), "a1")
	assert.Equal(t, "blocked", res.Status)
	assert.Empty(t, res.NewAgentID)
	assert.Equal(t, int64(0), m.RecoveryCount())
}

func TestMonitorAndRecoverWorkersSkipsBlockedRecoveries(t *testing.T) {
	agents := agentmanager.New()
	agents.Put(sessionAgent("a1", "sess", 0, 1))
	dash := &fakeDashboard{}
	tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{})
	m := New(tmux, agents, dash, t.TempDir(), true)

	result := m.MonitorAndRecoverWorkers(context.Background())
	assert.Equal(t, []string{"a1"}, result.Skipped)
	assert.Empty(t, result.Recovered)
	assert.Empty(t, result.Escalated)
}

func TestDaemonStartStop(t *testing.T) {
	agents := agentmanager.New()
	m := New(tmuxdriver.New(), agents, &fakeDashboard{}, "/repo", false)
	d := NewDaemon(m, 1, 1, nil)

	assert.False(t, d.IsRunning())
	started := d.Start(context.Background())
	assert.True(t, started)
	assert.True(t, d.IsRunning())

	// a second Start while running is rejected
	assert.False(t, d.Start(context.Background()))

	stopped := d.Stop(2 * time.Second)
	assert.True(t, stopped)
	assert.False(t, d.IsRunning())
}

func TestDaemonAutoStopsWhenIdle(t *testing.T) {
	agents := agentmanager.New()
	dash := &fakeDashboard{summary: dashboard.Summary{PendingTasks: 0, InProgressTasks: 0}}
	m := New(tmuxdriver.New(), agents, dash, "/repo", false)
	d := NewDaemon(m, 1, 1, nil)

	stopReasons := make(chan string, 1)
	d.onStop = func(reason string) { stopReasons <- reason }

	d.Start(context.Background())
	select {
	case reason := <-stopReasons:
		assert.Equal(t, "auto_stop_idle", reason)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not auto-stop on an idle fleet")
	}
}
