package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), "sess-1")
}

func TestCreateAndListTasks(t *testing.T) {
	s := newStore(t)

	task, err := s.CreateTask("do the thing", "desc", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.NotEmpty(t, task.ID)

	all, err := s.ListTasks(nil, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, task.ID, all[0].ID)
}

func TestUpdateTaskStatusSetsTimestamps(t *testing.T) {
	s := newStore(t)
	task, err := s.CreateTask("t", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateTaskStatus(task.ID, types.TaskInProgress, nil, nil))
	inProgress, err := s.ListTasks(nil, "")
	require.NoError(t, err)
	require.NotNil(t, inProgress[0].StartedAt)
	assert.Nil(t, inProgress[0].CompletedAt)

	require.NoError(t, s.UpdateTaskStatus(task.ID, types.TaskCompleted, nil, nil))
	done, err := s.ListTasks(nil, "")
	require.NoError(t, err)
	require.NotNil(t, done[0].CompletedAt)
	assert.Equal(t, 100, done[0].Progress)
}

func TestUpdateTaskStatusUnknownTask(t *testing.T) {
	s := newStore(t)
	err := s.UpdateTaskStatus("missing", types.TaskInProgress, nil, nil)
	assert.Error(t, err)
}

func TestAssignTaskUpdatesAgentSummary(t *testing.T) {
	s := newStore(t)
	task, err := s.CreateTask("t", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateAgentSummary("agent-1", types.RoleWorker, types.StatusIdle, ""))

	require.NoError(t, s.AssignTask(task.ID, "agent-1", "feature/x", "/wt/x"))

	tasks, err := s.ListTasks(nil, "agent-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "feature/x", tasks[0].Branch)
	assert.Equal(t, "/wt/x", tasks[0].WorktreePath)
}

func TestRemoveTaskNotFound(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.RemoveTask("missing"))
}

func TestRemoveAgentSummary(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.UpdateAgentSummary("agent-1", types.RoleWorker, types.StatusIdle, ""))
	require.NoError(t, s.RemoveAgentSummary("agent-1"))

	// a second removal of an already-absent agent is a no-op, not an error
	require.NoError(t, s.RemoveAgentSummary("agent-1"))
}

func TestGetSummaryReflectsTaskCounts(t *testing.T) {
	s := newStore(t)
	pending, err := s.CreateTask("pending", "", nil)
	require.NoError(t, err)
	inProgress, err := s.CreateTask("in-progress", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskStatus(inProgress.ID, types.TaskInProgress, nil, nil))

	summary := s.GetSummary()
	assert.Equal(t, 1, summary.PendingTasks)
	assert.Equal(t, 1, summary.InProgressTasks)
	_ = pending
}

func TestRecordAPICallDeduplicatesByStatusLine(t *testing.T) {
	s := newStore(t)
	cost := 1.5
	call := &types.CostCall{AgentID: "a1", AICli: types.CliClaude, StatusLine: "💰 $1.50", ActualCostUSD: &cost}

	require.NoError(t, s.RecordAPICall(call))
	assert.False(t, s.IsDuplicateCostCall("a1", "something else"))
	assert.True(t, s.IsDuplicateCostCall("a1", "💰 $1.50"))

	// recording the identical status line again is silently dropped
	require.NoError(t, s.RecordAPICall(&types.CostCall{AgentID: "a1", AICli: types.CliClaude, StatusLine: "💰 $1.50", ActualCostUSD: &cost}))

	est, err := s.GetCostEstimate()
	require.NoError(t, err)
	assert.Equal(t, 1, est.TotalAPICalls)
	assert.Equal(t, 1.5, est.EstimatedCostUSD)
}

func TestRecordAPICallEstimatesWithoutActualCost(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordAPICall(&types.CostCall{AgentID: "a1", AICli: types.CliCodex}))

	est, err := s.GetCostEstimate()
	require.NoError(t, err)
	require.Equal(t, 1, est.TotalAPICalls)
	assert.Equal(t, estimatedTokensPerCall, est.EstimatedTokens)
	assert.InDelta(t, (float64(estimatedTokensPerCall)/1000)*costPerKToken[types.CliCodex], est.EstimatedCostUSD, 1e-9)
}

func TestCheckCostWarning(t *testing.T) {
	s := newStore(t)
	msg, err := s.CheckCostWarning()
	require.NoError(t, err)
	assert.Empty(t, msg, "no warning below the default $10 threshold")

	for i := 0; i < 10; i++ {
		cost := 2.0
		require.NoError(t, s.RecordAPICall(&types.CostCall{AgentID: "a1", AICli: types.CliClaude, ActualCostUSD: &cost}))
	}
	msg, err = s.CheckCostWarning()
	require.NoError(t, err)
	assert.Contains(t, msg, "exceeds warning threshold")
}

func TestResetCostCounter(t *testing.T) {
	s := newStore(t)
	cost := 3.0
	require.NoError(t, s.RecordAPICall(&types.CostCall{AgentID: "a1", AICli: types.CliClaude, ActualCostUSD: &cost}))

	n, err := s.ResetCostCounter()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	est, err := s.GetCostEstimate()
	require.NoError(t, err)
	assert.Equal(t, 0, est.TotalAPICalls)
}

func TestTaskFileRoundTrip(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteTaskFile("agent-1", "## Task\ndo it"))

	content, err := s.ReadTaskFile("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "## Task\ndo it", content)

	require.NoError(t, s.ClearTaskFile("agent-1"))
	_, err = s.ReadTaskFile("agent-1")
	assert.Error(t, err)
}

func TestCleanupRemovesSnapshotAndTaskFiles(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateTask("do the thing", "desc", nil)
	require.NoError(t, err)
	require.NoError(t, s.WriteTaskFile("agent-1", "## Task\ndo it"))

	require.FileExists(t, s.jsonPath())
	require.FileExists(t, s.taskFilePath("agent-1"))

	require.NoError(t, s.Cleanup())

	assert.NoFileExists(t, s.jsonPath())
	assert.NoDirExists(t, s.dashboardDir)
	assert.NoDirExists(t, s.tasksDir)
}
