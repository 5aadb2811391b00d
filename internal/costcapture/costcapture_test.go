package costcapture

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

func TestExtractClaudeStatuslineCost(t *testing.T) {
	t.Run("matches the emoji pattern", func(t *testing.T) {
		amount, line, ok := ExtractClaudeStatuslineCost("some banner\n💰 $1.25 | 12.3k tokens\n")
		require.True(t, ok)
		assert.Equal(t, 1.25, amount)
		assert.Equal(t, "💰 $1.25 | 12.3k tokens", line)
	})

	t.Run("matches cost-prefixed dollar amount case-insensitively", func(t *testing.T) {
		amount, _, ok := ExtractClaudeStatuslineCost("Session Cost: $0.42 today")
		require.True(t, ok)
		assert.Equal(t, 0.42, amount)
	})

	t.Run("matches dollar-amount-then-cost suffix", func(t *testing.T) {
		amount, _, ok := ExtractClaudeStatuslineCost("$3.00 cost so far")
		require.True(t, ok)
		assert.Equal(t, 3.00, amount)
	})

	t.Run("prefers the most recent matching line", func(t *testing.T) {
		output := "💰 $1.00 | old\nsome unrelated output\n💰 $2.50 | new\n"
		amount, line, ok := ExtractClaudeStatuslineCost(output)
		require.True(t, ok)
		assert.Equal(t, 2.50, amount)
		assert.Contains(t, line, "$2.50")
	})

	t.Run("returns false when no line matches", func(t *testing.T) {
		_, _, ok := ExtractClaudeStatuslineCost("nothing to see here\njust plain output\n")
		assert.False(t, ok)
	})
}

// fakeExecutor returns a fixed pane capture for every command, without
// touching a real tmux.
type fakeExecutor struct {
	captureOutput string
}

func (f *fakeExecutor) Output(cmd *exec.Cmd) ([]byte, error) {
	return []byte(f.captureOutput), nil
}

func (f *fakeExecutor) Run(cmd *exec.Cmd) error { return nil }

type fakeDashboard struct {
	recorded  []*types.CostCall
	duplicate bool
}

func (d *fakeDashboard) RecordAPICall(call *types.CostCall) error {
	d.recorded = append(d.recorded, call)
	return nil
}

func (d *fakeDashboard) IsDuplicateCostCall(agentID, statusLine string) bool {
	return d.duplicate
}

func paneAgent(cli types.AICli, role types.Role) *types.Agent {
	session := "mcpagent_test"
	window, pane := 0, 1
	return &types.Agent{
		ID:          "agent-1",
		Role:        role,
		AICli:       cli,
		SessionName: &session,
		WindowIndex: &window,
		PaneIndex:   &pane,
		CurrentTask: "task-1",
	}
}

func TestCaptureForAgent(t *testing.T) {
	profile := settings.Profile{AdminModel: "opus", WorkerModel: "sonnet"}

	t.Run("records a fresh actual cost for a Claude worker", func(t *testing.T) {
		agents := agentmanager.New()
		agent := paneAgent(types.CliClaude, types.RoleWorker)
		agents.Put(agent)

		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{captureOutput: "💰 $4.20 | 1.1k tokens\n"})
		dash := &fakeDashboard{}
		c := New(tmux, agents, dash, profile)

		result, err := c.CaptureForAgent(context.Background(), agent.ID, "")
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Updated)
		assert.Equal(t, 4.20, result.ActualCostUSD)
		assert.Equal(t, "task-1", result.TaskID)
		require.Len(t, dash.recorded, 1)
		assert.Equal(t, "sonnet", dash.recorded[0].Model)
		assert.Equal(t, "actual", dash.recorded[0].Source)
	})

	t.Run("uses the admin model for an admin agent", func(t *testing.T) {
		agents := agentmanager.New()
		agent := paneAgent(types.CliClaude, types.RoleAdmin)
		agents.Put(agent)

		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{captureOutput: "💰 $1.00\n"})
		dash := &fakeDashboard{}
		c := New(tmux, agents, dash, profile)

		_, err := c.CaptureForAgent(context.Background(), agent.ID, "")
		require.NoError(t, err)
		require.Len(t, dash.recorded, 1)
		assert.Equal(t, "opus", dash.recorded[0].Model)
	})

	t.Run("reports not-updated on a duplicate statusLine without re-recording", func(t *testing.T) {
		agents := agentmanager.New()
		agent := paneAgent(types.CliClaude, types.RoleWorker)
		agents.Put(agent)

		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{captureOutput: "💰 $4.20\n"})
		dash := &fakeDashboard{duplicate: true}
		c := New(tmux, agents, dash, profile)

		result, err := c.CaptureForAgent(context.Background(), agent.ID, "")
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.False(t, result.Updated)
		assert.Empty(t, dash.recorded)
	})

	t.Run("skips non-Claude CLIs outright", func(t *testing.T) {
		agents := agentmanager.New()
		agent := paneAgent(types.CliCodex, types.RoleWorker)
		agents.Put(agent)

		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{captureOutput: "💰 $4.20\n"})
		dash := &fakeDashboard{}
		c := New(tmux, agents, dash, profile)

		result, err := c.CaptureForAgent(context.Background(), agent.ID, "")
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("skips agents with no pane occupancy", func(t *testing.T) {
		agents := agentmanager.New()
		agent := &types.Agent{ID: "agent-2", Role: types.RoleWorker, AICli: types.CliClaude}
		agents.Put(agent)

		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{captureOutput: "💰 $4.20\n"})
		dash := &fakeDashboard{}
		c := New(tmux, agents, dash, profile)

		result, err := c.CaptureForAgent(context.Background(), agent.ID, "")
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("returns nil when no cost is present in the pane", func(t *testing.T) {
		agents := agentmanager.New()
		agent := paneAgent(types.CliClaude, types.RoleWorker)
		agents.Put(agent)

		tmux := tmuxdriver.NewWithExecutor(&fakeExecutor{captureOutput: "no statusline here\n"})
		dash := &fakeDashboard{}
		c := New(tmux, agents, dash, profile)

		result, err := c.CaptureForAgent(context.Background(), agent.ID, "")
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}
