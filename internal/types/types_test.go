package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleOwner.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleWorker.Valid())
	assert.False(t, Role("bystander").Valid())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusIdle.Valid())
	assert.False(t, Status("sleeping").Valid())
}

func TestAICliValid(t *testing.T) {
	assert.True(t, CliClaude.Valid())
	assert.True(t, CliGemini.Valid())
	assert.False(t, AICli("copilot").Valid())
}

func TestAgentOccupiesSlot(t *testing.T) {
	a := &Agent{}
	assert.False(t, a.OccupiesSlot())

	session := "sess"
	window, pane := 0, 2
	a = &Agent{SessionName: &session, WindowIndex: &window, PaneIndex: &pane}
	assert.True(t, a.OccupiesSlot())
	assert.Equal(t, Slot{SessionName: "sess", WindowIndex: 0, PaneIndex: 2}, a.Slot())
}

func TestTaskAppendLogRetainsOnlyMostRecent(t *testing.T) {
	task := &Task{}
	for i := 0; i < MaxRetainedLogs+3; i++ {
		task.AppendLog("line")
	}
	assert.Len(t, task.Logs, MaxRetainedLogs)
}

func TestTaskValid(t *testing.T) {
	now := time.Now()

	t.Run("progress out of range is invalid", func(t *testing.T) {
		assert.False(t, (&Task{Progress: 101}).Valid())
		assert.False(t, (&Task{Progress: -1}).Valid())
	})

	t.Run("in_progress without started_at is invalid", func(t *testing.T) {
		assert.False(t, (&Task{Status: TaskInProgress}).Valid())
		assert.True(t, (&Task{Status: TaskInProgress, StartedAt: &now}).Valid())
	})

	t.Run("completed requires completed_at and full progress", func(t *testing.T) {
		assert.False(t, (&Task{Status: TaskCompleted, Progress: 100}).Valid())
		assert.False(t, (&Task{Status: TaskCompleted, Progress: 50, CompletedAt: &now}).Valid())
		assert.True(t, (&Task{Status: TaskCompleted, Progress: 100, CompletedAt: &now}).Valid())
	})

	t.Run("failed requires completed_at but not full progress", func(t *testing.T) {
		assert.False(t, (&Task{Status: TaskFailed}).Valid())
		assert.True(t, (&Task{Status: TaskFailed, Progress: 40, CompletedAt: &now}).Valid())
	})
}

func TestMessageIsBroadcast(t *testing.T) {
	m := &Message{}
	assert.True(t, m.IsBroadcast())

	receiver := "agent-1"
	m.ReceiverID = &receiver
	assert.False(t, m.IsBroadcast())
}

func TestPriorityWeight(t *testing.T) {
	assert.Less(t, PriorityUrgent.Weight(), PriorityHigh.Weight())
	assert.Less(t, PriorityHigh.Weight(), PriorityNormal.Weight())
	assert.Less(t, PriorityNormal.Weight(), PriorityLow.Weight())
	assert.Equal(t, PriorityNormal.Weight(), Priority("unknown").Weight())
}
