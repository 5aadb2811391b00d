// Package types defines the core data model shared across the orchestrator:
// agents, tasks, messages, memory entries, scheduled tasks, and cost calls.
package types

import "time"

// Role is the kind of agent occupying (or not occupying) a pane slot.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleWorker Role = "worker"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleWorker:
		return true
	}
	return false
}

// Status is an agent's lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusError      Status = "error"
	StatusTerminated Status = "terminated"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusError, StatusTerminated:
		return true
	}
	return false
}

// AICli identifies which interactive AI command-line assistant an agent runs.
type AICli string

const (
	CliClaude AICli = "claude"
	CliCodex  AICli = "codex"
	CliGemini AICli = "gemini"
	CliCursor AICli = "cursor"
)

func (c AICli) Valid() bool {
	switch c {
	case CliClaude, CliCodex, CliGemini, CliCursor:
		return true
	}
	return false
}

// Agent is a member of the fleet: the Owner, the Admin, or a Worker.
type Agent struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Status          Status    `json:"status"`
	TmuxSession     *string   `json:"tmux_session"`
	WorkingDir      string    `json:"working_dir"`
	WorktreePath    string    `json:"worktree_path,omitempty"`
	Branch          string    `json:"branch,omitempty"`
	CurrentTask     string    `json:"current_task,omitempty"`
	SessionName     *string   `json:"session_name"`
	WindowIndex     *int      `json:"window_index"`
	PaneIndex       *int      `json:"pane_index"`
	AICli           AICli     `json:"ai_cli,omitempty"`
	AIBootstrapped  bool      `json:"ai_bootstrapped"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// Slot identifies a pane within a tmux session layout.
type Slot struct {
	SessionName string
	WindowIndex int
	PaneIndex   int
}

// OccupiesSlot reports whether the agent holds a fixed pane slot right now.
func (a *Agent) OccupiesSlot() bool {
	return a.SessionName != nil && a.WindowIndex != nil && a.PaneIndex != nil
}

// Slot returns the agent's pane slot. Only valid when OccupiesSlot is true.
func (a *Agent) Slot() Slot {
	return Slot{SessionName: *a.SessionName, WindowIndex: *a.WindowIndex, PaneIndex: *a.PaneIndex}
}

// TaskStatus is the lifecycle state of a dispatched unit of work.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// MaxRetainedLogs is the number of most-recent log lines a Task retains.
const MaxRetainedLogs = 5

// Task is a unit of work assignable to a Worker.
type Task struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Status           TaskStatus     `json:"status"`
	AssignedAgentID  string         `json:"assigned_agent_id,omitempty"`
	Branch           string         `json:"branch,omitempty"`
	WorktreePath     string         `json:"worktree_path,omitempty"`
	Progress         int            `json:"progress"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Checklist        []ChecklistItem `json:"checklist,omitempty"`
	Logs             []string       `json:"logs,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ChecklistItem is one line item of a task's checklist.
type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// AppendLog appends a log line, retaining only the most recent MaxRetainedLogs.
func (t *Task) AppendLog(line string) {
	t.Logs = append(t.Logs, line)
	if len(t.Logs) > MaxRetainedLogs {
		t.Logs = t.Logs[len(t.Logs)-MaxRetainedLogs:]
	}
}

// Valid reports whether the task satisfies the status/progress/timestamp invariants.
func (t *Task) Valid() bool {
	if t.Progress < 0 || t.Progress > 100 {
		return false
	}
	if t.Status == TaskInProgress && t.StartedAt == nil {
		return false
	}
	if (t.Status == TaskCompleted || t.Status == TaskFailed) && t.CompletedAt == nil {
		return false
	}
	if t.Status == TaskCompleted && t.Progress != 100 {
		return false
	}
	return true
}

// MessageType categorizes IPC messages.
type MessageType string

const (
	MessageTaskAssign   MessageType = "task_assign"
	MessageTaskComplete MessageType = "task_complete"
	MessageTaskProgress MessageType = "task_progress"
	MessageInfo         MessageType = "info"
	MessageError        MessageType = "error"
)

// Priority is the urgency of an IPC message or scheduled task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight returns a lower-is-more-urgent numeric rank, used by the scheduler
// heap (lower weight pops first).
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Message is an IPC envelope exchanged between agents.
type Message struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	ReceiverID *string        `json:"receiver_id"`
	Type       MessageType    `json:"message_type"`
	Priority   Priority       `json:"priority"`
	Subject    string         `json:"subject"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ReadAt     *time.Time     `json:"read_at"`
}

// IsBroadcast reports whether the message has no single receiver.
func (m *Message) IsBroadcast() bool {
	return m.ReceiverID == nil
}

// MemoryEntry is a single piece of persisted project or global knowledge.
type MemoryEntry struct {
	Key        string         `json:"key"`
	Content    string         `json:"content"`
	Tags       []string       `json:"tags,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}

// ScheduledTask is the scheduler's view of a task: priority, creation order,
// and the dependency ids gating its dispatch.
type ScheduledTask struct {
	TaskID       string
	Priority     Priority
	CreatedAt    time.Time
	Dependencies []string
}

// CostCall records a single cost-bearing dispatch or status-line observation.
type CostCall struct {
	AICli           AICli     `json:"ai_cli"`
	Model           string    `json:"model,omitempty"`
	EstimatedTokens int       `json:"estimated_tokens"`
	AgentID         string    `json:"agent_id,omitempty"`
	TaskID          string    `json:"task_id,omitempty"`
	ActualCostUSD   *float64  `json:"actual_cost_usd,omitempty"`
	StatusLine      string    `json:"status_line,omitempty"`
	Source          string    `json:"source"` // "estimated" | "actual"
	Timestamp       time.Time `json:"timestamp"`
}
