// Package dashboard implements the per-session Dashboard & Task Store
// described in spec §4.8: one JSON snapshot per session plus a
// human-readable markdown view, task/agent-summary CRUD, and cost capture.
package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/multi-agent-mcp/orchestrator/internal/fsutil"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// costPerKToken mirrors the original implementation's rough per-1K-token
// estimate, used only when a call has no actual cost.
var costPerKToken = map[types.AICli]float64{
	types.CliClaude: 0.015,
	types.CliCodex:  0.01,
	types.CliGemini: 0.005,
	types.CliCursor: 0.01,
}

const estimatedTokensPerCall = 2000
const maxRetainedCostCalls = 50

// AgentSummary is the dashboard's compact view of one agent, distinct from
// the full types.Agent record kept by the agent manager.
type AgentSummary struct {
	AgentID       string `json:"agent_id"`
	Role          types.Role `json:"role"`
	Status        types.Status `json:"status"`
	CurrentTaskID string `json:"current_task_id,omitempty"`
}

// snapshot is the full on-disk dashboard state for one session.
type snapshot struct {
	SessionID       string          `json:"session_id"`
	Tasks           []*types.Task   `json:"tasks"`
	Agents          []*AgentSummary `json:"agents"`
	CostCalls       []*types.CostCall `json:"cost_calls"`
	CostWarningUSD  float64         `json:"cost_warning_usd"`
	Stats           stats           `json:"stats"`
}

type stats struct {
	TotalTasks      int     `json:"total_tasks"`
	PendingTasks    int     `json:"pending_tasks"`
	InProgressTasks int     `json:"in_progress_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	FailedTasks     int     `json:"failed_tasks"`
	EstimatedCost   float64 `json:"estimated_cost_usd"`
}

// Store is the dashboard store for one session, rooted at
// <project>/.multi-agent-mcp/<session>/.
type Store struct {
	mu          sync.Mutex
	dashboardDir string
	tasksDir    string
	sessionID   string
}

// NewStore opens (or initializes) the dashboard store for sessionID, rooted
// at sessionDir (<project>/.multi-agent-mcp/<session>).
func NewStore(sessionDir, sessionID string) *Store {
	return &Store{
		dashboardDir: filepath.Join(sessionDir, "dashboard"),
		tasksDir:     filepath.Join(sessionDir, "tasks"),
		sessionID:    sessionID,
	}
}

func (s *Store) jsonPath() string {
	return filepath.Join(s.dashboardDir, fmt.Sprintf("dashboard_%s.json", s.sessionID))
}

func (s *Store) mdPath() string {
	return filepath.Join(s.dashboardDir, fmt.Sprintf("dashboard_%s.md", s.sessionID))
}

func (s *Store) read() (*snapshot, error) {
	data, err := os.ReadFile(s.jsonPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &snapshot{SessionID: s.sessionID, CostWarningUSD: 10.0}, nil
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "read dashboard", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "parse dashboard", err)
	}
	return &snap, nil
}

func (s *Store) write(snap *snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal dashboard", err)
	}
	if err := fsutil.AtomicWriteFile(s.jsonPath(), data, 0o644); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "write dashboard json", err)
	}
	if err := fsutil.AtomicWriteFile(s.mdPath(), []byte(renderMarkdown(snap)), 0o644); err != nil {
		obslog.ForComponent(obslog.CompDashboard).Warn("failed to write markdown view", "err", err)
	}
	return nil
}

func calculateStats(snap *snapshot) {
	st := stats{}
	for _, t := range snap.Tasks {
		st.TotalTasks++
		switch t.Status {
		case types.TaskPending:
			st.PendingTasks++
		case types.TaskInProgress:
			st.InProgressTasks++
		case types.TaskCompleted:
			st.CompletedTasks++
		case types.TaskFailed:
			st.FailedTasks++
		}
	}
	for _, c := range snap.CostCalls {
		if c.ActualCostUSD != nil {
			st.EstimatedCost += *c.ActualCostUSD
			continue
		}
		cost := costPerKToken[c.AICli]
		st.EstimatedCost += (float64(c.EstimatedTokens) / 1000) * cost
	}
	snap.Stats = st
}

func findTask(snap *snapshot, taskID string) *types.Task {
	for _, t := range snap.Tasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// CreateTask appends a new pending task to the dashboard.
func (s *Store) CreateTask(title, description string, metadata map[string]any) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return nil, err
	}

	task := &types.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      types.TaskPending,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	snap.Tasks = append(snap.Tasks, task)
	calculateStats(snap)
	if err := s.write(snap); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTaskStatus transitions a task's status, enforcing the
// started_at/completed_at invariants from spec §4.8.
func (s *Store) UpdateTaskStatus(taskID string, status types.TaskStatus, progress *int, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	task := findTask(snap, taskID)
	if task == nil {
		return orcherr.New(orcherr.KindNotFound, "task not found: "+taskID)
	}

	oldStatus := task.Status
	task.Status = status
	if progress != nil {
		task.Progress = *progress
	}
	if errorMessage != nil {
		task.ErrorMessage = *errorMessage
	}

	now := time.Now()
	if status == types.TaskInProgress && oldStatus == types.TaskPending {
		task.StartedAt = &now
	} else if status == types.TaskCompleted || status == types.TaskFailed {
		task.CompletedAt = &now
		if status == types.TaskCompleted {
			task.Progress = 100
		}
	}

	calculateStats(snap)
	return s.write(snap)
}

// UpdateTaskChecklist replaces a task's checklist and appends a log line.
func (s *Store) UpdateTaskChecklist(taskID string, checklist []types.ChecklistItem, logMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	task := findTask(snap, taskID)
	if task == nil {
		return orcherr.New(orcherr.KindNotFound, "task not found: "+taskID)
	}

	if checklist != nil {
		task.Checklist = checklist
		done := 0
		for _, c := range checklist {
			if c.Done {
				done++
			}
		}
		if len(checklist) > 0 {
			task.Progress = (done * 100) / len(checklist)
		}
	}
	if logMessage != "" {
		task.AppendLog(logMessage)
	}

	return s.write(snap)
}

// AssignTask assigns taskID to agentID, setting branch/worktree path if
// given, and updates the matching AgentSummary's current_task_id.
func (s *Store) AssignTask(taskID, agentID, branch, worktreePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	task := findTask(snap, taskID)
	if task == nil {
		return orcherr.New(orcherr.KindNotFound, "task not found: "+taskID)
	}

	task.AssignedAgentID = agentID
	if branch != "" {
		task.Branch = branch
	}
	if worktreePath != "" {
		task.WorktreePath = worktreePath
	}
	for _, a := range snap.Agents {
		if a.AgentID == agentID {
			a.CurrentTaskID = taskID
			break
		}
	}

	return s.write(snap)
}

// RemoveTask deletes a task from the dashboard.
func (s *Store) RemoveTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	found := false
	kept := make([]*types.Task, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if t.ID == taskID {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return orcherr.New(orcherr.KindNotFound, "task not found: "+taskID)
	}
	snap.Tasks = kept
	calculateStats(snap)
	return s.write(snap)
}

// ListTasks returns tasks filtered by optional status and agentID. This is
// the single point-in-time snapshot the Scheduler takes per enqueue/assign
// decision (spec §4.7's "single snapshot... never re-query per entry").
func (s *Store) ListTasks(status *types.TaskStatus, agentID string) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return nil, err
	}
	var out []*types.Task
	for _, t := range snap.Tasks {
		if status != nil && t.Status != *status {
			continue
		}
		if agentID != "" && t.AssignedAgentID != agentID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Summary is the subset of calculate_stats() the healthcheck daemon's
// auto-stop check needs, per spec §4.11.
type Summary struct {
	InProgressTasks int
	PendingTasks    int
}

// GetSummary returns the current pending/in-progress task counts.
func (s *Store) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return Summary{}
	}
	return Summary{InProgressTasks: snap.Stats.InProgressTasks, PendingTasks: snap.Stats.PendingTasks}
}

// UpdateAgentSummary upserts the dashboard's compact agent record.
func (s *Store) UpdateAgentSummary(agentID string, role types.Role, status types.Status, currentTaskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	for _, a := range snap.Agents {
		if a.AgentID == agentID {
			a.Role = role
			a.Status = status
			a.CurrentTaskID = currentTaskID
			return s.write(snap)
		}
	}
	snap.Agents = append(snap.Agents, &AgentSummary{AgentID: agentID, Role: role, Status: status, CurrentTaskID: currentTaskID})
	return s.write(snap)
}

// RemoveAgentSummary removes an agent's dashboard record.
func (s *Store) RemoveAgentSummary(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}
	kept := make([]*AgentSummary, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		if a.AgentID == agentID {
			continue
		}
		kept = append(kept, a)
	}
	snap.Agents = kept
	return s.write(snap)
}

// IsDuplicateCostCall reports whether (agentID, statusLine) already
// appears among the most recently retained cost calls, using the same
// window RecordAPICall dedups against.
func (s *Store) IsDuplicateCostCall(agentID, statusLine string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return false
	}
	window := snap.CostCalls
	if len(window) > maxRetainedCostCalls {
		window = window[len(window)-maxRetainedCostCalls:]
	}
	for _, c := range window {
		if c.AgentID == agentID && c.StatusLine == statusLine {
			return true
		}
	}
	return false
}

// RecordAPICall records a cost-bearing call. Calls carrying a status-line
// are deduplicated by (agent_id, status_line) over the most recent 50
// calls, per spec §4.8.
func (s *Store) RecordAPICall(call *types.CostCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}

	if call.StatusLine != "" {
		window := snap.CostCalls
		if len(window) > maxRetainedCostCalls {
			window = window[len(window)-maxRetainedCostCalls:]
		}
		for _, c := range window {
			if c.AgentID == call.AgentID && c.StatusLine == call.StatusLine {
				return nil // duplicate within the retention window, ignore
			}
		}
	}

	if call.EstimatedTokens == 0 && call.ActualCostUSD == nil {
		call.EstimatedTokens = estimatedTokensPerCall
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now()
	}
	if call.Source == "" {
		if call.ActualCostUSD != nil {
			call.Source = "actual"
		} else {
			call.Source = "estimated"
		}
	}

	snap.CostCalls = append(snap.CostCalls, call)
	if len(snap.CostCalls) > maxRetainedCostCalls {
		snap.CostCalls = snap.CostCalls[len(snap.CostCalls)-maxRetainedCostCalls:]
	}
	calculateStats(snap)
	return s.write(snap)
}

// CostEstimate is the aggregate cost view returned by GetCostEstimate.
type CostEstimate struct {
	TotalAPICalls     int     `json:"total_api_calls"`
	EstimatedTokens   int     `json:"estimated_tokens"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	CallsByCLI        map[types.AICli]int `json:"calls_by_cli"`
}

// GetCostEstimate aggregates recorded calls into totals by CLI.
func (s *Store) GetCostEstimate() (*CostEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return nil, err
	}

	est := &CostEstimate{CallsByCLI: map[types.AICli]int{}}
	for _, c := range snap.CostCalls {
		est.TotalAPICalls++
		est.EstimatedTokens += c.EstimatedTokens
		est.CallsByCLI[c.AICli]++
		if c.ActualCostUSD != nil {
			est.EstimatedCostUSD += *c.ActualCostUSD
			continue
		}
		est.EstimatedCostUSD += (float64(c.EstimatedTokens) / 1000) * costPerKToken[c.AICli]
	}
	return est, nil
}

// CheckCostWarning returns a warning message if estimated cost meets or
// exceeds the session's warning threshold, or "" if not.
func (s *Store) CheckCostWarning() (string, error) {
	s.mu.Lock()
	threshold := 10.0
	snap, err := s.read()
	if err == nil {
		threshold = snap.CostWarningUSD
	}
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	est, err := s.GetCostEstimate()
	if err != nil {
		return "", err
	}
	if est.EstimatedCostUSD >= threshold {
		return fmt.Sprintf("estimated cost $%.2f exceeds warning threshold $%.2f", est.EstimatedCostUSD, threshold), nil
	}
	return "", nil
}

// ResetCostCounter clears all recorded cost calls, returning the count removed.
func (s *Store) ResetCostCounter() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return 0, err
	}
	n := len(snap.CostCalls)
	snap.CostCalls = nil
	calculateStats(snap)
	return n, s.write(snap)
}

func (s *Store) taskFilePath(agentID string) string {
	return filepath.Join(s.tasksDir, fsutil.Sanitize(agentID, "agent")+".md")
}

// WriteTaskFile writes the per-agent task markdown file.
func (s *Store) WriteTaskFile(agentID, content string) error {
	return fsutil.AtomicWriteFile(s.taskFilePath(agentID), []byte(content), 0o644)
}

// ReadTaskFile reads the per-agent task markdown file.
func (s *Store) ReadTaskFile(agentID string) (string, error) {
	data, err := os.ReadFile(s.taskFilePath(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", orcherr.New(orcherr.KindNotFound, "no task file for agent: "+agentID)
		}
		return "", orcherr.Wrap(orcherr.KindInternal, "read task file", err)
	}
	return string(data), nil
}

// ClearTaskFile removes the per-agent task markdown file.
func (s *Store) ClearTaskFile(agentID string) error {
	if err := os.Remove(s.taskFilePath(agentID)); err != nil && !os.IsNotExist(err) {
		return orcherr.Wrap(orcherr.KindInternal, "clear task file", err)
	}
	return nil
}

// Cleanup removes the dashboard snapshot (JSON + markdown) and all per-agent
// task files for this session, per spec §4.12 step 4.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dashboardDir); err != nil && !os.IsNotExist(err) {
		return orcherr.Wrap(orcherr.KindInternal, "remove dashboard dir", err)
	}
	if err := os.RemoveAll(s.tasksDir); err != nil && !os.IsNotExist(err) {
		return orcherr.Wrap(orcherr.KindInternal, "remove tasks dir", err)
	}
	return nil
}

func renderMarkdown(snap *snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Dashboard — session %s\n\n", snap.SessionID)
	fmt.Fprintf(&b, "Tasks: %d total, %d pending, %d in progress, %d completed, %d failed\n\n",
		snap.Stats.TotalTasks, snap.Stats.PendingTasks, snap.Stats.InProgressTasks, snap.Stats.CompletedTasks, snap.Stats.FailedTasks)
	fmt.Fprintf(&b, "Estimated cost: $%.4f\n\n", snap.Stats.EstimatedCost)

	b.WriteString("## Tasks\n\n")
	tasks := append([]*types.Task(nil), snap.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s (%d%%) — %s\n", t.Status, t.Title, t.Progress, t.ID)
	}

	b.WriteString("\n## Agents\n\n")
	for _, a := range snap.Agents {
		fmt.Fprintf(&b, "- %s (%s, %s) task=%s\n", a.AgentID, a.Role, a.Status, a.CurrentTaskID)
	}
	return b.String()
}
