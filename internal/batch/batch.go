// Package batch implements the Worker Batch Engine described in spec §4.6:
// create_workers_batch's role gate, capacity check, idle-worker reuse
// matching, parallel fan-out, and dangling-allocation-free aggregation.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/climanager"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/settings"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
	"github.com/multi-agent-mcp/orchestrator/internal/worktree"
)

// Dashboard is the subset of the dashboard store the batch engine depends on.
type Dashboard interface {
	AssignTask(taskID, agentID, branch, worktreePath string) error
	UpdateAgentSummary(agentID string, role types.Role, status types.Status, currentTaskID string) error
	WriteTaskFile(agentID, content string) error
	RecordAPICall(call *types.CostCall) error
}

// WorkerConfig is one requested Worker in a batch, per spec §4.6.
type WorkerConfig struct {
	TaskID         string
	TaskContent    string
	TaskTitle      string
	Branch         string
	PreferredCLI   types.AICli
	EnableWorktree bool
}

// Result is one Worker's outcome, success or failure, never both silently
// merged — spec §4.6's "no partial-success is silently hidden".
type Result struct {
	Success      bool   `json:"success"`
	AgentID      string `json:"agent_id"`
	Branch       string `json:"branch"`
	WorktreePath string `json:"worktree_path"`
	DispatchMode string `json:"dispatch_mode"`
	TaskSent     bool   `json:"task_sent"`
	Error        string `json:"error,omitempty"`
}

// BatchResult aggregates every Worker's outcome.
type BatchResult struct {
	Success     bool     `json:"success"`
	Workers     []Result `json:"workers"`
	FailedCount int      `json:"failed_count"`
	Errors      []string `json:"errors"`
}

// Engine creates and dispatches batches of Workers.
type Engine struct {
	Dashboard   Dashboard
	Agents      *agentmanager.Manager
	Tmux        *tmuxdriver.Driver
	SessionName string
	RepoPath    string
	WorkingDir  string
	SessionID   string
	TasksDir    string
	EnableGit   bool
	Profile     settings.Profile

	workersPerExtraWindow int
}

// NewEngine builds a batch Engine wired to the session's managers.
func NewEngine(dashboard Dashboard, agents *agentmanager.Manager, tmux *tmuxdriver.Driver, sessionName, repoPath, workingDir, sessionID, tasksDir string, enableGit bool, profile settings.Profile) *Engine {
	return &Engine{
		Dashboard:             dashboard,
		Agents:                agents,
		Tmux:                  tmux,
		SessionName:           sessionName,
		RepoPath:              repoPath,
		WorkingDir:            workingDir,
		SessionID:             sessionID,
		TasksDir:              tasksDir,
		EnableGit:             enableGit,
		Profile:               profile,
		workersPerExtraWindow: 10,
	}
}

// job is one batch entry after reuse-matching and slot pre-assignment.
type job struct {
	cfg      WorkerConfig
	agentID  string
	isReuse  bool
	window   int
	pane     int
	workerNo int
}

// CreateWorkersBatch implements spec §4.6's create_workers_batch end to end.
func (e *Engine) CreateWorkersBatch(ctx context.Context, callerRole types.Role, baseBranch string, configs []WorkerConfig, reuseIdleWorkers bool) (*BatchResult, error) {
	// 1. Role gate.
	if callerRole != types.RoleOwner && callerRole != types.RoleAdmin {
		return nil, orcherr.New(orcherr.KindInvalidState, "only Owner or Admin may create worker batches")
	}

	// 2. Cursor cap.
	cursorRequested := 0
	for _, c := range configs {
		if c.PreferredCLI == types.CliCursor {
			cursorRequested++
		}
	}
	if cursorRequested > 0 {
		busyCursor := 0
		for _, a := range e.Agents.GetBusyWorkers() {
			if a.AICli == types.CliCursor {
				busyCursor++
			}
		}
		if cursorRequested+busyCursor > climanager.MaxConcurrentCursor {
			return nil, orcherr.New(orcherr.KindCapacity, fmt.Sprintf("cursor並列実行数が上限(%d)を超えています", climanager.MaxConcurrentCursor))
		}
	}

	// 3. Validation per config.
	for i, c := range configs {
		if c.TaskContent != "" && c.TaskID == "" {
			return nil, orcherr.New(orcherr.KindValidation, fmt.Sprintf("config %d: task_content requires task_id", i))
		}
		if c.EnableWorktree && c.TaskID == "" {
			return nil, orcherr.New(orcherr.KindValidation, fmt.Sprintf("config %d: enable_worktree requires task_id", i))
		}
	}

	// 4. Capacity check.
	nonTerminated := e.Agents.NonTerminatedWorkerCount()
	if nonTerminated+len(configs) > e.Profile.MaxWorkers {
		return nil, orcherr.New(orcherr.KindCapacity, fmt.Sprintf("batch of %d would exceed max_workers=%d (currently %d)", len(configs), e.Profile.MaxWorkers, nonTerminated))
	}

	jobs := e.planJobs(configs, reuseIdleWorkers)

	// 6. Pre-assign pane slots for the remaining new Workers up front.
	for i := range jobs {
		if jobs[i].isReuse {
			continue
		}
		window, pane, ok := e.Agents.NextWorkerSlot(e.SessionName, e.Profile.MaxWorkers, e.workersPerExtraWindow)
		if !ok {
			return nil, orcherr.New(orcherr.KindCapacity, "no free worker pane slots")
		}
		jobs[i].window = window
		jobs[i].pane = pane
		jobs[i].workerNo = agentmanager.WorkerNumberForSlot(window, pane, e.workersPerExtraWindow)
		jobs[i].agentID = uuid.NewString()

		// Reserve the slot immediately so a later job in this same batch
		// doesn't probe it again (NextWorkerSlot only sees agents already
		// registered with the manager).
		e.Agents.Put(&types.Agent{
			ID:           jobs[i].agentID,
			Role:         types.RoleWorker,
			Status:       types.StatusIdle,
			WorkingDir:   e.WorkingDir,
			SessionName:  &e.SessionName,
			WindowIndex:  &jobs[i].window,
			PaneIndex:    &jobs[i].pane,
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
		})
	}

	// 7. Fan out in parallel, grounded on the teacher's worker_pool.go
	// goroutine+WaitGroup idiom generalized to errgroup.
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i := range jobs {
		i := i
		g.Go(func() error {
			var res Result
			if jobs[i].isReuse {
				res = e.reuseSingleWorker(gctx, jobs[i], baseBranch)
			} else {
				res = e.createSingleWorker(gctx, jobs[i], baseBranch)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil // sub-task failures are recorded in Result, not propagated
		})
	}
	_ = g.Wait()

	// 13. Aggregate.
	out := &BatchResult{Success: true}
	for _, r := range results {
		out.Workers = append(out.Workers, r)
		if !r.Success {
			out.Success = false
			out.FailedCount++
			out.Errors = append(out.Errors, r.Error)
		}
	}
	return out, nil
}

// planJobs performs step 5's reuse matching: sort idle Workers by
// last_activity ascending, and for each config take the first idle Worker
// whose ai_cli matches preferred_cli; when preferred_cli is empty any idle
// Worker matches. An idle Worker with a different ai_cli is never reused.
func (e *Engine) planJobs(configs []WorkerConfig, reuseIdleWorkers bool) []job {
	jobs := make([]job, len(configs))
	if !reuseIdleWorkers {
		for i, c := range configs {
			jobs[i] = job{cfg: c}
		}
		return jobs
	}

	idle := e.Agents.IdleWorkersByLastActivity()
	used := make(map[string]bool, len(idle))

	for i, c := range configs {
		var matched *types.Agent
		for _, w := range idle {
			if used[w.ID] {
				continue
			}
			if c.PreferredCLI != "" && w.AICli != c.PreferredCLI {
				continue
			}
			matched = w
			break
		}
		if matched == nil {
			jobs[i] = job{cfg: c}
			continue
		}
		used[matched.ID] = true
		jobs[i] = job{cfg: c, isReuse: true, agentID: matched.ID}
		if matched.OccupiesSlot() {
			slot := matched.Slot()
			jobs[i].window = slot.WindowIndex
			jobs[i].pane = slot.PaneIndex
			jobs[i].workerNo = agentmanager.WorkerNumberForSlot(slot.WindowIndex, slot.PaneIndex, e.workersPerExtraWindow)
		}
	}
	return jobs
}

func (e *Engine) reuseSingleWorker(ctx context.Context, j job, baseBranch string) Result {
	res := Result{AgentID: j.agentID}

	agent, err := e.Agents.GetAgent(j.agentID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	branch := j.cfg.Branch
	worktreePath := agent.WorktreePath
	if j.cfg.EnableWorktree && e.EnableGit {
		branch = worktree.BuildWorkerTaskBranch(baseBranch, j.workerNo, j.cfg.TaskID)
		wt := worktree.New(e.RepoPath, branch)
		if err := wt.Setup(); err != nil {
			res.Error = err.Error()
			return res
		}
		worktreePath = wt.WorktreePath
		e.Agents.AssignWorktree(agent.ID, worktreePath)
	}

	if err := e.Agents.UpdateAgentStatus(agent.ID, types.StatusBusy, j.cfg.TaskID); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := e.Dashboard.UpdateAgentSummary(agent.ID, agent.Role, types.StatusBusy, j.cfg.TaskID); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Branch = branch
	res.WorktreePath = worktreePath
	e.dispatchTask(ctx, agent, j.cfg, branch, worktreePath, &res)
	res.Success = res.Error == ""
	return res
}

func (e *Engine) createSingleWorker(ctx context.Context, j job, baseBranch string) Result {
	res := Result{AgentID: j.agentID}

	sessionName := e.SessionName
	title := fmt.Sprintf("worker-%d", j.workerNo)
	target := fmt.Sprintf("%s:%d.%d", sessionName, j.window, j.pane)

	// 10. Tmux pane setup.
	if !e.Tmux.SessionExists(sessionName) {
		if err := e.Tmux.CreateMainSession(sessionName, e.WorkingDir); err != nil {
			res.Error = err.Error()
			_ = e.Agents.Terminate(j.agentID)
			return res
		}
	}
	if j.window > 0 {
		windows, _ := e.Tmux.ListWindows(sessionName)
		exists := false
		for _, w := range windows {
			if w == j.window {
				exists = true
			}
		}
		if !exists {
			if err := e.Tmux.AddExtraWorkerWindow(sessionName, j.window, 2, e.workersPerExtraWindow/2, e.WorkingDir); err != nil {
				res.Error = err.Error()
				_ = e.Agents.Terminate(j.agentID)
				return res
			}
		}
	}
	if err := e.Tmux.SetPaneTitle(target, title); err != nil {
		obslog.ForComponent(obslog.CompBatch).Warn("failed to set pane title", "target", target, "err", err)
	}

	preferredCLI := j.cfg.PreferredCLI
	if preferredCLI == "" {
		preferredCLI = types.CliClaude
	}

	window, pane := j.window, j.pane
	agent := &types.Agent{
		ID:           j.agentID,
		Role:         types.RoleWorker,
		Status:       types.StatusIdle,
		WorkingDir:   e.WorkingDir,
		SessionName:  &sessionName,
		WindowIndex:  &window,
		PaneIndex:    &pane,
		AICli:        preferredCLI,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	e.Agents.Put(agent)

	// 8/9. Branch naming + worktree provisioning.
	branch := j.cfg.Branch
	var worktreePath string
	if j.cfg.EnableWorktree && e.EnableGit {
		branch = worktree.BuildWorkerTaskBranch(baseBranch, j.workerNo, j.cfg.TaskID)
		wt := worktree.New(e.RepoPath, branch)
		if err := wt.Setup(); err != nil {
			// Per spec §4.6: pane stays reserved, agent stays idle, error reported.
			res.Error = err.Error()
			res.Branch = branch
			return res
		}
		worktreePath = wt.WorktreePath
		e.Agents.AssignWorktree(j.agentID, worktreePath)
	}

	res.Branch = branch
	res.WorktreePath = worktreePath

	if err := e.Dashboard.UpdateAgentSummary(j.agentID, types.RoleWorker, types.StatusIdle, ""); err != nil {
		res.Error = err.Error()
		return res
	}

	// 11. Task assign + dispatch.
	if j.cfg.TaskID != "" {
		if err := e.Agents.UpdateAgentStatus(j.agentID, types.StatusBusy, j.cfg.TaskID); err != nil {
			res.Error = err.Error()
			return res
		}
		e.dispatchTask(ctx, agent, j.cfg, branch, worktreePath, &res)
	} else {
		res.DispatchMode = "assigned_no_dispatch"
	}

	res.Success = res.Error == ""
	return res
}

func (e *Engine) dispatchTask(ctx context.Context, agent *types.Agent, cfg WorkerConfig, branch, worktreePath string, res *Result) {
	if cfg.TaskID != "" {
		if err := e.Dashboard.AssignTask(cfg.TaskID, agent.ID, branch, worktreePath); err != nil {
			res.Error = err.Error()
			return
		}
		if err := e.Dashboard.UpdateAgentSummary(agent.ID, agent.Role, types.StatusBusy, cfg.TaskID); err != nil {
			res.Error = err.Error()
			return
		}
	}

	if cfg.TaskContent == "" {
		res.DispatchMode = "assigned_no_dispatch"
		return
	}

	content := renderTaskMarkdown(cfg)
	taskFilePath := filepath.Join(e.TasksDir, agent.ID+".md")
	if err := e.Dashboard.WriteTaskFile(agent.ID, content); err != nil {
		res.Error = err.Error()
		return
	}

	target := paneTarget(agent)
	if worktreePath != "" {
		if err := e.Tmux.SendWithRateLimitToPane(ctx, target, "cd "+tmuxdriver.ShellQuoteForSend(worktreePath), false, false); err != nil {
			res.Error = err.Error()
			return
		}
	}
	isCodex := agent.AICli == types.CliCodex
	dispatch := fmt.Sprintf("実行してください: %s", taskFilePath)
	if err := e.Tmux.SendWithRateLimitToPane(ctx, target, dispatch, false, isCodex); err != nil {
		res.Error = err.Error()
		return
	}

	res.DispatchMode = "dispatched"
	res.TaskSent = true

	_ = e.Dashboard.RecordAPICall(&types.CostCall{
		AICli:     agent.AICli,
		AgentID:   agent.ID,
		TaskID:    cfg.TaskID,
		Source:    "estimated",
		Timestamp: time.Now(),
	})
}

func paneTarget(agent *types.Agent) string {
	if agent.SessionName == nil || agent.WindowIndex == nil || agent.PaneIndex == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d.%d", *agent.SessionName, *agent.WindowIndex, *agent.PaneIndex)
}

// renderTaskMarkdown renders the 7-section task markdown template referenced
// by spec §4.6 step 11.
func renderTaskMarkdown(cfg WorkerConfig) string {
	title := cfg.TaskTitle
	if title == "" {
		title = cfg.TaskID
	}
	sections := []string{
		fmt.Sprintf("# Task: %s\n", title),
		"## Task ID\n" + cfg.TaskID + "\n",
		"## Objective\n" + cfg.TaskContent + "\n",
		"## Branch\n" + cfg.Branch + "\n",
		"## Preferred CLI\n" + string(cfg.PreferredCLI) + "\n",
		"## Checklist\n- [ ] Complete the objective\n- [ ] Report back via task_complete\n",
		"## Notes\n(none)\n",
	}
	out := ""
	for _, s := range sections {
		out += s + "\n"
	}
	return out
}
