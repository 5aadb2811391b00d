// Package healthcheck implements the Healthcheck Manager & Daemon described
// in spec §4.11: tmux-session-existence liveness checks, Worker full
// recovery (worktree recreate with hash-suffix retry), a mutex-guarded
// daemon loop with consecutive-error thresholds (a warning is logged at the
// reinit threshold, nothing is reinitialized; the loop stops at the stop
// threshold), and idle auto-stop.
package healthcheck

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
	"github.com/multi-agent-mcp/orchestrator/internal/worktree"
)

const (
	consecutiveErrorReinitThreshold = 3
	consecutiveErrorStopThreshold   = 5
)

// Dashboard is the subset of the dashboard store the healthcheck manager
// depends on.
type Dashboard interface {
	ListTasks(status *types.TaskStatus, agentID string) ([]*types.Task, error)
	AssignTask(taskID, agentID, branch, worktreePath string) error
	UpdateAgentSummary(agentID string, role types.Role, status types.Status, currentTaskID string) error
	RemoveAgentSummary(agentID string) error
	GetSummary() dashboard.Summary
}

// Status is the liveness verdict for one agent.
type Status struct {
	AgentID          string
	Healthy          bool
	TmuxSessionAlive bool
	ErrorMessage     string
}

// RecoveryResult is one Worker's full_recovery outcome.
type RecoveryResult struct {
	AgentID        string
	Status         string // "recovered" | "failed" | "blocked"
	NewAgentID     string
	NewWorktreePath string
}

// CycleResult aggregates one monitor_and_recover_workers pass.
type CycleResult struct {
	Recovered   []RecoveryResult
	Escalated   []RecoveryResult
	FailedTasks []string
	Skipped     []string
}

// Manager performs per-agent and fleet-wide health checks and Worker
// recovery, grounded on original_source's HealthcheckManager.
type Manager struct {
	Tmux      *tmuxdriver.Driver
	Agents    *agentmanager.Manager
	Dashboard Dashboard
	RepoPath  string
	EnableGit bool

	workersPerExtraWindow int
	recoveries            atomic.Int64
}

// RecoveryCount returns the number of successful FullRecovery calls since
// the Manager was created, for internal/metrics' recovery counter.
func (m *Manager) RecoveryCount() int64 {
	return m.recoveries.Load()
}

// New builds a healthcheck Manager.
func New(tmux *tmuxdriver.Driver, agents *agentmanager.Manager, dashboard Dashboard, repoPath string, enableGit bool) *Manager {
	return &Manager{Tmux: tmux, Agents: agents, Dashboard: dashboard, RepoPath: repoPath, EnableGit: enableGit, workersPerExtraWindow: 10}
}

// CheckAgent determines liveness from tmux session existence alone — the
// sole liveness signal per spec §4.11 ("no heartbeats").
func (m *Manager) CheckAgent(agentID string) Status {
	agent, err := m.Agents.GetAgent(agentID)
	if err != nil {
		return Status{AgentID: agentID, ErrorMessage: "agent not found"}
	}
	if agent.SessionName == nil {
		return Status{AgentID: agentID, ErrorMessage: "no session_name set"}
	}
	alive := m.Tmux.SessionExists(*agent.SessionName)
	st := Status{AgentID: agentID, Healthy: alive, TmuxSessionAlive: alive}
	if !alive {
		st.ErrorMessage = "tmux session not found"
	}
	return st
}

// MonitorAndRecoverWorkers runs CheckAgent over every non-terminated Worker,
// triggering FullRecovery for unhealthy ones.
func (m *Manager) MonitorAndRecoverWorkers(ctx context.Context) CycleResult {
	var result CycleResult
	for _, a := range m.Agents.GetAgentsByRole(types.RoleWorker) {
		if a.Status == types.StatusTerminated {
			continue
		}
		status := m.CheckAgent(a.ID)
		if status.Healthy {
			continue
		}
		rec := m.FullRecovery(ctx, a.ID)
		switch rec.Status {
		case "recovered":
			result.Recovered = append(result.Recovered, rec)
		case "blocked":
			result.Skipped = append(result.Skipped, a.ID)
		default:
			result.Escalated = append(result.Escalated, rec)
			result.FailedTasks = append(result.FailedTasks, a.CurrentTask)
		}
	}
	return result
}

// FullRecovery implements spec §4.11's full_recovery for a Worker agent.
func (m *Manager) FullRecovery(ctx context.Context, agentID string) RecoveryResult {
	res := RecoveryResult{AgentID: agentID}

	agent, err := m.Agents.GetAgent(agentID)
	if err != nil {
		res.Status = "failed"
		return res
	}
	if agent.Role != types.RoleWorker {
		res.Status = "failed"
		return res
	}

	// 1. Snapshot old state and reassignable tasks.
	oldBranch := agent.Branch
	oldSessionName := agent.SessionName
	oldWindow := agent.WindowIndex
	oldPane := agent.PaneIndex
	oldAICli := agent.AICli

	var reassignable []*types.Task
	if tasks, err := m.Dashboard.ListTasks(nil, agentID); err == nil {
		for _, t := range tasks {
			if t.Status != types.TaskCompleted && t.Status != types.TaskFailed {
				reassignable = append(reassignable, t)
			}
		}
	}

	// 2. Clear pane, remove agent from map.
	if oldSessionName != nil && oldWindow != nil && oldPane != nil {
		target := fmt.Sprintf("%s:%d.%d", *oldSessionName, *oldWindow, *oldPane)
		_ = m.Tmux.SendKeysToPane(target, "C-c")
		_ = m.Tmux.SendKeysToPane(target, "clear")
	}
	_ = m.Agents.Terminate(agentID)
	_ = m.Dashboard.RemoveAgentSummary(agentID)

	// 3. Recreate worktree on the same branch, with hash-suffix retry.
	var newWorktreePath string
	if m.EnableGit && oldBranch != "" {
		wt, err := worktree.SetupWithHashRetry(m.RepoPath, oldBranch, 2, hashSuffix)
		if err != nil {
			if orcherr.KindOf(err) == orcherr.KindUnavailable {
				res.Status = "blocked"
			} else {
				res.Status = "failed"
			}
			return res
		}
		newWorktreePath = wt.WorktreePath
	}

	// 5. Allocate a new Worker id, reuse the same pane slot.
	newAgentID := uuid.NewString()
	newAgent := &types.Agent{
		ID:           newAgentID,
		Role:         types.RoleWorker,
		Status:       types.StatusIdle,
		WorkingDir:   newWorktreePath,
		WorktreePath: newWorktreePath,
		Branch:       oldBranch,
		SessionName:  oldSessionName,
		WindowIndex:  oldWindow,
		PaneIndex:    oldPane,
		AICli:        oldAICli,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	m.Agents.Put(newAgent)

	if oldSessionName != nil && oldWindow != nil && oldPane != nil {
		target := fmt.Sprintf("%s:%d.%d", *oldSessionName, *oldWindow, *oldPane)
		title := fmt.Sprintf("worker-%d", agentmanager.WorkerNumberForSlot(*oldWindow, *oldPane, m.workersPerExtraWindow))
		_ = m.Tmux.SetPaneTitle(target, title)
		if newWorktreePath != "" {
			_ = m.Tmux.SendWithRateLimitToPane(ctx, target, "cd "+tmuxdriver.ShellQuoteForSend(newWorktreePath), false, false)
		}
	}

	for _, t := range reassignable {
		_ = m.Dashboard.AssignTask(t.ID, newAgentID, oldBranch, newWorktreePath)
	}
	_ = m.Dashboard.UpdateAgentSummary(newAgentID, types.RoleWorker, types.StatusIdle, "")

	res.Status = "recovered"
	res.NewAgentID = newAgentID
	res.NewWorktreePath = newWorktreePath
	m.recoveries.Add(1)
	return res
}

func hashSuffix(attempt int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("recovery-%d-%d", attempt, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])[:6]
}

// Daemon runs the MonitorAndRecoverWorkers loop on an interval, with
// consecutive-error thresholds (warning log at the first, stop at the
// second; the Manager is not reset) and idle auto-stop, per
// spec §4.11, grounded on the teacher's HealthMonitor start/stop/context
// cancellation idiom.
type Daemon struct {
	manager        *Manager
	intervalSeconds int
	idleStopAfter  int

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	idleCycles int
	onStop   func(reason string)
}

// NewDaemon builds a Daemon over manager.
func NewDaemon(manager *Manager, intervalSeconds, idleStopAfter int, onStop func(reason string)) *Daemon {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	if idleStopAfter <= 0 {
		idleStopAfter = 3
	}
	return &Daemon{manager: manager, intervalSeconds: intervalSeconds, idleStopAfter: idleStopAfter, onStop: onStop}
}

// Start begins the daemon loop. Concurrent starts while already running
// return false, per spec §4.11's start-mutex guard.
func (d *Daemon) Start(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	d.idleCycles = 0
	go d.loop(runCtx)
	return true
}

// IsRunning reports whether the daemon loop is active.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stop cancels the daemon loop's context and waits up to timeout for the
// loop to exit. It returns true after the timeout even if the loop has not
// exited yet.
func (d *Daemon) Stop(timeout time.Duration) bool {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return false
	}
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
	}
	return true
}

func (d *Daemon) loop(ctx context.Context) {
	log := obslog.ForComponent(obslog.CompHealthcheck)
	defer func() {
		d.mu.Lock()
		d.running = false
		d.idleCycles = 0
		close(d.done)
		d.mu.Unlock()
	}()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, fatal, err := d.runCycleRecovering(ctx)
		if fatal {
			log.Error("healthcheck daemon stopped on fatal error", "err", err)
			if d.onStop != nil {
				d.onStop("fatal_exception")
			}
			return
		}
		if err != nil {
			consecutiveErrors++
			log.Warn("healthcheck cycle error", "consecutive", consecutiveErrors, "err", err)
			if consecutiveErrors >= consecutiveErrorStopThreshold {
				log.Error("healthcheck daemon stopped: too many consecutive errors", "consecutive", consecutiveErrors)
				if d.onStop != nil {
					d.onStop("consecutive_errors")
				}
				return
			}
			if consecutiveErrors >= consecutiveErrorReinitThreshold {
				log.Warn("healthcheck daemon reached the consecutive-error reinit threshold", "consecutive", consecutiveErrors)
			}
		} else {
			consecutiveErrors = 0
			if len(result.Escalated) > 0 || len(result.FailedTasks) > 0 {
				log.Warn("healthcheck cycle completed with issues",
					"recovered", len(result.Recovered), "escalated", len(result.Escalated), "failed", len(result.FailedTasks))
			}
		}

		stop, checkErr := d.checkAutoStop()
		if checkErr != nil {
			log.Error("auto-stop check failed, stopping daemon", "err", checkErr)
			if d.onStop != nil {
				d.onStop("auto_stop_check_failed")
			}
			return
		}
		if stop {
			log.Info("healthcheck daemon auto-stopped (idle)", "idle_cycles", d.idleCycles)
			if d.onStop != nil {
				d.onStop("auto_stop_idle")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(d.intervalSeconds) * time.Second):
		}
	}
}

// runCycleRecovering invokes MonitorAndRecoverWorkers, reporting whether the
// failure (if any) is one of the fatal exception classes spec §4.11 names
// (missing dependency / type mismatch) that must stop the daemon immediately
// rather than incrementing the consecutive-error counter. Go's static
// typing eliminates most of those classes at compile time; this remains a
// narrow hook for panics recovered from the cycle.
func (d *Daemon) runCycleRecovering(ctx context.Context) (result CycleResult, fatal bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal = true
			err = fmt.Errorf("panic in healthcheck cycle: %v", r)
		}
	}()
	result = d.manager.MonitorAndRecoverWorkers(ctx)
	return result, false, nil
}

func (d *Daemon) checkAutoStop() (bool, error) {
	summary := d.manager.Dashboard.GetSummary()
	if summary.PendingTasks > 0 {
		d.idleCycles = 0
		return false, nil
	}

	workers := d.manager.Agents.GetAgentsByRole(types.RoleWorker)
	nonTerminated := 0
	allIdle := true
	for _, w := range workers {
		if w.Status == types.StatusTerminated {
			continue
		}
		nonTerminated++
		if w.Status != types.StatusIdle || w.CurrentTask != "" {
			allIdle = false
		}
	}

	idle := nonTerminated == 0 || (allIdle && summary.InProgressTasks == 0)
	if !idle {
		d.idleCycles = 0
		return false, nil
	}
	d.idleCycles++
	return d.idleCycles >= d.idleStopAfter, nil
}
