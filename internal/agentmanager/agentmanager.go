// Package agentmanager tracks the in-memory fleet of agents, their
// worktree assignments, and slot allocation within the tmux pane grid, per
// spec §4.5.
package agentmanager

import (
	"sort"
	"sync"
	"time"

	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// mainWindowPaneCapacity is the number of fixed panes (1-6) available to
// Workers in the main window, per spec §4.5's pane grid.
const mainWindowPaneCapacity = 6

// Manager holds the fleet of agents for one session and their worktree
// assignments, mirroring original_source/src/managers/agent_manager.py.
type Manager struct {
	mu          sync.RWMutex
	agents      map[string]*types.Agent
	assignments map[string]string // agent_id -> worktree_path
}

// New builds an empty agent manager.
func New() *Manager {
	return &Manager{
		agents:      make(map[string]*types.Agent),
		assignments: make(map[string]string),
	}
}

// Put registers or replaces an agent record.
func (m *Manager) Put(agent *types.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.ID] = agent
}

// GetAgent returns the agent with the given id.
func (m *Manager) GetAgent(agentID string) (*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, orcherr.New(orcherr.KindNotFound, "agent not found: "+agentID)
	}
	return a, nil
}

// All returns every registered agent, for fleet-wide snapshots such as
// internal/metrics' active-agent gauges.
func (m *Manager) All() []*types.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out
}

// GetAgentsByRole returns every agent with the given role.
func (m *Manager) GetAgentsByRole(role types.Role) []*types.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Agent
	for _, a := range m.agents {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// GetIdleWorkers returns every idle Worker agent.
func (m *Manager) GetIdleWorkers() ([]*types.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Agent
	for _, a := range m.agents {
		if a.Role == types.RoleWorker && a.Status == types.StatusIdle {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetBusyWorkers returns every busy Worker agent.
func (m *Manager) GetBusyWorkers() []*types.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Agent
	for _, a := range m.agents {
		if a.Role == types.RoleWorker && a.Status == types.StatusBusy {
			out = append(out, a)
		}
	}
	return out
}

// IdleWorkersByLastActivity returns idle Workers sorted ascending by
// last_activity, per spec §4.6's reuse-matching order.
func (m *Manager) IdleWorkersByLastActivity() []*types.Agent {
	m.mu.RLock()
	idle := make([]*types.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if a.Role == types.RoleWorker && a.Status == types.StatusIdle {
			idle = append(idle, a)
		}
	}
	m.mu.RUnlock()

	sort.Slice(idle, func(i, j int) bool { return idle[i].LastActivity.Before(idle[j].LastActivity) })
	return idle
}

// NonTerminatedWorkerCount counts Workers whose status is not terminated.
func (m *Manager) NonTerminatedWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.agents {
		if a.Role == types.RoleWorker && a.Status != types.StatusTerminated {
			count++
		}
	}
	return count
}

// AssignWorktree records agentID's worktree assignment.
func (m *Manager) AssignWorktree(agentID, worktreePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[agentID] = worktreePath
	if a, ok := m.agents[agentID]; ok {
		a.WorktreePath = worktreePath
	}
}

// UnassignWorktree clears agentID's worktree assignment.
func (m *Manager) UnassignWorktree(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, agentID)
	if a, ok := m.agents[agentID]; ok {
		a.WorktreePath = ""
	}
}

// GetAssignment returns agentID's assigned worktree path, if any.
func (m *Manager) GetAssignment(agentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.assignments[agentID]
	return path, ok
}

// GetAgentByWorktree finds the agent assigned to worktreePath, if any.
func (m *Manager) GetAgentByWorktree(worktreePath string) (*types.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for agentID, path := range m.assignments {
		if path == worktreePath {
			if a, ok := m.agents[agentID]; ok {
				return a, true
			}
		}
	}
	return nil, false
}

// UpdateAgentStatus updates an agent's status and current task, bumping
// last_activity.
func (m *Manager) UpdateAgentStatus(agentID string, status types.Status, currentTask string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return orcherr.New(orcherr.KindNotFound, "agent not found: "+agentID)
	}
	a.Status = status
	a.CurrentTask = currentTask
	a.LastActivity = time.Now()
	return nil
}

// SetAgentStatus satisfies scheduler.AgentManager — an alias for
// UpdateAgentStatus under the name the scheduler interface expects.
func (m *Manager) SetAgentStatus(agentID string, status types.Status, currentTask string) error {
	return m.UpdateAgentStatus(agentID, status, currentTask)
}

// Terminate marks an agent terminated, freeing its pane slot and worktree
// assignment for reuse per spec §4.5 ("TERMINATED agents' slots are
// reusable immediately").
func (m *Manager) Terminate(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return orcherr.New(orcherr.KindNotFound, "agent not found: "+agentID)
	}
	a.Status = types.StatusTerminated
	delete(m.assignments, agentID)
	return nil
}

// NextWorkerSlot implements spec §4.5's get_next_worker_slot: returns
// (windowIndex, paneIndex) for the next free Worker slot in sessionName, or
// ok=false if at capacity. Probes main-window panes 1..6 first, then walks
// extra windows w=1,2,... with workersPerExtraWindow panes each.
func (m *Manager) NextWorkerSlot(sessionName string, maxWorkers, workersPerExtraWindow int) (window, pane int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if workersPerExtraWindow <= 0 {
		workersPerExtraWindow = 10 // default 2x5 grid
	}

	nonTerminated := 0
	occupied := make(map[types.Slot]bool)
	for _, a := range m.agents {
		if a.Role != types.RoleWorker || a.Status == types.StatusTerminated {
			continue
		}
		nonTerminated++
		if a.OccupiesSlot() && a.Slot().SessionName == sessionName {
			occupied[a.Slot()] = true
		}
	}

	if nonTerminated >= maxWorkers {
		return 0, 0, false
	}

	for p := 1; p <= mainWindowPaneCapacity; p++ {
		slot := types.Slot{SessionName: sessionName, WindowIndex: 0, PaneIndex: p}
		if !occupied[slot] {
			return 0, p, true
		}
	}

	for w := 1; ; w++ {
		for p := 0; p < workersPerExtraWindow; p++ {
			slot := types.Slot{SessionName: sessionName, WindowIndex: w, PaneIndex: p}
			if !occupied[slot] {
				return w, p, true
			}
		}
		// Safety: never probe past what maxWorkers could possibly require.
		if (w+1)*workersPerExtraWindow+mainWindowPaneCapacity > maxWorkers*2 {
			return 0, 0, false
		}
	}
}

// WorkerNumberForSlot maps a pane slot to its 1-based worker number, per
// spec §4.6: window 0 pane p => worker p; window w>=1 pane p =>
// 6 + (w-1)*workersPerExtraWindow + p + 1.
func WorkerNumberForSlot(window, pane, workersPerExtraWindow int) int {
	if window == 0 {
		return pane
	}
	if workersPerExtraWindow <= 0 {
		workersPerExtraWindow = 10
	}
	return mainWindowPaneCapacity + (window-1)*workersPerExtraWindow + pane + 1
}
