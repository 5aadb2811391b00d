// Package scheduler implements the priority+dependency task scheduler
// described in spec §4.7: a priority heap keyed by (priority, created_at),
// dependency gating against a single Dashboard snapshot per call, and an
// atomic assign/revert protocol.
package scheduler

import (
	"container/heap"
	"sync"

	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// Dashboard is the subset of the dashboard store the scheduler depends on.
type Dashboard interface {
	ListTasks(status *types.TaskStatus, agentID string) ([]*types.Task, error)
	AssignTask(taskID, agentID, branch, worktreePath string) error
}

// AgentManager is the subset of the agent manager the scheduler depends on.
type AgentManager interface {
	GetIdleWorkers() ([]*types.Agent, error)
	SetAgentStatus(agentID string, status types.Status, currentTask string) error
}

// entry is one item in the scheduler's priority heap.
type entry struct {
	task  types.ScheduledTask
	index int
}

type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	wi, wj := h[i].task.Priority.Weight(), h[j].task.Priority.Weight()
	if wi != wj {
		return wi < wj
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler holds the in-memory priority queue of pending task ids and
// coordinates dispatch against the Dashboard and AgentManager.
type Scheduler struct {
	mu        sync.Mutex
	heap      priorityHeap
	byTaskID  map[string]*entry
	dashboard Dashboard
	agents    AgentManager
}

// QueueDepth returns the number of tasks currently waiting in the
// priority heap, for internal/metrics' queue-depth gauge.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

// New builds a Scheduler against the given Dashboard and AgentManager.
func New(dashboard Dashboard, agents AgentManager) *Scheduler {
	return &Scheduler{
		byTaskID:  make(map[string]*entry),
		dashboard: dashboard,
		agents:    agents,
	}
}

// EnqueueTask adds taskID to the priority heap. Duplicate task ids are
// rejected.
func (s *Scheduler) EnqueueTask(task types.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTaskID[task.TaskID]; exists {
		return orcherr.New(orcherr.KindAlreadyExists, "task already enqueued: "+task.TaskID)
	}

	e := &entry{task: task}
	heap.Push(&s.heap, e)
	s.byTaskID[task.TaskID] = e
	return nil
}

// GetNextTask scans the heap in priority order and returns the first task
// whose dependencies are all completed (per a single ListTasks snapshot)
// and which is not already assigned. Returns nil, nil when nothing is ready.
func (s *Scheduler) GetNextTask() (*types.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return nil, nil
	}

	snapshot, err := s.dashboard.ListTasks(nil, "")
	if err != nil {
		return nil, err
	}
	statusByID := make(map[string]types.TaskStatus, len(snapshot))
	assignedByID := make(map[string]bool, len(snapshot))
	for _, t := range snapshot {
		statusByID[t.ID] = t.Status
		if t.AssignedAgentID != "" {
			assignedByID[t.ID] = true
		}
	}

	ordered := make([]*entry, len(s.heap))
	copy(ordered, s.heap)
	sortByHeapOrder(ordered)

	for _, e := range ordered {
		if assignedByID[e.task.TaskID] {
			continue
		}
		ready := true
		for _, dep := range e.task.Dependencies {
			if statusByID[dep] != types.TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			task := e.task
			return &task, nil
		}
	}
	return nil, nil
}

func sortByHeapOrder(entries []*entry) {
	h := priorityHeap(entries)
	// The heap slice is already heap-ordered at index 0, but scanning in
	// strict priority order requires a stable full sort rather than relying
	// on heap array layout beyond the root.
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h.Less(j, j-1); j-- {
			h[j], h[j-1] = h[j-1], h[j]
		}
	}
}

// AssignTask atomically assigns taskID to workerID: marks the agent busy
// with current_task=taskID, then persists the Dashboard assignment. If the
// Dashboard update fails, the agent status is reverted.
func (s *Scheduler) AssignTask(taskID, workerID string) error {
	if err := s.agents.SetAgentStatus(workerID, types.StatusBusy, taskID); err != nil {
		return err
	}

	if err := s.dashboard.AssignTask(taskID, workerID, "", ""); err != nil {
		if revertErr := s.agents.SetAgentStatus(workerID, types.StatusIdle, ""); revertErr != nil {
			obslog.ForComponent(obslog.CompScheduler).Error("failed to revert agent status after assign failure",
				"worker_id", workerID, "task_id", taskID, "revert_err", revertErr)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byTaskID[taskID]; ok {
		s.removeLocked(e)
	}
	return nil
}

// CompleteTask removes taskID from the scheduler's tracked set (it has
// already left the heap at assignment time, but this covers tasks that
// complete without ever having been assigned through this Scheduler).
func (s *Scheduler) CompleteTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byTaskID[taskID]; ok {
		s.removeLocked(e)
	}
}

func (s *Scheduler) removeLocked(e *entry) {
	heap.Remove(&s.heap, e.index)
	delete(s.byTaskID, e.task.TaskID)
}

// RunAutoAssignLoop repeatedly pulls (GetNextTask, an idle worker,
// AssignTask) until either is exhausted. Each successful assignment flips
// the worker to busy before the next iteration reads idle workers, so no
// idle worker receives two tasks in one pass.
func (s *Scheduler) RunAutoAssignLoop() (assigned int, err error) {
	for {
		task, err := s.GetNextTask()
		if err != nil {
			return assigned, err
		}
		if task == nil {
			return assigned, nil
		}

		idle, err := s.agents.GetIdleWorkers()
		if err != nil {
			return assigned, err
		}
		if len(idle) == 0 {
			return assigned, nil
		}

		if err := s.AssignTask(task.TaskID, idle[0].ID); err != nil {
			return assigned, err
		}
		assigned++
	}
}
