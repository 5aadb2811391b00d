// Package appctx wires every manager package into one explicit AppContext,
// per SPEC_FULL.md §9's "no package-level singletons" design note: every
// manager constructor takes its dependencies by parameter, and AppContext
// owns the wired managers; the MCP tool handlers receive them through
// mcpserver.Deps rather than through AppContext. Grounded on the teacher's explicit
// constructor-injection style (NewTmuxSessionWithDeps, NewWorkerPool) and
// its concurrency/orchestrator.go coordinator, which this generalizes into
// AppContext's single sync.Mutex guarding fleet-wide state transitions.
package appctx

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/batch"
	"github.com/multi-agent-mcp/orchestrator/internal/costcapture"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/healthcheck"
	"github.com/multi-agent-mcp/orchestrator/internal/ipc"
	"github.com/multi-agent-mcp/orchestrator/internal/mcpserver"
	"github.com/multi-agent-mcp/orchestrator/internal/memory"
	"github.com/multi-agent-mcp/orchestrator/internal/metrics"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/projectconfig"
	"github.com/multi-agent-mcp/orchestrator/internal/registry"
	"github.com/multi-agent-mcp/orchestrator/internal/scheduler"
	"github.com/multi-agent-mcp/orchestrator/internal/sessionlifecycle"
	"github.com/multi-agent-mcp/orchestrator/internal/settings"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
)

// AppContext holds every live manager for one orchestrator process against
// one project. Its mutex is the process-wide cooperative-scheduler lock
// from spec §5, guarding operations that must not interleave (session
// init/cleanup, fleet-shaping) beyond what each manager's own internal
// locking already covers.
type AppContext struct {
	mu sync.Mutex

	ProjectRoot string
	SessionID   string
	SessionDir  string

	Settings *settings.Settings
	Registry *registry.Global

	Tmux        *tmuxdriver.Driver
	Agents      *agentmanager.Manager
	Dashboard   *dashboard.Store
	IPC         *ipc.Store
	Memory      *memory.Store
	Scheduler   *scheduler.Scheduler
	Batch       *batch.Engine
	Healthcheck *healthcheck.Manager
	Daemon      *healthcheck.Daemon
	Lifecycle   *sessionlifecycle.Lifecycle
	CostCapture *costcapture.Capturer
	Config      *projectconfig.Watcher
	Metrics     *metrics.Collector
}

// Lock acquires the process-wide cooperative lock. Call around fleet-shaping
// sequences (batch creation, session init/cleanup) that span several
// manager calls and must not interleave with one another.
func (a *AppContext) Lock() { a.mu.Lock() }

// Unlock releases the process-wide cooperative lock.
func (a *AppContext) Unlock() { a.mu.Unlock() }

// New builds an AppContext for projectRoot: loads settings and the project
// config, resolves the session directory, and constructs every manager
// wired against the ones it depends on, in dependency order.
func New(projectRoot string) (*AppContext, error) {
	st, err := settings.Load(projectRoot)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "load settings", err)
	}
	proj, err := registry.LoadProjectConfig(projectRoot, false)
	if err != nil {
		return nil, err
	}
	if proj.SessionID == "" {
		return nil, orcherr.New(orcherr.KindInvalidState, "no active session_id in config.json; run init_tmux_workspace first")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "resolve home directory", err)
	}
	reg := registry.NewGlobal(home)

	sessionDir := filepath.Join(projectRoot, ".multi-agent-mcp", proj.SessionID)

	tmux := tmuxdriver.New()
	agents := agentmanager.New()
	dash := dashboard.NewStore(sessionDir, proj.SessionID)
	ipcStore := ipc.NewStore(filepath.Join(sessionDir, "ipc"))
	mem := memory.NewStore(filepath.Join(projectRoot, ".multi-agent-mcp", "memory"), 500, 30, true)
	sched := scheduler.New(dash, agents)

	sessionName := tmuxdriver.SanitizeSessionName(filepath.Base(projectRoot))
	batchEngine := batch.NewEngine(dash, agents, tmux, sessionName, projectRoot, projectRoot, proj.SessionID,
		filepath.Join(sessionDir, "tasks"), proj.EnableGit, st.Profile)

	hc := healthcheck.New(tmux, agents, dash, projectRoot, proj.EnableGit)
	daemon := healthcheck.NewDaemon(hc, 30, 10, nil)

	lifecycle := sessionlifecycle.New(tmux, agents, dash, ipcStore, reg, daemon)
	capturer := costcapture.New(tmux, agents, dash, st.Profile)

	cfgWatcher, err := projectconfig.New(projectRoot)
	if err != nil {
		obslog.ForComponent(obslog.CompConfig).Warn("appctx: initial projectconfig load failed", "error", err)
	}

	collector := metrics.NewCollector(agents, sched, hc, dash)

	return &AppContext{
		ProjectRoot: projectRoot,
		SessionID:   proj.SessionID,
		SessionDir:  sessionDir,
		Settings:    st,
		Registry:    reg,
		Tmux:        tmux,
		Agents:      agents,
		Dashboard:   dash,
		IPC:         ipcStore,
		Memory:      mem,
		Scheduler:   sched,
		Batch:       batchEngine,
		Healthcheck: hc,
		Daemon:      daemon,
		Lifecycle:   lifecycle,
		CostCapture: capturer,
		Config:      cfgWatcher,
		Metrics:     collector,
	}, nil
}

// MCPDeps adapts AppContext's managers into mcpserver.Deps for server
// construction.
func (a *AppContext) MCPDeps() *mcpserver.Deps {
	return &mcpserver.Deps{
		Agents:      a.Agents,
		Dashboard:   a.Dashboard,
		IPC:         a.IPC,
		Memory:      a.Memory,
		Scheduler:   a.Scheduler,
		Batch:       a.Batch,
		Healthcheck: a.Healthcheck,
		Lifecycle:   a.Lifecycle,
		Tmux:        a.Tmux,
		ProjectRoot: a.ProjectRoot,
	}
}

// RunBackgroundLoops starts the healthcheck daemon, the metrics collector,
// the config hot-reload watcher, and the metrics HTTP endpoint (if
// configured), all tied to ctx's lifetime.
func (a *AppContext) RunBackgroundLoops(ctx context.Context) {
	a.Daemon.Start(ctx)
	go metrics.RunCollectLoop(ctx, a.Metrics, 15*time.Second)
	if a.Config != nil {
		go a.Config.Run(ctx)
	}
	if a.Settings.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, a.Settings.MetricsAddr); err != nil {
				obslog.ForComponent(obslog.CompMetrics).Error("metrics server stopped", "error", err)
			}
		}()
	}
}
