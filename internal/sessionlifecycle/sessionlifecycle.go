// Package sessionlifecycle implements Session Init & Teardown from spec
// §4.12: init_tmux_workspace's nine-step workspace bring-up,
// cleanup_session_resources's ten-step teardown, and stale-session
// detection.
package sessionlifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/fsutil"
	"github.com/multi-agent-mcp/orchestrator/internal/healthcheck"
	"github.com/multi-agent-mcp/orchestrator/internal/ipc"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/registry"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
	"github.com/multi-agent-mcp/orchestrator/internal/worktree"
)

const gtrconfigFilename = ".gtrconfig"

// InitOptions parameterizes InitTmuxWorkspace.
type InitOptions struct {
	WorkingDir   string
	OpenTerminal bool
	AutoSetupGtr bool
	SessionID    string // empty => generate
	EnableGit    *bool  // nil => resolve from config
}

// InitResult reports the outcome of workspace init.
type InitResult struct {
	SessionName string
	SessionID   string
	EnableGit   bool
	Headless    bool
}

// Lifecycle wires together the managers session init/teardown needs.
type Lifecycle struct {
	Tmux       *tmuxdriver.Driver
	Agents     *agentmanager.Manager
	Dashboard  *dashboard.Store
	IPC        *ipc.Store
	Registry   *registry.Global
	Healthcheck *healthcheck.Daemon
}

// New builds a Lifecycle.
func New(tmux *tmuxdriver.Driver, agents *agentmanager.Manager, dash *dashboard.Store, ipcStore *ipc.Store, reg *registry.Global, daemon *healthcheck.Daemon) *Lifecycle {
	return &Lifecycle{Tmux: tmux, Agents: agents, Dashboard: dash, IPC: ipcStore, Registry: reg, Healthcheck: daemon}
}

// mcpDir returns <projectRoot>/.multi-agent-mcp.
func mcpDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".multi-agent-mcp")
}

func sessionDir(projectRoot, sessionID string) string {
	return filepath.Join(mcpDir(projectRoot), sessionID)
}

// InitTmuxWorkspace implements spec §4.12's nine-step workspace bring-up.
func (l *Lifecycle) InitTmuxWorkspace(projectRoot string, opts InitOptions) (*InitResult, error) {
	log := obslog.ForComponent(obslog.CompSession)

	// 1. Resolve effective enable_git.
	cfg, err := registry.LoadProjectConfig(projectRoot, false)
	if err != nil {
		return nil, err
	}
	enableGit := cfg.EnableGit
	if opts.EnableGit != nil {
		enableGit = *opts.EnableGit
	}
	if enableGit {
		if _, err := git.PlainOpen(projectRoot); err != nil {
			return nil, orcherr.New(orcherr.KindInvalidState, "enable_git requested but "+projectRoot+" is not a git repository")
		}
	}

	// 2. Resolve project_name / session name, migrate legacy naming.
	projectName := filepath.Base(projectRoot)
	sessionName := tmuxdriver.SanitizeSessionName(projectName)
	legacyName := "claude_" + projectName
	if l.Tmux.SessionExists(legacyName) && !l.Tmux.SessionExists(sessionName) {
		if err := l.Tmux.RenameSession(legacyName, sessionName); err != nil {
			log.Warn("failed to rename legacy tmux session", "err", err)
		}
	} else if l.Tmux.SessionExists(legacyName) && l.Tmux.SessionExists(sessionName) {
		log.Warn("both legacy and current tmux session names exist; using current", "legacy", legacyName, "current", sessionName)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("sess_%d", time.Now().UnixNano())
	}

	// 3. Stale existing session -> full cleanup, kill, verify gone.
	if l.Tmux.SessionExists(sessionName) {
		if _, err := os.Stat(filepath.Join(sessionDir(projectRoot, cfg.SessionID), "agents.json")); err == nil {
			if err := l.CleanupSessionResources(projectRoot, CleanupOptions{RemoveWorktrees: false}); err != nil {
				log.Warn("stale session cleanup reported errors", "err", err)
			}
		}
		if err := l.Tmux.KillSession(sessionName); err != nil {
			return nil, err
		}
		if l.Tmux.SessionExists(sessionName) {
			return nil, orcherr.New(orcherr.KindInvalidState, "stale tmux session "+sessionName+" could not be removed; manual intervention required")
		}
	}

	// 4/5. Migrate provisional-* session dir.
	if err := l.migrateProvisional(projectRoot, sessionID); err != nil {
		log.Warn("provisional session migration incomplete", "err", err)
	}

	// 6. Optional gtr detection + .gtrconfig auto-generate.
	if opts.AutoSetupGtr {
		if err := ensureGtrconfig(projectRoot); err != nil {
			log.Warn("gtrconfig auto-setup failed", "err", err)
		}
	}

	// 7. Create directories, write .env template, write config.json.
	if err := os.MkdirAll(filepath.Join(mcpDir(projectRoot), "memory"), 0o755); err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "create memory dir", err)
	}
	if err := os.MkdirAll(filepath.Join(mcpDir(projectRoot), "screenshot"), 0o755); err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "create screenshot dir", err)
	}
	if err := writeEnvTemplateIfAbsent(projectRoot); err != nil {
		log.Warn("failed to write .env template", "err", err)
	}
	newCfg := &registry.ProjectConfig{MCPToolPrefix: cfg.MCPToolPrefix, SessionID: sessionID, EnableGit: enableGit}
	if newCfg.MCPToolPrefix == "" {
		newCfg.MCPToolPrefix = "multi_agent"
	}
	if err := registry.SaveProjectConfig(projectRoot, newCfg); err != nil {
		return nil, err
	}

	// 8. Dashboard init happens at the call site (only Owner initializes).

	// 9. Launch terminal or create headless.
	headless := !opts.OpenTerminal
	if headless {
		if !l.Tmux.SessionExists(sessionName) {
			if err := l.Tmux.CreateMainSession(sessionName, opts.WorkingDir); err != nil {
				return nil, err
			}
		}
	}

	return &InitResult{SessionName: sessionName, SessionID: sessionID, EnableGit: enableGit, Headless: headless}, nil
}

func (l *Lifecycle) migrateProvisional(projectRoot, sessionID string) error {
	entries, err := os.ReadDir(mcpDir(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "provisional-") {
			continue
		}
		oldDir := filepath.Join(mcpDir(projectRoot), e.Name())
		newDir := sessionDir(projectRoot, sessionID)
		if err := os.Rename(oldDir, newDir); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "migrate provisional session dir", err)
		}
		return nil
	}
	return nil
}

func ensureGtrconfig(projectRoot string) error {
	if _, err := exec.LookPath("gtr"); err != nil {
		return nil // gtr not installed, nothing to do
	}
	path := filepath.Join(projectRoot, gtrconfigFilename)
	if _, err := os.Stat(path); err == nil {
		return nil // already present
	}
	content := "[project]\nworktree_dir = \".worktrees\"\n"
	return fsutil.AtomicWriteFile(path, []byte(content), 0o644)
}

func writeEnvTemplateIfAbsent(projectRoot string) error {
	path := filepath.Join(mcpDir(projectRoot), ".env")
	if _, err := os.Stat(path); err == nil {
		return nil // preserve existing file
	}
	template := strings.Join([]string{
		"MCP_MODEL_PROFILE_ACTIVE=standard",
		"MCP_TOOL_PREFIX=multi_agent",
		"MCP_ENABLE_GIT=true",
		"MCP_LOG_LEVEL=info",
		"MCP_METRICS_ADDR=",
		"",
	}, "\n")
	return fsutil.AtomicWriteFile(path, []byte(template), 0o600)
}

// CleanupOptions parameterizes CleanupSessionResources.
type CleanupOptions struct {
	RemoveWorktrees bool
}

// CleanupSessionResources implements spec §4.12's ten-step teardown.
func (l *Lifecycle) CleanupSessionResources(projectRoot string, opts CleanupOptions) error {
	log := obslog.ForComponent(obslog.CompSession)
	var errs []error

	// 1. Kill all tmux sessions referenced by the agent map.
	seen := make(map[string]bool)
	for _, role := range []types.Role{types.RoleOwner, types.RoleAdmin, types.RoleWorker} {
		for _, a := range l.Agents.GetAgentsByRole(role) {
			if a.SessionName != nil {
				seen[*a.SessionName] = true
			}
		}
	}
	var names []string
	for n := range seen {
		names = append(names, n)
	}
	if err := l.Tmux.CleanupSessions(names); err != nil {
		errs = append(errs, err)
	}

	// 2. Stop healthcheck daemon.
	if l.Healthcheck != nil {
		l.Healthcheck.Stop(5 * time.Second)
	}

	cfg, cfgErr := registry.LoadProjectConfig(projectRoot, false)

	// 3. IPC cleanup: remove the mailbox tree under the session dir.
	if cfgErr == nil {
		if err := os.RemoveAll(filepath.Join(sessionDir(projectRoot, cfg.SessionID), "ipc")); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	// 4. Dashboard cleanup: remove the snapshot (dashboard/) and task files.
	if l.Dashboard != nil {
		if err := l.Dashboard.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}

	// 5. Remove worktrees.
	if opts.RemoveWorktrees && cfgErr == nil && cfg.EnableGit {
		if err := worktree.CleanupAll(projectRoot); err != nil {
			log.Warn("worktree cleanup reported errors", "err", err)
		}
	}

	// 6. Remove registry entries owned by the current Owner.
	for _, owner := range l.Agents.GetAgentsByRole(types.RoleOwner) {
		if _, err := l.Registry.DeleteByOwner(owner.ID); err != nil {
			errs = append(errs, err)
		}
	}

	// 7. Delete session agents.json.
	if cfgErr == nil {
		agentsPath := filepath.Join(sessionDir(projectRoot, cfg.SessionID), "agents.json")
		if err := os.Remove(agentsPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	// 8. Clear session_id from config.json.
	if cfgErr == nil {
		cfg.SessionID = ""
		if err := registry.SaveProjectConfig(projectRoot, cfg); err != nil {
			errs = append(errs, err)
		}
	}

	// 9. Remove provisional session directories.
	if entries, err := os.ReadDir(mcpDir(projectRoot)); err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), "provisional-") {
				_ = os.RemoveAll(filepath.Join(mcpDir(projectRoot), e.Name()))
			}
		}
	}

	// 10. Reset in-memory AppContext state is the caller's responsibility
	// (it owns the AppContext struct); this package only resets what it
	// directly holds.

	return orcherr.Join(errs...)
}

// DetectStaleSessions enumerates immediate subdirectories of the mcp dir
// and returns those containing agents.json — the sentinel that a previous
// run did not teardown cleanly.
func DetectStaleSessions(projectRoot string) ([]string, error) {
	entries, err := os.ReadDir(mcpDir(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "list mcp dir", err)
	}
	var stale []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(mcpDir(projectRoot), e.Name(), "agents.json")); err == nil {
			stale = append(stale, e.Name())
		}
	}
	return stale, nil
}
