package mcpserver

import (
	"context"
	"encoding/json"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpgoserver "github.com/mark3labs/mcp-go/server"

	"github.com/multi-agent-mcp/orchestrator/internal/batch"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/sessionlifecycle"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// registerOrchestrationTools registers the Tier 3 tools: fleet-shaping and
// session-lifecycle operations restricted to Owner/Admin, per spec §6.
func (s *Server) registerOrchestrationTools() {
	createWorkersBatch := gomcp.NewTool("create_workers_batch",
		gomcp.WithDescription("Provision a batch of Workers, reusing idle ones where possible, and dispatch their tasks."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("base_branch", gomcp.Required()),
		gomcp.WithString("worker_configs_json", gomcp.Required(),
			gomcp.Description(`JSON array of {"task_id":"","task_content":"","task_title":"","branch":"","preferred_cli":"","enable_worktree":true}.`)),
		gomcp.WithBoolean("reuse_idle_workers", gomcp.Description("Prefer reassigning idle Workers over creating new ones. Defaults to true.")),
	)
	s.addTool(createWorkersBatch, s.handleCreateWorkersBatch())

	monitorAndRecover := gomcp.NewTool("monitor_and_recover_workers",
		gomcp.WithDescription("Run one healthcheck cycle: check every Worker's tmux session and recover any that died."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
	)
	s.addTool(monitorAndRecover, s.handleMonitorAndRecover())

	fullRecovery := gomcp.NewTool("full_recovery",
		gomcp.WithDescription("Force full recovery of a single Worker: clear its pane, recreate its worktree, and reassign its tasks."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("agent_id", gomcp.Required()),
	)
	s.addTool(fullRecovery, s.handleFullRecovery())

	initWorkspace := gomcp.NewTool("init_tmux_workspace",
		gomcp.WithDescription("Bring up the tmux workspace for a project: stale-session cleanup, directory bootstrap, and session creation."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("project_root", gomcp.Required()),
		gomcp.WithBoolean("open_terminal", gomcp.Description("Launch a terminal window instead of creating the session headless.")),
		gomcp.WithBoolean("auto_setup_gtr", gomcp.Description("Auto-generate .gtrconfig when the gtr CLI is detected.")),
	)
	s.addTool(initWorkspace, s.handleInitWorkspace())

	cleanupSession := gomcp.NewTool("cleanup_session_resources",
		gomcp.WithDescription("Tear down the session: kill tmux sessions, stop the healthcheck daemon, clear IPC/dashboard state and the registry."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("project_root", gomcp.Required()),
		gomcp.WithBoolean("remove_worktrees", gomcp.Description("Also remove git worktrees created for this session.")),
	)
	s.addTool(cleanupSession, s.handleCleanupSession())

	openInTerminal := gomcp.NewTool("open_session_in_terminal",
		gomcp.WithDescription("Report whether a session name is attachable and the exact tmux attach command to use."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("session_name", gomcp.Required()),
	)
	s.addTool(openInTerminal, s.handleOpenSessionInTerminal())
}

func (s *Server) handleCreateWorkersBatch() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		caller, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin)
		if err != nil {
			return toolResult(nil, err)
		}
		baseBranch := req.GetString("base_branch", "")
		if baseBranch == "" {
			return gomcp.NewToolResultError("missing required parameter: base_branch"), nil
		}
		var rawConfigs []struct {
			TaskID         string `json:"task_id"`
			TaskContent    string `json:"task_content"`
			TaskTitle      string `json:"task_title"`
			Branch         string `json:"branch"`
			PreferredCLI   string `json:"preferred_cli"`
			EnableWorktree bool   `json:"enable_worktree"`
		}
		if err := json.Unmarshal([]byte(req.GetString("worker_configs_json", "")), &rawConfigs); err != nil {
			return gomcp.NewToolResultError("invalid worker_configs_json: " + err.Error()), nil
		}
		configs := make([]batch.WorkerConfig, 0, len(rawConfigs))
		for _, c := range rawConfigs {
			configs = append(configs, batch.WorkerConfig{
				TaskID:         c.TaskID,
				TaskContent:    c.TaskContent,
				TaskTitle:      c.TaskTitle,
				Branch:         c.Branch,
				PreferredCLI:   types.AICli(c.PreferredCLI),
				EnableWorktree: c.EnableWorktree,
			})
		}
		reuse := true
		if args := req.GetArguments(); args != nil {
			if v, ok := args["reuse_idle_workers"].(bool); ok {
				reuse = v
			}
		}
		result, err := s.deps.Batch.CreateWorkersBatch(ctx, caller.Role, baseBranch, configs, reuse)
		return toolResult(result, err)
	}
}

func (s *Server) handleMonitorAndRecover() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin); err != nil {
			return toolResult(nil, err)
		}
		result := s.deps.Healthcheck.MonitorAndRecoverWorkers(ctx)
		return toolResult(result, nil)
	}
}

func (s *Server) handleFullRecovery() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin); err != nil {
			return toolResult(nil, err)
		}
		agentID := req.GetString("agent_id", "")
		if agentID == "" {
			return gomcp.NewToolResultError("missing required parameter: agent_id"), nil
		}
		result := s.deps.Healthcheck.FullRecovery(ctx, agentID)
		return toolResult(result, nil)
	}
}

func (s *Server) handleInitWorkspace() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner); err != nil {
			return toolResult(nil, err)
		}
		projectRoot := req.GetString("project_root", "")
		if projectRoot == "" {
			return gomcp.NewToolResultError("missing required parameter: project_root"), nil
		}
		opts := sessionlifecycle.InitOptions{
			OpenTerminal: req.GetBool("open_terminal", false),
			AutoSetupGtr: req.GetBool("auto_setup_gtr", false),
		}
		result, err := s.deps.Lifecycle.InitTmuxWorkspace(projectRoot, opts)
		return toolResult(result, err)
	}
}

func (s *Server) handleCleanupSession() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner); err != nil {
			return toolResult(nil, err)
		}
		projectRoot := req.GetString("project_root", "")
		if projectRoot == "" {
			return gomcp.NewToolResultError("missing required parameter: project_root"), nil
		}
		opts := sessionlifecycle.CleanupOptions{RemoveWorktrees: req.GetBool("remove_worktrees", false)}
		if err := s.deps.Lifecycle.CleanupSessionResources(projectRoot, opts); err != nil {
			return toolResult(nil, err)
		}
		return gomcp.NewToolResultText(`{"success":true}`), nil
	}
}

func (s *Server) handleOpenSessionInTerminal() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin); err != nil {
			return toolResult(nil, err)
		}
		name := req.GetString("session_name", "")
		if !validSessionNameChars(name) {
			return toolResult(nil, orcherr.New(orcherr.KindValidation, "session_name must match [A-Za-z0-9._-]+"))
		}
		exists := s.deps.Tmux.SessionExists(name)
		return toolResult(map[string]any{
			"exists":         exists,
			"attach_command": "tmux attach -t -- " + name,
		}, nil)
	}
}

func validSessionNameChars(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
