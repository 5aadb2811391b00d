// Package mcpserver exposes the orchestrator's operations to AI-CLI
// agents over the Model Context Protocol, per spec §6. Tool
// registration follows the teacher's tiered idiom
// (mcp/server.go + mcp/tools.go): gomcp.NewTool(...) descriptors paired
// with mcpserver.ToolHandlerFunc closures that capture the wired
// managers instead of a package-level singleton.
package mcpserver

import (
	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpgoserver "github.com/mark3labs/mcp-go/server"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/batch"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/healthcheck"
	"github.com/multi-agent-mcp/orchestrator/internal/ipc"
	"github.com/multi-agent-mcp/orchestrator/internal/memory"
	"github.com/multi-agent-mcp/orchestrator/internal/scheduler"
	"github.com/multi-agent-mcp/orchestrator/internal/sessionlifecycle"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
)

const serverInstructions = "You are one agent in a multi-agent orchestration session. " +
	"Other Claude/Codex/Gemini/Cursor agents may be working in parallel on the same " +
	"repository. Check the dashboard and shared messages before editing files other " +
	"agents are already touching, and report task progress through these tools " +
	"rather than assuming your output is observed directly."

// Deps bundles every manager the tool handlers are wired against.
type Deps struct {
	Agents      *agentmanager.Manager
	Dashboard   *dashboard.Store
	IPC         *ipc.Store
	Memory      *memory.Store
	Scheduler   *scheduler.Scheduler
	Batch       *batch.Engine
	Healthcheck *healthcheck.Manager
	Lifecycle   *sessionlifecycle.Lifecycle
	Tmux        *tmuxdriver.Driver
	ProjectRoot string
}

// Server wraps an MCP stdio server configured for one orchestrator session.
type Server struct {
	inner *mcpgoserver.MCPServer
	deps  *Deps
}

// New builds the MCP server and registers every tier of tools.
func New(deps *Deps) *Server {
	s := mcpgoserver.NewMCPServer(
		"multi-agent-orchestrator",
		"0.1.0",
		mcpgoserver.WithInstructions(serverInstructions),
	)
	srv := &Server{inner: s, deps: deps}
	srv.registerReadOnlyTools()
	srv.registerAgentTools()
	srv.registerOrchestrationTools()
	return srv
}

// Serve runs the MCP server over stdio until the client disconnects.
func (s *Server) Serve() error {
	return mcpgoserver.ServeStdio(s.inner)
}

func (s *Server) addTool(tool gomcp.Tool, handler mcpgoserver.ToolHandlerFunc) {
	s.inner.AddTool(tool, handler)
}
