package mcpserver

import (
	"context"
	"encoding/json"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpgoserver "github.com/mark3labs/mcp-go/server"

	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

func toolResult(v any, err error) (*gomcp.CallToolResult, error) {
	if err != nil {
		return gomcp.NewToolResultError(err.Error()), nil
	}
	data, merr := json.MarshalIndent(v, "", "  ")
	if merr != nil {
		return gomcp.NewToolResultError(merr.Error()), nil
	}
	return gomcp.NewToolResultText(string(data)), nil
}

// registerReadOnlyTools registers tools any agent may call regardless of role.
func (s *Server) registerReadOnlyTools() {
	listTasks := gomcp.NewTool("list_tasks",
		gomcp.WithDescription("List tasks in the dashboard, optionally filtered by status or assigned agent."),
		gomcp.WithString("status", gomcp.Description("Filter by task status: pending, in_progress, completed, or failed.")),
		gomcp.WithString("agent_id", gomcp.Description("Filter by assigned agent id.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.addTool(listTasks, s.handleListTasks())

	getDashboardSummary := gomcp.NewTool("get_dashboard_summary",
		gomcp.WithDescription("See current pending/in-progress task counts for this session."),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.addTool(getDashboardSummary, s.handleGetDashboardSummary())

	readMessages := gomcp.NewTool("read_messages",
		gomcp.WithDescription("Read messages addressed to an agent's mailbox."),
		gomcp.WithString("agent_id", gomcp.Required(), gomcp.Description("The mailbox owner's agent id.")),
		gomcp.WithBoolean("unread_only", gomcp.Description("Only return unread messages. Defaults to false.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.addTool(readMessages, s.handleReadMessages())

	queryMemory := gomcp.NewTool("query_memory",
		gomcp.WithDescription("Search recorded project knowledge by free-text query and/or tags."),
		gomcp.WithString("query", gomcp.Description("Free-text substring to search for in key/content.")),
		gomcp.WithString("tags", gomcp.Description("Comma-separated tags that must all be present.")),
		gomcp.WithNumber("limit", gomcp.Description("Maximum entries to return. Defaults to 20.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.addTool(queryMemory, s.handleQueryMemory())

	getQueueStatus := gomcp.NewTool("get_queue_status",
		gomcp.WithDescription("Peek the scheduler's next dispatchable task without claiming it."),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.addTool(getQueueStatus, s.handleGetQueueStatus())
}

func (s *Server) handleListTasks() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var status *types.TaskStatus
		if v := req.GetString("status", ""); v != "" {
			ts := types.TaskStatus(v)
			status = &ts
		}
		agentID := req.GetString("agent_id", "")
		tasks, err := s.deps.Dashboard.ListTasks(status, agentID)
		return toolResult(tasks, err)
	}
}

func (s *Server) handleGetDashboardSummary() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		return toolResult(s.deps.Dashboard.GetSummary(), nil)
	}
}

func (s *Server) handleReadMessages() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		agentID := req.GetString("agent_id", "")
		if agentID == "" {
			return gomcp.NewToolResultError("missing required parameter: agent_id"), nil
		}
		unreadOnly := req.GetBool("unread_only", false)
		msgs, err := s.deps.IPC.ReadMessages(agentID, unreadOnly, nil, true)
		return toolResult(msgs, err)
	}
}

func (s *Server) handleQueryMemory() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		q := req.GetString("query", "")
		limit := getFloatParam(req, "limit", 20)
		var tags []string
		if v := req.GetString("tags", ""); v != "" {
			tags = splitTrimmed(v)
		}
		entries, err := s.deps.Memory.Search(q, tags, limit)
		return toolResult(entries, err)
	}
}

func (s *Server) handleGetQueueStatus() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		next, err := s.deps.Scheduler.GetNextTask()
		if err != nil {
			return toolResult(nil, err)
		}
		if next == nil {
			return gomcp.NewToolResultText(`{"next_task":null}`), nil
		}
		return toolResult(map[string]any{"next_task": next}, nil)
	}
}
