package mcpserver

import (
	"context"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpgoserver "github.com/mark3labs/mcp-go/server"

	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// registerAgentTools registers the Tier 2 tools any registered agent
// (Owner, Admin, or Worker) may call once caller_agent_id resolves to a
// live agent record.
func (s *Server) registerAgentTools() {
	createTask := gomcp.NewTool("create_task",
		gomcp.WithDescription("Create a new task in the dashboard."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("title", gomcp.Required()),
		gomcp.WithString("description", gomcp.Description("Task description body.")),
	)
	s.addTool(createTask, s.handleCreateTask())

	updateTaskStatus := gomcp.NewTool("update_task_status",
		gomcp.WithDescription("Transition a task's status, recording progress and/or error_message."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("task_id", gomcp.Required()),
		gomcp.WithString("status", gomcp.Required(), gomcp.Description("pending, in_progress, completed, or failed.")),
		gomcp.WithNumber("progress", gomcp.Description("0-100.")),
		gomcp.WithString("error_message", gomcp.Description("Set when status=failed.")),
	)
	s.addTool(updateTaskStatus, s.handleUpdateTaskStatus())

	updateChecklist := gomcp.NewTool("update_task_checklist",
		gomcp.WithDescription("Replace a task's checklist items and optionally append a log line."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("task_id", gomcp.Required()),
		gomcp.WithString("checklist_json", gomcp.Description(`JSON array of {"text":"...","done":bool}.`)),
		gomcp.WithString("log_message", gomcp.Description("Appended to the task's retained log lines.")),
	)
	s.addTool(updateChecklist, s.handleUpdateTaskChecklist())

	sendMessage := gomcp.NewTool("send_message",
		gomcp.WithDescription("Send a message to another agent's mailbox, or broadcast when receiver_id is omitted."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("receiver_id", gomcp.Description("Target agent id. Omit to broadcast to every other agent.")),
		gomcp.WithString("content", gomcp.Required()),
		gomcp.WithString("subject", gomcp.Description("Message subject line.")),
		gomcp.WithString("message_type", gomcp.Description("task_assign, task_complete, task_progress, info, or error. Defaults to info.")),
		gomcp.WithString("priority", gomcp.Description("low, normal, high, or urgent. Defaults to normal.")),
	)
	s.addTool(sendMessage, s.handleSendMessage())

	recordMemory := gomcp.NewTool("record_memory",
		gomcp.WithDescription("Record a discovery or decision under a key for other agents to find via query_memory."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("key", gomcp.Required()),
		gomcp.WithString("content", gomcp.Required()),
		gomcp.WithString("tags", gomcp.Description("Comma-separated tags.")),
	)
	s.addTool(recordMemory, s.handleRecordMemory())

	enqueueTask := gomcp.NewTool("enqueue_task",
		gomcp.WithDescription("Add a task to the priority scheduler queue."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("task_id", gomcp.Required()),
		gomcp.WithString("priority", gomcp.Description("low, normal, high, or urgent. Defaults to normal.")),
		gomcp.WithString("dependencies", gomcp.Description("Comma-separated task ids that must complete first.")),
	)
	s.addTool(enqueueTask, s.handleEnqueueTask())

	getNextTask := gomcp.NewTool("get_next_task",
		gomcp.WithDescription("Return the next dispatchable task from the scheduler queue without assigning it."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
	)
	s.addTool(getNextTask, s.handleGetNextTask())

	completeTask := gomcp.NewTool("complete_task",
		gomcp.WithDescription("Mark a scheduled task complete, unblocking its dependents."),
		gomcp.WithString("caller_agent_id", gomcp.Required()),
		gomcp.WithString("task_id", gomcp.Required()),
	)
	s.addTool(completeTask, s.handleCompleteTask())
}

func (s *Server) handleCreateTask() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin, types.RoleWorker); err != nil {
			return toolResult(nil, err)
		}
		title := req.GetString("title", "")
		if title == "" {
			return gomcp.NewToolResultError("missing required parameter: title"), nil
		}
		task, err := s.deps.Dashboard.CreateTask(title, req.GetString("description", ""), nil)
		return toolResult(task, err)
	}
}

func (s *Server) handleUpdateTaskStatus() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin, types.RoleWorker); err != nil {
			return toolResult(nil, err)
		}
		taskID := req.GetString("task_id", "")
		status := types.TaskStatus(req.GetString("status", ""))
		if taskID == "" || !validTaskStatus(status) {
			return gomcp.NewToolResultError("task_id and a valid status are required"), nil
		}
		var progress *int
		if args := req.GetArguments(); args != nil {
			if v, ok := args["progress"].(float64); ok {
				p := int(v)
				progress = &p
			}
		}
		var errMsg *string
		if v := req.GetString("error_message", ""); v != "" {
			errMsg = &v
		}
		err := s.deps.Dashboard.UpdateTaskStatus(taskID, status, progress, errMsg)
		if err != nil {
			return toolResult(nil, err)
		}
		return gomcp.NewToolResultText(`{"success":true}`), nil
	}
}

func (s *Server) handleUpdateTaskChecklist() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin, types.RoleWorker); err != nil {
			return toolResult(nil, err)
		}
		taskID := req.GetString("task_id", "")
		if taskID == "" {
			return gomcp.NewToolResultError("missing required parameter: task_id"), nil
		}
		checklist, err := parseChecklistJSON(req.GetString("checklist_json", ""))
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		if err := s.deps.Dashboard.UpdateTaskChecklist(taskID, checklist, req.GetString("log_message", "")); err != nil {
			return toolResult(nil, err)
		}
		return gomcp.NewToolResultText(`{"success":true}`), nil
	}
}

func (s *Server) handleSendMessage() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		caller, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin, types.RoleWorker)
		if err != nil {
			return toolResult(nil, err)
		}
		content := req.GetString("content", "")
		if content == "" {
			return gomcp.NewToolResultError("missing required parameter: content"), nil
		}
		var receiver *string
		if v := req.GetString("receiver_id", ""); v != "" {
			receiver = &v
		}
		msgType := types.MessageType(req.GetString("message_type", string(types.MessageInfo)))
		priority := types.Priority(req.GetString("priority", string(types.PriorityNormal)))
		msg, err := s.deps.IPC.SendMessage(caller.ID, receiver, msgType, content, req.GetString("subject", ""), priority, nil)
		return toolResult(msg, err)
	}
}

func (s *Server) handleRecordMemory() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin, types.RoleWorker); err != nil {
			return toolResult(nil, err)
		}
		key := req.GetString("key", "")
		content := req.GetString("content", "")
		if key == "" || content == "" {
			return gomcp.NewToolResultError("key and content are required"), nil
		}
		entry, err := s.deps.Memory.Put(key, content, splitTrimmed(req.GetString("tags", "")), nil)
		return toolResult(entry, err)
	}
}

func (s *Server) handleEnqueueTask() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin); err != nil {
			return toolResult(nil, err)
		}
		taskID := req.GetString("task_id", "")
		if taskID == "" {
			return gomcp.NewToolResultError("missing required parameter: task_id"), nil
		}
		priority := types.Priority(req.GetString("priority", string(types.PriorityNormal)))
		st := types.ScheduledTask{
			TaskID:       taskID,
			Priority:     priority,
			CreatedAt:    time.Now(),
			Dependencies: splitTrimmed(req.GetString("dependencies", "")),
		}
		if err := s.deps.Scheduler.EnqueueTask(st); err != nil {
			return toolResult(nil, err)
		}
		return gomcp.NewToolResultText(`{"success":true}`), nil
	}
}

func (s *Server) handleGetNextTask() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin); err != nil {
			return toolResult(nil, err)
		}
		task, err := s.deps.Scheduler.GetNextTask()
		if err != nil {
			return toolResult(nil, err)
		}
		if task == nil {
			return gomcp.NewToolResultText(`{"task":null}`), nil
		}
		return toolResult(map[string]any{"task": task}, nil)
	}
}

func (s *Server) handleCompleteTask() mcpgoserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := resolveCaller(s.deps.Agents, req.GetString("caller_agent_id", ""), types.RoleOwner, types.RoleAdmin, types.RoleWorker); err != nil {
			return toolResult(nil, err)
		}
		taskID := req.GetString("task_id", "")
		if taskID == "" {
			return gomcp.NewToolResultError("missing required parameter: task_id"), nil
		}
		s.deps.Scheduler.CompleteTask(taskID)
		return gomcp.NewToolResultText(`{"success":true}`), nil
	}
}
