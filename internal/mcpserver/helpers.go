package mcpserver

import (
	"encoding/json"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

func validTaskStatus(st types.TaskStatus) bool {
	switch st {
	case types.TaskPending, types.TaskInProgress, types.TaskCompleted, types.TaskFailed:
		return true
	}
	return false
}

// parseChecklistJSON decodes a JSON array of {"text":"...","done":bool}.
// An empty string is valid and yields a nil checklist (no change).
func parseChecklistJSON(raw string) ([]types.ChecklistItem, error) {
	if raw == "" {
		return nil, nil
	}
	var items []types.ChecklistItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, orcherr.Wrap(orcherr.KindValidation, "invalid checklist_json", err)
	}
	return items, nil
}

// splitTrimmed splits a comma-separated string and returns non-empty
// trimmed parts. Returns nil for empty input.
func splitTrimmed(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getFloatParam extracts a numeric parameter from the raw request
// arguments, since mcp-go surfaces untyped JSON numbers as float64.
func getFloatParam(req gomcp.CallToolRequest, name string, defaultVal int) int {
	if args := req.GetArguments(); args != nil {
		if v, ok := args[name].(float64); ok {
			return int(v)
		}
	}
	return defaultVal
}

// clampInt constrains v to the range [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
