package mcpserver

import (
	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// resolveCaller looks up the calling agent's role by caller_agent_id and
// checks it against allowed, per spec §6's "resolve via registry, reject
// with {success:false, error:"…使用禁止…"} if the caller's role is not in
// the allowed set" rule.
func resolveCaller(agents *agentmanager.Manager, callerAgentID string, allowed ...types.Role) (*types.Agent, error) {
	if callerAgentID == "" {
		return nil, orcherr.New(orcherr.KindValidation, "missing required parameter: caller_agent_id")
	}
	caller, err := agents.GetAgent(callerAgentID)
	if err != nil {
		return nil, err
	}
	for _, r := range allowed {
		if caller.Role == r {
			return caller, nil
		}
	}
	return nil, orcherr.New(orcherr.KindInvalidState, "role "+string(caller.Role)+" is 使用禁止 for this operation")
}
