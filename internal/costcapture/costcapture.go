// Package costcapture scrapes a Claude pane's statusLine for actual
// dollar cost and records it against the dashboard's cost ledger, per
// spec §4.13. Non-Claude CLIs never expose this statusLine and are
// skipped outright.
package costcapture

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/settings"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

var statuslinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`💰\s*\$\s*([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`(?i)cost[^$\n]*\$\s*([0-9]+(?:\.[0-9]+)?)`),
	regexp.MustCompile(`(?i)\$\s*([0-9]+(?:\.[0-9]+)?)\s*cost`),
}

// ExtractClaudeStatuslineCost scans output line by line from the bottom
// up and returns the first dollar amount it matches, along with the
// full status line it matched on. It returns false when no line
// matches any pattern.
func ExtractClaudeStatuslineCost(output string) (amount float64, statusLine string, ok bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		for _, p := range statuslinePatterns {
			m := p.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			return v, strings.TrimSpace(line), true
		}
	}
	return 0, "", false
}

// Dashboard is the subset of dashboard.Store this package needs.
type Dashboard interface {
	RecordAPICall(call *types.CostCall) error
	IsDuplicateCostCall(agentID, statusLine string) bool
}

// Capturer captures actual Claude costs from a live tmux pane.
type Capturer struct {
	Tmux      *tmuxdriver.Driver
	Agents    *agentmanager.Manager
	Dashboard Dashboard
	Profile   settings.Profile
}

// New builds a Capturer.
func New(tmux *tmuxdriver.Driver, agents *agentmanager.Manager, dash Dashboard, profile settings.Profile) *Capturer {
	return &Capturer{Tmux: tmux, Agents: agents, Dashboard: dash, Profile: profile}
}

// Result reports the outcome of a single capture attempt.
type Result struct {
	Updated       bool
	ActualCostUSD float64
	StatusLine    string
	TaskID        string
}

// CaptureForAgent captures the agent's pane and, if a fresh (non-
// duplicate) cost reading is found, records it as an actual-source
// cost call. taskID overrides the agent's current task when set.
// Returns (nil, nil) when the agent's CLI isn't Claude, the agent
// doesn't occupy a pane, or no statusLine cost is present.
func (c *Capturer) CaptureForAgent(ctx context.Context, agentID, taskID string) (*Result, error) {
	agent, err := c.Agents.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent.AICli != types.CliClaude && agent.AICli != "" {
		return nil, nil
	}
	if agent.SessionName == nil || agent.WindowIndex == nil || agent.PaneIndex == nil {
		return nil, nil
	}

	target := paneTarget(agent)
	output, err := c.Tmux.CapturePaneByIndex(target)
	if err != nil {
		return nil, err
	}

	cost, statusLine, ok := ExtractClaudeStatuslineCost(output)
	if !ok {
		return nil, nil
	}

	effectiveTaskID := taskID
	if effectiveTaskID == "" {
		effectiveTaskID = agent.CurrentTask
	}

	if c.Dashboard.IsDuplicateCostCall(agent.ID, statusLine) {
		return &Result{Updated: false, ActualCostUSD: cost, StatusLine: statusLine, TaskID: effectiveTaskID}, nil
	}

	model := c.Profile.WorkerModel
	if agent.Role == types.RoleAdmin {
		model = c.Profile.AdminModel
	}

	call := &types.CostCall{
		AICli:         agent.AICli,
		Model:         model,
		AgentID:       agent.ID,
		TaskID:        effectiveTaskID,
		ActualCostUSD: &cost,
		StatusLine:    statusLine,
		Source:        "actual",
	}
	if err := c.Dashboard.RecordAPICall(call); err != nil {
		return nil, err
	}

	return &Result{Updated: true, ActualCostUSD: cost, StatusLine: statusLine, TaskID: effectiveTaskID}, nil
}

func paneTarget(agent *types.Agent) string {
	return *agent.SessionName + ":" + itoa(*agent.WindowIndex) + "." + itoa(*agent.PaneIndex)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
