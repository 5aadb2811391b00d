// Package climanager is the CLI Manager described in spec §4.4: PATH
// detection of the supported AI CLIs and dispatch-command construction for
// each.
package climanager

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/multi-agent-mcp/orchestrator/internal/settings"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// binaryFor maps a CLI identity to the executable name looked up on PATH.
var binaryFor = map[types.AICli]string{
	types.CliClaude: "claude",
	types.CliCodex:  "codex",
	types.CliGemini: "gemini",
	types.CliCursor: "cursor-agent",
}

// MaxConcurrentCursor is the hard cap on simultaneously busy Cursor
// Workers, per spec §4.4/§4.6.
const MaxConcurrentCursor = 2

// DetectAvailable returns the set of CLIs found on PATH.
func DetectAvailable() map[types.AICli]bool {
	out := make(map[types.AICli]bool, len(binaryFor))
	for cli, bin := range binaryFor {
		_, err := exec.LookPath(bin)
		out[cli] = err == nil
	}
	return out
}

// StdinCommandOptions parameterizes BuildStdinCommand.
type StdinCommandOptions struct {
	CLI             types.AICli
	TaskFilePath    string
	WorktreePath    string
	Model           string
	ThinkingTokens  int
	ProjectRoot     string
	Role            types.Role
}

// BuildStdinCommand renders the shell command line used to dispatch a task
// file to an agent's pane, per spec §4.4's per-CLI command shapes.
func BuildStdinCommand(opts StdinCommandOptions) (string, error) {
	if opts.WorktreePath == "" {
		return "", fmt.Errorf("worktree path is required")
	}

	cdPrefix := fmt.Sprintf("cd %s && ", shellQuote(opts.WorktreePath))

	switch opts.CLI {
	case types.CliClaude:
		return buildClaudeCommand(cdPrefix, opts), nil
	case types.CliCodex:
		return buildCodexCommand(cdPrefix, opts), nil
	case types.CliGemini:
		return buildGeminiCommand(cdPrefix, opts), nil
	case types.CliCursor:
		return buildCursorCommand(cdPrefix, opts), nil
	default:
		return "", fmt.Errorf("unsupported CLI: %s", opts.CLI)
	}
}

func buildClaudeCommand(cdPrefix string, opts StdinCommandOptions) string {
	var env []string
	// MAX_THINKING_TOKENS is exported (including explicit 0) only for Claude.
	env = append(env, fmt.Sprintf("MAX_THINKING_TOKENS=%d", opts.ThinkingTokens))
	if opts.ProjectRoot != "" {
		env = append(env, "MCP_PROJECT_ROOT="+shellQuote(opts.ProjectRoot))
	}

	var b strings.Builder
	b.WriteString(cdPrefix)
	if len(env) > 0 {
		b.WriteString(strings.Join(env, " "))
		b.WriteByte(' ')
	}
	b.WriteString("claude --dangerously-skip-permissions")
	if opts.Model != "" {
		model := settings.ResolveModel(string(types.CliClaude), string(opts.Role), opts.Model)
		fmt.Fprintf(&b, " --model %s", shellQuote(model))
	}
	fmt.Fprintf(&b, " < %s", shellQuote(opts.TaskFilePath))
	return b.String()
}

func buildCodexCommand(cdPrefix string, opts StdinCommandOptions) string {
	var b strings.Builder
	b.WriteString(cdPrefix)
	b.WriteString("codex exec")
	if opts.Model != "" {
		model := settings.ResolveModel(string(types.CliCodex), string(opts.Role), opts.Model)
		fmt.Fprintf(&b, " --model %s", shellQuote(model))
	}
	fmt.Fprintf(&b, " - < %s", shellQuote(opts.TaskFilePath))
	return b.String()
}

func buildGeminiCommand(cdPrefix string, opts StdinCommandOptions) string {
	var b strings.Builder
	b.WriteString(cdPrefix)
	b.WriteString("gemini --yolo")
	if opts.Model != "" {
		model := settings.ResolveModel(string(types.CliGemini), string(opts.Role), opts.Model)
		fmt.Fprintf(&b, " --model %s", shellQuote(model))
	}
	fmt.Fprintf(&b, " --prompt \"$(cat %s)\"", shellQuote(opts.TaskFilePath))
	return b.String()
}

func buildCursorCommand(cdPrefix string, opts StdinCommandOptions) string {
	var b strings.Builder
	b.WriteString(cdPrefix)
	b.WriteString("cursor-agent")
	if opts.Model != "" {
		model := settings.ResolveModel(string(types.CliCursor), string(opts.Role), opts.Model)
		fmt.Fprintf(&b, " --model %s", shellQuote(model))
	}
	fmt.Fprintf(&b, " < %s", shellQuote(opts.TaskFilePath))
	return b.String()
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n$`\"\\'") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
