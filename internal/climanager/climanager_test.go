package climanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

func TestBuildStdinCommandRequiresWorktreePath(t *testing.T) {
	_, err := BuildStdinCommand(StdinCommandOptions{CLI: types.CliClaude, TaskFilePath: "/task.md"})
	assert.Error(t, err)
}

func TestBuildStdinCommandUnsupportedCLI(t *testing.T) {
	_, err := BuildStdinCommand(StdinCommandOptions{CLI: types.AICli("unknown"), WorktreePath: "/wt", TaskFilePath: "/task.md"})
	assert.Error(t, err)
}

func TestBuildClaudeCommand(t *testing.T) {
	cmd, err := BuildStdinCommand(StdinCommandOptions{
		CLI: types.CliClaude, WorktreePath: "/wt", TaskFilePath: "/wt/task.md",
		Model: "sonnet", Role: types.RoleWorker, ThinkingTokens: 1024,
	})
	require.NoError(t, err)
	assert.Contains(t, cmd, "cd /wt && ")
	assert.Contains(t, cmd, "MAX_THINKING_TOKENS=1024")
	assert.Contains(t, cmd, "claude --dangerously-skip-permissions")
	assert.Contains(t, cmd, "--model sonnet")
	assert.Contains(t, cmd, "< /wt/task.md")
}

func TestBuildCodexCommandResolvesAliasedModel(t *testing.T) {
	cmd, err := BuildStdinCommand(StdinCommandOptions{
		CLI: types.CliCodex, WorktreePath: "/wt", TaskFilePath: "/wt/task.md",
		Model: "opus", Role: types.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Contains(t, cmd, "codex exec")
	assert.Contains(t, cmd, "--model gpt-5-high")
}

func TestBuildGeminiCommandUsesPromptSubstitution(t *testing.T) {
	cmd, err := BuildStdinCommand(StdinCommandOptions{
		CLI: types.CliGemini, WorktreePath: "/wt", TaskFilePath: "/wt/task.md",
	})
	require.NoError(t, err)
	assert.Contains(t, cmd, "gemini --yolo")
	assert.Contains(t, cmd, `--prompt "$(cat /wt/task.md)"`)
}

func TestBuildCursorCommand(t *testing.T) {
	cmd, err := BuildStdinCommand(StdinCommandOptions{
		CLI: types.CliCursor, WorktreePath: "/wt", TaskFilePath: "/wt/task.md",
	})
	require.NoError(t, err)
	assert.Contains(t, cmd, "cursor-agent")
	assert.Contains(t, cmd, "< /wt/task.md")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, `'has space'`, shellQuote("has space"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestDetectAvailableCoversEveryKnownCLI(t *testing.T) {
	avail := DetectAvailable()
	assert.Len(t, avail, 4)
	for _, cli := range []types.AICli{types.CliClaude, types.CliCodex, types.CliGemini, types.CliCursor} {
		_, ok := avail[cli]
		assert.True(t, ok, "expected a PATH-lookup result for %s", cli)
	}
}
