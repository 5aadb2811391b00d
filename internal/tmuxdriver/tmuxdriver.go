// Package tmuxdriver is the Terminal Multiplexer Driver described in spec
// §4.3: session/window/pane lifecycle, the Admin+Worker pane grid layout,
// rate-limited sends with Codex prompt-confirmation retry, and pane capture.
package tmuxdriver

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
)

// Executor runs external commands, abstracted for testability the way the
// teacher's cmd.Executor wraps os/exec.Cmd.
type Executor interface {
	Output(cmd *exec.Cmd) ([]byte, error)
	Run(cmd *exec.Cmd) error
}

type realExecutor struct{}

func (realExecutor) Output(cmd *exec.Cmd) ([]byte, error) { return cmd.Output() }
func (realExecutor) Run(cmd *exec.Cmd) error               { return cmd.Run() }

// NewRealExecutor returns the Executor backed by actual process execution.
func NewRealExecutor() Executor { return realExecutor{} }

var validNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// SanitizeSessionName normalizes a candidate name into one tmux and the
// shell will accept: whitespace stripped, dots replaced (tmux rewrites
// `.` to `_` internally), prefixed so orchestrator sessions are
// identifiable among a user's other tmux sessions.
func SanitizeSessionName(name string) string {
	name = whitespaceRe.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, ".", "_")
	return "mcpagent_" + name
}

// ValidSessionName reports whether name contains only [A-Za-z0-9._-], per
// spec §4.3's terminal-launcher input validation.
func ValidSessionName(name string) bool {
	return name != "" && validNameRe.MatchString(name)
}

const (
	defaultSendCooldown        = 2 * time.Second
	defaultCodexRetryMax       = 3
	defaultCodexRetryInterval  = 250 * time.Millisecond
	workersPerExtraWindowGrid  = 5 // default 2 rows x 5 cols for workers-N windows
)

// Driver manages tmux sessions for the orchestrator's pane grid.
type Driver struct {
	exec Executor

	sendMu  sync.Mutex
	limiter *rate.Limiter

	CodexRetryMax      int
	CodexRetryInterval time.Duration
}

// New builds a Driver using the real os/exec-backed Executor.
func New() *Driver {
	return NewWithExecutor(NewRealExecutor())
}

// NewWithExecutor builds a Driver with a custom Executor, for testing.
func NewWithExecutor(exec Executor) *Driver {
	return &Driver{
		exec:               exec,
		limiter:            rate.NewLimiter(rate.Every(defaultSendCooldown), 1),
		CodexRetryMax:      defaultCodexRetryMax,
		CodexRetryInterval: defaultCodexRetryInterval,
	}
}

func (d *Driver) run(args ...string) error {
	return d.exec.Run(exec.Command("tmux", args...))
}

func (d *Driver) output(args ...string) (string, error) {
	out, err := d.exec.Output(exec.Command("tmux", args...))
	return string(out), err
}

// SessionExists reports whether a tmux session named name exists.
func (d *Driver) SessionExists(name string) bool {
	return d.run("has-session", "-t", name) == nil
}

// CreateSession creates a detached session named name rooted at workingDir.
func (d *Driver) CreateSession(name, workingDir string) error {
	if err := d.run("new-session", "-d", "-s", name, "-c", workingDir); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create tmux session", err)
	}
	return nil
}

// KillSession terminates a session. Missing sessions are not an error.
func (d *Driver) KillSession(name string) error {
	if !d.SessionExists(name) {
		return nil
	}
	if err := d.run("kill-session", "-t", name); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "kill tmux session", err)
	}
	return nil
}

// CleanupSessions kills every named session, aggregating any errors.
func (d *Driver) CleanupSessions(names []string) error {
	var errs []error
	for _, n := range names {
		if err := d.KillSession(n); err != nil {
			errs = append(errs, err)
		}
	}
	return orcherr.Join(errs...)
}

// CleanupAllSessions kills every session with the orchestrator's name
// prefix.
func (d *Driver) CleanupAllSessions() error {
	out, err := d.output("list-sessions", "-F", "#{session_name}")
	if err != nil {
		return nil // no sessions at all
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, "mcpagent_") {
			names = append(names, line)
		}
	}
	return d.CleanupSessions(names)
}

// RenameSession renames a session.
func (d *Driver) RenameSession(oldName, newName string) error {
	if err := d.run("rename-session", "-t", oldName, newName); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "rename tmux session", err)
	}
	return nil
}

// ListWindows lists window indexes for a session.
func (d *Driver) ListWindows(session string) ([]int, error) {
	out, err := d.output("list-windows", "-t", session, "-F", "#{window_index}")
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindInternal, "list tmux windows", err)
	}
	var windows []int
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		idx, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		windows = append(windows, idx)
	}
	return windows, nil
}

// CreateMainSession creates the project's main session with window 0 named
// "main" and the Admin/Worker pane grid: pane 0 = Admin (left 40%), panes
// 1-6 = Workers in a 2x3 grid on the right 60%. Index normalization
// (move-window -r, pane-base-index=0) runs afterward so pane math is
// consistent regardless of the user's tmux config.
func (d *Driver) CreateMainSession(sessionName, workingDir string) error {
	if err := d.CreateSession(sessionName, workingDir); err != nil {
		return err
	}
	if err := d.run("rename-window", "-t", sessionName+":0", "main"); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "rename main window", err)
	}

	target := sessionName + ":0"
	// Split left 40% / right 60%.
	if err := d.run("split-window", "-h", "-t", target, "-p", "60", "-c", workingDir); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "split main window", err)
	}
	// Split the right half into three columns.
	if err := d.run("split-window", "-h", "-t", target+".1", "-p", "67", "-c", workingDir); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "split right half", err)
	}
	if err := d.run("split-window", "-h", "-t", target+".2", "-p", "50", "-c", workingDir); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "split right columns", err)
	}
	// Split each right column into two rows, rightmost first: split-window
	// inserts the new pane right after its target, so going right to left
	// keeps the indexes of the columns still to be split unchanged.
	for _, pane := range []string{".3", ".2", ".1"} {
		if err := d.run("split-window", "-v", "-t", target+pane, "-c", workingDir); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "split right column row", err)
		}
	}

	if err := d.normalizeIndexes(sessionName); err != nil {
		return err
	}
	return nil
}

func (d *Driver) normalizeIndexes(sessionName string) error {
	if err := d.run("move-window", "-r", "-s", sessionName, "-t", sessionName); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "normalize window indexes", err)
	}
	if err := d.run("set-window-option", "-t", sessionName, "pane-base-index", "0"); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "set pane-base-index", err)
	}
	return nil
}

// AddExtraWorkerWindow creates a workers-N window laid out as a
// rows x cols grid (default 2x5, for workers 7+).
func (d *Driver) AddExtraWorkerWindow(sessionName string, windowIndex, rows, cols int, workingDir string) error {
	if rows <= 0 {
		rows = 2
	}
	if cols <= 0 {
		cols = workersPerExtraWindowGrid
	}
	windowName := fmt.Sprintf("workers-%d", windowIndex)
	if err := d.run("new-window", "-t", fmt.Sprintf("%s:%d", sessionName, windowIndex), "-n", windowName, "-c", workingDir); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create extra worker window", err)
	}

	target := fmt.Sprintf("%s:%d", sessionName, windowIndex)
	// Build cols columns first, then split each into rows rows.
	for c := 1; c < cols; c++ {
		if err := d.run("split-window", "-h", "-t", target, "-c", workingDir); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "split extra worker column", err)
		}
	}
	if err := d.run("select-layout", "-t", target, "even-horizontal"); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "lay out extra worker columns", err)
	}
	if rows > 1 {
		if err := d.run("select-layout", "-t", target, "tiled"); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "lay out extra worker rows", err)
		}
	}

	if err := d.run("set-window-option", "-t", target, "pane-base-index", "0"); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "set extra window pane-base-index", err)
	}
	return nil
}

// SetPaneTitle sets the visible title of a pane.
func (d *Driver) SetPaneTitle(target, title string) error {
	if err := d.run("select-pane", "-t", target, "-T", title); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "set pane title", err)
	}
	return nil
}

// GetPaneCurrentCommand returns the name of the command currently running
// in a pane.
func (d *Driver) GetPaneCurrentCommand(target string) (string, error) {
	out, err := d.output("display-message", "-p", "-t", target, "#{pane_current_command}")
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindInternal, "get pane current command", err)
	}
	return strings.TrimSpace(out), nil
}

// CapturePaneByIndex captures a pane's visible content, preserving ANSI
// escapes the way the teacher's CapturePaneContent does.
func (d *Driver) CapturePaneByIndex(target string) (string, error) {
	out, err := d.output("capture-pane", "-p", "-e", "-J", "-t", target)
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindInternal, "capture pane", err)
	}
	return out, nil
}

// SendKeysToPane sends literal keys to a pane, unthrottled. Used for
// low-level control sequences (e.g. C-u) that must not wait on the
// send-rate limiter.
func (d *Driver) SendKeysToPane(target, keys string) error {
	if err := d.run("send-keys", "-t", target, keys); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "send keys", err)
	}
	return nil
}

// codexPromptRe matches a pending Codex confirmation prompt: a line
// starting with "›" or the "tab to queue message" hint.
var codexPromptRe = regexp.MustCompile(`(?m)^›|tab to queue message`)

// SendWithRateLimitToPane serializes every pane send through a
// process-wide limiter (default one send per send_cooldown_seconds),
// optionally clears the pane input line first (C-u, never C-c), sends text
// plus Enter, and — for the Codex CLI — re-confirms by re-sending Enter up
// to CodexRetryMax times if the pane still shows a pending prompt.
func (d *Driver) SendWithRateLimitToPane(ctx context.Context, target, text string, clearFirst, isCodex bool) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if err := d.limiter.Wait(ctx); err != nil {
		return orcherr.Wrap(orcherr.KindTimeout, "rate limit wait", err)
	}

	if clearFirst {
		if err := d.run("send-keys", "-t", target, "C-u"); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "clear pane input", err)
		}
	}

	if err := d.run("send-keys", "-t", target, text, "Enter"); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "send keys", err)
	}

	if !isCodex {
		return nil
	}

	for attempt := 0; attempt < d.CodexRetryMax; attempt++ {
		time.Sleep(d.CodexRetryInterval)
		content, err := d.CapturePaneByIndex(target)
		if err != nil {
			return err
		}
		if !codexPromptRe.MatchString(content) {
			return nil
		}
		obslog.ForComponent(obslog.CompTmux).Warn("codex prompt still pending, re-confirming", "target", target, "attempt", attempt+1)
		if err := d.run("send-keys", "-t", target, "Enter"); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "re-confirm codex prompt", err)
		}
	}
	return orcherr.New(orcherr.KindTimeout, "pending_prompt: codex prompt never confirmed after retries")
}

// ShellQuoteForSend shell-quotes a filesystem path for inclusion as one
// argument of a shell command sent via send-keys, per spec §4.3
// ("shell-quote any filesystem paths passed via send-keys"). Callers quote
// the path argument, not the whole command line, so the shell still sees a
// real command followed by one correctly-quoted argument.
func ShellQuoteForSend(s string) string {
	if !strings.ContainsAny(s, " \t\n$`\"\\'") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
