// Command orchestratorctl is the operator-facing CLI for the orchestrator:
// bring a project's tmux workspace up or down and inspect its state
// without going through the MCP tool interface. Grounded on the root
// chronos cobra command tree's flag/subcommand layout, generalized from a
// single-purpose TUI launcher into a small operator command tree per
// SPEC_FULL.md's ambient CLI-tooling section.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/multi-agent-mcp/orchestrator/internal/agentmanager"
	"github.com/multi-agent-mcp/orchestrator/internal/dashboard"
	"github.com/multi-agent-mcp/orchestrator/internal/healthcheck"
	"github.com/multi-agent-mcp/orchestrator/internal/ipc"
	"github.com/multi-agent-mcp/orchestrator/internal/registry"
	"github.com/multi-agent-mcp/orchestrator/internal/sessionlifecycle"
	"github.com/multi-agent-mcp/orchestrator/internal/tmuxdriver"
)

var projectRoot string

func main() {
	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Operate a multi-agent orchestrator project's tmux workspace",
	}
	root.PersistentFlags().StringVar(&projectRoot, "project-root", "", "project root directory (defaults to the current directory)")

	root.AddCommand(initCommand(), cleanupCommand(), statusCommand(), attachCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestratorctl:", err)
		os.Exit(1)
	}
}

func resolveProjectRoot() (string, error) {
	root := projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	return filepath.Abs(root)
}

// buildLifecycle wires a Lifecycle against a fresh, session-scoped set of
// managers. sessionID may be empty (pre-init); callers that need a live
// session's Dashboard/IPC data should prefer internal/appctx instead.
func buildLifecycle(root, sessionID string) *sessionlifecycle.Lifecycle {
	tmux := tmuxdriver.New()
	agents := agentmanager.New()
	sessionDir := filepath.Join(root, ".multi-agent-mcp", sessionID)
	dash := dashboard.NewStore(sessionDir, sessionID)
	ipcStore := ipc.NewStore(filepath.Join(sessionDir, "ipc"))
	home, _ := os.UserHomeDir()
	reg := registry.NewGlobal(home)
	hc := healthcheck.New(tmux, agents, dash, root, true)
	daemon := healthcheck.NewDaemon(hc, 30, 10, nil)
	return sessionlifecycle.New(tmux, agents, dash, ipcStore, reg, daemon)
}

func initCommand() *cobra.Command {
	var openTerminal, autoSetupGtr bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bring up the tmux workspace for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveProjectRoot()
			if err != nil {
				return err
			}
			cfg, err := registry.LoadProjectConfig(root, false)
			if err != nil {
				return err
			}
			lc := buildLifecycle(root, cfg.SessionID)
			result, err := lc.InitTmuxWorkspace(root, sessionlifecycle.InitOptions{
				OpenTerminal: openTerminal,
				AutoSetupGtr: autoSetupGtr,
			})
			if err != nil {
				return err
			}
			fmt.Printf("session %s ready (id=%s, headless=%v, enable_git=%v)\n",
				result.SessionName, result.SessionID, result.Headless, result.EnableGit)
			if result.Headless {
				fmt.Printf("attach with: tmux attach -t -- %s\n", result.SessionName)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&openTerminal, "open-terminal", false, "launch a terminal window instead of creating the session headless")
	cmd.Flags().BoolVar(&autoSetupGtr, "auto-setup-gtr", false, "auto-generate .gtrconfig when the gtr CLI is detected")
	return cmd
}

func cleanupCommand() *cobra.Command {
	var removeWorktrees bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Tear down this project's tmux session and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveProjectRoot()
			if err != nil {
				return err
			}
			cfg, err := registry.LoadProjectConfig(root, false)
			if err != nil {
				return err
			}
			if cfg.SessionID == "" {
				fmt.Println("no active session")
				return nil
			}
			lc := buildLifecycle(root, cfg.SessionID)
			if err := lc.CleanupSessionResources(root, sessionlifecycle.CleanupOptions{RemoveWorktrees: removeWorktrees}); err != nil {
				return err
			}
			fmt.Println("session resources cleaned up")
			return nil
		},
	}
	cmd.Flags().BoolVar(&removeWorktrees, "remove-worktrees", false, "also remove git worktrees created for this session")
	return cmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report this project's active session and tmux attachment state",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveProjectRoot()
			if err != nil {
				return err
			}
			cfg, err := registry.LoadProjectConfig(root, false)
			if err != nil {
				return err
			}
			if cfg.SessionID == "" {
				fmt.Println("no active session")
				return nil
			}
			sessionName := tmuxdriver.SanitizeSessionName(filepath.Base(root))
			tmux := tmuxdriver.New()
			fmt.Printf("session_id: %s\n", cfg.SessionID)
			fmt.Printf("tmux_session: %s (exists=%v)\n", sessionName, tmux.SessionExists(sessionName))
			fmt.Printf("enable_git: %v\n", cfg.EnableGit)
			return nil
		},
	}
}

func attachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Print the tmux attach command for this project's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveProjectRoot()
			if err != nil {
				return err
			}
			sessionName := tmuxdriver.SanitizeSessionName(filepath.Base(root))
			tmux := tmuxdriver.New()
			if !tmux.SessionExists(sessionName) {
				return fmt.Errorf("tmux session %q does not exist", sessionName)
			}
			fmt.Printf("tmux attach -t -- %s\n", sessionName)
			return nil
		},
	}
}
