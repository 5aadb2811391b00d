// Command orchestratord runs the orchestrator's MCP stdio server and its
// background loops (healthcheck daemon, metrics collector, config
// hot-reload) for one project. Grounded on
// _examples/smtg-ai-claude-squad/cmd/mcp-server/main.go's
// env-driven-bootstrap-then-Serve shape, generalized to cobra's command
// tree per SPEC_FULL.md's ambient CLI-tooling section.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multi-agent-mcp/orchestrator/internal/appctx"
	"github.com/multi-agent-mcp/orchestrator/internal/mcpserver"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
)

var projectRoot string

func main() {
	root := &cobra.Command{
		Use:   "orchestratord",
		Short: "Run the multi-agent orchestrator's MCP server and background loops",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVar(&projectRoot, "project-root", "", "project root directory (defaults to the current directory)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestratord:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	root := projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	app, err := appctx.New(root)
	if err != nil {
		return fmt.Errorf("build app context: %w", err)
	}

	obslog.Init(obslog.Config{LogDir: app.Settings.LogDir, Level: app.Settings.LogLevel, Debug: app.Settings.LogDebug})
	log := obslog.ForComponent(obslog.CompMCP)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app.RunBackgroundLoops(ctx)

	srv := mcpserver.New(app.MCPDeps())
	log.Info("orchestratord starting", "project_root", root, "session_id", app.SessionID)
	return srv.Serve()
}
