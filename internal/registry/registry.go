// Package registry implements the two config stores described in spec
// §4.2: a global, cross-project agent registry under
// ~/.multi-agent-mcp/agents/, and a per-project config.json.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/multi-agent-mcp/orchestrator/internal/fsutil"
	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
)

// AgentRecord maps one agent id to the project and session that owns it,
// stored at ~/.multi-agent-mcp/agents/<agent_id>.json.
type AgentRecord struct {
	OwnerID     string  `json:"owner_id"`
	ProjectRoot string  `json:"project_root"`
	SessionID   *string `json:"session_id,omitempty"`
}

// Global is the cross-project agent registry rooted at ~/.multi-agent-mcp.
type Global struct {
	dir string
}

// NewGlobal opens the global registry rooted at home/.multi-agent-mcp/agents.
func NewGlobal(home string) *Global {
	return &Global{dir: filepath.Join(home, ".multi-agent-mcp", "agents")}
}

func (g *Global) path(agentID string) string {
	safe := fsutil.Sanitize(agentID, "agent")
	return filepath.Join(g.dir, safe+".json")
}

// Put writes or overwrites the agent's registry record atomically.
func (g *Global) Put(agentID string, rec AgentRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal agent record", err)
	}
	if err := fsutil.AtomicWriteFile(g.path(agentID), data, 0o644); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "write agent record", err)
	}
	return nil
}

// Get reads the agent's registry record.
func (g *Global) Get(agentID string) (AgentRecord, error) {
	data, err := os.ReadFile(g.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return AgentRecord{}, orcherr.New(orcherr.KindNotFound, "agent not registered: "+agentID)
		}
		return AgentRecord{}, orcherr.Wrap(orcherr.KindInternal, "read agent record", err)
	}
	var rec AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return AgentRecord{}, orcherr.Wrap(orcherr.KindInternal, "parse agent record", err)
	}
	return rec, nil
}

// Delete removes a single agent's registry record. Missing records are not
// an error: deletion is idempotent.
func (g *Global) Delete(agentID string) error {
	if err := os.Remove(g.path(agentID)); err != nil && !os.IsNotExist(err) {
		return orcherr.Wrap(orcherr.KindInternal, "remove agent record", err)
	}
	return nil
}

// DeleteByOwner iterates every registry entry and removes all whose
// OwnerID matches owner, mirroring spec §4.2's "deleting by owner".
func (g *Global) DeleteByOwner(owner string) (int, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, orcherr.Wrap(orcherr.KindInternal, "list agent registry", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(g.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			obslog.ForComponent(obslog.CompRegistry).Warn("skip unreadable registry entry", "path", path, "err", err)
			continue
		}
		var rec AgentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			obslog.ForComponent(obslog.CompRegistry).Warn("skip malformed registry entry", "path", path, "err", err)
			continue
		}
		if rec.OwnerID != owner {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, orcherr.Wrap(orcherr.KindInternal, "remove agent record", err)
		}
		removed++
	}
	return removed, nil
}

// ProjectConfig is the per-project config.json described in spec §4.2.
type ProjectConfig struct {
	MCPToolPrefix string `json:"mcp_tool_prefix"`
	SessionID     string `json:"session_id"`
	EnableGit     bool   `json:"enable_git"`
}

// projectConfigPath returns <projectRoot>/.multi-agent-mcp/config.json.
func projectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".multi-agent-mcp", "config.json")
}

// LoadProjectConfig reads a project's config.json. When strict is true, a
// parse failure surfaces as orcherr.KindValidation ("invalid_config")
// instead of being silently defaulted, per spec §4.2.
func LoadProjectConfig(projectRoot string, strict bool) (*ProjectConfig, error) {
	data, err := os.ReadFile(projectConfigPath(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return &ProjectConfig{MCPToolPrefix: "multi_agent", EnableGit: true}, nil
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "read project config", err)
	}

	var cfg ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		if strict {
			return nil, orcherr.Wrap(orcherr.KindValidation, "invalid_config", err)
		}
		obslog.ForComponent(obslog.CompRegistry).Warn("invalid project config, using defaults", "err", err)
		return &ProjectConfig{MCPToolPrefix: "multi_agent", EnableGit: true}, nil
	}
	return &cfg, nil
}

// SaveProjectConfig writes a project's config.json atomically.
func SaveProjectConfig(projectRoot string, cfg *ProjectConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal project config", err)
	}
	if err := fsutil.AtomicWriteFile(projectConfigPath(projectRoot), data, 0o644); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "write project config", err)
	}
	return nil
}
