// Package settings resolves orchestrator configuration by merging process
// environment, a per-project .env file, and built-in defaults, and resolves
// the active workload profile (standard vs. performance) into concrete
// model and concurrency choices.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Profile names gate worker-count limits.
const (
	ProfileStandard   = "standard"
	ProfilePerformance = "performance"
)

// Profile holds the resolved concrete choices for a workload profile.
type Profile struct {
	Name               string
	CLI                string
	AdminModel         string
	WorkerModel        string
	MaxWorkers         int
	ThinkingMultiplier float64
}

var profiles = map[string]Profile{
	ProfileStandard: {
		Name:               ProfileStandard,
		CLI:                "claude",
		AdminModel:         "opus",
		WorkerModel:        "sonnet",
		MaxWorkers:         6,
		ThinkingMultiplier: 1.0,
	},
	ProfilePerformance: {
		Name:               ProfilePerformance,
		CLI:                "claude",
		AdminModel:         "opus",
		WorkerModel:        "sonnet",
		MaxWorkers:         16,
		ThinkingMultiplier: 1.5,
	},
}

// claudeModelAliases maps Claude's generic model aliases to the concrete
// model name a given non-Claude CLI understands for the given role.
var claudeModelAliases = map[string]map[string]map[string]string{
	"codex": {
		"admin":  {"opus": "gpt-5-high", "sonnet": "gpt-5", "haiku": "gpt-5-mini", "default": "gpt-5"},
		"worker": {"opus": "gpt-5-high", "sonnet": "gpt-5", "haiku": "gpt-5-mini", "default": "gpt-5"},
	},
	"gemini": {
		"admin":  {"opus": "gemini-2.5-pro", "sonnet": "gemini-2.5-pro", "haiku": "gemini-2.5-flash", "default": "gemini-2.5-pro"},
		"worker": {"opus": "gemini-2.5-pro", "sonnet": "gemini-2.5-flash", "haiku": "gemini-2.5-flash", "default": "gemini-2.5-flash"},
	},
	"cursor": {
		"admin":  {"opus": "gpt-5", "sonnet": "gpt-5", "haiku": "gpt-5-mini", "default": "gpt-5"},
		"worker": {"opus": "gpt-5", "sonnet": "gpt-5", "haiku": "gpt-5-mini", "default": "gpt-5"},
	},
}

// ResolveModel maps a Claude-aliased model name to the concrete model name
// understood by cli for the given role. Unknown clis or models pass through
// the alias verbatim.
func ResolveModel(cli, role, aliasedModel string) string {
	byRole, ok := claudeModelAliases[cli]
	if !ok {
		return aliasedModel
	}
	byAlias, ok := byRole[role]
	if !ok {
		return aliasedModel
	}
	if concrete, ok := byAlias[aliasedModel]; ok {
		return concrete
	}
	return aliasedModel
}

// Settings is the fully merged, resolved configuration for one orchestrator
// process.
type Settings struct {
	Profile          Profile
	ToolPrefix       string
	EnableGit        bool
	MetricsAddr      string
	LogDir           string
	LogLevel         string
	LogDebug         bool
	ThinkingTokens   int
	raw              map[string]string
}

const envPrefix = "MCP_"

// Load merges process environment, the project's .env file, and defaults,
// then resolves the active profile. projectRoot is the repository root;
// the .env file is read from <projectRoot>/.multi-agent-mcp/.env if present.
func Load(projectRoot string) (*Settings, error) {
	merged := map[string]string{}

	envFile := filepath.Join(projectRoot, ".multi-agent-mcp", ".env")
	if fileVars, err := godotenv.Read(envFile); err == nil {
		for k, v := range fileVars {
			merged[k] = v
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read project .env: %w", err)
	}

	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		merged[parts[0]] = parts[1]
	}

	s := &Settings{
		ToolPrefix: "multi_agent",
		EnableGit:  true,
		LogLevel:   "info",
		raw:        merged,
	}

	profileName := s.get("MCP_MODEL_PROFILE_ACTIVE", ProfileStandard)
	profile, ok := profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", profileName)
	}
	s.Profile = profile

	if v := s.get("MCP_TOOL_PREFIX", ""); v != "" {
		s.ToolPrefix = v
	}
	if v := s.get("MCP_ENABLE_GIT", ""); v != "" {
		s.EnableGit = v != "false" && v != "0"
	}
	s.MetricsAddr = s.get("MCP_METRICS_ADDR", "")
	if v := s.get("MCP_LOG_DIR", ""); v != "" {
		s.LogDir = v
	}
	if v := s.get("MCP_LOG_LEVEL", ""); v != "" {
		s.LogLevel = v
	}
	s.LogDebug = s.get("MCP_LOG_DEBUG", "") == "true"

	if v := s.get("MCP_MAX_WORKERS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Profile.MaxWorkers = n
		}
	}
	if v := s.get("MCP_THINKING_TOKENS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.ThinkingTokens = n
		}
	}

	return s, nil
}

// get reads key from the merged environment, falling back to def.
func (s *Settings) get(key, def string) string {
	if v, ok := s.raw[key]; ok && v != "" {
		return v
	}
	return def
}

// ThinkingEnv returns the dispatch environment variable injecting
// thinking_tokens, but only for the Claude CLI — other CLIs never receive
// this variable.
func (s *Settings) ThinkingEnv(cli string) map[string]string {
	if cli != "claude" || s.ThinkingTokens <= 0 {
		return nil
	}
	return map[string]string{"MAX_THINKING_TOKENS": strconv.Itoa(s.ThinkingTokens)}
}
