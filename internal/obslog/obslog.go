// Package obslog is the orchestrator's structured logging facade: a
// log/slog logger rotated through lumberjack, with per-component
// sub-loggers resolved dynamically so package-level loggers created before
// Init runs still pick up the real handler.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component tags, one per major subsystem (mirrors the shape of the
// component constants used for per-subsystem log filtering).
const (
	CompTmux        = "tmux"
	CompScheduler   = "scheduler"
	CompHealthcheck = "healthcheck"
	CompIPC         = "ipc"
	CompDashboard   = "dashboard"
	CompMemory      = "memory"
	CompMCP         = "mcp"
	CompBatch       = "batch"
	CompSession     = "session"
	CompRegistry    = "registry"
	CompConfig      = "config"
	CompMetrics     = "metrics"
)

// Config controls where and how logs are written.
type Config struct {
	// LogDir is the directory for rotated log files. Empty means discard
	// unless Debug is set, in which case stderr is used.
	LogDir string
	// Level is "debug", "info", "warn", or "error" (default "info").
	Level string
	// MaxSizeMB, MaxBackups, MaxAgeDays, Compress configure lumberjack rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Debug routes logs to stderr in addition to the file when LogDir is set,
	// or replaces the discard sink with stderr when LogDir is empty.
	Debug bool
}

var (
	mu          sync.RWMutex
	logger      *slog.Logger
	lumberjackW *lumberjack.Logger
)

// Init sets up the global logger. Safe to call multiple times; the last
// call wins. Call once at process startup, before any ForComponent loggers
// are used for real work.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.LogDir == "" {
		var w io.Writer = io.Discard
		if cfg.Debug {
			w = os.Stderr
		}
		logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
		return
	}

	lumberjackW = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "orchestrator.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	var w io.Writer = lumberjackW
	if cfg.Debug {
		w = io.MultiWriter(lumberjackW, os.Stderr)
	}

	logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Logger returns the current global logger, defaulting to a discarding one
// if Init has not been called yet.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return logger
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if lumberjackW != nil {
		return lumberjackW.Close()
	}
	return nil
}

// ForComponent returns a logger tagged with a "component" attribute. It
// resolves the real handler lazily on every call, so it is safe to store in
// a package-level var before Init runs.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{component: name})
}

type dynamicHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	return handler.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	copy(merged[len(h.attrs):], attrs)
	return &dynamicHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	return &dynamicHandler{component: h.component, attrs: h.attrs, group: name}
}
