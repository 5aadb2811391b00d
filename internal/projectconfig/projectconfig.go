// Package projectconfig hot-reloads a project's config.json and .env file
// while an orchestrator process is running, per SPEC_FULL.md §4.17: a
// fsnotify watcher on the .multi-agent-mcp directory, debounced against
// rewrite bursts, falling back to a poll loop when fsnotify cannot start,
// so edits to enable_git/model profile take effect without a restart.
package projectconfig

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/multi-agent-mcp/orchestrator/internal/obslog"
	"github.com/multi-agent-mcp/orchestrator/internal/registry"
	"github.com/multi-agent-mcp/orchestrator/internal/settings"
)

const (
	defaultDebounce = 200 * time.Millisecond
	defaultPoll     = 10 * time.Second
)

// Snapshot is the pairing of a project's config.json and resolved
// .env-derived settings, refreshed together on every reload.
type Snapshot struct {
	Project  *registry.ProjectConfig
	Settings *settings.Settings
}

// Watcher reloads config.json/.env on change and exposes the latest
// Snapshot via Current. Grounded on
// _examples/jaakkos-stringwork/internal/app/notifier.go's
// fsnotify-with-poll-fallback-and-debounce shape.
type Watcher struct {
	projectRoot string
	debounce    time.Duration
	pollEvery   time.Duration
	onReload    func(Snapshot)

	mu      sync.RWMutex
	current Snapshot

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the default 200ms debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithPollInterval overrides the default 10s fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.pollEvery = d }
}

// WithOnReload registers a callback invoked after every successful reload.
func WithOnReload(f func(Snapshot)) Option {
	return func(w *Watcher) { w.onReload = f }
}

// New builds a Watcher for projectRoot and loads the initial Snapshot.
func New(projectRoot string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		projectRoot: projectRoot,
		debounce:    defaultDebounce,
		pollEvery:   defaultPoll,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns the most recently loaded Snapshot.
func (w *Watcher) Current() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) reload() error {
	proj, err := registry.LoadProjectConfig(w.projectRoot, false)
	if err != nil {
		return err
	}
	st, err := settings.Load(w.projectRoot)
	if err != nil {
		return err
	}
	snap := Snapshot{Project: proj, Settings: st}
	w.mu.Lock()
	w.current = snap
	w.mu.Unlock()
	if w.onReload != nil {
		w.onReload(snap)
	}
	return nil
}

// mcpDir returns <projectRoot>/.multi-agent-mcp, the directory holding
// both config.json and .env.
func (w *Watcher) mcpDir() string {
	return filepath.Join(w.projectRoot, ".multi-agent-mcp")
}

// Run watches the project's config directory until ctx is cancelled. If
// fsnotify cannot start a watch, Run falls back to polling on pollEvery
// alone. Reload errors are logged and otherwise ignored, so a transient
// parse failure during a partial write doesn't kill the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.doneCh)
	log := obslog.ForComponent(obslog.CompConfig)

	watcher, err := fsnotify.NewWatcher()
	useFsnotify := err == nil
	if err != nil {
		log.Warn("projectconfig: fsnotify init failed, falling back to poll-only", "error", err)
	} else if err := watcher.Add(w.mcpDir()); err != nil {
		log.Warn("projectconfig: fsnotify watch failed, falling back to poll-only", "error", err)
		_ = watcher.Close()
		useFsnotify = false
	}

	if useFsnotify {
		defer watcher.Close()
		go w.watchLoop(ctx, watcher, log)
	}
	w.pollLoop(ctx, log)
}

// Stop signals Run to exit and waits for it to finish. Call after
// cancelling the context passed to Run.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, log *slog.Logger) {
	var timer *time.Timer
	trigger := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if err := w.reload(); err != nil {
				log.Warn("projectconfig: reload failed", "error", err)
			}
		})
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if name != "config.json" && name != ".env" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			trigger()
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context, log *slog.Logger) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.reload(); err != nil {
				log.Warn("projectconfig: poll reload failed", "error", err)
			}
		}
	}
}
