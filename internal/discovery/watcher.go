package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a rule file into a Registry whenever it changes on disk.
type Watcher struct {
	path     string
	registry *Registry
	logger   *slog.Logger
	// reloaded is signalled after each reload attempt; tests use it to sync.
	reloaded chan error
}

// NewWatcher constructs a Watcher for path.
func NewWatcher(path string, registry *Registry, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		logger:   logger,
		reloaded: make(chan error, 1),
	}
}

// Reloaded exposes reload outcomes.
func (w *Watcher) Reloaded() <-chan error {
	return w.reloaded
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors which replace the file atomically are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.logger.Info("watching discovery rules", slog.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.signal(w.reload())
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("discovery watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) reload() error {
	rules, err := LoadRules(w.path)
	if len(rules) > 0 {
		w.registry.RegisterAll(rules)
	}
	if err != nil {
		w.logger.Warn("discovery rules reloaded with errors", slog.Int("rules", len(rules)), slog.Any("error", err))
		return err
	}
	w.logger.Info("discovery rules reloaded", slog.Int("rules", len(rules)))
	return nil
}

func (w *Watcher) signal(err error) {
	select {
	case w.reloaded <- err:
	default:
	}
}
