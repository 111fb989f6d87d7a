package specstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/msageha/phasegate/internal/model"
)

// ReloadFunc receives the full directory contents after each reload.
type ReloadFunc func(specs []model.PhaseSpecification, failed []*LoadError)

type watchConfig struct {
	logger *zap.Logger
}

type WatchOption func(*watchConfig)

func WithLogger(l *zap.Logger) WatchOption {
	return func(c *watchConfig) { c.logger = l }
}

// Watch loads dir once, then reloads it after every debounced burst of
// create, write, remove or rename events on spec files. It blocks until ctx
// is cancelled and returns nil in that case.
func Watch(ctx context.Context, dir string, debounce time.Duration, fn ReloadFunc, opts ...WatchOption) error {
	cfg := watchConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.Named("specstore")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	reload := func() {
		specs, failed, err := LoadDir(dir)
		if err != nil {
			logger.Error("reload spec dir", zap.String("dir", dir), zap.Error(err))
			return
		}
		for _, f := range failed {
			logger.Warn("spec file skipped", zap.String("path", f.Path), zap.Error(f.Err))
		}
		logger.Info("spec dir loaded", zap.String("dir", dir), zap.Int("specs", len(specs)), zap.Int("failed", len(failed)))
		fn(specs, failed)
	}
	reload()

	// Stopped until the first event. Reset never sees a stale fire on go1.23+ timers.
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsSpecFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("fsnotify", zap.String("op", event.Op.String()), zap.String("file", event.Name))
			timer.Reset(debounce)
		case <-timer.C:
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("fsnotify error", zap.Error(err))
		}
	}
}
