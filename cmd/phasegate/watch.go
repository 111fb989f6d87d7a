package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/msageha/phasegate/internal/lock"
	"github.com/msageha/phasegate/internal/model"
	"github.com/msageha/phasegate/internal/specstore"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Revalidate the spec directory whenever it changes",
	Long: `Load and validate the spec directory, then do it again after every
debounced burst of file changes until interrupted. Only one watcher may run
per ledger directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runWatch)
	},
}

func runWatch(a *app) error {
	fl := lock.NewFileLock(filepath.Join(a.cfg.Ledger.Dir, ".locks", "watch.lock"))
	if err := fl.TryLock(); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fail("another watcher is running (%s)", fl.Path())
		}
		return err
	}
	defer func() { _ = fl.Unlock() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := a.cfg.Specs.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	debounce := time.Duration(a.cfg.Watch.DebounceMs) * time.Millisecond
	a.logger.Info("watching spec directory", zap.String("dir", dir), zap.Duration("debounce", debounce))

	return specstore.Watch(ctx, dir, debounce, func(specs []model.PhaseSpecification, failed []*specstore.LoadError) {
		a.reload(ctx, specs, failed)
	}, specstore.WithLogger(a.logger))
}

func (a *app) reload(ctx context.Context, specs []model.PhaseSpecification, failed []*specstore.LoadError) {
	for _, f := range failed {
		a.logger.Warn("spec file skipped", zap.String("path", f.Path), zap.Error(f.Err))
	}
	a.core.LoadSpecs(specs)

	results, err := a.gateway.ValidateAll(ctx, specs)
	if err != nil {
		a.logger.Warn("validation interrupted", zap.Error(err))
		return
	}
	var rejected []string
	for _, r := range results {
		if r != nil && !r.OverallPassed {
			rejected = append(rejected, r.PhaseID)
			a.logger.Warn("spec failed validation",
				zap.String("phase_id", r.PhaseID), zap.Strings("errors", r.Errors))
		}
	}

	plan := a.core.Plan()
	if plan.HasCycles {
		a.logger.Error("dependency cycles in spec set", zap.Strings("cycles", plan.Cycles))
	}
	a.logger.Info("spec set reloaded",
		zap.Int("specs", len(specs)),
		zap.Int("unreadable", len(failed)),
		zap.Int("rejected", len(rejected)),
		zap.Int("levels", len(plan.Levels)))
}
