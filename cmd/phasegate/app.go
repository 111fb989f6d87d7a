package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/phasegate/internal/config"
	"github.com/msageha/phasegate/internal/events"
	"github.com/msageha/phasegate/internal/gateway"
	"github.com/msageha/phasegate/internal/ledger"
	"github.com/msageha/phasegate/internal/logging"
	"github.com/msageha/phasegate/internal/metrics"
	"github.com/msageha/phasegate/internal/model"
	"github.com/msageha/phasegate/internal/orchestrator"
	"github.com/msageha/phasegate/internal/specstore"
)

// app holds everything a command needs. Close must be called before exit so
// buffered audit events and the metrics textfile are flushed.
type app struct {
	cfg      *model.Config
	logger   *zap.Logger
	recorder *metrics.Recorder
	gateway  *gateway.Gateway
	bus      *events.Bus
	audit    *events.AuditLogger
	store    *ledger.Store
	core     *orchestrator.Core
}

func loadConfig() (*model.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if ledgerDir != "" {
		cfg.Ledger.Dir = ledgerDir
	}
	if specsDir != "" {
		cfg.Specs.Dir = specsDir
	}
	return cfg, nil
}

func newGateway(cfg *model.Config, logger *zap.Logger, rec gateway.Recorder) *gateway.Gateway {
	return gateway.New(gateway.GuardRulesFromConfig(cfg.Guard),
		gateway.WithLogger(logger),
		gateway.WithRecorder(rec),
		gateway.WithCache(cfg.Validation.CacheSize, time.Duration(cfg.Validation.CacheTTLSec)*time.Second),
		gateway.WithConcurrency(cfg.Validation.Concurrency),
	)
}

// newLightApp is enough for commands that never touch the ledger.
func newLightApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	rec := metrics.NewRecorder()
	return &app{
		cfg:      cfg,
		logger:   logger,
		recorder: rec,
		gateway:  newGateway(cfg, logger, rec),
	}, nil
}

func newApp() (*app, error) {
	a, err := newLightApp()
	if err != nil {
		return nil, err
	}

	a.store, err = ledger.NewStore(a.cfg.Ledger.Dir,
		ledger.WithLogger(a.logger),
		ledger.WithRecorder(a.recorder))
	if err != nil {
		return nil, err
	}

	a.bus = events.NewBus(256, a.logger)
	if a.cfg.Audit.Enabled {
		a.audit, err = events.NewAuditLogger(a.cfg.Audit.Path, a.cfg.Audit.MaxBytes)
		if err != nil {
			return nil, err
		}
		a.audit.Attach(a.bus, func(err error) {
			a.logger.Error("audit write failed", zap.Error(err))
		})
	}

	a.core, err = orchestrator.New(orchestrator.Options{
		Gateway:  a.gateway,
		Store:    a.store,
		Logger:   a.logger,
		Recorder: a.recorder,
		Bus:      a.bus,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// loadActiveSet loads the spec directory into the core when it exists.
func (a *app) loadActiveSet() error {
	specs, err := a.readSpecDir()
	if err != nil {
		return err
	}
	a.core.LoadSpecs(specs)
	return nil
}

func (a *app) readSpecDir() ([]model.PhaseSpecification, error) {
	dir := a.cfg.Specs.Dir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		a.logger.Debug("spec dir missing, active set empty", zap.String("dir", dir))
		return nil, nil
	}
	specs, failed, err := specstore.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range failed {
		a.logger.Warn("spec file skipped", zap.String("path", f.Path), zap.Error(f.Err))
	}
	return specs, nil
}

func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("close audit log", zap.Error(err))
		}
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			a.logger.Warn("create metrics dir", zap.Error(err))
		} else if err := a.recorder.WriteTextfile(path); err != nil {
			a.logger.Warn("write metrics", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func withLightApp(fn func(a *app) error) error {
	a, err := newLightApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func fail(format string, args ...any) error {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	return errReported
}
