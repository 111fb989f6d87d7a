package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every nonsensical value at once.
func Validate(cfg *model.Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(cfg.Ledger.Dir) == "" {
		add("ledger.dir", "must not be empty")
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		add("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	if f := cfg.Logging.Format; f != "json" && f != "console" {
		add("logging.format", "must be json or console, got %q", f)
	}
	if cfg.Guard.MinAcceptanceTests < 1 {
		add("guard.min_acceptance_tests", "must be at least 1, got %d", cfg.Guard.MinAcceptanceTests)
	}
	if cfg.Guard.EffortMin < 0 {
		add("guard.effort_min", "must not be negative")
	}
	if cfg.Guard.EffortMax < cfg.Guard.EffortMin {
		add("guard.effort_max", "must be >= effort_min (%g), got %g", cfg.Guard.EffortMin, cfg.Guard.EffortMax)
	}
	if cfg.Validation.CacheSize < 0 {
		add("validation.cache_size", "must not be negative")
	}
	if cfg.Validation.CacheTTLSec < 0 {
		add("validation.cache_ttl_sec", "must not be negative")
	}
	if cfg.Validation.Concurrency < 1 {
		add("validation.concurrency", "must be at least 1, got %d", cfg.Validation.Concurrency)
	}
	if cfg.Watch.DebounceMs < 0 {
		add("watch.debounce_ms", "must not be negative")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.Path) == "" {
		add("audit.path", "required when audit.enabled is true")
	}
	if cfg.Audit.MaxBytes < 0 {
		add("audit.max_bytes", "must not be negative")
	}

	return errors.Join(errs...)
}
