// Package model defines the data structures for phase specifications, lifecycle state, ledger entries and configuration.
package model

type Config struct {
	Ledger     LedgerConfig     `koanf:"ledger" yaml:"ledger"`
	Specs      SpecsConfig      `koanf:"specs" yaml:"specs"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
	Guard      GuardConfig      `koanf:"guard" yaml:"guard"`
	Validation ValidationConfig `koanf:"validation" yaml:"validation"`
	Watch      WatchConfig      `koanf:"watch" yaml:"watch"`
	Audit      AuditConfig      `koanf:"audit" yaml:"audit"`
	Metrics    MetricsConfig    `koanf:"metrics" yaml:"metrics"`
}

type LedgerConfig struct {
	Dir string `koanf:"dir" yaml:"dir"`
}

type SpecsConfig struct {
	Dir string `koanf:"dir" yaml:"dir"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "json" or "console"
}

type GuardConfig struct {
	MinAcceptanceTests int      `koanf:"min_acceptance_tests" yaml:"min_acceptance_tests"`
	ForbiddenScopes    []string `koanf:"forbidden_scopes" yaml:"forbidden_scopes"`
	EffortMin          float64  `koanf:"effort_min" yaml:"effort_min"`
	EffortMax          float64  `koanf:"effort_max" yaml:"effort_max"`
}

type ValidationConfig struct {
	CacheSize   int `koanf:"cache_size" yaml:"cache_size"`
	CacheTTLSec int `koanf:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
}

type WatchConfig struct {
	DebounceMs int `koanf:"debounce_ms" yaml:"debounce_ms"`
}

type AuditConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Path     string `koanf:"path" yaml:"path"`
	MaxBytes int64  `koanf:"max_bytes" yaml:"max_bytes"`
}

type MetricsConfig struct {
	Textfile string `koanf:"textfile" yaml:"textfile"`
}
