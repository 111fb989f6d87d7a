// Package config loads phasegate configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (PHASEGATE_LEDGER_DIR, PHASEGATE_GUARD_EFFORT_MAX, ...)
//  2. YAML config file (phasegate.yaml by default)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/phasegate/internal/gateway"
	"github.com/msageha/phasegate/internal/model"
)

const (
	// DefaultPath is read when no --config flag is given. A missing file is not an error.
	DefaultPath = "phasegate.yaml"
	EnvPrefix   = "PHASEGATE_"

	maxConfigFileSize = 1024 * 1024
)

// Defaults returns the built-in configuration.
func Defaults() model.Config {
	return model.Config{
		Ledger:  model.LedgerConfig{Dir: ".phasegate/ledger"},
		Specs:   model.SpecsConfig{Dir: "phases"},
		Logging: model.LoggingConfig{Level: "info", Format: "console"},
		Guard: model.GuardConfig{
			MinAcceptanceTests: gateway.DefaultMinAcceptanceTests,
			ForbiddenScopes:    append([]string(nil), gateway.DefaultForbiddenScopes...),
			EffortMin:          gateway.DefaultEffortMin,
			EffortMax:          gateway.DefaultEffortMax,
		},
		Validation: model.ValidationConfig{
			CacheSize:   256,
			CacheTTLSec: 300,
			Concurrency: 4,
		},
		Watch: model.WatchConfig{DebounceMs: 250},
		Audit: model.AuditConfig{
			Enabled:  true,
			Path:     ".phasegate/audit/audit.jsonl",
			MaxBytes: 10 * 1024 * 1024,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. When path is empty DefaultPath is tried; an explicitly named
// file that does not exist is an error.
func Load(path string) (*model.Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg model.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content := make([]byte, info.Size())
	if _, err := f.ReadAt(content, 0); err != nil && info.Size() > 0 {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// envTransform maps PHASEGATE_SECTION_FIELD_NAME to section.field_name,
// splitting on the first underscore after the prefix. List-valued keys take
// comma-separated values.
func envTransform(key, value string) (string, any) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}
	name := parts[0] + "." + parts[1]

	if name == "guard.forbidden_scopes" {
		var scopes []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
		return name, scopes
	}
	return name, value
}
