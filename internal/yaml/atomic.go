// Package yaml provides atomic YAML file I/O, schema header checks and
// quarantine of corrupt files.
package yaml

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

const tempPattern = ".phasegate-tmp-*.yaml"

type writeConfig struct {
	backup   bool
	validate func([]byte) error
}

type WriteOption func(*writeConfig)

// WithoutBackup skips the path.bak copy of the previous version.
func WithoutBackup() WriteOption {
	return func(c *writeConfig) { c.backup = false }
}

// WithValidator runs fn on the bytes read back from the temp file, after the
// YAML parse check. A non-nil error aborts the write.
func WithValidator(fn func([]byte) error) WriteOption {
	return func(c *writeConfig) { c.validate = fn }
}

// AtomicWrite marshals v and replaces path with it.
func AtomicWrite(path string, v any, opts ...WriteOption) error {
	content, err := yamlv3.Marshal(v)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content, opts...)
}

// AtomicWriteRaw replaces path with content so that readers see either the
// old file or the new one. The temp file is fsynced and read back before the
// rename. The previous version is kept as path.bak unless WithoutBackup is set.
func AtomicWriteRaw(path string, content []byte, opts ...WriteOption) error {
	cfg := writeConfig{backup: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	tmpName, err := writeTemp(filepath.Dir(path), content)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()

	readBack, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read back temp file: %w", err)
	}
	var probe any
	if err := yamlv3.Unmarshal(readBack, &probe); err != nil {
		return fmt.Errorf("written yaml does not parse: %w", err)
	}
	if cfg.validate != nil {
		if err := cfg.validate(readBack); err != nil {
			return fmt.Errorf("written yaml rejected: %w", err)
		}
	}

	if cfg.backup {
		if err := backup(path); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return syncDir(filepath.Dir(path))
}

func writeTemp(dir string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	_, werr := f.Write(content)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", werr)
	}
	return name, nil
}

// backup copies path to path.bak. A missing path is not an error.
func backup(path string) error {
	prev, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read previous version: %w", err)
	}
	f, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	_, werr := f.Write(prev)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write backup: %w", werr)
	}
	return nil
}

// syncDir makes the rename durable. Some filesystems refuse fsync on a
// directory; that is ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	_ = d.Sync()
	return d.Close()
}
