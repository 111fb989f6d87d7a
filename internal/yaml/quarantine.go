package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// ErrNoBackup is returned when path.bak does not exist.
var ErrNoBackup = errors.New("no backup file")

// Quarantine moves a corrupt file to quarantineDir with a timestamp suffix
// and returns its new location.
func Quarantine(quarantineDir, filePath string) (string, error) {
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().UTC().Format("20060102T150405.000000000"))
	dest := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dest); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dest, nil
}

// RestoreFromBackup copies path.bak over path. The backup must parse as YAML
// and, when check is non-nil, pass check.
func RestoreFromBackup(filePath string, check func([]byte) error) error {
	content, err := readBackup(filePath, check)
	if err != nil {
		return err
	}
	return restore(filePath, content)
}

// RecoverCorruptedFile replaces a corrupt filePath with its backup, moving the
// corrupt file to quarantineDir first. When no usable backup exists the
// corrupt file is left where it is and an error is returned, so the damage
// stays visible to every later reader.
func RecoverCorruptedFile(quarantineDir, filePath string, check func([]byte) error) (string, error) {
	content, err := readBackup(filePath, check)
	if err != nil {
		return "", err
	}
	quarantined, err := Quarantine(quarantineDir, filePath)
	if err != nil {
		return "", fmt.Errorf("quarantine failed: %w", err)
	}
	if err := restore(filePath, content); err != nil {
		return quarantined, err
	}
	return quarantined, nil
}

func readBackup(filePath string, check func([]byte) error) ([]byte, error) {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoBackup, bakPath)
		}
		return nil, fmt.Errorf("read backup: %w", err)
	}
	var probe any
	if err := yamlv3.Unmarshal(content, &probe); err != nil {
		return nil, fmt.Errorf("backup %s does not parse: %w", bakPath, err)
	}
	if check != nil {
		if err := check(content); err != nil {
			return nil, fmt.Errorf("backup %s rejected: %w", bakPath, err)
		}
	}
	return content, nil
}

func restore(filePath string, content []byte) error {
	if err := AtomicWriteRaw(filePath, content, WithoutBackup()); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}
