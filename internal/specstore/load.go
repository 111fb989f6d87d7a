// Package specstore loads phase specification files from disk and watches a
// spec directory for changes.
package specstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/phasegate/internal/model"
)

// LoadError records one spec file that could not be decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsSpecFile reports whether name has a spec file extension and is not hidden.
func IsSpecFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadFile decodes one spec. YAML and JSON share the decoder since JSON is a
// subset of YAML 1.2.
func LoadFile(path string) (*model.PhaseSpecification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	spec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	spec.SourcePath = path
	return spec, nil
}

// Decode parses exactly one spec document.
func Decode(data []byte) (*model.PhaseSpecification, error) {
	dec := yamlv3.NewDecoder(bytes.NewReader(data))

	var spec model.PhaseSpecification
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty spec document")
		}
		return nil, fmt.Errorf("parse spec: %w", err)
	}

	var extra yamlv3.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, fmt.Errorf("spec file holds more than one document")
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	return &spec, nil
}

// LoadDir loads every spec file directly under dir in file name order.
// Files that fail to decode are reported in the second result and skipped.
func LoadDir(dir string) ([]model.PhaseSpecification, []*LoadError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read spec dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsSpecFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var (
		specs  []model.PhaseSpecification
		failed []*LoadError
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		spec, err := LoadFile(path)
		if err != nil {
			failed = append(failed, &LoadError{Path: path, Err: err})
			continue
		}
		specs = append(specs, *spec)
	}
	return specs, failed, nil
}
