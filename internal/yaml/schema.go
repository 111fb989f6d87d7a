package yaml

import (
	"errors"
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

var (
	// ErrNoHeader marks a document that parses but carries no schema_version,
	// which is what an emptied or truncated file looks like.
	ErrNoHeader = errors.New("missing schema header")
	// ErrFutureSchema marks a document written by a newer release.
	ErrFutureSchema = errors.New("unsupported schema_version")
)

// Header is the leading block of every persisted document.
type Header struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ReadHeader parses only the header fields of content.
func ReadHeader(content []byte) (Header, error) {
	var h Header
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return Header{}, fmt.Errorf("parse yaml: %w", err)
	}
	if h.SchemaVersion == 0 {
		return h, ErrNoHeader
	}
	return h, nil
}

// Check verifies the version range and, when fileType is non-empty, the type.
func (h Header) Check(fileType string) error {
	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("%w %d (this build reads up to %d)", ErrFutureSchema, h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return fmt.Errorf("missing file_type")
	case fileType != "" && h.FileType != fileType:
		return fmt.Errorf("file_type is %q, want %q", h.FileType, fileType)
	}
	return nil
}

// ValidateSchemaHeader is ReadHeader followed by Check.
func ValidateSchemaHeader(content []byte, fileType string) error {
	h, err := ReadHeader(content)
	if err != nil {
		return err
	}
	return h.Check(fileType)
}
