// Package ledger persists one YAML file per phase holding its current
// execution state and full transition history.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/phasegate/internal/lock"
	"github.com/msageha/phasegate/internal/model"
	yamlutil "github.com/msageha/phasegate/internal/yaml"
)

var (
	// ErrNotFound is returned when a phase has no ledger file.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrCorrupt is returned when a ledger file is unreadable and has no
	// usable backup. The file is left in place.
	ErrCorrupt = errors.New("corrupt ledger file")
)

const (
	locksDir      = ".locks"
	quarantineDir = "quarantine"
)

// Recorder receives write latencies. metrics.Recorder implements it.
type Recorder interface {
	ObserveLedgerWrite(d time.Duration, err error)
}

type Store struct {
	dir      string
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates dir if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("ledger")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Path(phaseID string) string {
	return filepath.Join(s.dir, phaseID+".yaml")
}

func (s *Store) lockPath(phaseID string) string {
	return filepath.Join(s.dir, locksDir, phaseID+".lock")
}

func (s *Store) Exists(phaseID string) bool {
	_, err := os.Stat(s.Path(phaseID))
	return err == nil
}

// Read loads the entry for phaseID. A file that no longer parses is moved to
// quarantine/ and replaced by its .bak when the backup is intact. Without a
// usable backup the file stays put and Read keeps returning ErrCorrupt.
func (s *Store) Read(phaseID string) (*model.LedgerEntry, error) {
	if !model.IsValidPhaseID(phaseID) {
		return nil, fmt.Errorf("invalid phase_id %q", phaseID)
	}
	entry, err := s.read(phaseID)
	if err == nil || !errors.Is(err, ErrCorrupt) {
		return entry, err
	}

	path := s.Path(phaseID)
	quarantined, recErr := yamlutil.RecoverCorruptedFile(filepath.Join(s.dir, quarantineDir), path, checkLedgerHeader)
	if recErr != nil {
		fields := []zap.Field{zap.String("phase_id", phaseID), zap.Error(recErr)}
		if quarantined != "" {
			fields = append(fields, zap.String("quarantined", quarantined))
		}
		s.logger.Error("ledger file corrupt and not recoverable", fields...)
		return nil, fmt.Errorf("ledger %s: %w (recovery: %v)", phaseID, err, recErr)
	}
	s.logger.Warn("ledger file corrupt, restored from backup",
		zap.String("phase_id", phaseID),
		zap.String("quarantined", quarantined))

	return s.read(phaseID)
}

func checkLedgerHeader(b []byte) error {
	return yamlutil.ValidateSchemaHeader(b, model.LedgerFileType)
}

func (s *Store) read(phaseID string) (*model.LedgerEntry, error) {
	data, err := os.ReadFile(s.Path(phaseID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, phaseID)
		}
		return nil, fmt.Errorf("read ledger %s: %w", phaseID, err)
	}

	// A truncated or emptied file may still parse; a missing header marks it.
	header, err := yamlutil.ReadHeader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, phaseID, err)
	}
	if err := header.Check(model.LedgerFileType); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", phaseID, err)
	}
	var entry model.LedgerEntry
	if err := yamlv3.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, phaseID, err)
	}
	if entry.PhaseID != phaseID {
		return nil, fmt.Errorf("ledger %s: file holds phase_id %q", phaseID, entry.PhaseID)
	}
	return &entry, nil
}

// Write replaces the entry under an exclusive file lock.
func (s *Store) Write(entry *model.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("nil ledger entry")
	}
	return s.withFileLock(entry.PhaseID, func() error {
		return s.write(entry)
	})
}

// Update runs fn on the current entry (nil when none exists) and writes the
// result, holding the file lock for the whole read-modify-write. If fn
// returns an error nothing is written.
func (s *Store) Update(phaseID string, fn func(current *model.LedgerEntry) (*model.LedgerEntry, error)) error {
	return s.withFileLock(phaseID, func() error {
		current, err := s.Read(phaseID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if next.PhaseID != phaseID {
			return fmt.Errorf("update %s: entry has phase_id %q", phaseID, next.PhaseID)
		}
		return s.write(next)
	})
}

func (s *Store) withFileLock(phaseID string, fn func() error) error {
	if !model.IsValidPhaseID(phaseID) {
		return fmt.Errorf("invalid phase_id %q", phaseID)
	}
	fl := lock.NewFileLock(s.lockPath(phaseID))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock ledger %s: %w", phaseID, err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("unlock ledger", zap.String("phase_id", phaseID), zap.Error(err))
		}
	}()
	return fn()
}

func (s *Store) write(entry *model.LedgerEntry) (err error) {
	start := s.now()
	if s.recorder != nil {
		defer func() { s.recorder.ObserveLedgerWrite(s.now().Sub(start), err) }()
	}

	entry.SchemaVersion = model.LedgerSchemaVersion
	entry.FileType = model.LedgerFileType
	entry.UpdatedAt = s.now().UTC().Format(time.RFC3339Nano)

	err = yamlutil.AtomicWrite(s.Path(entry.PhaseID), entry, yamlutil.WithValidator(checkLedgerHeader))
	if err != nil {
		return fmt.Errorf("write ledger %s: %w", entry.PhaseID, err)
	}
	s.logger.Debug("ledger written",
		zap.String("phase_id", entry.PhaseID),
		zap.String("execution_status", entry.ExecutionStatus))
	return nil
}

// List returns the sorted phase IDs that have a ledger file.
func (s *Store) List() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list ledger dir: %w", err)
	}

	var ids []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".yaml") {
			continue
		}
		id := strings.TrimSuffix(name, ".yaml")
		if !model.IsValidPhaseID(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
