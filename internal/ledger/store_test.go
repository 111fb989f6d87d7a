package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/msageha/phasegate/internal/model"
	yamlutil "github.com/msageha/phasegate/internal/yaml"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "ledger"), opts...)
	require.NoError(t, err)
	return s
}

func queuedEntry(id string) *model.LedgerEntry {
	ts := "2026-03-01T09:00:00Z"
	return &model.LedgerEntry{
		PhaseID:         id,
		ExecutionStatus: string(model.StateQueued),
		QueuedTimestamp: &ts,
		StateTransitions: []model.TransitionRecord{
			{FromState: model.StateUnqueued, ToState: model.StateQueued, TriggerReason: "admitted", Timestamp: ts},
		},
		WorkstreamID: "WS-1",
		Dependencies: []string{"PH-0"},
	}
}

func TestStore_WriteRead(t *testing.T) {
	s := newTestStore(t)
	require.False(t, s.Exists("PH-A"))

	require.NoError(t, s.Write(queuedEntry("PH-A")))
	assert.True(t, s.Exists("PH-A"))

	got, err := s.Read("PH-A")
	require.NoError(t, err)
	assert.Equal(t, model.LedgerSchemaVersion, got.SchemaVersion)
	assert.Equal(t, model.LedgerFileType, got.FileType)
	assert.Equal(t, model.StateQueued, got.State())
	assert.Equal(t, "WS-1", got.WorkstreamID)
	require.Len(t, got.StateTransitions, 1)
	assert.Equal(t, "admitted", got.StateTransitions[0].TriggerReason)
	assert.NotEmpty(t, got.UpdatedAt)
}

func TestStore_ReadNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("PH-MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("../etc/passwd")
	assert.Error(t, err)

	err = s.Write(&model.LedgerEntry{PhaseID: "bad id"})
	assert.Error(t, err)
}

func TestStore_FileIsPlainYAML(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(queuedEntry("PH-A")))

	data, err := os.ReadFile(s.Path("PH-A"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "schema_version: 1")
	assert.Contains(t, content, "file_type: ledger_phase")
	assert.Contains(t, content, "execution_status: QUEUED")
	assert.Contains(t, content, "from_state: UNQUEUED")
}

func TestStore_CorruptFileRestoredFromBackup(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newTestStore(t, WithLogger(zap.New(core)))

	e := queuedEntry("PH-A")
	require.NoError(t, s.Write(e))
	e.ExecutionStatus = string(model.StateRunning)
	require.NoError(t, s.Write(e))

	require.NoError(t, os.WriteFile(s.Path("PH-A"), []byte("execution_status: [\n"), 0644))

	got, err := s.Read("PH-A")
	require.NoError(t, err)
	assert.Equal(t, model.StateQueued, got.State(), "backup holds the previous version")

	quarantined, err := os.ReadDir(filepath.Join(s.Dir(), "quarantine"))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
	assert.Equal(t, 1, logs.FilterMessage("ledger file corrupt, restored from backup").Len())
}

func TestStore_TruncatedFileTreatedAsCorrupt(t *testing.T) {
	s := newTestStore(t)
	e := queuedEntry("PH-A")
	require.NoError(t, s.Write(e))
	require.NoError(t, s.Write(e))

	require.NoError(t, os.WriteFile(s.Path("PH-A"), []byte(""), 0644))

	got, err := s.Read("PH-A")
	require.NoError(t, err)
	assert.Equal(t, "PH-A", got.PhaseID)
}

func TestStore_CorruptWithoutBackupFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path("PH-A"), []byte("a: [\n"), 0644))

	for i := 0; i < 2; i++ {
		_, err := s.Read("PH-A")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorrupt)
		assert.False(t, errors.Is(err, ErrNotFound))
	}

	assert.FileExists(t, s.Path("PH-A"), "corrupt file without backup stays in place")
	assert.NoDirExists(t, filepath.Join(s.Dir(), "quarantine"))
	assert.True(t, s.Exists("PH-A"))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"PH-A"}, ids)
}

func TestStore_FutureSchemaRejected(t *testing.T) {
	s := newTestStore(t)
	content := "schema_version: 9\nfile_type: ledger_phase\nphase_id: PH-A\n"
	require.NoError(t, os.WriteFile(s.Path("PH-A"), []byte(content), 0644))

	_, err := s.Read("PH-A")
	assert.ErrorIs(t, err, yamlutil.ErrFutureSchema)
	assert.FileExists(t, s.Path("PH-A"), "unsupported versions are not quarantined")
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t)

	err := s.Update("PH-A", func(cur *model.LedgerEntry) (*model.LedgerEntry, error) {
		assert.Nil(t, cur)
		return queuedEntry("PH-A"), nil
	})
	require.NoError(t, err)

	err = s.Update("PH-A", func(cur *model.LedgerEntry) (*model.LedgerEntry, error) {
		require.NotNil(t, cur)
		cur.ExecutionStatus = string(model.StateRunning)
		return cur, nil
	})
	require.NoError(t, err)

	got, err := s.Read("PH-A")
	require.NoError(t, err)
	assert.Equal(t, model.StateRunning, got.State())
}

func TestStore_UpdateErrorWritesNothing(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")
	err := s.Update("PH-A", func(*model.LedgerEntry) (*model.LedgerEntry, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Exists("PH-A"))
}

func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(queuedEntry("PH-A")))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update("PH-A", func(cur *model.LedgerEntry) (*model.LedgerEntry, error) {
				cur.StateTransitions = append(cur.StateTransitions, model.TransitionRecord{
					TriggerReason: fmt.Sprintf("t%d", i),
				})
				return cur, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Read("PH-A")
	require.NoError(t, err)
	assert.Len(t, got.StateTransitions, n+1)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"PH-C", "PH-A", "PH-B"} {
		require.NoError(t, s.Write(queuedEntry(id)))
	}
	// rewriting creates .bak siblings that must not be listed
	require.NoError(t, s.Write(queuedEntry("PH-A")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.yaml"), []byte("x: 1\n"), 0644))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"PH-A", "PH-B", "PH-C"}, ids)
}

type fakeRecorder struct {
	mu     sync.Mutex
	writes int
	errs   int
}

func (f *fakeRecorder) ObserveLedgerWrite(_ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if err != nil {
		f.errs++
	}
}

func TestStore_RecorderObservesWrites(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestStore(t, WithRecorder(rec))
	require.NoError(t, s.Write(queuedEntry("PH-A")))
	require.NoError(t, s.Write(queuedEntry("PH-A")))
	assert.Equal(t, 2, rec.writes)
	assert.Equal(t, 0, rec.errs)
}
