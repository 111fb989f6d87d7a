package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/phasegate/internal/lifecycle"
	"github.com/msageha/phasegate/internal/model"
	"github.com/msageha/phasegate/internal/orchestrator"
)

const specA = `phase_id: PH-A
workstream_id: WS-1
objective: first
dependencies: []
file_scope: [internal/a/]
`

const specB = `phase_id: PH-B
workstream_id: WS-1
objective: second
dependencies: [PH-A]
file_scope: [internal/b/]
`

func writeSpec(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCollectSpecs_FilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "set")
	require.NoError(t, os.Mkdir(sub, 0755))
	writeSpec(t, sub, "b.yaml", specB)
	writeSpec(t, sub, "bad.yaml", "phase_id: [\n")
	single := writeSpec(t, dir, "a.yaml", specA)

	specs, failed := collectSpecs([]string{single, sub, filepath.Join(dir, "missing.yaml")})

	require.Len(t, specs, 2)
	assert.Equal(t, "PH-A", specs[0].PhaseID)
	assert.Equal(t, "PH-B", specs[1].PhaseID)

	require.Len(t, failed, 2)
	assert.Equal(t, filepath.Join(sub, "bad.yaml"), failed[0].Path)
	assert.Equal(t, filepath.Join(dir, "missing.yaml"), failed[1].Path)
}

func TestReportTransitionError(t *testing.T) {
	vfe := &orchestrator.ValidationFailedError{
		PhaseID: "PH-A",
		Result:  &model.ValidationResult{PhaseID: "PH-A", Errors: []string{"x"}},
	}
	assert.ErrorIs(t, reportTransitionError(vfe), errReported)

	ste := &lifecycle.StateTransitionError{PhaseID: "PH-A", From: model.StateComplete, To: model.StateRunning}
	assert.ErrorIs(t, reportTransitionError(ste), errReported)

	other := errors.New("disk full")
	assert.Equal(t, other, reportTransitionError(other))
}
