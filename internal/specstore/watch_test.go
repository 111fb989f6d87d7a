package specstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/phasegate/internal/model"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loads := make(chan []model.PhaseSpecification, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, 20*time.Millisecond, func(specs []model.PhaseSpecification, _ []*LoadError) {
			loads <- specs
		})
	}()

	select {
	case specs := <-loads:
		assert.Empty(t, specs)
	case <-time.After(2 * time.Second):
		t.Fatal("initial load not reported")
	}

	writeFile(t, dir, "a.yaml", yamlSpec)
	writeFile(t, dir, "notes.txt", "ignored")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case specs := <-loads:
			if len(specs) == 1 {
				assert.Equal(t, "PH-A", specs[0].PhaseID)
				cancel()
				select {
				case err := <-done:
					require.NoError(t, err)
				case <-time.After(2 * time.Second):
					t.Fatal("Watch did not return after cancel")
				}
				return
			}
		case <-deadline:
			t.Fatal("reload after write not reported")
		}
	}
}

func TestWatch_MissingDir(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/phasegate/specs", time.Millisecond, func([]model.PhaseSpecification, []*LoadError) {})
	assert.Error(t, err)
}
