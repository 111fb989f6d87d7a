package orchestrator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/msageha/phasegate/internal/ledger"
	"github.com/msageha/phasegate/internal/model"
)

// PhaseStatus is the merged view of one phase.
type PhaseStatus struct {
	PhaseID  string                   `yaml:"phase_id" json:"phase_id"`
	State    model.PhaseState         `yaml:"state" json:"state"`
	InMemory bool                     `yaml:"in_memory" json:"in_memory"`
	OnDisk   bool                     `yaml:"on_disk" json:"on_disk"`
	History  []model.TransitionRecord `yaml:"state_transitions" json:"state_transitions"`
	// Entry is the ledger file contents, nil when OnDisk is false or the
	// file could not be read.
	Entry *model.LedgerEntry `yaml:"ledger,omitempty" json:"ledger,omitempty"`
	// ReadError is set by ListPhases when the ledger file exists but cannot be
	// read. State is then the in-memory state, or empty when unknown.
	ReadError string `yaml:"read_error,omitempty" json:"read_error,omitempty"`
}

// GetStatus merges the in-memory machine with the ledger entry. The longer
// history wins. ErrPhaseNotFound is returned when neither exists.
func (c *Core) GetStatus(id string) (*PhaseStatus, error) {
	if !model.IsValidPhaseID(id) {
		return nil, fmt.Errorf("%w: %q", ErrPhaseNotFound, id)
	}
	m := c.machine(id)

	entry, err := c.store.Read(id)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("status %s: %w", id, err)
	}
	if m == nil && entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, id)
	}

	st := &PhaseStatus{
		PhaseID:  id,
		State:    model.StateUnqueued,
		InMemory: m != nil,
		OnDisk:   entry != nil,
		Entry:    entry,
	}
	if m != nil {
		st.State = m.State()
		st.History = m.History()
	}
	if entry != nil && len(entry.StateTransitions) >= len(st.History) {
		st.State = entry.State()
		st.History = append([]model.TransitionRecord(nil), entry.StateTransitions...)
	}
	return st, nil
}

// ListPhases returns every phase known in memory or on disk, sorted by ID.
// A ledger file that cannot be read does not abort the listing; its phase is
// reported with ReadError set.
func (c *Core) ListPhases() ([]PhaseStatus, error) {
	onDisk, err := c.store.List()
	if err != nil {
		return nil, err
	}

	c.machinesMu.RLock()
	inMemory := make([]string, 0, len(c.machines))
	for id := range c.machines {
		inMemory = append(inMemory, id)
	}
	c.machinesMu.RUnlock()

	ids := sortedUnion(inMemory, onDisk)
	out := make([]PhaseStatus, 0, len(ids))
	for _, id := range ids {
		st, err := c.GetStatus(id)
		if err != nil {
			c.logger.Warn("phase status unreadable", zap.String("phase_id", id), zap.Error(err))
			st = &PhaseStatus{PhaseID: id, OnDisk: true, ReadError: err.Error()}
			if m := c.machine(id); m != nil {
				st.InMemory = true
				st.State = m.State()
				st.History = m.History()
			}
		}
		out = append(out, *st)
	}
	return out, nil
}

// PlanReport summarizes the active spec set's graph.
type PlanReport struct {
	Order     []string            `yaml:"order" json:"order"`
	Levels    [][]string          `yaml:"levels" json:"levels"`
	HasCycles bool                `yaml:"has_cycles" json:"has_cycles"`
	Cycles    []string            `yaml:"cycles" json:"cycles"`
	Dangling  map[string][]string `yaml:"dangling" json:"dangling"`
}

// Plan reports order and levels for the active set. Both are nil when the
// graph has a cycle.
func (c *Core) Plan() *PlanReport {
	r := c.Resolver()
	hasCycles, cycles := r.DetectCycles()
	order, _ := r.TopologicalOrder()
	levels, _ := r.ParallelLevels()
	return &PlanReport{
		Order:     order,
		Levels:    levels,
		HasCycles: hasCycles,
		Cycles:    cycles,
		Dangling:  r.Dangling(),
	}
}

// BlastRadius returns the phases of the active set transitively blocked by id.
func (c *Core) BlastRadius(id string) []string {
	return c.Resolver().BlockedBy(id)
}

// ReadyPhases lists active-set phases that are UNQUEUED or QUEUED and whose
// declared dependencies are all COMPLETE.
func (c *Core) ReadyPhases() ([]string, error) {
	statuses, err := c.ListPhases()
	if err != nil {
		return nil, err
	}
	states := make(map[string]model.PhaseState, len(statuses))
	completed := make(map[string]bool)
	for _, st := range statuses {
		if st.ReadError != "" {
			// Unknown state: never ready and never satisfies a dependency.
			states[st.PhaseID] = ""
			continue
		}
		states[st.PhaseID] = st.State
		if st.State == model.StateComplete {
			completed[st.PhaseID] = true
		}
	}

	r := c.Resolver()
	var ready []string
	for _, id := range r.Nodes() {
		state, known := states[id]
		if known && state != model.StateUnqueued && state != model.StateQueued {
			continue
		}
		if r.CanExecute(id, completed) {
			ready = append(ready, id)
		}
	}
	return sortedUnion(ready, nil), nil
}
