// Package orchestrator ties validation, lifecycle and the ledger together and
// answers status queries by merging in-memory machines with ledger files.
package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/phasegate/internal/events"
	"github.com/msageha/phasegate/internal/gateway"
	"github.com/msageha/phasegate/internal/graph"
	"github.com/msageha/phasegate/internal/ledger"
	"github.com/msageha/phasegate/internal/lifecycle"
	"github.com/msageha/phasegate/internal/lock"
	"github.com/msageha/phasegate/internal/model"
)

// Admission outcomes passed to Recorder.ObserveAdmission.
const (
	AdmissionQueued   = "queued"
	AdmissionForced   = "forced"
	AdmissionRejected = "rejected"
	AdmissionIllegal  = "illegal"
)

// Recorder receives admission and transition observations. metrics.Recorder
// implements it.
type Recorder interface {
	ObserveAdmission(outcome string)
	ObserveTransition(from, to string)
}

type Options struct {
	Gateway *gateway.Gateway
	Store   *ledger.Store
	Logger  *zap.Logger
	// Optional.
	Recorder Recorder
	Bus      *events.Bus
	Clock    func() time.Time
}

type QueueOptions struct {
	// Force admits a spec that failed validation. A malformed phase_id is
	// never admitted since it cannot name a ledger file.
	Force bool
}

// Core is safe for concurrent use. Calls for the same phase are serialized;
// calls for different phases run independently.
type Core struct {
	gateway  *gateway.Gateway
	store    *ledger.Store
	logger   *zap.Logger
	recorder Recorder
	bus      *events.Bus
	now      func() time.Time

	phaseLocks *lock.MutexMap

	machinesMu sync.RWMutex
	machines   map[string]*lifecycle.Machine

	specsMu  sync.RWMutex
	specs    []model.PhaseSpecification
	resolver *graph.Resolver
}

func New(opts Options) (*Core, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("orchestrator: gateway is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: ledger store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Core{
		gateway:    opts.Gateway,
		store:      opts.Store,
		logger:     logger.Named("orchestrator"),
		recorder:   opts.Recorder,
		bus:        opts.Bus,
		now:        now,
		phaseLocks: lock.NewMutexMap(),
		machines:   make(map[string]*lifecycle.Machine),
		resolver:   graph.NewResolver(nil),
	}, nil
}

// LoadSpecs replaces the active spec set and rebuilds the resolver snapshot.
func (c *Core) LoadSpecs(specs []model.PhaseSpecification) {
	snapshot := append([]model.PhaseSpecification(nil), specs...)
	resolver := graph.NewResolver(snapshot)

	c.specsMu.Lock()
	c.specs = snapshot
	c.resolver = resolver
	c.specsMu.Unlock()

	c.logger.Info("spec set loaded", zap.Int("specs", len(snapshot)))
}

// Resolver returns the current immutable graph snapshot.
func (c *Core) Resolver() *graph.Resolver {
	c.specsMu.RLock()
	defer c.specsMu.RUnlock()
	return c.resolver
}

// Specs returns a copy of the active spec set.
func (c *Core) Specs() []model.PhaseSpecification {
	c.specsMu.RLock()
	defer c.specsMu.RUnlock()
	return append([]model.PhaseSpecification(nil), c.specs...)
}

// validationSet is the active set with spec substituted for any entry of the
// same ID, or nil when no set is loaded.
func (c *Core) validationSet(spec *model.PhaseSpecification) []model.PhaseSpecification {
	c.specsMu.RLock()
	defer c.specsMu.RUnlock()
	if len(c.specs) == 0 {
		return nil
	}
	set := make([]model.PhaseSpecification, 0, len(c.specs)+1)
	set = append(set, *spec)
	for _, s := range c.specs {
		if s.PhaseID != spec.PhaseID {
			set = append(set, s)
		}
	}
	return set
}

// QueuePhase validates spec and, if it passes or Force is set, moves the
// phase UNQUEUED -> QUEUED and creates its ledger entry. The result is
// returned even when admission fails. The error is a *ValidationFailedError
// for bad input or a *lifecycle.StateTransitionError for bad sequencing.
func (c *Core) QueuePhase(spec *model.PhaseSpecification, opts QueueOptions) (*model.ValidationResult, error) {
	if spec == nil {
		spec = &model.PhaseSpecification{}
	}

	var result *model.ValidationResult
	if set := c.validationSet(spec); set != nil {
		result = c.gateway.ValidateInSet(spec, set)
	} else {
		result = c.gateway.Validate(spec)
	}

	id := spec.PhaseID
	if !result.OverallPassed && (!opts.Force || !model.IsValidPhaseID(id)) {
		c.observeAdmission(AdmissionRejected)
		c.publish(events.EventPhaseRejected, id, map[string]any{
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		c.logger.Info("phase rejected",
			zap.String("phase_id", id),
			zap.Strings("errors", result.Errors))
		return result, &ValidationFailedError{PhaseID: id, Result: result}
	}

	trigger := "validation passed"
	outcome := AdmissionQueued
	if !result.OverallPassed {
		trigger = "forced admission"
		outcome = AdmissionForced
		c.logger.Warn("phase admitted despite validation errors",
			zap.String("phase_id", id),
			zap.Strings("errors", result.Errors))
	}

	meta := entryMeta{
		workstreamID: spec.WorkstreamID,
		effort:       spec.EstimatedEffortHours,
		dependencies: append([]string{}, spec.Dependencies...),
	}
	if err := c.transition(id, model.StateQueued, trigger, "", &meta); err != nil {
		if errors.Is(err, lifecycle.ErrIllegalTransition) {
			c.observeAdmission(AdmissionIllegal)
		}
		return result, err
	}

	c.observeAdmission(outcome)
	c.publish(events.EventPhaseQueued, id, map[string]any{
		"forced":   outcome == AdmissionForced,
		"warnings": result.Warnings,
	})
	return result, nil
}

// StartPhase moves QUEUED -> RUNNING.
func (c *Core) StartPhase(id string) error {
	return c.transition(id, model.StateRunning, "started", "", nil)
}

// CompletePhase moves RUNNING -> COMPLETE.
func (c *Core) CompletePhase(id string) error {
	return c.transition(id, model.StateComplete, "completed", "", nil)
}

// FailPhase moves RUNNING -> FAILED and records reason, which must not be blank.
func (c *Core) FailPhase(id, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("fail %s: %w", id, ErrReasonRequired)
	}
	return c.transition(id, model.StateFailed, "failed: "+reason, reason, nil)
}

type entryMeta struct {
	workstreamID string
	effort       *float64
	dependencies []string
}

// transition applies one state change to a candidate machine, persists it
// and only then publishes the candidate as the in-memory machine. A failed
// write leaves memory and disk unchanged.
func (c *Core) transition(id string, target model.PhaseState, trigger, failureReason string, meta *entryMeta) error {
	if !model.IsValidPhaseID(id) {
		return fmt.Errorf("invalid phase_id %q", id)
	}

	c.phaseLocks.Lock(id)
	defer c.phaseLocks.Unlock(id)

	var (
		candidate *lifecycle.Machine
		rec       model.TransitionRecord
	)
	err := c.store.Update(id, func(current *model.LedgerEntry) (*model.LedgerEntry, error) {
		var err error
		candidate, err = c.restore(id, current)
		if err != nil {
			return nil, err
		}
		rec, err = candidate.Transition(target, trigger)
		if err != nil {
			return nil, err
		}
		return buildEntry(id, candidate.History(), current, meta, failureReason), nil
	})
	if err != nil {
		var ste *lifecycle.StateTransitionError
		if errors.As(err, &ste) {
			c.logger.Info("illegal transition refused",
				zap.String("phase_id", id),
				zap.String("from", string(ste.From)),
				zap.String("to", string(ste.To)))
			return ste
		}
		c.logger.Error("transition failed", zap.String("phase_id", id), zap.Error(err))
		return fmt.Errorf("phase %s: %w", id, err)
	}

	c.machinesMu.Lock()
	c.machines[id] = candidate
	c.machinesMu.Unlock()

	if c.recorder != nil {
		c.recorder.ObserveTransition(string(rec.FromState), string(rec.ToState))
	}
	c.publish(events.EventPhaseTransition, id, map[string]any{
		"from_state":     string(rec.FromState),
		"to_state":       string(rec.ToState),
		"trigger_reason": rec.TriggerReason,
	})
	c.logger.Info("phase transitioned",
		zap.String("phase_id", id),
		zap.String("from", string(rec.FromState)),
		zap.String("to", string(rec.ToState)))
	return nil
}

// restore picks the longer of the in-memory and on-disk histories, so a
// restarted process resumes from the ledger and a ledger advanced by another
// process is never overwritten with stale memory.
func (c *Core) restore(id string, current *model.LedgerEntry) (*lifecycle.Machine, error) {
	var history []model.TransitionRecord
	if m := c.machine(id); m != nil {
		history = m.History()
	}
	if current != nil && len(current.StateTransitions) >= len(history) {
		history = current.StateTransitions
	}

	m, err := lifecycle.Restore(id, history, lifecycle.WithClock(c.now))
	if err != nil {
		return nil, fmt.Errorf("rebuild state machine: %w", err)
	}
	if current != nil && len(current.StateTransitions) == len(history) && current.State() != m.State() {
		return nil, fmt.Errorf("ledger execution_status %s disagrees with history (%s)",
			current.ExecutionStatus, m.State())
	}
	return m, nil
}

func (c *Core) machine(id string) *lifecycle.Machine {
	c.machinesMu.RLock()
	defer c.machinesMu.RUnlock()
	return c.machines[id]
}

// buildEntry re-derives the whole ledger entry from history. Spec metadata
// comes from meta at queue time and is carried over afterwards.
func buildEntry(id string, history []model.TransitionRecord, prev *model.LedgerEntry, meta *entryMeta, failureReason string) *model.LedgerEntry {
	entry := &model.LedgerEntry{
		PhaseID:          id,
		StateTransitions: history,
		Dependencies:     []string{},
	}
	if prev != nil {
		entry.WorkstreamID = prev.WorkstreamID
		entry.EstimatedEffortHours = prev.EstimatedEffortHours
		entry.Dependencies = prev.Dependencies
		entry.FailureReason = prev.FailureReason
	}
	if meta != nil {
		entry.WorkstreamID = meta.workstreamID
		entry.EstimatedEffortHours = meta.effort
		entry.Dependencies = meta.dependencies
	}

	state := model.StateUnqueued
	for i := range history {
		ts := history[i].Timestamp
		switch history[i].ToState {
		case model.StateQueued:
			entry.QueuedTimestamp = &ts
		case model.StateRunning:
			entry.StartedTimestamp = &ts
		case model.StateComplete:
			entry.CompletedTimestamp = &ts
		case model.StateFailed:
			entry.FailedTimestamp = &ts
		}
		state = history[i].ToState
	}
	entry.ExecutionStatus = string(state)

	if state == model.StateFailed && failureReason != "" {
		entry.FailureReason = &failureReason
	}
	return entry
}

func (c *Core) observeAdmission(outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveAdmission(outcome)
	}
}

func (c *Core) publish(t events.EventType, id string, data map[string]any) {
	if c.bus != nil {
		c.bus.Publish(t, id, data)
	}
}

// sortedUnion merges and de-duplicates two ID lists.
func sortedUnion(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}
