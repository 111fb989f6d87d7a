// Package lifecycle implements the per-phase state machine:
// UNQUEUED → QUEUED → RUNNING → COMPLETE|FAILED.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/msageha/phasegate/internal/model"
)

// ErrIllegalTransition matches every StateTransitionError via errors.Is.
var ErrIllegalTransition = errors.New("illegal state transition")

// StateTransitionError identifies an illegal source/target pair.
type StateTransitionError struct {
	PhaseID string
	From    model.PhaseState
	To      model.PhaseState
	Reason  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("phase %s: illegal transition %s → %s: %s", e.PhaseID, e.From, e.To, e.Reason)
}

func (e *StateTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Machine tracks one phase. It is not safe for concurrent use; callers
// serialize access per phase ID.
type Machine struct {
	phaseID string
	state   model.PhaseState
	history []model.TransitionRecord
	now     func() time.Time
}

type Option func(*Machine)

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func NewMachine(phaseID string, opts ...Option) *Machine {
	m := &Machine{
		phaseID: phaseID,
		state:   model.StateUnqueued,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore replays a persisted history through the legality table and returns
// a machine in the recorded state.
func Restore(phaseID string, history []model.TransitionRecord, opts ...Option) (*Machine, error) {
	m := NewMachine(phaseID, opts...)
	for i, rec := range history {
		if rec.FromState != m.state {
			return nil, fmt.Errorf("phase %s: history[%d] starts from %s but machine is %s",
				phaseID, i, rec.FromState, m.state)
		}
		if err := model.ValidatePhaseStateTransition(rec.FromState, rec.ToState); err != nil {
			return nil, fmt.Errorf("phase %s: history[%d]: %w", phaseID, i, err)
		}
		m.state = rec.ToState
		m.history = append(m.history, rec)
	}
	return m, nil
}

// Transition moves to target and appends a record. On error the machine is unchanged.
func (m *Machine) Transition(target model.PhaseState, trigger string) (model.TransitionRecord, error) {
	if err := model.ValidatePhaseStateTransition(m.state, target); err != nil {
		return model.TransitionRecord{}, &StateTransitionError{
			PhaseID: m.phaseID,
			From:    m.state,
			To:      target,
			Reason:  err.Error(),
		}
	}

	rec := model.TransitionRecord{
		FromState:     m.state,
		ToState:       target,
		TriggerReason: trigger,
		Timestamp:     m.now().UTC().Format(time.RFC3339Nano),
	}
	m.history = append(m.history, rec)
	m.state = target
	return rec, nil
}

func (m *Machine) PhaseID() string {
	return m.phaseID
}

func (m *Machine) State() model.PhaseState {
	return m.state
}

func (m *Machine) IsTerminal() bool {
	return model.IsPhaseStateTerminal(m.state)
}

// History returns a copy of the transition records.
func (m *Machine) History() []model.TransitionRecord {
	return append([]model.TransitionRecord(nil), m.history...)
}
