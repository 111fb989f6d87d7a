package model

import (
	"fmt"
	"strings"
)

// PhaseState is the lifecycle state of a single phase.
type PhaseState string

const (
	// StateUnqueued is the implicit state before admission. It is never persisted
	// as a current state, only as the source of the first transition.
	StateUnqueued PhaseState = "UNQUEUED"
	StateQueued   PhaseState = "QUEUED"
	StateRunning  PhaseState = "RUNNING"
	StateComplete PhaseState = "COMPLETE"
	StateFailed   PhaseState = "FAILED"
)

var terminalPhaseStates = map[PhaseState]bool{
	StateComplete: true,
	StateFailed:   true,
}

// Phase lifecycle: UNQUEUED → QUEUED → RUNNING → COMPLETE|FAILED
var validPhaseStateTransitions = map[PhaseState]map[PhaseState]bool{
	StateUnqueued: {
		StateQueued: true,
	},
	StateQueued: {
		StateRunning: true,
	},
	StateRunning: {
		StateComplete: true,
		StateFailed:   true,
	},
}

func IsPhaseStateTerminal(s PhaseState) bool {
	return terminalPhaseStates[s]
}

func IsKnownPhaseState(s PhaseState) bool {
	switch s {
	case StateUnqueued, StateQueued, StateRunning, StateComplete, StateFailed:
		return true
	}
	return false
}

// ParsePhaseState accepts any letter case, as ledger readers may hand-edit files.
func ParsePhaseState(s string) (PhaseState, error) {
	st := PhaseState(strings.ToUpper(strings.TrimSpace(s)))
	if !IsKnownPhaseState(st) {
		return "", fmt.Errorf("unknown phase state %q", s)
	}
	return st, nil
}

func ValidatePhaseStateTransition(from, to PhaseState) error {
	if IsPhaseStateTerminal(from) {
		return fmt.Errorf("cannot transition from terminal state %q", from)
	}
	allowed, ok := validPhaseStateTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase transition: %q → %q", from, to)
	}
	return nil
}
