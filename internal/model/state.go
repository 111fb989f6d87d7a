package model

const (
	LedgerSchemaVersion = 1
	LedgerFileType      = "ledger_phase"
)

// TransitionRecord is appended on every successful state transition and never rewritten.
type TransitionRecord struct {
	FromState     PhaseState `yaml:"from_state" json:"from_state"`
	ToState       PhaseState `yaml:"to_state" json:"to_state"`
	TriggerReason string     `yaml:"trigger_reason" json:"trigger_reason"`
	Timestamp     string     `yaml:"timestamp" json:"timestamp"`
}

// LedgerEntry is the durable per-phase record. The file always holds the
// current state together with the full transition history.
type LedgerEntry struct {
	SchemaVersion      int                `yaml:"schema_version" json:"schema_version"`
	FileType           string             `yaml:"file_type" json:"file_type"`
	PhaseID            string             `yaml:"phase_id" json:"phase_id"`
	ExecutionStatus    string             `yaml:"execution_status" json:"execution_status"`
	QueuedTimestamp    *string            `yaml:"queued_timestamp,omitempty" json:"queued_timestamp,omitempty"`
	StartedTimestamp   *string            `yaml:"started_timestamp,omitempty" json:"started_timestamp,omitempty"`
	CompletedTimestamp *string            `yaml:"completed_timestamp,omitempty" json:"completed_timestamp,omitempty"`
	FailedTimestamp    *string            `yaml:"failed_timestamp,omitempty" json:"failed_timestamp,omitempty"`
	FailureReason      *string            `yaml:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	StateTransitions   []TransitionRecord `yaml:"state_transitions" json:"state_transitions"`

	// Spec metadata captured at queue time.
	WorkstreamID         string   `yaml:"workstream_id" json:"workstream_id"`
	EstimatedEffortHours *float64 `yaml:"estimated_effort_hours,omitempty" json:"estimated_effort_hours,omitempty"`
	Dependencies         []string `yaml:"dependencies" json:"dependencies"`

	UpdatedAt string `yaml:"updated_at" json:"updated_at"`
}

// State returns the parsed execution status, or StateUnqueued if the field is unreadable.
func (e *LedgerEntry) State() PhaseState {
	st, err := ParsePhaseState(e.ExecutionStatus)
	if err != nil {
		return StateUnqueued
	}
	return st
}
