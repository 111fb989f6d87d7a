package model

import "regexp"

// PhaseIDPattern is the format every phase identifier and dependency reference must match.
var PhaseIDPattern = regexp.MustCompile(`^PH-[A-Z0-9]+$`)

func IsValidPhaseID(id string) bool {
	return PhaseIDPattern.MatchString(id)
}

// CheckRecord is a pre-flight check or acceptance test.
type CheckRecord struct {
	ID             string `yaml:"id" json:"id"`
	Description    string `yaml:"description" json:"description"`
	Command        string `yaml:"command" json:"command"`
	ExpectedResult string `yaml:"expected_result" json:"expected_result"`
}

// PhaseSpecification describes one unit of work. It is read-only once loaded.
//
// Slices distinguish absent (nil) from empty; decoding leaves absent keys nil.
type PhaseSpecification struct {
	PhaseID              string        `yaml:"phase_id" json:"phase_id"`
	WorkstreamID         string        `yaml:"workstream_id" json:"workstream_id"`
	Objective            string        `yaml:"objective" json:"objective"`
	Dependencies         []string      `yaml:"dependencies" json:"dependencies"`
	FileScope            []string      `yaml:"file_scope" json:"file_scope"`
	PreFlightChecks      []CheckRecord `yaml:"pre_flight_checks" json:"pre_flight_checks"`
	AcceptanceTests      []CheckRecord `yaml:"acceptance_tests" json:"acceptance_tests"`
	EstimatedEffortHours *float64      `yaml:"estimated_effort_hours" json:"estimated_effort_hours"`

	// SourcePath is where the spec was loaded from, if anywhere.
	SourcePath string `yaml:"-" json:"-"`
}
