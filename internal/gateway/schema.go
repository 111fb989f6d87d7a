package gateway

import (
	"fmt"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

// checkSchema verifies structural presence and format of required fields.
func checkSchema(spec *model.PhaseSpecification) *layerCheck {
	c := &layerCheck{}

	if spec.PhaseID == "" {
		c.errs.Add("phase_id", "required field is missing")
	} else if !model.IsValidPhaseID(spec.PhaseID) {
		c.errs.Add("phase_id", fmt.Sprintf("invalid phase_id format %q: must match %s",
			spec.PhaseID, model.PhaseIDPattern.String()))
	}

	if strings.TrimSpace(spec.WorkstreamID) == "" {
		c.errs.Add("workstream_id", "required field is missing")
	}
	if strings.TrimSpace(spec.Objective) == "" {
		c.errs.Add("objective", "required field is missing")
	}

	for i, dep := range spec.Dependencies {
		if !model.IsValidPhaseID(dep) {
			c.errs.Add(fmt.Sprintf("dependencies[%d]", i),
				fmt.Sprintf("invalid phase_id format %q: must match %s", dep, model.PhaseIDPattern.String()))
		}
	}

	switch {
	case spec.FileScope == nil:
		c.errs.Add("file_scope", "required field is missing")
	case len(spec.FileScope) == 0:
		c.errs.Add("file_scope", "must contain at least one path pattern")
	default:
		for i, scope := range spec.FileScope {
			if strings.TrimSpace(scope) == "" {
				c.errs.Add(fmt.Sprintf("file_scope[%d]", i), "path pattern must not be empty")
			}
		}
	}

	switch {
	case spec.AcceptanceTests == nil:
		c.errs.Add("acceptance_tests", "required field is missing")
	case len(spec.AcceptanceTests) == 0:
		c.errs.Add("acceptance_tests", "must contain at least one acceptance test")
	default:
		for i, test := range spec.AcceptanceTests {
			checkRecordFields(test, fmt.Sprintf("acceptance_tests[%d]", i), c)
		}
	}

	return c
}

func checkRecordFields(rec model.CheckRecord, prefix string, c *layerCheck) {
	if strings.TrimSpace(rec.ID) == "" {
		c.errs.Add(prefix+".id", "required field is missing")
	}
	if strings.TrimSpace(rec.Description) == "" {
		c.errs.Add(prefix+".description", "required field is missing")
	}
	if strings.TrimSpace(rec.Command) == "" {
		c.errs.Add(prefix+".command", "required field is missing")
	}
	if strings.TrimSpace(rec.ExpectedResult) == "" {
		c.errs.Add(prefix+".expected_result", "required field is missing")
	}
}
