package gateway

import (
	"fmt"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

const (
	DefaultMinAcceptanceTests = 3
	DefaultEffortMin          = 1.0
	DefaultEffortMax          = 40.0
)

// DefaultForbiddenScopes are whole-repository patterns a phase may not claim.
var DefaultForbiddenScopes = []string{".", "./", "*", "**", "**/*", "./**", "/"}

// GuardRules holds the business-rule thresholds of the guard_rules layer.
type GuardRules struct {
	MinAcceptanceTests int
	ForbiddenScopes    []string
	EffortMin          float64
	EffortMax          float64
}

func DefaultGuardRules() GuardRules {
	return GuardRules{
		MinAcceptanceTests: DefaultMinAcceptanceTests,
		ForbiddenScopes:    append([]string(nil), DefaultForbiddenScopes...),
		EffortMin:          DefaultEffortMin,
		EffortMax:          DefaultEffortMax,
	}
}

// GuardRulesFromConfig fills unset config values with defaults.
func GuardRulesFromConfig(cfg model.GuardConfig) GuardRules {
	rules := DefaultGuardRules()
	if cfg.MinAcceptanceTests > 0 {
		rules.MinAcceptanceTests = cfg.MinAcceptanceTests
	}
	if len(cfg.ForbiddenScopes) > 0 {
		rules.ForbiddenScopes = append([]string(nil), cfg.ForbiddenScopes...)
	}
	if cfg.EffortMin > 0 {
		rules.EffortMin = cfg.EffortMin
	}
	if cfg.EffortMax > 0 {
		rules.EffortMax = cfg.EffortMax
	}
	return rules
}

// checkGuardRules applies business policy. Hard violations are errors;
// effort range and missing pre-flight checks are warnings.
func (g *Gateway) checkGuardRules(spec *model.PhaseSpecification) *layerCheck {
	c := &layerCheck{}

	if n := len(spec.AcceptanceTests); n < g.rules.MinAcceptanceTests {
		c.errs.Add("acceptance_tests", fmt.Sprintf("minimum of %d acceptance tests required, found %d",
			g.rules.MinAcceptanceTests, n))
	}

	for i, test := range spec.AcceptanceTests {
		if strings.TrimSpace(test.Command) == "" {
			c.errs.Add(fmt.Sprintf("acceptance_tests[%d].command", i), "acceptance test must carry an executable command")
		}
	}
	for i, check := range spec.PreFlightChecks {
		if strings.TrimSpace(check.Command) == "" {
			c.errs.Add(fmt.Sprintf("pre_flight_checks[%d].command", i), "pre-flight check must carry an executable command")
		}
	}

	if spec.FileScope == nil {
		c.errs.Add("file_scope", "required field is missing; scope breadth cannot be checked")
	}
	for i, scope := range spec.FileScope {
		if g.forbidden[strings.TrimSpace(scope)] {
			c.errs.Add(fmt.Sprintf("file_scope[%d]", i), fmt.Sprintf("scope %q is too broad", scope))
		}
	}

	if len(spec.Dependencies) > 0 && len(spec.PreFlightChecks) == 0 {
		c.warns.Add("pre_flight_checks", "phase has dependencies but no pre-flight checks")
	}

	if spec.EstimatedEffortHours != nil {
		h := *spec.EstimatedEffortHours
		if h < g.rules.EffortMin || h > g.rules.EffortMax {
			c.warns.Add("estimated_effort_hours", fmt.Sprintf("%g hours is outside the expected range [%g, %g]",
				h, g.rules.EffortMin, g.rules.EffortMax))
		}
	}

	return c
}
