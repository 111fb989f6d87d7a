package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/phasegate/internal/model"
)

func effort(h float64) *float64 { return &h }

func check(id string) model.CheckRecord {
	return model.CheckRecord{
		ID:             id,
		Description:    "check " + id,
		Command:        "go test ./...",
		ExpectedResult: "exit 0",
	}
}

func validSpec(id string, deps ...string) model.PhaseSpecification {
	if deps == nil {
		deps = []string{}
	}
	return model.PhaseSpecification{
		PhaseID:              id,
		WorkstreamID:         "ws-core",
		Objective:            "implement " + id,
		Dependencies:         deps,
		FileScope:            []string{"internal/graph/**"},
		PreFlightChecks:      []model.CheckRecord{check("pf-1")},
		AcceptanceTests:      []model.CheckRecord{check("at-1"), check("at-2"), check("at-3")},
		EstimatedEffortHours: effort(4),
	}
}

func containsMessage(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidSpec(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A")

	r := g.Validate(&spec)
	assert.True(t, r.OverallPassed, "errors: %v", r.Errors)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
	for _, name := range model.LayerOrder {
		require.NotNil(t, r.Layer(name), "layer %s", name)
		assert.True(t, r.Layer(name).Passed, "layer %s", name)
	}
}

func TestValidate_InvalidPhaseIDFormat(t *testing.T) {
	g := New(DefaultGuardRules())
	for _, id := range []string{"PH-", "ph-a", "PH-a1", "TASK-1", "PH_A", "PH-A-1"} {
		t.Run(id, func(t *testing.T) {
			spec := validSpec(id)
			r := g.Validate(&spec)
			assert.False(t, r.OverallPassed)
			assert.False(t, r.Layer(model.LayerSchema).Passed)
			assert.True(t, containsMessage(r.Errors, "invalid phase_id format"), "errors: %v", r.Errors)
		})
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	g := New(DefaultGuardRules())
	r := g.Validate(&model.PhaseSpecification{})

	assert.False(t, r.OverallPassed)
	schema := r.Layer(model.LayerSchema)
	assert.False(t, schema.Passed)
	for _, field := range []string{"phase_id", "workstream_id", "objective", "file_scope", "acceptance_tests"} {
		assert.True(t, containsMessage(schema.Messages, field+": required field is missing"), "missing %s in %v", field, schema.Messages)
	}

	// Absence is recorded by the guard layer too rather than silently skipped.
	guard := r.Layer(model.LayerGuardRules)
	assert.False(t, guard.Passed)
	assert.True(t, containsMessage(guard.Messages, "file_scope: required field is missing"))
}

func TestValidate_NilSpec(t *testing.T) {
	g := New(DefaultGuardRules())
	r := g.Validate(nil)
	assert.False(t, r.OverallPassed)
	assert.Len(t, r.Layers, 3)
}

func TestValidate_AcceptanceTestFieldsRequired(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A")
	spec.AcceptanceTests[1] = model.CheckRecord{ID: "at-2", Command: "make test"}

	r := g.Validate(&spec)
	assert.False(t, r.OverallPassed)
	assert.True(t, containsMessage(r.Errors, "acceptance_tests[1].description: required field is missing"))
	assert.True(t, containsMessage(r.Errors, "acceptance_tests[1].expected_result: required field is missing"))
	assert.True(t, r.Layer(model.LayerGuardRules).Passed)
}

func TestValidate_TooFewAcceptanceTests(t *testing.T) {
	g := New(DefaultGuardRules())
	for n := 0; n < 3; n++ {
		spec := validSpec("PH-A")
		spec.AcceptanceTests = spec.AcceptanceTests[:n]

		r := g.Validate(&spec)
		guard := r.Layer(model.LayerGuardRules)
		assert.False(t, guard.Passed, "n=%d", n)
		assert.True(t, containsMessage(guard.Messages, "minimum of 3 acceptance tests"), "n=%d: %v", n, guard.Messages)
		assert.False(t, r.OverallPassed)
	}
}

func TestValidate_MissingCommands(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A")
	spec.AcceptanceTests[2].Command = "  "
	spec.PreFlightChecks[0].Command = ""

	r := g.Validate(&spec)
	guard := r.Layer(model.LayerGuardRules)
	assert.False(t, guard.Passed)
	assert.True(t, containsMessage(guard.Messages, "acceptance_tests[2].command"))
	assert.True(t, containsMessage(guard.Messages, "pre_flight_checks[0].command"))
}

func TestValidate_TooBroadScope(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A")
	spec.FileScope = []string{"."}

	r := g.Validate(&spec)
	assert.False(t, r.OverallPassed)
	assert.True(t, r.Layer(model.LayerSchema).Passed)
	assert.True(t, r.Layer(model.LayerDependencies).Passed)
	guard := r.Layer(model.LayerGuardRules)
	assert.False(t, guard.Passed)
	assert.True(t, containsMessage(guard.Messages, "too broad"))
}

func TestValidate_CustomForbiddenScopes(t *testing.T) {
	rules := GuardRulesFromConfig(model.GuardConfig{ForbiddenScopes: []string{"src/**"}})
	g := New(rules)

	spec := validSpec("PH-A")
	spec.FileScope = []string{"."}
	assert.True(t, g.Validate(&spec).OverallPassed)

	spec.FileScope = []string{"src/**"}
	assert.False(t, g.Validate(&spec).OverallPassed)
}

func TestValidate_WarningsDoNotFail(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-B", "PH-A")
	spec.PreFlightChecks = nil
	spec.EstimatedEffortHours = effort(80)

	r := g.Validate(&spec)
	assert.True(t, r.OverallPassed, "errors: %v", r.Errors)
	assert.True(t, containsMessage(r.Warnings, "no pre-flight checks"))
	assert.True(t, containsMessage(r.Warnings, "outside the expected range"))
	assert.Len(t, r.Layer(model.LayerGuardRules).Warnings, 2)
}

func TestValidate_EffortAbsentIsNotChecked(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A")
	spec.EstimatedEffortHours = nil
	assert.Empty(t, g.Validate(&spec).Warnings)
}

func TestValidate_SelfDependency(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A", "PH-A")

	r := g.Validate(&spec)
	assert.False(t, r.OverallPassed)
	deps := r.Layer(model.LayerDependencies)
	assert.False(t, deps.Passed)
	assert.True(t, containsMessage(deps.Messages, "self-dependency"))
}

func TestValidate_MalformedDependency(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-B", "phase-a")

	r := g.Validate(&spec)
	assert.False(t, r.Layer(model.LayerSchema).Passed)
	assert.False(t, r.Layer(model.LayerDependencies).Passed)
	assert.True(t, containsMessage(r.Layer(model.LayerDependencies).Messages, "invalid dependency reference"))
}

func TestValidate_ErrorsFlattenedInLayerOrder(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A", "PH-A")
	spec.WorkstreamID = ""
	spec.FileScope = []string{"**"}

	r := g.Validate(&spec)
	require.Len(t, r.Errors, 3)
	assert.Contains(t, r.Errors[0], "workstream_id")
	assert.Contains(t, r.Errors[1], "too broad")
	assert.Contains(t, r.Errors[2], "self-dependency")
}

func TestValidateInSet_DetectsCycle(t *testing.T) {
	g := New(DefaultGuardRules())
	set := []model.PhaseSpecification{
		validSpec("PH-A", "PH-B"),
		validSpec("PH-B", "PH-C"),
		validSpec("PH-C", "PH-A"),
	}

	r := g.ValidateInSet(&set[0], set)
	assert.False(t, r.OverallPassed)
	deps := r.Layer(model.LayerDependencies)
	require.False(t, deps.Passed)
	assert.True(t, containsMessage(deps.Messages, "circular dependency detected: PH-A -> PH-B -> PH-C -> PH-A"), "%v", deps.Messages)
}

func TestValidateInSet_CycleReachableButNotThroughPhase(t *testing.T) {
	g := New(DefaultGuardRules())
	set := []model.PhaseSpecification{
		validSpec("PH-X", "PH-A"),
		validSpec("PH-A", "PH-B"),
		validSpec("PH-B", "PH-A"),
	}

	r := g.ValidateInSet(&set[0], set)
	assert.True(t, containsMessage(r.Errors, "PH-A -> PH-B -> PH-A"), "%v", r.Errors)
}

func TestValidateInSet_DanglingIsWarning(t *testing.T) {
	g := New(DefaultGuardRules())
	set := []model.PhaseSpecification{validSpec("PH-B", "PH-Z")}

	r := g.ValidateInSet(&set[0], set)
	assert.True(t, r.OverallPassed, "errors: %v", r.Errors)
	assert.True(t, containsMessage(r.Warnings, `"PH-Z" is not in the loaded spec set`))
}

func TestValidateInSet_Acyclic(t *testing.T) {
	g := New(DefaultGuardRules())
	set := []model.PhaseSpecification{
		validSpec("PH-A"),
		validSpec("PH-B", "PH-A"),
		validSpec("PH-C", "PH-A", "PH-B"),
	}
	for i := range set {
		r := g.ValidateInSet(&set[i], set)
		assert.True(t, r.OverallPassed, "%s: %v", set[i].PhaseID, r.Errors)
	}
}

func TestDependencies_AbsentPhaseIDIsRecorded(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("", "PH-B")
	set := []model.PhaseSpecification{validSpec("PH-B")}

	for name, r := range map[string]*model.ValidationResult{
		"single": g.Validate(&spec),
		"in set": g.ValidateInSet(&spec, set),
	} {
		t.Run(name, func(t *testing.T) {
			deps := r.Layer(model.LayerDependencies)
			require.NotNil(t, deps)
			assert.False(t, deps.Passed)
			assert.True(t, containsMessage(deps.Messages, "phase_id: required field is missing"), "messages: %v", deps.Messages)
			assert.False(t, r.OverallPassed)
		})
	}
}

func TestValidate_DoesNotMutateSpec(t *testing.T) {
	g := New(DefaultGuardRules(), WithCache(16, time.Minute))
	spec := validSpec("PH-B", "PH-A", "PH-A")
	before := validSpec("PH-B", "PH-A", "PH-A")

	g.Validate(&spec)
	assert.Equal(t, before, spec)
}

func TestValidate_CacheReturnsIndependentCopies(t *testing.T) {
	g := New(DefaultGuardRules(), WithCache(16, time.Minute))
	spec := validSpec("PH-A")
	spec.FileScope = []string{"*"}

	first := g.Validate(&spec)
	first.Errors = append(first.Errors, "tampered")
	first.Layers[model.LayerGuardRules].Passed = true

	second := g.Validate(&spec)
	assert.NotContains(t, second.Errors, "tampered")
	assert.False(t, second.Layer(model.LayerGuardRules).Passed)
	assert.Equal(t, 1, g.cache.Size())
}

func TestValidate_CacheKeyTracksContent(t *testing.T) {
	g := New(DefaultGuardRules(), WithCache(16, time.Minute))
	spec := validSpec("PH-A")
	require.True(t, g.Validate(&spec).OverallPassed)

	spec.FileScope = []string{"."}
	assert.False(t, g.Validate(&spec).OverallPassed)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveValidation(layer string, passed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[layer]++
}

func TestValidate_RecorderObservesEveryLayer(t *testing.T) {
	rec := &countingRecorder{}
	g := New(DefaultGuardRules(), WithRecorder(rec))
	spec := validSpec("PH-A")
	g.Validate(&spec)

	for _, name := range model.LayerOrder {
		assert.Equal(t, 1, rec.counts[name], name)
	}
}

func TestValidate_RecorderCountsCacheHits(t *testing.T) {
	rec := &countingRecorder{}
	g := New(DefaultGuardRules(), WithRecorder(rec), WithCache(16, time.Minute))
	spec := validSpec("PH-A")
	g.Validate(&spec)
	g.Validate(&spec)

	for _, name := range model.LayerOrder {
		assert.Equal(t, 2, rec.counts[name], name)
	}
}

func TestValidateAll(t *testing.T) {
	g := New(DefaultGuardRules(), WithConcurrency(2), WithCache(32, time.Minute))
	bad := validSpec("PH-C", "PH-A")
	bad.FileScope = []string{"."}
	specs := []model.PhaseSpecification{
		validSpec("PH-A"),
		validSpec("PH-B", "PH-A"),
		bad,
		validSpec("PH-D", "PH-E"),
		validSpec("PH-E", "PH-D"),
	}

	results, err := g.ValidateAll(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, results, len(specs))

	assert.True(t, results[0].OverallPassed)
	assert.True(t, results[1].OverallPassed)
	assert.False(t, results[2].OverallPassed)
	assert.False(t, results[3].OverallPassed)
	assert.False(t, results[4].OverallPassed)
	for i, r := range results {
		assert.Equal(t, specs[i].PhaseID, r.PhaseID)
	}
}

func TestValidateAll_Cancelled(t *testing.T) {
	g := New(DefaultGuardRules())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.ValidateAll(ctx, []model.PhaseSpecification{validSpec("PH-A")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatStderr(t *testing.T) {
	g := New(DefaultGuardRules())
	spec := validSpec("PH-A", "PH-A")
	spec.PreFlightChecks = nil

	out := FormatStderr(g.Validate(&spec))
	assert.Contains(t, out, "error: [dependencies] dependencies[0]: self-dependency")
	assert.Contains(t, out, "warning: [guard_rules] pre_flight_checks")
}
