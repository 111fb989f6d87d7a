package model

const (
	LayerSchema       = "schema"
	LayerGuardRules   = "guard_rules"
	LayerDependencies = "dependencies"
)

// LayerOrder is the order layers run in and the order their messages are flattened in.
var LayerOrder = []string{LayerSchema, LayerGuardRules, LayerDependencies}

type LayerResult struct {
	Passed   bool     `yaml:"passed" json:"passed"`
	Messages []string `yaml:"messages" json:"messages"`
	Warnings []string `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

// ValidationResult is the aggregated verdict over all layers.
// Warnings never affect OverallPassed.
type ValidationResult struct {
	PhaseID       string                  `yaml:"phase_id" json:"phase_id"`
	OverallPassed bool                    `yaml:"overall_passed" json:"overall_passed"`
	Layers        map[string]*LayerResult `yaml:"layers" json:"layers"`
	Errors        []string                `yaml:"errors" json:"errors"`
	Warnings      []string                `yaml:"warnings" json:"warnings"`
}

func (r *ValidationResult) Layer(name string) *LayerResult {
	if r == nil || r.Layers == nil {
		return nil
	}
	return r.Layers[name]
}
