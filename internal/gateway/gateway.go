// Package gateway validates phase specifications through independent layers
// (schema, guard rules, dependency format) and aggregates one verdict.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/phasegate/internal/model"
)

// Recorder receives one observation per layer for every validation request,
// cache hits included.
type Recorder interface {
	ObserveValidation(layer string, passed bool)
}

// Gateway is safe for concurrent use. It never mutates the specs it is given.
type Gateway struct {
	rules       GuardRules
	forbidden   map[string]bool
	cache       *ResultCache
	group       singleflight.Group
	logger      *zap.Logger
	recorder    Recorder
	concurrency int
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l.Named("gateway") }
}

// WithCache enables result caching. A size of zero disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(g *Gateway) {
		if size <= 0 {
			g.cache = nil
			return
		}
		g.cache = NewResultCache(size, ttl)
	}
}

func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithConcurrency bounds ValidateAll parallelism.
func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

func New(rules GuardRules, opts ...Option) *Gateway {
	g := &Gateway{
		rules:       rules,
		forbidden:   make(map[string]bool, len(rules.ForbiddenScopes)),
		logger:      zap.NewNop(),
		concurrency: 4,
	}
	for _, s := range rules.ForbiddenScopes {
		g.forbidden[strings.TrimSpace(s)] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks a single spec on its own. No cycle search runs.
func (g *Gateway) Validate(spec *model.PhaseSpecification) *model.ValidationResult {
	return g.validate(spec, nil)
}

// ValidateInSet checks spec against a full spec set, enabling the cycle search
// and dangling-reference warnings in the dependencies layer.
func (g *Gateway) ValidateInSet(spec *model.PhaseSpecification, set []model.PhaseSpecification) *model.ValidationResult {
	edges := make(map[string][]string, len(set))
	for i := range set {
		if _, dup := edges[set[i].PhaseID]; dup || set[i].PhaseID == "" {
			continue
		}
		edges[set[i].PhaseID] = set[i].Dependencies
	}
	return g.validate(spec, edges)
}

// ValidateAll validates every spec against the batch as its set. Individual
// failures never stop the batch; only context cancellation returns an error.
func (g *Gateway) ValidateAll(ctx context.Context, specs []model.PhaseSpecification) ([]*model.ValidationResult, error) {
	results := make([]*model.ValidationResult, len(specs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range specs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results[i] = g.ValidateInSet(&specs[i], specs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("validate batch: %w", err)
	}
	return results, nil
}

func (g *Gateway) validate(spec *model.PhaseSpecification, set map[string][]string) *model.ValidationResult {
	if spec == nil {
		spec = &model.PhaseSpecification{}
	}
	if g.cache == nil {
		return g.evaluate(spec, set)
	}

	key, err := fingerprint(spec, set)
	if err != nil {
		g.logger.Warn("fingerprint failed, validating uncached", zap.String("phase_id", spec.PhaseID), zap.Error(err))
		return g.evaluate(spec, set)
	}
	if cached := g.cache.Get(key); cached != nil {
		g.logger.Debug("validation cache hit", zap.String("phase_id", spec.PhaseID))
		g.observe(cached)
		return cached
	}

	// Callers that joined another caller's evaluation still count.
	evaluated := false
	v, _, _ := g.group.Do(key, func() (any, error) {
		evaluated = true
		r := g.evaluate(spec, set)
		g.cache.Set(key, r)
		return r, nil
	})
	r := cloneResult(v.(*model.ValidationResult))
	if !evaluated {
		g.observe(r)
	}
	return r
}

// evaluate always runs all three layers so callers see every problem in one pass.
func (g *Gateway) evaluate(spec *model.PhaseSpecification, set map[string][]string) *model.ValidationResult {
	checks := map[string]*layerCheck{
		model.LayerSchema:       checkSchema(spec),
		model.LayerGuardRules:   g.checkGuardRules(spec),
		model.LayerDependencies: checkDependencies(spec, set),
	}

	result := &model.ValidationResult{
		PhaseID:       spec.PhaseID,
		OverallPassed: true,
		Layers:        make(map[string]*model.LayerResult, len(checks)),
		Errors:        []string{},
		Warnings:      []string{},
	}
	for _, name := range model.LayerOrder {
		layer := checks[name].result()
		result.Layers[name] = layer
		result.OverallPassed = result.OverallPassed && layer.Passed
		result.Errors = append(result.Errors, layer.Messages...)
		result.Warnings = append(result.Warnings, layer.Warnings...)
	}
	g.observe(result)

	g.logger.Debug("spec validated",
		zap.String("phase_id", spec.PhaseID),
		zap.Bool("passed", result.OverallPassed),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result
}

// observe records one outcome per layer for every validation request,
// whether it was evaluated or served from the cache.
func (g *Gateway) observe(r *model.ValidationResult) {
	if g.recorder == nil {
		return
	}
	for _, name := range model.LayerOrder {
		if layer := r.Layer(name); layer != nil {
			g.recorder.ObserveValidation(name, layer.Passed)
		}
	}
}

func fingerprint(spec *model.PhaseSpecification, set map[string][]string) (string, error) {
	data, err := json.Marshal(struct {
		Spec *model.PhaseSpecification `json:"spec"`
		Set  map[string][]string       `json:"set"`
		Full bool                      `json:"full"`
	}{spec, set, set != nil})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
