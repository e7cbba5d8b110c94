// Package validate checks resolved binding graphs. Every validator reads a
// graph and records diagnostics on a shared report; none of them mutates the
// graph. All validators run before a build fails, so one pass reports every
// problem.
package validate

import (
	"go.uber.org/zap"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
)

// Validator checks one graph.
type Validator interface {
	Name() string
	Validate(g *bindgraph.Graph, r *diag.Report)
}

// Pipeline runs validators in a fixed order.
type Pipeline struct {
	validators []Validator
	logger     *zap.Logger
}

// NewPipeline returns a pipeline running validators in the given order.
func NewPipeline(logger *zap.Logger, validators ...Validator) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{validators: validators, logger: logger}
}

// Default returns the standard validator set. resolver is used to build
// full graphs when diagnosing missing bindings.
func Default(resolver *bindgraph.Resolver, logger *zap.Logger) *Pipeline {
	return NewPipeline(logger,
		NewMissingBinding(resolver),
		DuplicateBinding{},
		Cycle{},
		Scope{},
		AssistedInjection{},
	)
}

// Validators returns the validators in run order.
func (p *Pipeline) Validators() []Validator {
	return append([]Validator(nil), p.validators...)
}

// ValidateGraph runs every validator over one graph.
func (p *Pipeline) ValidateGraph(g *bindgraph.Graph, r *diag.Report) {
	for _, v := range p.validators {
		before := r.Len()
		v.Validate(g, r)
		if found := r.Len() - before; found > 0 {
			p.logger.Debug("validator reported problems",
				zap.String("validator", v.Name()),
				zap.String("component", g.Component().Name),
				zap.Int("count", found),
			)
		}
	}
}

// Validate runs every validator over every graph of f, parents first.
func (p *Pipeline) Validate(f *bindgraph.Forest) *diag.Report {
	r := diag.NewReport()
	for _, g := range f.Graphs() {
		p.ValidateGraph(g, r)
	}
	return r
}
