// Package pipeline drives a whole build: scan aggregation packages,
// aggregate records into per-root declaration sets, then assemble, resolve
// and validate every root in parallel and hand clean roots to a generator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iVampireSP/bindgraph/internal/aggregate"
	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
	"github.com/iVampireSP/bindgraph/internal/metrics"
	"github.com/iVampireSP/bindgraph/internal/model"
	"github.com/iVampireSP/bindgraph/internal/validate"
)

// Generator receives every validated root. It is only called for roots
// without diagnostics, one root at a time.
type Generator interface {
	Generate(ctx context.Context, o *Outcome) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, o *Outcome) error

func (f GeneratorFunc) Generate(ctx context.Context, o *Outcome) error { return f(ctx, o) }

// Outcome is the result of one root.
type Outcome struct {
	Root   string   // declaration set name
	Roots  []string // roots served, more than one for a shared test set
	Test   bool
	Forest *bindgraph.Forest
	Report *diag.Report
}

// Clean reports whether the root produced no diagnostics.
func (o *Outcome) Clean() bool {
	return o.Report.Empty()
}

// Result is the outcome of a whole run.
type Result struct {
	Aggregation *aggregate.Result
	Outcomes    []*Outcome
}

// Err combines the diagnostics of every root.
func (r *Result) Err() error {
	var errs error
	for _, o := range r.Outcomes {
		errs = multierr.Append(errs, o.Report.Err())
	}
	return errs
}

// Options configures a pipeline.
type Options struct {
	Aggregate   aggregate.Config
	Sources     []aggregate.Source
	Generator   Generator // optional
	Parallelism int       // concurrent roots, unlimited when <= 0
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Pipeline runs builds. It is safe to call Run concurrently.
type Pipeline struct {
	opts   Options
	engine *aggregate.Engine
	logger *zap.Logger
}

// New returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	for _, k := range diag.Kinds() {
		opts.Metrics.DeclareDiagnosticKinds(k.String())
	}
	decoder, err := aggregate.NewDecoder(aggregate.DefaultCacheSize, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		opts:   opts,
		engine: aggregate.NewEngine(opts.Aggregate, decoder, opts.Logger),
		logger: opts.Logger,
	}, nil
}

// Aggregate scans every source to completion and aggregates the records.
func (p *Pipeline) Aggregate(ctx context.Context) (*aggregate.Result, error) {
	records, err := p.engine.Collect(ctx, p.opts.Sources...)
	if err != nil {
		return nil, p.fail(err)
	}
	res, err := p.engine.Aggregate(records)
	if err != nil {
		return nil, p.fail(err)
	}
	return res, nil
}

// Run aggregates and then processes every declaration set.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	agg, err := p.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := p.Process(ctx, agg.Sets())
	if err != nil {
		return nil, err
	}
	return &Result{Aggregation: agg, Outcomes: outcomes}, nil
}

// Process resolves and validates every set in parallel, then hands clean
// roots to the generator in set order. A malformed declaration aborts the
// run.
func (p *Pipeline) Process(ctx context.Context, sets []*aggregate.DeclarationSet) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	if p.opts.Parallelism > 0 {
		g.SetLimit(p.opts.Parallelism)
	}
	for i, set := range sets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			spec, err := Assemble(set)
			if err != nil {
				return fmt.Errorf("assemble %s: %w", set.Root.Name, err)
			}
			o, err := p.resolve(set.Root.Name, spec)
			if err != nil {
				return err
			}
			o.Roots = append([]string(nil), set.Roots...)
			o.Test = set.Root.Test
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, p.fail(err)
	}

	if err := p.generate(ctx, outcomes); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// ProcessTree resolves and validates a tree given directly, bypassing
// aggregation.
func (p *Pipeline) ProcessTree(ctx context.Context, name string, spec model.TreeSpec) (*Outcome, error) {
	o, err := p.resolve(name, spec)
	if err != nil {
		return nil, p.fail(err)
	}
	o.Roots = []string{name}
	if err := p.generate(ctx, []*Outcome{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (p *Pipeline) resolve(name string, spec model.TreeSpec) (*Outcome, error) {
	start := time.Now()
	tree, err := model.BuildTree(spec)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", name, err)
	}

	logger := p.logger.With(zap.String("root", name))
	resolver := bindgraph.NewResolver(logger).WithMetrics(p.opts.Metrics)
	forest := resolver.Resolve(tree)
	report := validate.Default(resolver, logger).Validate(forest)

	for _, d := range report.Diagnostics() {
		p.opts.Metrics.Diagnostic(d.Kind.String())
	}
	p.opts.Metrics.ObserveResolution(time.Since(start))

	logger.Info("resolved root",
		zap.Int("components", tree.Len()),
		zap.Int("diagnostics", report.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Outcome{Root: name, Forest: forest, Report: report}, nil
}

// Diagnose converts an error that aborted a run into a diagnostic. It
// reports false for errors that are not build problems, such as I/O
// failures.
func Diagnose(err error) (*diag.Diagnostic, bool) {
	var malformed *model.MalformedBindingError
	switch {
	case errors.As(err, &malformed):
		return &diag.Diagnostic{Kind: diag.KindMalformed, Key: malformed.Element, Message: err.Error()}, true
	case aggregate.IsIntegrityError(err):
		return &diag.Diagnostic{Kind: diag.KindAggregationIntegrity, Message: err.Error()}, true
	}
	return nil, false
}

func (p *Pipeline) fail(err error) error {
	if d, ok := Diagnose(err); ok {
		p.opts.Metrics.Diagnostic(d.Kind.String())
	}
	return err
}

func (p *Pipeline) generate(ctx context.Context, outcomes []*Outcome) error {
	if p.opts.Generator == nil {
		return nil
	}
	for _, o := range outcomes {
		if !o.Clean() {
			p.logger.Warn("skipping generation for root with diagnostics", zap.String("root", o.Root), zap.Int("diagnostics", o.Report.Len()))
			continue
		}
		if err := p.opts.Generator.Generate(ctx, o); err != nil {
			return fmt.Errorf("generate %s: %w", o.Root, err)
		}
	}
	return nil
}
