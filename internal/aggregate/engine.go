package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iVampireSP/bindgraph/internal/model"
)

// DefaultTestRoot names the declaration set shared by test roots that need
// no customization.
const DefaultTestRoot = "DefaultTestRoot"

// AggregationIntegrityError reports metadata that cannot be aggregated: an
// empty aggregation package, no roots at all, or records contradicting each
// other.
type AggregationIntegrityError struct {
	Reason string
}

func (e *AggregationIntegrityError) Error() string {
	return "aggregation integrity: " + e.Reason
}

func integrityf(format string, args ...any) error {
	return &AggregationIntegrityError{Reason: fmt.Sprintf(format, args...)}
}

// IsIntegrityError reports whether err contains an AggregationIntegrityError.
func IsIntegrityError(err error) bool {
	for _, e := range multierr.Errors(err) {
		var ie *AggregationIntegrityError
		if errors.As(e, &ie) {
			return true
		}
	}
	return false
}

// Config holds the build toggles of an aggregation.
type Config struct {
	Unit                   string // the aggregating unit
	ShareTestComponents    bool
	RequireInstallIn       bool
	DisableSuperclassCheck bool
}

// DeclarationSet is everything one root's component hierarchy is built
// from.
type DeclarationSet struct {
	Root         Root
	Roots        []string // roots served by this set
	Components   []Component
	Modules      []Module
	EntryPoints  []EntryPointSet
	Injectables  []model.Declaration
	ScopeAliases model.ScopeAliases
}

// ModuleNames returns the names of the installed modules, sorted.
func (s *DeclarationSet) ModuleNames() []string {
	names := make([]string, len(s.Modules))
	for i, m := range s.Modules {
		names[i] = m.Name
	}
	return names
}

// Result is the outcome of one aggregation.
type Result struct {
	Production []*DeclarationSet
	Tests      []*DeclarationSet
	Skipped    []string // roots already processed by another unit
	Processed  Record   // marker for the roots processed now
}

// Sets returns production sets followed by test sets.
func (r *Result) Sets() []*DeclarationSet {
	return append(append([]*DeclarationSet(nil), r.Production...), r.Tests...)
}

// Engine aggregates records into declaration sets.
type Engine struct {
	cfg     Config
	decoder *Decoder
	logger  *zap.Logger
}

// NewEngine returns an engine. decoder may be nil when only Aggregate is used.
func NewEngine(cfg Config, decoder *Decoder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, decoder: decoder, logger: logger}
}

// Collect reads and decodes every record of every source. Each aggregation
// package must hold at least one record.
func (e *Engine) Collect(ctx context.Context, sources ...Source) ([]Record, error) {
	if e.decoder == nil {
		d, err := NewDecoder(DefaultCacheSize, e.logger, nil)
		if err != nil {
			return nil, err
		}
		e.decoder = d
	}

	var records []Record
	for _, src := range sources {
		pkgs, err := src.Packages(ctx)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			if len(pkg.Records) == 0 {
				return nil, integrityf("aggregation package %s contains no records", pkg.Path)
			}
			for _, raw := range pkg.Records {
				rec, ok, err := e.decoder.Decode(raw)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", pkg.Path, err)
				}
				if ok {
					records = append(records, rec)
				}
			}
			e.logger.Debug("read aggregation package", zap.String("package", pkg.Path), zap.Int("records", len(pkg.Records)))
		}
	}
	return records, nil
}

// catalog is the decoded, deduplicated record set.
type catalog struct {
	modules     map[string]Module
	injectables []model.Declaration
	components  []Component
	entryPoints []EntryPointSet
	aliases     model.ScopeAliases
	uninstalls  map[string][]string
	roots       []Root
	processed   map[string]string // root -> unit that processed it
}

// Aggregate partitions records into declaration sets. The result does not
// depend on record order.
func (e *Engine) Aggregate(records []Record) (*Result, error) {
	recs, err := e.normalize(records)
	if err != nil {
		return nil, err
	}
	cat, err := e.decode(recs)
	if err != nil {
		return nil, err
	}
	if len(cat.roots) == 0 {
		return nil, integrityf("no root records found")
	}
	if err := e.check(cat); err != nil {
		return nil, err
	}

	res := &Result{}
	var processed []string
	var active []Root
	for _, r := range cat.roots {
		if unit, ok := cat.processed[r.Name]; ok {
			e.logger.Info("skipping root processed by another unit", zap.String("root", r.Name), zap.String("unit", unit))
			res.Skipped = append(res.Skipped, r.Name)
			continue
		}
		processed = append(processed, r.Name)
		active = append(active, r)
	}

	marker, err := NewRecord(KindProcessedRoots, e.cfg.Unit+"/processed_roots", e.cfg.Unit, ProcessedRoots{Roots: processed})
	if err != nil {
		return nil, err
	}
	res.Processed = marker

	globals, testInstalls, replaced, nested := classify(cat)
	shared := make(map[string]*DeclarationSet)
	var sharedOrder []string

	for _, r := range active {
		if !r.Test {
			res.Production = append(res.Production, cat.newSet(r, globals))
			continue
		}

		if e.cfg.ShareTestComponents && len(nested[r.Name]) == 0 && len(cat.uninstalls[r.Name]) == 0 {
			s, ok := shared[r.Component]
			if !ok {
				s = cat.newSet(Root{Name: DefaultTestRoot, Component: r.Component, Test: true}, testModules(globals, testInstalls, replaced, nil, nil))
				s.Roots = nil
				shared[r.Component] = s
				sharedOrder = append(sharedOrder, r.Component)
			}
			s.Roots = append(s.Roots, r.Name)
			continue
		}

		uninstalled := make(map[string]bool)
		for _, name := range cat.uninstalls[r.Name] {
			uninstalled[name] = true
		}
		res.Tests = append(res.Tests, cat.newSet(r, testModules(globals, testInstalls, replaced, nested[r.Name], uninstalled)))
	}

	for _, component := range sharedOrder {
		s := shared[component]
		if len(sharedOrder) > 1 {
			s.Root.Name = DefaultTestRoot + "_" + component
		}
		res.Tests = append(res.Tests, s)
	}
	sort.Slice(res.Tests, func(i, j int) bool { return res.Tests[i].Root.Name < res.Tests[j].Root.Name })

	e.logger.Info("aggregated records",
		zap.Int("records", len(recs)),
		zap.Int("production_roots", len(res.Production)),
		zap.Int("test_sets", len(res.Tests)),
		zap.Int("skipped_roots", len(res.Skipped)),
	)
	return res, nil
}

// normalize unwraps proxies, orders records by id and drops exact
// duplicates. Two different records with the same kind and id conflict.
func (e *Engine) normalize(records []Record) ([]Record, error) {
	var out []Record
	for _, rec := range records {
		rec, err := rec.Unwrap()
		if err != nil {
			return nil, err
		}
		if !rec.Kind.Known() {
			e.logger.Warn("skipping proxied record of unknown kind", zap.String("id", rec.ID), zap.String("kind", string(rec.Kind)))
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return string(a.Payload) < string(b.Payload)
	})

	var errs error
	deduped := out[:0]
	for _, rec := range out {
		if n := len(deduped); n > 0 && deduped[n-1].identity() == rec.identity() {
			prev := deduped[n-1]
			if !prev.equal(rec) {
				errs = multierr.Append(errs, integrityf("conflicting %s records %q from units %s and %s", rec.Kind, rec.ID, prev.Unit, rec.Unit))
			}
			continue
		}
		deduped = append(deduped, rec)
	}
	return deduped, errs
}

func (e *Engine) decode(recs []Record) (*catalog, error) {
	cat := &catalog{
		modules:    make(map[string]Module),
		aliases:    make(model.ScopeAliases),
		uninstalls: make(map[string][]string),
		processed:  make(map[string]string),
	}

	var errs error
	for _, rec := range recs {
		var err error
		switch rec.Kind {
		case KindModule:
			var m Module
			if err = rec.Decode(&m); err == nil {
				err = e.addModule(cat, m)
			}
		case KindInjectable:
			var inj Injectable
			if err = rec.Decode(&inj); err == nil {
				cat.injectables = append(cat.injectables, inj.Declaration)
			}
		case KindComponent:
			var c Component
			if err = rec.Decode(&c); err == nil {
				cat.components = append(cat.components, c)
			}
		case KindEntryPoint:
			var ep EntryPointSet
			if err = rec.Decode(&ep); err == nil {
				cat.entryPoints = append(cat.entryPoints, ep)
			}
		case KindScopeAlias:
			var a ScopeAlias
			if err = rec.Decode(&a); err == nil {
				cat.aliases[a.Alias] = a.Scope
			}
		case KindUninstall:
			var u Uninstall
			if err = rec.Decode(&u); err == nil {
				cat.uninstalls[u.TestRoot] = append(cat.uninstalls[u.TestRoot], u.Modules...)
			}
		case KindRoot:
			var r Root
			if err = rec.Decode(&r); err == nil {
				cat.roots = append(cat.roots, r)
			}
		case KindProcessedRoots:
			var p ProcessedRoots
			if err = rec.Decode(&p); err == nil && rec.Unit != e.cfg.Unit {
				for _, name := range p.Roots {
					cat.processed[name] = rec.Unit
				}
			}
		}
		errs = multierr.Append(errs, err)
	}
	sort.Slice(cat.roots, func(i, j int) bool { return cat.roots[i].Name < cat.roots[j].Name })
	return cat, errs
}

func (e *Engine) addModule(cat *catalog, m Module) error {
	if len(m.InstallIn) == 0 {
		if e.cfg.RequireInstallIn {
			return integrityf("module %s has no install target", m.Name)
		}
		e.logger.Warn("ignoring module without install target", zap.String("module", m.Name))
		return nil
	}
	cat.modules[m.Name] = m
	return nil
}

// check validates cross-record references and the root superclass rule.
func (e *Engine) check(cat *catalog) error {
	var errs error
	roots := make(map[string]Root, len(cat.roots))
	for _, r := range cat.roots {
		roots[r.Name] = r
		if !e.cfg.DisableSuperclassCheck && r.Superclass != "" && r.Superclass != r.GeneratedBase() {
			errs = multierr.Append(errs, integrityf("root %s must extend %s, got %s", r.Name, r.GeneratedBase(), r.Superclass))
		}
	}
	for _, name := range sortedModuleNames(cat.modules) {
		m := cat.modules[name]
		if m.TestRoot != "" {
			if r, ok := roots[m.TestRoot]; !ok || !r.Test {
				errs = multierr.Append(errs, integrityf("module %s is nested in unknown test root %s", m.Name, m.TestRoot))
			}
		}
		for _, replaced := range m.Replaces {
			if _, ok := cat.modules[replaced]; !ok {
				errs = multierr.Append(errs, integrityf("module %s replaces unknown module %s", m.Name, replaced))
			}
		}
	}
	for _, testRoot := range sortedKeys(cat.uninstalls) {
		if r, ok := roots[testRoot]; !ok || !r.Test {
			errs = multierr.Append(errs, integrityf("uninstall targets unknown test root %s", testRoot))
		}
		for _, name := range cat.uninstalls[testRoot] {
			if _, ok := cat.modules[name]; !ok {
				errs = multierr.Append(errs, integrityf("test root %s uninstalls unknown module %s", testRoot, name))
			}
		}
	}
	return errs
}

func classify(cat *catalog) (globals, testInstalls []Module, replaced map[string]bool, nested map[string][]Module) {
	replaced = make(map[string]bool)
	nested = make(map[string][]Module)
	for _, name := range sortedModuleNames(cat.modules) {
		m := cat.modules[name]
		switch {
		case m.TestRoot != "":
			nested[m.TestRoot] = append(nested[m.TestRoot], m)
		case m.IsTestInstall():
			testInstalls = append(testInstalls, m)
			for _, r := range m.Replaces {
				replaced[r] = true
			}
		default:
			globals = append(globals, m)
		}
	}
	return globals, testInstalls, replaced, nested
}

func testModules(globals, testInstalls []Module, replaced map[string]bool, nested []Module, uninstalled map[string]bool) []Module {
	var out []Module
	for _, m := range globals {
		if !replaced[m.Name] && !uninstalled[m.Name] {
			out = append(out, m)
		}
	}
	for _, m := range append(append([]Module(nil), testInstalls...), nested...) {
		if !uninstalled[m.Name] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (cat *catalog) newSet(root Root, modules []Module) *DeclarationSet {
	return &DeclarationSet{
		Root:         root,
		Roots:        []string{root.Name},
		Components:   cat.components,
		Modules:      modules,
		EntryPoints:  cat.entryPoints,
		Injectables:  cat.injectables,
		ScopeAliases: cat.aliases,
	}
}

func sortedModuleNames(modules map[string]Module) []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
