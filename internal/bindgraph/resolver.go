package bindgraph

import (
	"strings"

	"go.uber.org/zap"

	"github.com/iVampireSP/bindgraph/internal/metrics"
	"github.com/iVampireSP/bindgraph/internal/model"
)

// Resolver builds binding graphs. It keeps no state between calls; every
// call rebuilds from the tree.
type Resolver struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResolver returns a resolver logging through logger. A nil logger
// disables logging.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// WithMetrics makes the resolver count the graphs it builds.
func (r *Resolver) WithMetrics(m *metrics.Metrics) *Resolver {
	r.metrics = m
	return r
}

// Resolve builds a graph per component containing only what the entry
// points reach.
func (r *Resolver) Resolve(tree *model.Tree) *Forest {
	return r.resolve(tree, false)
}

// ResolveFull builds a graph per component seeded with every key declared in
// the component and its ancestors, and every injectable key.
func (r *Resolver) ResolveFull(tree *model.Tree) *Forest {
	return r.resolve(tree, true)
}

func (r *Resolver) resolve(tree *model.Tree, full bool) *Forest {
	f := &Forest{tree: tree, graphs: make([]*Graph, tree.Len()), full: full}
	for _, c := range tree.Components() {
		var parent *Graph
		if !c.IsRoot() {
			parent = f.graphs[c.Parent]
		}
		f.graphs[c.ID] = r.ResolveComponent(tree, c.ID, parent, full)
	}
	return f
}

// ResolveComponent builds the graph of one component. parent must be the
// already resolved graph of the component's parent, nil for the root.
func (r *Resolver) ResolveComponent(tree *model.Tree, id model.ComponentID, parent *Graph, full bool) *Graph {
	g := newGraph(tree, id, parent, full)
	b := &builder{
		tree:   tree,
		g:      g,
		memo:   make(map[lookupKey]*resolution),
		active: make(map[lookupKey]bool),
	}

	c := tree.Component(id)
	for _, ep := range c.EntryPoints {
		g.entries = append(g.entries, EntryEdge{EntryPoint: ep, Target: b.visit(ep.Request.Key, id)})
	}

	if full {
		seen := make(map[model.Key]bool)
		var keys []model.Key
		for _, a := range tree.Ancestry(id) {
			for _, k := range tree.Component(a).DeclaredKeys() {
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
		for _, k := range tree.InjectableKeys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		for _, k := range keys {
			g.seeds = append(g.seeds, b.visit(k, id))
		}
	}

	g.seal()
	r.metrics.GraphResolved(full, g.Len())
	r.logger.Debug("resolved component graph",
		zap.String("component", c.Name),
		zap.Bool("full", full),
		zap.Int("nodes", g.Len()),
		zap.Int("cycles", len(g.cycles)),
	)
	return g
}

type resolutionKind int

const (
	resolvedMissing resolutionKind = iota
	resolvedAbsent
	resolvedComponent
	resolvedExplicit
	resolvedMultibound
	resolvedContribution
	resolvedInjectable
)

// resolution is the outcome of looking a key up from one perspective.
type resolution struct {
	kind          resolutionKind
	owner         model.ComponentID
	pinned        bool // owner never moves below where the binding was found
	bindings      []*model.Binding
	conflicts     []*model.Binding
	contributions []*model.Binding
}

func (r *resolution) dependencies() []model.DependencyRequest {
	if len(r.bindings) == 0 {
		return nil
	}
	return r.bindings[0].Dependencies
}

func (r *resolution) unsatisfied() bool {
	return r.kind == resolvedMissing || r.kind == resolvedAbsent
}

type lookupKey struct {
	key  model.Key
	from model.ComponentID
}

type builder struct {
	tree   *model.Tree
	g      *Graph
	memo   map[lookupKey]*resolution
	active map[lookupKey]bool
}

// visit resolves key from perspective from, adds its node and, recursively,
// the nodes of its dependencies. Dependencies are resolved from the owner's
// perspective.
func (b *builder) visit(key model.Key, from model.ComponentID) NodeID {
	res := b.lookup(key, from)
	id := NodeID{Key: key, Owner: res.owner}
	if from == b.g.component {
		b.g.local[key] = id
	}
	if _, ok := b.g.nodes[id]; ok {
		return id
	}

	n := &Node{
		ID:            id,
		Bindings:      res.bindings,
		Conflicts:     res.conflicts,
		Contributions: res.contributions,
		Missing:       res.kind == resolvedMissing,
		Absent:        res.kind == resolvedAbsent,
	}
	b.g.nodes[id] = n
	for _, dep := range res.dependencies() {
		n.Edges = append(n.Edges, Edge{Request: dep, Target: b.visit(dep.Key, res.owner)})
	}
	return id
}

// lookup finds the binding for key from perspective from and decides its
// owner. Explicit bindings and contributions are pinned to the component
// declaring them. Unpinned injectables and aggregates sink to the deepest
// owner among their dependencies.
func (b *builder) lookup(key model.Key, from model.ComponentID) *resolution {
	lk := lookupKey{key: key, from: from}
	if res, ok := b.memo[lk]; ok {
		return res
	}
	res := b.candidates(key, from)
	if res.pinned || len(res.dependencies()) == 0 {
		b.memo[lk] = res
		return res
	}
	if b.active[lk] {
		return res
	}

	b.active[lk] = true
	owner := res.owner
	for _, dep := range res.dependencies() {
		d := b.lookup(dep.Key, from)
		if d.unsatisfied() {
			continue
		}
		if b.tree.Depth(d.owner) > b.tree.Depth(owner) {
			owner = d.owner
		}
	}
	delete(b.active, lk)

	if owner != res.owner {
		moved := *res
		moved.owner = owner
		res = &moved
	}
	b.memo[lk] = res
	return res
}

func (b *builder) candidates(key model.Key, from model.ComponentID) *resolution {
	ancestry := b.tree.Ancestry(from)
	if key.IsContribution() {
		return b.contribution(key, from, ancestry)
	}

	for _, id := range ancestry {
		c := b.tree.Component(id)
		if c.TypeKey() == key {
			return &resolution{
				kind:     resolvedComponent,
				owner:    id,
				pinned:   true,
				bindings: []*model.Binding{model.NewSynthetic(model.KindComponent, key, nil, c.Name)},
			}
		}
	}

	if res := b.multibound(key, ancestry); res != nil {
		return res
	}

	for _, id := range ancestry {
		if bs := b.tree.Component(id).ExplicitBindings(key); len(bs) > 0 {
			return &resolution{
				kind:     resolvedExplicit,
				owner:    id,
				pinned:   true,
				bindings: bs,
			}
		}
	}

	if bs := b.tree.Injectables(key); len(bs) > 0 {
		return b.injectable(key, bs, from, ancestry)
	}

	for _, id := range ancestry {
		if len(b.tree.Component(id).OptionalDeclarations(key)) > 0 {
			return &resolution{kind: resolvedAbsent, owner: from, pinned: true}
		}
	}
	return &resolution{kind: resolvedMissing, owner: from, pinned: true}
}

// multibound collects every contribution to key visible from the ancestry
// and synthesizes the aggregate binding. It returns nil when key is not a
// multibound collection.
func (b *builder) multibound(key model.Key, ancestry []model.ComponentID) *resolution {
	deepest := model.NoComponent
	var contributions []*model.Binding
	isMap := false
	for i := len(ancestry) - 1; i >= 0; i-- {
		ms := b.tree.Component(ancestry[i]).Multibindings(key)
		if len(ms) == 0 {
			continue
		}
		deepest = ancestry[i]
		for _, m := range ms {
			if m.Kind == model.KindMapContribution {
				isMap = true
			}
			if m.Kind.IsContribution() && !containsEqual(contributions, m) {
				contributions = append(contributions, m)
			}
		}
	}
	if deepest == model.NoComponent {
		return nil
	}
	if len(contributions) == 0 && isMapType(key.Type) {
		isMap = true
	}

	var deps []model.DependencyRequest
	seen := make(map[model.Key]bool)
	for _, m := range contributions {
		if seen[m.Key] {
			continue
		}
		seen[m.Key] = true
		deps = append(deps, model.Request(m.Key, m.Element))
	}
	kind := model.KindMultiboundSet
	if isMap {
		kind = model.KindMultiboundMap
	}

	var conflicts []*model.Binding
	for _, id := range ancestry {
		conflicts = append(conflicts, b.tree.Component(id).ExplicitBindings(key)...)
	}
	return &resolution{
		kind:          resolvedMultibound,
		owner:         deepest,
		bindings:      []*model.Binding{model.NewSynthetic(kind, key, deps, key.String())},
		conflicts:     conflicts,
		contributions: contributions,
	}
}

// contribution resolves a single contribution key. Equal declarations seen
// in several components collapse into one candidate.
func (b *builder) contribution(key model.Key, from model.ComponentID, ancestry []model.ComponentID) *resolution {
	res := &resolution{kind: resolvedContribution, owner: model.NoComponent}
	for i := len(ancestry) - 1; i >= 0; i-- {
		for _, m := range b.tree.Component(ancestry[i]).Multibindings(key.Collection()) {
			if m.Key != key || containsEqual(res.bindings, m) {
				continue
			}
			res.bindings = append(res.bindings, m)
			res.owner = ancestry[i]
		}
	}
	if len(res.bindings) == 0 {
		return &resolution{kind: resolvedMissing, owner: from, pinned: true}
	}
	res.pinned = true
	return res
}

// injectable places an injected-constructor binding. Scoped ones live in the
// nearest component carrying the scope; unscoped ones reuse the owner an
// ancestor graph already chose.
func (b *builder) injectable(key model.Key, bs []*model.Binding, from model.ComponentID, ancestry []model.ComponentID) *resolution {
	res := &resolution{kind: resolvedInjectable, owner: from, bindings: bs}
	if bs[0].Scoped() {
		res.pinned = true
		for _, id := range ancestry {
			if b.tree.Component(id).Scopes.Contains(bs[0].Scope) {
				res.owner = id
				break
			}
		}
		return res
	}
	for p := b.g.parent; p != nil; p = p.parent {
		if !b.tree.IsAncestorOrSelf(p.component, from) {
			continue
		}
		if id, ok := p.local[key]; ok {
			res.owner = id.Owner
			break
		}
	}
	return res
}

func containsEqual(bs []*model.Binding, b *model.Binding) bool {
	for _, existing := range bs {
		if existing.Equal(b) {
			return true
		}
	}
	return false
}

func isMapType(t string) bool {
	return strings.HasPrefix(t, "Map<") || strings.HasPrefix(t, "map[")
}
