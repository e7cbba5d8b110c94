package bindgraph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/bindgraph/internal/model"
)

func key(t string) model.Key { return model.NewKey(t) }

func dep(t string) model.DependencyRequest {
	return model.Request(key(t), "param "+t)
}

func depKind(t string, kind model.RequestKind) model.DependencyRequest {
	r := dep(t)
	r.Kind = kind
	return r
}

func provides(t, element string, deps ...model.DependencyRequest) model.Declaration {
	return model.Declaration{Kind: model.KindProvision, Type: t, Element: element, Module: "M", Dependencies: deps}
}

func contributes(collection, t, element string, deps ...model.DependencyRequest) model.Declaration {
	return model.Declaration{
		Kind:           model.KindSetContribution,
		Type:           t,
		CollectionType: collection,
		Element:        element,
		Module:         "PluginModule",
		Dependencies:   deps,
	}
}

func entry(t string) model.EntryPoint {
	return model.EntryPoint{Method: "get" + t, Request: dep(t)}
}

func mustTree(t *testing.T, spec model.TreeSpec) *model.Tree {
	t.Helper()
	tree, err := model.BuildTree(spec)
	require.NoError(t, err)
	return tree
}

// chain builds A <- B <- C.
func chain(a, b, c model.ComponentSpec) model.TreeSpec {
	a.Name, b.Name, c.Name = "A", "B", "C"
	b.Parent, c.Parent = "A", "B"
	return model.TreeSpec{Root: "A", Components: []model.ComponentSpec{a, b, c}}
}

func resolve(t *testing.T, spec model.TreeSpec) *Forest {
	t.Helper()
	return NewResolver(nil).Resolve(mustTree(t, spec))
}

func TestResolve_NearestAncestorOwns(t *testing.T) {
	t.Parallel()

	f := resolve(t, chain(
		model.ComponentSpec{Declarations: []model.Declaration{provides("Foo", "AModule.foo")}},
		model.ComponentSpec{},
		model.ComponentSpec{EntryPoints: []model.EntryPoint{entry("Foo")}},
	))

	g, ok := f.GraphNamed("C")
	require.True(t, ok)
	n, ok := g.Lookup(key("Foo"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(0), n.Owner())
	assert.Equal(t, "AModule.foo", n.Binding().Element)
	assert.Empty(t, g.MissingNodes())
	assert.False(t, g.Owns(n))
}

func TestResolve_ChildBindingShadowsAncestor(t *testing.T) {
	t.Parallel()

	f := resolve(t, chain(
		model.ComponentSpec{Declarations: []model.Declaration{provides("Foo", "AModule.foo")}},
		model.ComponentSpec{Declarations: []model.Declaration{provides("Foo", "BModule.foo")}},
		model.ComponentSpec{EntryPoints: []model.EntryPoint{entry("Foo")}},
	))

	n, ok := f.Graph(2).Lookup(key("Foo"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(1), n.Owner())
	assert.Len(t, n.Bindings, 1)
}

func TestResolve_UnrelatedBranches(t *testing.T) {
	t.Parallel()

	tree := mustTree(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{
		{Name: "App"},
		{Name: "Left", Parent: "App", Declarations: []model.Declaration{provides("Foo", "LeftModule.foo")}, EntryPoints: []model.EntryPoint{entry("Foo")}},
		{Name: "Right", Parent: "App", Declarations: []model.Declaration{provides("Foo", "RightModule.foo")}, EntryPoints: []model.EntryPoint{entry("Foo")}},
	}})
	f := NewResolver(nil).Resolve(tree)

	for _, name := range []string{"Left", "Right"} {
		c, ok := tree.Lookup(name)
		require.True(t, ok)
		n, ok := f.Graph(c.ID).Lookup(key("Foo"))
		require.True(t, ok)
		assert.Equal(t, c.ID, n.Owner())
		assert.Len(t, n.Bindings, 1)
		assert.Equal(t, name+"Module.foo", n.Binding().Element)
	}
}

func TestResolve_ExplicitBindingOwnedByDeclaringComponent(t *testing.T) {
	t.Parallel()

	f := resolve(t, chain(
		model.ComponentSpec{Declarations: []model.Declaration{
			provides("Registry", "AModule.registry", dep("Set<Plugin>")),
			contributes("Set<Plugin>", "PluginA", "AModule.pluginA"),
		}},
		model.ComponentSpec{},
		model.ComponentSpec{
			Declarations: []model.Declaration{contributes("Set<Plugin>", "PluginC", "CModule.pluginC")},
			EntryPoints:  []model.EntryPoint{entry("Registry")},
		},
	))

	g := f.Graph(2)
	registry, ok := g.Lookup(key("Registry"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(0), registry.Owner())

	set, ok := g.Node(registry.Edges[0].Target)
	require.True(t, ok)
	assert.Equal(t, model.KindMultiboundSet, set.Binding().Kind)
	assert.Equal(t, model.ComponentID(0), set.Owner())
	require.Len(t, set.Contributions, 1)
	assert.Equal(t, "AModule.pluginA", set.Contributions[0].Element)

	direct, ok := g.Lookup(key("Set<Plugin>"))
	assert.False(t, ok, "C never requested the set itself")
	assert.Nil(t, direct)
}

func TestResolve_DependencyBoundBelowOwnerIsMissing(t *testing.T) {
	t.Parallel()

	f := resolve(t, chain(
		model.ComponentSpec{Declarations: []model.Declaration{provides("Foo", "AModule.foo", dep("Bar"))}},
		model.ComponentSpec{},
		model.ComponentSpec{
			Declarations: []model.Declaration{provides("Bar", "CModule.bar")},
			EntryPoints:  []model.EntryPoint{entry("Foo")},
		},
	))

	g := f.Graph(2)
	foo, ok := g.Lookup(key("Foo"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(0), foo.Owner())

	missing := g.MissingNodes()
	require.Len(t, missing, 1)
	assert.Equal(t, NodeID{Key: key("Bar"), Owner: 0}, missing[0].ID)
	assert.Equal(t, missing[0].ID, foo.Edges[0].Target)
}

func TestResolve_ScopedBindingStaysWithOwner(t *testing.T) {
	t.Parallel()

	scoped := provides("Registry", "AModule.registry", dep("Set<Plugin>"))
	scoped.Scope = "Singleton"
	f := resolve(t, chain(
		model.ComponentSpec{
			Scopes: []string{"Singleton"},
			Declarations: []model.Declaration{
				scoped,
				contributes("Set<Plugin>", "PluginA", "AModule.pluginA"),
			},
		},
		model.ComponentSpec{},
		model.ComponentSpec{
			Declarations: []model.Declaration{contributes("Set<Plugin>", "PluginC", "CModule.pluginC")},
			EntryPoints:  []model.EntryPoint{entry("Registry")},
		},
	))

	g := f.Graph(2)
	registry, ok := g.Lookup(key("Registry"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(0), registry.Owner())

	set, ok := g.Node(registry.Edges[0].Target)
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(0), set.Owner())
	require.Len(t, set.Contributions, 1)
	assert.Equal(t, "AModule.pluginA", set.Contributions[0].Element)
}

func TestResolve_EmptyMultibindsDeclaration(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
		Name: "App",
		Declarations: []model.Declaration{{
			Kind: model.KindMultibindsDeclaration, Type: "Map<String,Handler>", Element: "M.handlers", Module: "M",
		}},
		EntryPoints: []model.EntryPoint{entry("Map<String,Handler>")},
	}}})

	n, ok := f.Root().Lookup(key("Map<String,Handler>"))
	require.True(t, ok)
	assert.False(t, n.Missing)
	assert.Equal(t, model.KindMultiboundMap, n.Binding().Kind)
	assert.Empty(t, n.Edges)
}

func TestResolve_ComponentKey(t *testing.T) {
	t.Parallel()

	f := resolve(t, chain(
		model.ComponentSpec{},
		model.ComponentSpec{},
		model.ComponentSpec{EntryPoints: []model.EntryPoint{entry("A"), entry("C")}},
	))

	g := f.Graph(2)
	a, ok := g.Lookup(key("A"))
	require.True(t, ok)
	assert.Equal(t, model.KindComponent, a.Binding().Kind)
	assert.Equal(t, model.ComponentID(0), a.Owner())

	c, ok := g.Lookup(key("C"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(2), c.Owner())
}

func TestResolve_MissingPlaceholder(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
		Name:         "App",
		Declarations: []model.Declaration{provides("Foo", "M.foo", dep("Bar"))},
		EntryPoints:  []model.EntryPoint{entry("Foo")},
	}}})

	g := f.Root()
	missing := g.MissingNodes()
	require.Len(t, missing, 1)
	assert.Equal(t, key("Bar"), missing[0].Key())
	assert.Nil(t, missing[0].Binding())

	foo, ok := g.Lookup(key("Foo"))
	require.True(t, ok)
	assert.False(t, foo.Missing)
}

func TestResolve_OptionalDeclarationIsAbsent(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
		Name: "App",
		Declarations: []model.Declaration{
			provides("Foo", "M.foo", depKind("Bar", model.RequestOptional)),
			{Kind: model.KindOptionalDeclaration, Type: "Bar", Element: "M.optionalBar", Module: "M"},
		},
		EntryPoints: []model.EntryPoint{entry("Foo")},
	}}})

	g := f.Root()
	assert.Empty(t, g.MissingNodes())
	bar, ok := g.Node(NodeID{Key: key("Bar"), Owner: 0})
	require.True(t, ok)
	assert.True(t, bar.Absent)
}

func TestResolve_Cycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		decls  []model.Declaration
		cycles int
		path   int
	}{
		{
			name:   "instance self cycle",
			decls:  []model.Declaration{provides("Foo", "M.foo", dep("Foo"))},
			cycles: 1,
			path:   2,
		},
		{
			name:  "provider self cycle",
			decls: []model.Declaration{provides("Foo", "M.foo", depKind("Foo", model.RequestProvider))},
		},
		{
			name:  "lazy breaks two node cycle",
			decls: []model.Declaration{provides("Foo", "M.foo", dep("Bar")), provides("Bar", "M.bar", depKind("Foo", model.RequestLazy))},
		},
		{
			name:   "two node cycle",
			decls:  []model.Declaration{provides("Foo", "M.foo", dep("Bar")), provides("Bar", "M.bar", dep("Foo"))},
			cycles: 1,
			path:   3,
		},
		{
			name: "optional does not break cycle",
			decls: []model.Declaration{
				provides("Foo", "M.foo", dep("Bar")),
				provides("Bar", "M.bar", dep("Baz")),
				provides("Baz", "M.baz", depKind("Foo", model.RequestOptional)),
			},
			cycles: 1,
			path:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := resolve(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
				Name:         "App",
				Declarations: tt.decls,
				EntryPoints:  []model.EntryPoint{entry("Foo")},
			}}})

			cycles := f.Root().Cycles()
			require.Len(t, cycles, tt.cycles)
			if tt.cycles == 0 {
				return
			}
			c := cycles[0]
			assert.Len(t, c.Path, tt.path)
			assert.Len(t, c.Requests, tt.path-1)
			assert.Equal(t, c.Path[0], c.Path[len(c.Path)-1])
		})
	}
}

func TestResolve_ScopedInjectableOwnedByScopedAncestor(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{
		Root: "App",
		Components: []model.ComponentSpec{
			{Name: "App", Scopes: []string{"Singleton"}},
			{Name: "Activity", Parent: "App", Scopes: []string{"PerActivity"}},
			{Name: "Fragment", Parent: "Activity", EntryPoints: []model.EntryPoint{entry("Presenter")}},
		},
		Injectables: []model.Declaration{{
			Kind: model.KindInjection, Type: "Presenter", Element: "Presenter.<init>", Scope: "ActivityScoped",
		}},
		ScopeAliases: model.ScopeAliases{"ActivityScoped": "PerActivity"},
	})

	n, ok := f.Graph(2).Lookup(key("Presenter"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(1), n.Owner())
}

func TestResolve_UnscopedInjectableReusesAncestorGraph(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{
		Root: "App",
		Components: []model.ComponentSpec{
			{Name: "App", EntryPoints: []model.EntryPoint{entry("Clock")}},
			{Name: "Screen", Parent: "App", EntryPoints: []model.EntryPoint{entry("Clock"), entry("Widget")}},
		},
		Injectables: []model.Declaration{
			{Kind: model.KindInjection, Type: "Clock", Element: "Clock.<init>"},
			{Kind: model.KindInjection, Type: "Widget", Element: "Widget.<init>"},
		},
	})

	child := f.Graph(1)
	clock, ok := child.Lookup(key("Clock"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(0), clock.Owner())

	widget, ok := child.Lookup(key("Widget"))
	require.True(t, ok)
	assert.Equal(t, model.ComponentID(1), widget.Owner())
}

func TestResolveFull_SeedsDeclaredKeys(t *testing.T) {
	t.Parallel()

	tree := mustTree(t, chain(
		model.ComponentSpec{Declarations: []model.Declaration{provides("Unused", "AModule.unused", dep("Nowhere"))}},
		model.ComponentSpec{Declarations: []model.Declaration{provides("Other", "BModule.other")}},
		model.ComponentSpec{},
	))

	pruned := NewResolver(nil).Resolve(tree)
	assert.Zero(t, pruned.Graph(2).Len())

	full := NewResolver(nil).ResolveFull(tree)
	assert.True(t, full.Full())
	g := full.Graph(2)
	_, ok := g.Node(NodeID{Key: key("Unused"), Owner: 0})
	assert.True(t, ok)
	_, ok = g.Node(NodeID{Key: key("Other"), Owner: 1})
	assert.True(t, ok)
	require.Len(t, g.MissingNodes(), 1)
	assert.Len(t, g.Seeds(), 2)
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()

	spec := chain(
		model.ComponentSpec{Declarations: []model.Declaration{
			provides("Registry", "AModule.registry", dep("Set<Plugin>"), dep("Clock")),
			provides("Clock", "AModule.clock"),
			contributes("Set<Plugin>", "PluginA", "AModule.pluginA", dep("Clock")),
		}},
		model.ComponentSpec{Declarations: []model.Declaration{
			contributes("Set<Plugin>", "PluginB", "BModule.pluginB", dep("Missing")),
		}},
		model.ComponentSpec{EntryPoints: []model.EntryPoint{entry("Registry"), entry("Clock")}},
	)

	render := func(f *Forest) []string {
		var out []string
		for _, g := range f.Graphs() {
			for _, n := range g.Nodes() {
				line := g.Describe(n.ID)
				for _, e := range n.Edges {
					line += fmt.Sprintf(" -> %s", g.Describe(e.Target))
				}
				out = append(out, line)
			}
		}
		return out
	}

	first := render(resolve(t, spec))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, render(resolve(t, spec)))
	}
}

func TestGraph_InstantiationOrder(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
		Name: "App",
		Declarations: []model.Declaration{
			provides("Server", "M.server", dep("Handler"), dep("Config")),
			provides("Handler", "M.handler", dep("Config"), depKind("Server", model.RequestProvider)),
			provides("Config", "M.config"),
		},
		EntryPoints: []model.EntryPoint{entry("Server")},
	}}})

	order, err := f.Root().InstantiationOrder()
	require.NoError(t, err)

	var keys []string
	for _, n := range order {
		keys = append(keys, n.Key().String())
	}
	assert.Equal(t, []string{"Config", "Handler", "Server"}, keys)
}

func TestGraph_InstantiationOrderFailsOnCycle(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
		Name:         "App",
		Declarations: []model.Declaration{provides("Foo", "M.foo", dep("Foo"))},
		EntryPoints:  []model.EntryPoint{entry("Foo")},
	}}})

	_, err := f.Root().InstantiationOrder()
	assert.Error(t, err)
}

func TestGraph_Reports(t *testing.T) {
	t.Parallel()

	f := resolve(t, model.TreeSpec{
		Root: "App",
		Components: []model.ComponentSpec{
			{
				Name:         "App",
				Declarations: []model.Declaration{provides("Foo", "M.foo"), provides("Bar", "M.bar")},
				EntryPoints:  []model.EntryPoint{entry("Foo")},
			},
			{Name: "Child", Parent: "App", EntryPoints: []model.EntryPoint{entry("Foo"), entry("Bar")}},
		},
	})

	child := f.Graph(1)
	foo, _ := child.Lookup(key("Foo"))
	bar, _ := child.Lookup(key("Bar"))
	assert.False(t, child.Reports(foo))
	assert.True(t, child.Reports(bar))
}
