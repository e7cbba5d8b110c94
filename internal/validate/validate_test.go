package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
	"github.com/iVampireSP/bindgraph/internal/metrics"
	"github.com/iVampireSP/bindgraph/internal/model"
)

func dep(t string) model.DependencyRequest {
	return model.Request(model.NewKey(t), "param "+t)
}

func provides(t, element string, deps ...model.DependencyRequest) model.Declaration {
	return model.Declaration{Kind: model.KindProvision, Type: t, Element: element, Module: "M", Dependencies: deps}
}

func entry(t string) model.EntryPoint {
	return model.EntryPoint{Method: "get" + t, Request: dep(t)}
}

func validateSpec(t *testing.T, spec model.TreeSpec) *diag.Report {
	t.Helper()
	tree, err := model.BuildTree(spec)
	require.NoError(t, err)
	resolver := bindgraph.NewResolver(nil)
	return Default(resolver, nil).Validate(resolver.Resolve(tree))
}

func single(decls []model.Declaration, entries ...model.EntryPoint) model.TreeSpec {
	return model.TreeSpec{Root: "App", Components: []model.ComponentSpec{{
		Name:         "App",
		Declarations: decls,
		EntryPoints:  entries,
	}}}
}

func TestMissingBinding_TraceFromEntryPoint(t *testing.T) {
	t.Parallel()

	r := validateSpec(t, single([]model.Declaration{
		provides("Foo", "M.foo", dep("Bar")),
	}, entry("Foo")))

	ds := r.OfKind(diag.KindMissingBinding)
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, "App", d.Component)
	assert.Equal(t, "Bar", d.Key)
	assert.Equal(t, []string{
		"Bar is injected at M.foo(param Bar)",
		"Foo is requested at App.getFoo()",
	}, d.Trace)
	assert.True(t, diag.IsMissingBinding(r.Err()))
}

func TestMissingBinding_AlsoRequestedAt(t *testing.T) {
	t.Parallel()

	r := validateSpec(t, single([]model.Declaration{
		provides("Foo", "M.foo", dep("Bar")),
		provides("Baz", "M.baz", dep("Bar")),
	}, entry("Foo"), entry("Baz")))

	ds := r.OfKind(diag.KindMissingBinding)
	require.Len(t, ds, 1)
	assert.Equal(t, "Bar is injected at M.foo(param Bar)", ds[0].Trace[0])
	assert.Contains(t, ds[0].Trace, "also requested at M.baz(param Bar)")
}

func TestMissingBinding_WrongComponent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		components []model.ComponentSpec
		boundIn    string
	}{
		{
			name: "bound in child",
			components: []model.ComponentSpec{
				{Name: "App", EntryPoints: []model.EntryPoint{entry("Foo")}},
				{Name: "Child", Parent: "App", Declarations: []model.Declaration{provides("Foo", "ChildModule.foo")}},
			},
			boundIn: "Child",
		},
		{
			name: "bound in sibling",
			components: []model.ComponentSpec{
				{Name: "App"},
				{Name: "Left", Parent: "App", Declarations: []model.Declaration{provides("Foo", "LeftModule.foo")}},
				{Name: "Right", Parent: "App", EntryPoints: []model.EntryPoint{entry("Foo")}},
			},
			boundIn: "Left",
		},
		{
			name: "dependency bound below the owner",
			components: []model.ComponentSpec{
				{Name: "App", Declarations: []model.Declaration{provides("Foo", "AppModule.foo", dep("Bar"))}},
				{
					Name:         "Child",
					Parent:       "App",
					Declarations: []model.Declaration{provides("Bar", "ChildModule.bar")},
					EntryPoints:  []model.EntryPoint{entry("Foo")},
				},
			},
			boundIn: "Child",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := validateSpec(t, model.TreeSpec{Root: "App", Components: tt.components})
			assert.Empty(t, r.OfKind(diag.KindMissingBinding))
			ds := r.OfKind(diag.KindWrongComponent)
			require.Len(t, ds, 1)
			assert.Contains(t, ds[0].Message, "is bound in "+tt.boundIn)
			assert.True(t, diag.IsMissingBinding(r.Err()))
		})
	}
}

func TestMissingBinding_OptionalRequestTolerated(t *testing.T) {
	t.Parallel()

	optional := dep("Bar")
	optional.Kind = model.RequestOptional
	r := validateSpec(t, single([]model.Declaration{
		provides("Foo", "M.foo", optional),
	}, entry("Foo")))

	assert.True(t, r.Empty())
}

func TestMissingBinding_ReportedOncePerHierarchy(t *testing.T) {
	t.Parallel()

	r := validateSpec(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{
		{Name: "App", Declarations: []model.Declaration{provides("Foo", "M.foo", dep("Bar"))}, EntryPoints: []model.EntryPoint{entry("Foo")}},
		{Name: "Child", Parent: "App", EntryPoints: []model.EntryPoint{entry("Foo")}},
	}})

	assert.Len(t, r.OfKind(diag.KindMissingBinding), 1)
}

func fullGraphsBuilt(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "bindgraph_graphs_resolved_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "variant" && l.GetValue() == "full" {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMissingBinding_RebuildsFullGraphsEveryRun(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	resolver := bindgraph.NewResolver(nil).WithMetrics(m)
	v := Default(resolver, nil)

	clean, err := model.BuildTree(single([]model.Declaration{provides("Foo", "M.foo")}, entry("Foo")))
	require.NoError(t, err)
	assert.True(t, v.Validate(resolver.Resolve(clean)).Empty())
	assert.Zero(t, fullGraphsBuilt(t, m))

	broken, err := model.BuildTree(single([]model.Declaration{provides("Foo", "M.foo", dep("Bar"))}, entry("Foo")))
	require.NoError(t, err)
	forest := resolver.Resolve(broken)
	first := v.Validate(forest)
	second := v.Validate(forest)
	assert.Equal(t, first.Diagnostics(), second.Diagnostics())
	assert.Equal(t, 2.0, fullGraphsBuilt(t, m))
}

func TestDuplicateBinding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		decls   []model.Declaration
		entry   string
		message string
	}{
		{
			name:    "same key twice",
			decls:   []model.Declaration{provides("Foo", "M.foo"), provides("Foo", "N.foo")},
			entry:   "Foo",
			message: "Foo is bound multiple times",
		},
		{
			name: "explicit mixed with contributions",
			decls: []model.Declaration{
				provides("Set<Plugin>", "M.plugins"),
				{Kind: model.KindSetContribution, Type: "PluginA", CollectionType: "Set<Plugin>", Element: "M.pluginA", Module: "M"},
			},
			entry:   "Set<Plugin>",
			message: "has both multibinding contributions and one-to-one bindings",
		},
		{
			name: "map key collision",
			decls: []model.Declaration{
				{Kind: model.KindMapContribution, Type: "GetHandler", CollectionType: "Map<String,Handler>", Element: "M.get", Module: "M", MapKey: "/users"},
				{Kind: model.KindMapContribution, Type: "PostHandler", CollectionType: "Map<String,Handler>", Element: "M.post", Module: "M", MapKey: "/users"},
			},
			entry:   "Map<String,Handler>",
			message: `more than one contribution for map key "/users"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := validateSpec(t, single(tt.decls, entry(tt.entry)))
			ds := r.OfKind(diag.KindDuplicateBinding)
			require.Len(t, ds, 1)
			assert.Contains(t, ds[0].Message, tt.message)
			assert.Len(t, ds[0].Elements, 2)
			assert.True(t, diag.IsDuplicateBinding(r.Err()))
		})
	}
}

func TestDuplicateBinding_ContributionIdentityAcrossComponents(t *testing.T) {
	t.Parallel()

	parent := model.Declaration{Kind: model.KindSetContribution, Type: "PluginA", CollectionType: "Set<Plugin>", Element: "PluginModule.plugin", Module: "PluginModule"}
	child := parent
	child.Dependencies = []model.DependencyRequest{dep("Clock")}

	r := validateSpec(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{
		{Name: "App", Declarations: []model.Declaration{parent, provides("Clock", "M.clock")}},
		{Name: "Child", Parent: "App", Declarations: []model.Declaration{child}, EntryPoints: []model.EntryPoint{entry("Set<Plugin>")}},
	}})

	ds := r.OfKind(diag.KindDuplicateBinding)
	require.Len(t, ds, 1)
	assert.Contains(t, ds[0].Message, "declared more than once")
}

func TestDuplicateBinding_IdenticalContributionCollapses(t *testing.T) {
	t.Parallel()

	c := model.Declaration{Kind: model.KindSetContribution, Type: "PluginA", CollectionType: "Set<Plugin>", Element: "PluginModule.plugin", Module: "PluginModule"}
	r := validateSpec(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{
		{Name: "App", Declarations: []model.Declaration{c}},
		{Name: "Child", Parent: "App", Declarations: []model.Declaration{c}, EntryPoints: []model.EntryPoint{entry("Set<Plugin>")}},
	}})

	assert.True(t, r.Empty())
}

func TestCycle(t *testing.T) {
	t.Parallel()

	r := validateSpec(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{
		{
			Name:         "App",
			Declarations: []model.Declaration{provides("Foo", "M.foo", dep("Bar")), provides("Bar", "M.bar", dep("Foo"))},
			EntryPoints:  []model.EntryPoint{entry("Foo")},
		},
		{Name: "Child", Parent: "App", EntryPoints: []model.EntryPoint{entry("Bar")}},
	}})

	ds := r.OfKind(diag.KindUnbrokenCycle)
	require.Len(t, ds, 1)
	assert.Equal(t, "found a dependency cycle: Bar [App] -> Foo [App] -> Bar [App]", ds[0].Message)
	assert.Len(t, ds[0].Elements, 2)
	assert.True(t, diag.IsUnbrokenCycle(r.Err()))
}

func TestCycle_BrokenByProvider(t *testing.T) {
	t.Parallel()

	provider := dep("Foo")
	provider.Kind = model.RequestProvider
	r := validateSpec(t, single([]model.Declaration{
		provides("Foo", "M.foo", dep("Bar")),
		provides("Bar", "M.bar", provider),
	}, entry("Foo")))

	assert.True(t, r.Empty())
}

func TestScope(t *testing.T) {
	t.Parallel()

	scoped := provides("Cache", "M.cache")
	scoped.Scope = "Singleton"

	t.Run("binding scope not carried", func(t *testing.T) {
		t.Parallel()

		r := validateSpec(t, single([]model.Declaration{scoped}, entry("Cache")))
		ds := r.OfKind(diag.KindScopeMismatch)
		require.Len(t, ds, 1)
		assert.Equal(t, "Cache is scoped Singleton but App is unscoped", ds[0].Message)
		assert.True(t, diag.IsScopeMismatch(r.Err()))
	})

	t.Run("binding scope carried through alias", func(t *testing.T) {
		t.Parallel()

		spec := single([]model.Declaration{scoped}, entry("Cache"))
		spec.Components[0].Scopes = []string{"AppScope"}
		spec.ScopeAliases = model.ScopeAliases{"Singleton": "AppScope"}
		assert.True(t, validateSpec(t, spec).Empty())
	})

	t.Run("child repeats ancestor scope", func(t *testing.T) {
		t.Parallel()

		r := validateSpec(t, model.TreeSpec{Root: "App", Components: []model.ComponentSpec{
			{Name: "App", Scopes: []string{"Singleton"}},
			{Name: "Child", Parent: "App", Scopes: []string{"Singleton"}},
		}})
		ds := r.OfKind(diag.KindScopeMismatch)
		require.Len(t, ds, 1)
		assert.Equal(t, "Child", ds[0].Component)
	})
}

func TestAssistedInjection(t *testing.T) {
	t.Parallel()

	spec := func(entries ...model.EntryPoint) model.TreeSpec {
		return model.TreeSpec{
			Root: "App",
			Components: []model.ComponentSpec{{
				Name: "App",
				Declarations: []model.Declaration{
					{Kind: model.KindAssistedFactory, Type: "WorkerFactory", Element: "WorkerFactory", Module: "M", Dependencies: []model.DependencyRequest{dep("Worker")}},
					provides("Pool", "M.pool", dep("Worker")),
				},
				EntryPoints: entries,
			}},
			Injectables: []model.Declaration{
				{Kind: model.KindAssistedInjection, Type: "Worker", Element: "Worker.<init>"},
			},
		}
	}

	assert.True(t, validateSpec(t, spec(entry("WorkerFactory"))).Empty())

	r := validateSpec(t, spec(entry("Pool"), entry("Worker")))
	ds := r.OfKind(diag.KindAssistedInjection)
	require.Len(t, ds, 2)
	for _, d := range ds {
		assert.Equal(t, "Worker", d.Key)
	}
}

func TestPipeline_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	r := validateSpec(t, single([]model.Declaration{
		provides("Foo", "M.foo", dep("Missing")),
		provides("Dup", "M.dup"),
		provides("Dup", "N.dup"),
		provides("Loop", "M.loop", dep("Loop")),
	}, entry("Foo"), entry("Dup"), entry("Loop")))

	assert.Len(t, r.OfKind(diag.KindMissingBinding), 1)
	assert.Len(t, r.OfKind(diag.KindDuplicateBinding), 1)
	assert.Len(t, r.OfKind(diag.KindUnbrokenCycle), 1)

	err := r.Err()
	require.Error(t, err)
	assert.True(t, diag.IsMissingBinding(err))
	assert.True(t, diag.IsDuplicateBinding(err))
	assert.True(t, diag.IsUnbrokenCycle(err))
	assert.False(t, diag.IsScopeMismatch(err))
	assert.True(t, strings.Contains(err.Error(), "[MISSING_BINDING]"))
}

func TestPipeline_Validators(t *testing.T) {
	t.Parallel()

	var names []string
	for _, v := range Default(nil, nil).Validators() {
		names = append(names, v.Name())
	}
	assert.Equal(t, []string{"missing-binding", "duplicate-binding", "cycle", "scope", "assisted-injection"}, names)
}
