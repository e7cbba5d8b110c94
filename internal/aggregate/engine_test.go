package aggregate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/bindgraph/internal/model"
)

const unit = "example.com/app"

func module(name string, decls ...model.Declaration) Module {
	return Module{Name: name, InstallIn: []string{"SingletonComponent"}, Declarations: decls}
}

func provision(t, element string) model.Declaration {
	return model.Declaration{Kind: model.KindProvision, Type: t, Element: element}
}

func baseRecords() []Record {
	return []Record{
		MustRecord(KindComponent, "SingletonComponent", unit, Component{Name: "SingletonComponent", Scopes: []string{"Singleton"}}),
		MustRecord(KindModule, "NetworkModule", unit, module("NetworkModule", provision("Client", "NetworkModule.client"))),
		MustRecord(KindModule, "DatabaseModule", unit, module("DatabaseModule", provision("DB", "DatabaseModule.db"))),
		MustRecord(KindModule, "AnalyticsModule", unit, module("AnalyticsModule", provision("Tracker", "AnalyticsModule.tracker"))),
		MustRecord(KindRoot, "App", unit, Root{Name: "App", Component: "SingletonComponent"}),
	}
}

func testRoot(name string) Record {
	return MustRecord(KindRoot, name, unit, Root{Name: name, Component: "SingletonComponent", Test: true})
}

func aggregate(t *testing.T, cfg Config, records []Record) *Result {
	t.Helper()
	if cfg.Unit == "" {
		cfg.Unit = unit
	}
	res, err := NewEngine(cfg, nil, nil).Aggregate(records)
	require.NoError(t, err)
	return res
}

func TestAggregate_ProductionSet(t *testing.T) {
	t.Parallel()

	res := aggregate(t, Config{}, baseRecords())
	require.Len(t, res.Production, 1)
	assert.Empty(t, res.Tests)

	s := res.Production[0]
	assert.Equal(t, "App", s.Root.Name)
	assert.Equal(t, []string{"App"}, s.Roots)
	assert.Equal(t, []string{"AnalyticsModule", "DatabaseModule", "NetworkModule"}, s.ModuleNames())
	require.Len(t, s.Components, 1)

	var marker ProcessedRoots
	require.NoError(t, res.Processed.Decode(&marker))
	assert.Equal(t, []string{"App"}, marker.Roots)
	assert.Equal(t, unit, res.Processed.Unit)
}

func TestAggregate_Idempotent(t *testing.T) {
	t.Parallel()

	records := baseRecords()
	first := aggregate(t, Config{}, records)
	second := aggregate(t, Config{}, append(records, first.Processed))

	assert.Equal(t, first.Production, second.Production)
	assert.Equal(t, first.Tests, second.Tests)
	assert.Equal(t, first.Processed, second.Processed)
	assert.Empty(t, second.Skipped)
}

func TestAggregate_SkipsRootsProcessedByOtherUnit(t *testing.T) {
	t.Parallel()

	records := append(baseRecords(), MustRecord(KindProcessedRoots, "example.com/lib/processed_roots", "example.com/lib", ProcessedRoots{Roots: []string{"App"}}))
	res := aggregate(t, Config{}, records)

	assert.Empty(t, res.Production)
	assert.Equal(t, []string{"App"}, res.Skipped)
}

func TestAggregate_NoRoots(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Config{Unit: unit}, nil, nil).Aggregate(baseRecords()[:2])
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
}

func TestAggregate_TestRoots(t *testing.T) {
	t.Parallel()

	records := append(baseRecords(),
		testRoot("T1"),
		testRoot("T2"),
		testRoot("T3"),
		MustRecord(KindModule, "FakeDatabaseModule", unit, Module{
			Name:         "FakeDatabaseModule",
			InstallIn:    []string{"SingletonComponent"},
			Replaces:     []string{"DatabaseModule"},
			Declarations: []model.Declaration{provision("DB", "FakeDatabaseModule.db")},
		}),
		MustRecord(KindModule, "T3.ClockModule", unit, Module{
			Name:         "T3.ClockModule",
			InstallIn:    []string{"SingletonComponent"},
			TestRoot:     "T3",
			Declarations: []model.Declaration{provision("Clock", "T3.ClockModule.clock")},
		}),
		MustRecord(KindUninstall, "T3/uninstall", unit, Uninstall{TestRoot: "T3", Modules: []string{"AnalyticsModule"}}),
	)

	t.Run("shared", func(t *testing.T) {
		t.Parallel()

		res := aggregate(t, Config{ShareTestComponents: true}, records)
		require.Len(t, res.Production, 1)
		assert.Equal(t, []string{"AnalyticsModule", "DatabaseModule", "NetworkModule"}, res.Production[0].ModuleNames())

		require.Len(t, res.Tests, 2)
		shared, own := res.Tests[0], res.Tests[1]
		assert.Equal(t, DefaultTestRoot, shared.Root.Name)
		assert.Equal(t, []string{"T1", "T2"}, shared.Roots)
		assert.Equal(t, []string{"AnalyticsModule", "FakeDatabaseModule", "NetworkModule"}, shared.ModuleNames())

		assert.Equal(t, "T3", own.Root.Name)
		assert.Equal(t, []string{"T3"}, own.Roots)
		assert.Equal(t, []string{"FakeDatabaseModule", "NetworkModule", "T3.ClockModule"}, own.ModuleNames())
	})

	t.Run("not shared", func(t *testing.T) {
		t.Parallel()

		res := aggregate(t, Config{}, records)
		require.Len(t, res.Tests, 3)
		for i, name := range []string{"T1", "T2", "T3"} {
			assert.Equal(t, name, res.Tests[i].Root.Name)
		}
		assert.Equal(t, res.Tests[0].ModuleNames(), res.Tests[1].ModuleNames())
	})
}

func TestAggregate_OrderIndependent(t *testing.T) {
	t.Parallel()

	contribution := func(u, name string) Record {
		return MustRecord(KindModule, name, u, Module{
			Name:      name,
			InstallIn: []string{"SingletonComponent"},
			Declarations: []model.Declaration{{
				Kind:           model.KindSetContribution,
				Type:           name + ".Plugin",
				CollectionType: "Set<Plugin>",
				Element:        name + ".provide",
			}},
		})
	}
	records := append(baseRecords(),
		contribution("example.com/a", "PluginA"),
		contribution("example.com/b", "PluginB"),
		contribution("example.com/c", "PluginC"),
		contribution("example.com/c", "PluginC"),
	)

	want := aggregate(t, Config{}, records)
	require.Len(t, want.Production, 1)
	assert.Len(t, want.Production[0].Modules, 6)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]Record(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := aggregate(t, Config{}, shuffled)
		assert.Equal(t, want.Production, got.Production)
	}
}

func TestAggregate_ConflictingRecords(t *testing.T) {
	t.Parallel()

	records := append(baseRecords(),
		MustRecord(KindModule, "NetworkModule", "example.com/other", module("NetworkModule")),
	)
	_, err := NewEngine(Config{Unit: unit}, nil, nil).Aggregate(records)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
	assert.Contains(t, err.Error(), `conflicting module records "NetworkModule"`)
}

func TestAggregate_RequireInstallIn(t *testing.T) {
	t.Parallel()

	records := append(baseRecords(), MustRecord(KindModule, "Floating", unit, Module{Name: "Floating"}))

	res := aggregate(t, Config{}, records)
	assert.NotContains(t, res.Production[0].ModuleNames(), "Floating")

	_, err := NewEngine(Config{Unit: unit, RequireInstallIn: true}, nil, nil).Aggregate(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module Floating has no install target")
}

func TestAggregate_SuperclassCheck(t *testing.T) {
	t.Parallel()

	records := baseRecords()
	records[len(records)-1] = MustRecord(KindRoot, "App", unit, Root{Name: "App", Component: "SingletonComponent", Superclass: "Application"})

	_, err := NewEngine(Config{Unit: unit}, nil, nil).Aggregate(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root App must extend Bindgraph_App")

	res := aggregate(t, Config{DisableSuperclassCheck: true}, records)
	assert.Len(t, res.Production, 1)

	records[len(records)-1] = MustRecord(KindRoot, "App", unit, Root{Name: "App", Component: "SingletonComponent", Superclass: "Bindgraph_App"})
	res = aggregate(t, Config{}, records)
	assert.Len(t, res.Production, 1)
}

func TestAggregate_DanglingReferences(t *testing.T) {
	t.Parallel()

	records := append(baseRecords(),
		MustRecord(KindUninstall, "Ghost/uninstall", unit, Uninstall{TestRoot: "Ghost", Modules: []string{"NopeModule"}}),
	)
	_, err := NewEngine(Config{Unit: unit}, nil, nil).Aggregate(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uninstall targets unknown test root Ghost")
	assert.Contains(t, err.Error(), "test root Ghost uninstalls unknown module NopeModule")
}

func TestAggregate_UnwrapsProxies(t *testing.T) {
	t.Parallel()

	records := baseRecords()
	inner := records[1]
	records[1] = MustRecord(KindProxy, inner.ID, inner.Unit, Proxy{Visibility: "package", Record: inner})

	res := aggregate(t, Config{}, records)
	assert.Contains(t, res.Production[0].ModuleNames(), "NetworkModule")
}
