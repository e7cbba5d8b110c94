package main

import (
	"github.com/iVampireSP/bindgraph/internal/aggregate"
)

// Config holds bindgraph configuration, populated from conventions,
// generate.go directives, .env and flags, in that order.
type Config struct {
	Module   string   // module path from go.mod
	Requires []string // required module paths from go.mod, searched for upstream records
	Root     string   // module root directory
	Unit     string   // aggregating unit, defaults to Module
	Scan     []string // package patterns searched for aggregation packages
	Exclude  []string
	Output   string // directory generators write to
	Format   string // json, yaml or table

	// Build toggles, from //bindgraph:option or BINDGRAPH_* variables.
	ShareTestComponents    bool
	RequireInstallIn       bool
	DisableSuperclassCheck bool

	Verbose     bool
	MetricsFile string // prometheus textfile written after a run
}

// AggregateConfig returns the aggregation settings of c.
func (c *Config) AggregateConfig() aggregate.Config {
	return aggregate.Config{
		Unit:                   c.Unit,
		ShareTestComponents:    c.ShareTestComponents,
		RequireInstallIn:       c.RequireInstallIn,
		DisableSuperclassCheck: c.DisableSuperclassCheck,
	}
}

// Sources returns the record sources of c: the packages reachable from the
// scan patterns and the aggregation packages of every required module.
func (c *Config) Sources() []aggregate.Source {
	return []aggregate.Source{&aggregate.PackageSource{
		Dir:     c.Root,
		Module:  c.Module,
		Scan:    c.Scan,
		Deps:    c.Requires,
		Exclude: c.Exclude,
		Ignore:  aggregate.LoadIgnore(c.Root),
	}}
}
