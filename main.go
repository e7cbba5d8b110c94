// Package main implements bindgraph, a build-time dependency injection
// resolver.
//
// Compilation units describe their bindings as records in a well-known
// aggregation package (<unit>/bindgraph_aggregated). At the root, bindgraph
// collects every record reachable from the scanned packages, partitions them
// into one declaration set per application or test root, resolves a binding
// graph per component and validates it. Clean roots are handed to a
// generator; the bundled ones serialize the graph as JSON, YAML or a table.
//
// Resolution flow:
//
//  1. Read go.mod → module path
//  2. Read generate.go → //bindgraph:unit/scan/exclude/option directives
//  3. Apply BINDGRAPH_* overrides from the environment and .env
//  4. Load packages → collect //bindgraph:record directives
//  5. Aggregate records → production and test declaration sets
//  6. Per root, in parallel: build component tree → resolve → validate
//  7. Generate output for roots without diagnostics
//
// Usage:
//
//	//go:generate go run github.com/iVampireSP/bindgraph@latest resolve
package main

import (
	"fmt"
	"os"

	"github.com/iVampireSP/bindgraph/internal/pipeline"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if d, ok := pipeline.Diagnose(err); ok {
			err = d
		}
		fmt.Fprintf(os.Stderr, "bindgraph: %v\n", err)
		os.Exit(1)
	}
}
