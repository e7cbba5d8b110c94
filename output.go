package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/iVampireSP/bindgraph/internal/aggregate"
	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/pipeline"
)

// RootDoc is the serialized form of a validated root.
type RootDoc struct {
	Root       string         `json:"root" yaml:"root"`
	Roots      []string       `json:"roots" yaml:"roots"`
	Test       bool           `json:"test,omitempty" yaml:"test,omitempty"`
	Components []ComponentDoc `json:"components" yaml:"components"`
}

// ComponentDoc is one component graph.
type ComponentDoc struct {
	Name        string     `json:"name" yaml:"name"`
	Parent      string     `json:"parent,omitempty" yaml:"parent,omitempty"`
	EntryPoints []EntryDoc `json:"entry_points,omitempty" yaml:"entry_points,omitempty"`
	Order       []string   `json:"instantiation_order,omitempty" yaml:"instantiation_order,omitempty"`
	Nodes       []NodeDoc  `json:"nodes" yaml:"nodes"`
}

// EntryDoc is one entry point and the node it resolves to.
type EntryDoc struct {
	Method string `json:"method" yaml:"method"`
	Target string `json:"target" yaml:"target"`
}

// NodeDoc is one resolved binding.
type NodeDoc struct {
	Key          string   `json:"key" yaml:"key"`
	Owner        string   `json:"owner" yaml:"owner"`
	Kind         string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Element      string   `json:"element,omitempty" yaml:"element,omitempty"`
	Module       string   `json:"module,omitempty" yaml:"module,omitempty"`
	Scope        string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Missing      bool     `json:"missing,omitempty" yaml:"missing,omitempty"`
	Absent       bool     `json:"absent,omitempty" yaml:"absent,omitempty"`
}

// NewRootDoc converts an outcome into its serialized form.
func NewRootDoc(o *pipeline.Outcome) RootDoc {
	doc := RootDoc{Root: o.Root, Roots: o.Roots, Test: o.Test}
	for _, g := range o.Forest.Graphs() {
		doc.Components = append(doc.Components, newComponentDoc(g))
	}
	return doc
}

func newComponentDoc(g *bindgraph.Graph) ComponentDoc {
	c := g.Component()
	doc := ComponentDoc{Name: c.Name}
	if p := g.Parent(); p != nil {
		doc.Parent = p.Component().Name
	}
	for _, e := range g.EntryPoints() {
		doc.EntryPoints = append(doc.EntryPoints, EntryDoc{Method: e.EntryPoint.Method, Target: g.Describe(e.Target)})
	}
	if order, err := g.InstantiationOrder(); err == nil {
		for _, n := range order {
			doc.Order = append(doc.Order, n.Key().String())
		}
	}
	for _, n := range g.Nodes() {
		nd := NodeDoc{
			Key:     n.Key().String(),
			Owner:   g.ComponentName(n.Owner()),
			Missing: n.Missing,
			Absent:  n.Absent,
		}
		if b := n.Binding(); b != nil {
			nd.Kind = b.Kind.String()
			nd.Element = b.Element
			nd.Module = b.Module
			nd.Scope = b.Scope
		}
		for _, e := range n.Edges {
			nd.Dependencies = append(nd.Dependencies, e.Request.String())
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	return doc
}

// newGenerator returns the generator for format. json writes one file per
// root under dir; yaml and table write to w.
func newGenerator(format, dir string, w io.Writer) (pipeline.Generator, error) {
	switch format {
	case "json":
		return &JSONGenerator{Dir: dir}, nil
	case "yaml":
		return &YAMLGenerator{W: w}, nil
	case "table":
		return &TableGenerator{W: w}, nil
	}
	return nil, fmt.Errorf("unknown format %q (want json, yaml or table)", format)
}

// JSONGenerator writes <Dir>/<root>.json for every root.
type JSONGenerator struct {
	Dir string
}

func (g *JSONGenerator) Generate(_ context.Context, o *pipeline.Outcome) error {
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", g.Dir, err)
	}
	data, err := json.MarshalIndent(NewRootDoc(o), "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(g.Dir, o.Root+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// YAMLGenerator writes every root as one YAML document.
type YAMLGenerator struct {
	mu sync.Mutex
	W  io.Writer
}

func (g *YAMLGenerator) Generate(_ context.Context, o *pipeline.Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return writeYAML(g.W, NewRootDoc(o))
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// TableGenerator renders every root as a table of nodes.
type TableGenerator struct {
	mu sync.Mutex
	W  io.Writer
}

func (g *TableGenerator) Generate(_ context.Context, o *pipeline.Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := table.NewWriter()
	t.SetOutputMirror(g.W)
	t.SetTitle(o.Root)
	t.AppendHeader(table.Row{"Component", "Key", "Owner", "Binding", "Dependencies"})
	for _, c := range NewRootDoc(o).Components {
		for _, n := range c.Nodes {
			binding := n.Kind
			switch {
			case n.Missing:
				binding = "missing"
			case n.Absent:
				binding = "absent"
			case n.Element != "":
				binding += " " + n.Element
			}
			t.AppendRow(table.Row{c.Name, n.Key, n.Owner, binding, strings.Join(n.Dependencies, ", ")})
		}
		t.AppendSeparator()
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

// SetDoc is the serialized form of an aggregated declaration set.
type SetDoc struct {
	Root        string   `json:"root" yaml:"root"`
	Component   string   `json:"component" yaml:"component"`
	Test        bool     `json:"test,omitempty" yaml:"test,omitempty"`
	Roots       []string `json:"roots" yaml:"roots"`
	Modules     []string `json:"modules" yaml:"modules"`
	Injectables int      `json:"injectables" yaml:"injectables"`
	EntryPoints int      `json:"entry_point_sets" yaml:"entry_point_sets"`
}

func newSetDoc(s *aggregate.DeclarationSet) SetDoc {
	return SetDoc{
		Root:        s.Root.Name,
		Component:   s.Root.Component,
		Test:        s.Root.Test,
		Roots:       s.Roots,
		Modules:     s.ModuleNames(),
		Injectables: len(s.Injectables),
		EntryPoints: len(s.EntryPoints),
	}
}

// writeSets prints aggregated sets in format.
func writeSets(w io.Writer, format string, res *aggregate.Result) error {
	var docs []SetDoc
	for _, s := range res.Sets() {
		docs = append(docs, newSetDoc(s))
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	case "yaml":
		return writeYAML(w, docs)
	case "table":
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"Set", "Component", "Test", "Roots", "Modules"})
		for _, d := range docs {
			t.AppendRow(table.Row{d.Root, d.Component, d.Test, strings.Join(d.Roots, ", "), strings.Join(d.Modules, ", ")})
		}
		if len(res.Skipped) > 0 {
			t.AppendFooter(table.Row{"skipped", "", "", strings.Join(res.Skipped, ", "), ""})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	}
	return fmt.Errorf("unknown format %q (want json, yaml or table)", format)
}
