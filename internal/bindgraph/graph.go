// Package bindgraph resolves a component hierarchy into one binding graph per
// component. A graph records which binding satisfies each requested key, which
// component owns it, and how bindings depend on one another. Resolution never
// fails on graph problems; missing keys, duplicates and cycles are recorded on
// the graph for the validators to report.
package bindgraph

import (
	"fmt"
	"sort"

	"github.com/iVampireSP/bindgraph/internal/model"
)

// NodeID identifies a resolved binding: the same key owned by two different
// components is two different nodes.
type NodeID struct {
	Key   model.Key
	Owner model.ComponentID
}

func (id NodeID) less(o NodeID) bool {
	if id.Owner != o.Owner {
		return id.Owner < o.Owner
	}
	return id.Key.Less(o.Key)
}

// Edge is one dependency request of a node and the node that satisfies it.
type Edge struct {
	Request model.DependencyRequest
	Target  NodeID
}

// Node is a resolved key.
type Node struct {
	ID NodeID

	// Bindings are the candidates for the key. More than one means the key
	// is bound more than once.
	Bindings []*model.Binding
	// Conflicts are one-to-one bindings declared for a multibound key.
	Conflicts []*model.Binding
	// Contributions are the deduplicated contributions behind a multibound
	// aggregate, in declaration order.
	Contributions []*model.Binding

	Missing bool // nothing binds the key
	Absent  bool // nothing binds the key, but an optional declaration allows that

	Edges []Edge
}

// Key returns the resolved key.
func (n *Node) Key() model.Key { return n.ID.Key }

// Owner returns the owning component.
func (n *Node) Owner() model.ComponentID { return n.ID.Owner }

// Binding returns the first candidate, or nil for placeholders.
func (n *Node) Binding() *model.Binding {
	if len(n.Bindings) == 0 {
		return nil
	}
	return n.Bindings[0]
}

// Unsatisfied reports whether the node is a placeholder.
func (n *Node) Unsatisfied() bool {
	return n.Missing || n.Absent
}

// EntryEdge links a component entry point to the node it resolves to.
type EntryEdge struct {
	EntryPoint model.EntryPoint
	Target     NodeID
}

// Cycle is a dependency cycle made only of edges that cannot be satisfied
// lazily. Path starts and ends at the same node; Requests[i] is the request
// from Path[i] to Path[i+1].
type Cycle struct {
	Path     []NodeID
	Requests []model.DependencyRequest
}

// Graph is the resolved binding graph of one component.
type Graph struct {
	tree      *model.Tree
	component model.ComponentID
	full      bool
	parent    *Graph

	nodes   map[NodeID]*Node
	order   []NodeID
	entries []EntryEdge
	seeds   []NodeID
	local   map[model.Key]NodeID // keys resolved from this component's own perspective
	cycles  []Cycle
}

func newGraph(tree *model.Tree, component model.ComponentID, parent *Graph, full bool) *Graph {
	return &Graph{
		tree:      tree,
		component: component,
		full:      full,
		parent:    parent,
		nodes:     make(map[NodeID]*Node),
		local:     make(map[model.Key]NodeID),
	}
}

// Tree returns the component hierarchy the graph was resolved from.
func (g *Graph) Tree() *model.Tree { return g.tree }

// ComponentID returns the handle of the graph's component.
func (g *Graph) ComponentID() model.ComponentID { return g.component }

// Component returns the graph's component descriptor.
func (g *Graph) Component() *model.ComponentDescriptor { return g.tree.Component(g.component) }

// Parent returns the graph of the parent component, nil for the root.
func (g *Graph) Parent() *Graph { return g.parent }

// Full reports whether the graph was seeded with every declared key rather
// than only the entry points.
func (g *Graph) Full() bool { return g.full }

// Node returns the node for id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node ordered by owner, then key.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EntryPoints returns the entry points in declaration order.
func (g *Graph) EntryPoints() []EntryEdge {
	return append([]EntryEdge(nil), g.entries...)
}

// Seeds returns the nodes a full graph was seeded with, besides entry points.
func (g *Graph) Seeds() []NodeID {
	return append([]NodeID(nil), g.seeds...)
}

// MissingNodes returns unsatisfied nodes that are not tolerated absences.
func (g *Graph) MissingNodes() []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.Missing {
			out = append(out, n)
		}
	}
	return out
}

// Cycles returns the unbroken cycles found in the graph.
func (g *Graph) Cycles() []Cycle {
	return append([]Cycle(nil), g.cycles...)
}

// Owns reports whether the node is owned by the graph's component.
func (g *Graph) Owns(n *Node) bool {
	return n.ID.Owner == g.component
}

// Reports reports whether problems on n belong to this graph. A node owned
// by an ancestor is reported here only when the ancestor's own graph never
// reached it.
func (g *Graph) Reports(n *Node) bool {
	if g.Owns(n) {
		return true
	}
	for p := g.parent; p != nil; p = p.parent {
		if p.component == n.ID.Owner {
			_, reached := p.nodes[n.ID]
			return !reached
		}
	}
	return true
}

// Lookup returns the node that the component itself resolved key to.
func (g *Graph) Lookup(key model.Key) (*Node, bool) {
	id, ok := g.local[key]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Dependents returns the nodes with an edge to id, ordered like Nodes.
func (g *Graph) Dependents(id NodeID) []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		for _, e := range n.Edges {
			if e.Target == id {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Requests returns every request, edge or entry point, that targets id.
func (g *Graph) Requests(id NodeID) []model.DependencyRequest {
	var out []model.DependencyRequest
	for _, ep := range g.entries {
		if ep.Target == id {
			out = append(out, ep.EntryPoint.Request)
		}
	}
	for _, n := range g.Nodes() {
		for _, e := range n.Edges {
			if e.Target == id {
				out = append(out, e.Request)
			}
		}
	}
	return out
}

// ComponentName returns the name of component id.
func (g *Graph) ComponentName(id model.ComponentID) string {
	return g.tree.Component(id).Name
}

// Describe renders a node id for diagnostics.
func (g *Graph) Describe(id NodeID) string {
	return fmt.Sprintf("%s [%s]", id.Key, g.ComponentName(id.Owner))
}

func (g *Graph) seal() {
	g.order = g.order[:0]
	for id := range g.nodes {
		g.order = append(g.order, id)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i].less(g.order[j]) })
	g.cycles = findCycles(g)
}

// InstantiationOrder returns the satisfied nodes owned by the graph's
// component in dependency order: every node comes after the nodes it needs
// eagerly. Edges that can be satisfied lazily are ignored. It fails when the
// graph has an unbroken cycle.
func (g *Graph) InstantiationOrder() ([]*Node, error) {
	visited := make(map[NodeID]bool)
	visiting := make(map[NodeID]bool)
	var order []*Node

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("unexpected cycle at %s", g.Describe(id))
		}
		visiting[id] = true

		n := g.nodes[id]
		for _, e := range n.Edges {
			if e.Request.Kind.BreaksCycle() {
				continue
			}
			if err := visit(e.Target); err != nil {
				return err
			}
		}

		visited[id] = true
		delete(visiting, id)
		if g.Owns(n) && !n.Unsatisfied() {
			order = append(order, n)
		}
		return nil
	}

	for _, id := range g.order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Forest is the set of graphs resolved for one tree, indexed by component.
type Forest struct {
	tree   *model.Tree
	graphs []*Graph
	full   bool
}

// Tree returns the resolved hierarchy.
func (f *Forest) Tree() *model.Tree { return f.tree }

// Full reports whether the graphs are full graphs.
func (f *Forest) Full() bool { return f.full }

// Graph returns the graph of component id.
func (f *Forest) Graph(id model.ComponentID) *Graph { return f.graphs[id] }

// Root returns the graph of the root component.
func (f *Forest) Root() *Graph { return f.graphs[0] }

// Graphs returns every graph, parents before children.
func (f *Forest) Graphs() []*Graph {
	return append([]*Graph(nil), f.graphs...)
}

// GraphNamed returns the graph of the component with the given name.
func (f *Forest) GraphNamed(name string) (*Graph, bool) {
	c, ok := f.tree.Lookup(name)
	if !ok {
		return nil, false
	}
	return f.graphs[c.ID], true
}
