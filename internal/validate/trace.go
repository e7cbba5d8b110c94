package validate

import (
	"fmt"
	"strings"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/model"
)

type traceStep struct {
	from  bindgraph.NodeID
	edge  bindgraph.Edge
	entry int // index of the entry point when the step starts at one, else -1
}

// traceTo finds the shortest request path from the graph's entry points to
// target. Entry points are searched in declaration order, so ties go to the
// first declared one. It returns the rendered trace, nearest request first,
// and whether target is reachable at all.
func traceTo(g *bindgraph.Graph, target bindgraph.NodeID) ([]string, bool) {
	entries := g.EntryPoints()
	came := make(map[bindgraph.NodeID]traceStep)
	var queue []bindgraph.NodeID
	for i, ep := range entries {
		if _, seen := came[ep.Target]; seen {
			continue
		}
		came[ep.Target] = traceStep{entry: i}
		queue = append(queue, ep.Target)
	}

	for len(queue) > 0 && !reached(came, target) {
		cur := queue[0]
		queue = queue[1:]
		n, _ := g.Node(cur)
		for _, e := range n.Edges {
			if _, seen := came[e.Target]; seen {
				continue
			}
			came[e.Target] = traceStep{from: cur, edge: e, entry: -1}
			queue = append(queue, e.Target)
		}
	}
	if !reached(came, target) {
		return nil, false
	}

	var lines []string
	for at := target; ; {
		step := came[at]
		if step.entry >= 0 {
			ep := entries[step.entry].EntryPoint
			lines = append(lines, fmt.Sprintf("%s is requested at %s.%s()", ep.Request, g.Component().Name, ep.Method))
			break
		}
		lines = append(lines, fmt.Sprintf("%s is injected at %s", step.edge.Request, requestSite(g, step.from, step.edge.Request)))
		at = step.from
	}
	return lines, true
}

func reached(came map[bindgraph.NodeID]traceStep, id bindgraph.NodeID) bool {
	_, ok := came[id]
	return ok
}

// requestSite renders where a request is made, e.g. "M.foo(param Bar)".
func requestSite(g *bindgraph.Graph, from bindgraph.NodeID, req model.DependencyRequest) string {
	site := g.Describe(from)
	if n, ok := g.Node(from); ok && n.Binding() != nil && n.Binding().Element != "" {
		site = n.Binding().Element
	}
	if req.Element == "" {
		return site
	}
	return fmt.Sprintf("%s(%s)", site, req.Element)
}

// otherRequesters lists the requesters of target other than the one the
// rendered trace starts with.
func otherRequesters(g *bindgraph.Graph, target bindgraph.NodeID, trace []string) []string {
	var sites []string
	for _, n := range g.Dependents(target) {
		for _, e := range n.Edges {
			if e.Target == target {
				sites = append(sites, requestSite(g, n.ID, e.Request))
			}
		}
	}
	for _, ep := range g.EntryPoints() {
		if ep.Target == target {
			sites = append(sites, fmt.Sprintf("%s.%s()", g.Component().Name, ep.EntryPoint.Method))
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, site := range sites {
		if seen[site] || (len(trace) > 0 && strings.HasSuffix(trace[0], " at "+site)) {
			continue
		}
		seen[site] = true
		out = append(out, "also requested at "+site)
	}
	return out
}
