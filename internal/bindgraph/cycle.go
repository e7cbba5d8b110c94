package bindgraph

import "sort"

// cycleDetector finds strongly connected components over the edges that
// cannot be satisfied lazily.
type cycleDetector struct {
	graph   *Graph
	index   int
	stack   []NodeID
	onStack map[NodeID]bool
	indices map[NodeID]int
	lowlink map[NodeID]int
	sccs    [][]NodeID
}

func findCycles(g *Graph) []Cycle {
	d := &cycleDetector{
		graph:   g,
		onStack: make(map[NodeID]bool),
		indices: make(map[NodeID]int),
		lowlink: make(map[NodeID]int),
	}
	for _, id := range g.order {
		if _, visited := d.indices[id]; !visited {
			d.strongConnect(id)
		}
	}

	var cycles []Cycle
	for _, scc := range d.sccs {
		members := make(map[NodeID]bool, len(scc))
		for _, id := range scc {
			members[id] = true
		}
		if len(scc) == 1 && !hasEagerSelfEdge(g.nodes[scc[0]]) {
			continue
		}
		sort.Slice(scc, func(i, j int) bool { return scc[i].less(scc[j]) })
		if c, ok := shortestCycle(g, scc[0], members); ok {
			cycles = append(cycles, c)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Path[0].less(cycles[j].Path[0]) })
	return cycles
}

func (d *cycleDetector) strongConnect(id NodeID) {
	d.indices[id] = d.index
	d.lowlink[id] = d.index
	d.index++
	d.stack = append(d.stack, id)
	d.onStack[id] = true

	for _, e := range d.graph.nodes[id].Edges {
		if e.Request.Kind.BreaksCycle() {
			continue
		}
		dep := e.Target
		if _, visited := d.indices[dep]; !visited {
			d.strongConnect(dep)
			d.lowlink[id] = min(d.lowlink[id], d.lowlink[dep])
		} else if d.onStack[dep] {
			d.lowlink[id] = min(d.lowlink[id], d.indices[dep])
		}
	}

	if d.lowlink[id] == d.indices[id] {
		var scc []NodeID
		for {
			n := len(d.stack) - 1
			w := d.stack[n]
			d.stack = d.stack[:n]
			d.onStack[w] = false
			scc = append(scc, w)
			if w == id {
				break
			}
		}
		d.sccs = append(d.sccs, scc)
	}
}

func hasEagerSelfEdge(n *Node) bool {
	for _, e := range n.Edges {
		if e.Target == n.ID && !e.Request.Kind.BreaksCycle() {
			return true
		}
	}
	return false
}

// shortestCycle walks breadth-first from start inside one component of the
// graph until it gets back to start.
func shortestCycle(g *Graph, start NodeID, members map[NodeID]bool) (Cycle, bool) {
	type step struct {
		prev NodeID
		edge Edge
	}
	came := make(map[NodeID]step)
	queue := []NodeID{start}
	visited := map[NodeID]bool{start: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.nodes[cur].Edges {
			if e.Request.Kind.BreaksCycle() || !members[e.Target] {
				continue
			}
			if e.Target == start {
				path := []NodeID{start}
				requests := []Edge{e}
				for at := cur; at != start; at = came[at].prev {
					path = append(path, at)
					requests = append(requests, came[at].edge)
				}
				c := Cycle{Path: make([]NodeID, 0, len(path)+1)}
				c.Path = append(c.Path, start)
				for i := len(path) - 1; i >= 1; i-- {
					c.Path = append(c.Path, path[i])
				}
				c.Path = append(c.Path, start)
				for i := len(requests) - 1; i >= 0; i-- {
					c.Requests = append(c.Requests, requests[i].Request)
				}
				return c, true
			}
			if !visited[e.Target] {
				visited[e.Target] = true
				came[e.Target] = step{prev: cur, edge: e}
				queue = append(queue, e.Target)
			}
		}
	}
	return Cycle{}, false
}
