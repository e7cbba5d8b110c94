package validate

import (
	"fmt"
	"strings"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
)

// Cycle reports dependency cycles that no Provider or Lazy request breaks.
type Cycle struct{}

func (Cycle) Name() string { return "cycle" }

func (Cycle) Validate(g *bindgraph.Graph, r *diag.Report) {
	for _, c := range g.Cycles() {
		if !reportsAny(g, c.Path) {
			continue
		}
		steps := make([]string, 0, len(c.Path))
		for _, id := range c.Path {
			steps = append(steps, g.Describe(id))
		}
		var elements []string
		for i, req := range c.Requests {
			elements = append(elements, fmt.Sprintf("%s is injected at %s", req, requestSite(g, c.Path[i], req)))
		}
		start := c.Path[0]
		r.Add(&diag.Diagnostic{
			Kind:      diag.KindUnbrokenCycle,
			Component: g.ComponentName(start.Owner),
			Key:       start.Key.String(),
			Message:   "found a dependency cycle: " + strings.Join(steps, " -> "),
			Elements:  elements,
		})
	}
}

func reportsAny(g *bindgraph.Graph, path []bindgraph.NodeID) bool {
	for _, id := range path {
		if n, ok := g.Node(id); ok && g.Reports(n) {
			return true
		}
	}
	return false
}
