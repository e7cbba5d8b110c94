package validate

import (
	"fmt"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
	"github.com/iVampireSP/bindgraph/internal/model"
)

// AssistedInjection reports assisted types requested directly. Only their
// assisted factory may depend on them.
type AssistedInjection struct{}

func (AssistedInjection) Name() string { return "assisted-injection" }

func (AssistedInjection) Validate(g *bindgraph.Graph, r *diag.Report) {
	assisted := func(id bindgraph.NodeID) bool {
		n, ok := g.Node(id)
		return ok && n.Binding() != nil && n.Binding().Kind == model.KindAssistedInjection
	}

	for _, ep := range g.EntryPoints() {
		if !assisted(ep.Target) {
			continue
		}
		r.Add(&diag.Diagnostic{
			Kind:      diag.KindAssistedInjection,
			Component: g.Component().Name,
			Key:       ep.Target.Key.String(),
			Message: fmt.Sprintf("entry point %s.%s() requests assisted type %s; request its factory instead",
				g.Component().Name, ep.EntryPoint.Method, ep.Target.Key),
		})
	}

	for _, n := range g.Nodes() {
		if !g.Reports(n) {
			continue
		}
		if b := n.Binding(); b != nil && b.Kind == model.KindAssistedFactory {
			continue
		}
		for _, e := range n.Edges {
			if !assisted(e.Target) {
				continue
			}
			r.Add(&diag.Diagnostic{
				Kind:      diag.KindAssistedInjection,
				Component: g.ComponentName(n.Owner()),
				Key:       e.Target.Key.String(),
				Message:   fmt.Sprintf("assisted type %s cannot be injected directly; request its factory instead", e.Target.Key),
				Elements:  []string{fmt.Sprintf("injected at %s", requestSite(g, n.ID, e.Request))},
			})
		}
	}
}
