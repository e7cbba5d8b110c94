package validate

import (
	"fmt"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
	"github.com/iVampireSP/bindgraph/internal/model"
)

// DuplicateBinding reports keys bound more than once.
type DuplicateBinding struct{}

func (DuplicateBinding) Name() string { return "duplicate-binding" }

func (DuplicateBinding) Validate(g *bindgraph.Graph, r *diag.Report) {
	for _, n := range g.Nodes() {
		if !g.Reports(n) || n.Unsatisfied() {
			continue
		}
		component := g.ComponentName(n.Owner())

		if len(n.Bindings) > 1 {
			msg := fmt.Sprintf("%s is bound multiple times", n.Key())
			if n.Key().IsContribution() {
				msg = fmt.Sprintf("contribution %s to %s is declared more than once", n.Key().Contribution, n.Key().Collection())
			}
			r.Add(&diag.Diagnostic{
				Kind:      diag.KindDuplicateBinding,
				Component: component,
				Key:       n.Key().String(),
				Message:   msg,
				Elements:  describe(n.Bindings),
			})
		}

		if len(n.Conflicts) > 0 {
			r.Add(&diag.Diagnostic{
				Kind:      diag.KindDuplicateBinding,
				Component: component,
				Key:       n.Key().String(),
				Message:   fmt.Sprintf("%s has both multibinding contributions and one-to-one bindings", n.Key()),
				Elements:  describe(append(append([]*model.Binding(nil), n.Conflicts...), n.Contributions...)),
			})
		}

		if b := n.Binding(); b != nil && b.Kind == model.KindMultiboundMap {
			byMapKey := make(map[string][]*model.Binding)
			var order []string
			for _, c := range n.Contributions {
				if _, ok := byMapKey[c.MapKey]; !ok {
					order = append(order, c.MapKey)
				}
				byMapKey[c.MapKey] = append(byMapKey[c.MapKey], c)
			}
			for _, mk := range order {
				if len(byMapKey[mk]) < 2 {
					continue
				}
				r.Add(&diag.Diagnostic{
					Kind:      diag.KindDuplicateBinding,
					Component: component,
					Key:       n.Key().String(),
					Message:   fmt.Sprintf("%s has more than one contribution for map key %q", n.Key(), mk),
					Elements:  describe(byMapKey[mk]),
				})
			}
		}
	}
}

func describe(bs []*model.Binding) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.String()
	}
	return out
}
