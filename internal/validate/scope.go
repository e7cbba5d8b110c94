package validate

import (
	"fmt"
	"strings"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
	"github.com/iVampireSP/bindgraph/internal/model"
)

// Scope reports scoped bindings owned by a component that does not carry
// their scope, and components repeating a scope of one of their ancestors.
type Scope struct{}

func (Scope) Name() string { return "scope" }

func (Scope) Validate(g *bindgraph.Graph, r *diag.Report) {
	tree := g.Tree()
	for _, n := range g.Nodes() {
		b := n.Binding()
		if b == nil || !b.Scoped() || !g.Reports(n) {
			continue
		}
		owner := tree.Component(n.Owner())
		if owner.Scopes.Contains(b.Scope) {
			continue
		}
		r.Add(&diag.Diagnostic{
			Kind:      diag.KindScopeMismatch,
			Component: owner.Name,
			Key:       n.Key().String(),
			Message: fmt.Sprintf("%s is scoped %s but %s is %s",
				n.Key(), b.Scope, owner.Name, scopeList(owner.Scopes)),
			Elements: describe(n.Bindings),
		})
	}

	c := g.Component()
	for _, scope := range c.Scopes.Scopes() {
		for _, id := range tree.Ancestry(c.ID)[1:] {
			ancestor := tree.Component(id)
			if !ancestor.Scopes.Contains(scope) {
				continue
			}
			r.Addf(diag.KindScopeMismatch, c.Name, "",
				"%s repeats scope %s already carried by ancestor %s", c.Name, scope, ancestor.Name)
			break
		}
	}
}

func scopeList(s model.ScopeSet) string {
	if s.Empty() {
		return "unscoped"
	}
	return "scoped " + strings.Join(s.Scopes(), ", ")
}
