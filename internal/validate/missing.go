package validate

import (
	"fmt"

	"github.com/iVampireSP/bindgraph/internal/bindgraph"
	"github.com/iVampireSP/bindgraph/internal/diag"
	"github.com/iVampireSP/bindgraph/internal/model"
)

// MissingBinding reports keys nothing binds. When a binding for the key
// exists in a component outside the requester's ancestry, it says so.
type MissingBinding struct {
	resolver *bindgraph.Resolver
}

// NewMissingBinding returns a validator that uses resolver to build full
// graphs on demand. Full graphs are rebuilt by every Validate call that
// finds a missing key and are never kept.
func NewMissingBinding(resolver *bindgraph.Resolver) *MissingBinding {
	if resolver == nil {
		resolver = bindgraph.NewResolver(nil)
	}
	return &MissingBinding{resolver: resolver}
}

func (v *MissingBinding) Name() string { return "missing-binding" }

func (v *MissingBinding) Validate(g *bindgraph.Graph, r *diag.Report) {
	var full *bindgraph.Forest
	for _, n := range g.MissingNodes() {
		if !g.Reports(n) || optionalOnly(g, n.ID) {
			continue
		}

		trace, _ := traceTo(g, n.ID)
		component := g.ComponentName(n.Owner())
		d := &diag.Diagnostic{
			Kind:      diag.KindMissingBinding,
			Component: component,
			Key:       n.Key().String(),
			Message:   fmt.Sprintf("%s cannot be provided without a binding", n.Key()),
			Trace:     append(trace, otherRequesters(g, n.ID, trace)...),
		}
		if full == nil {
			full = v.resolver.ResolveFull(g.Tree())
		}
		if elsewhere, ok := boundElsewhere(full, n); ok {
			d.Kind = diag.KindWrongComponent
			d.Message = fmt.Sprintf("%s is bound in %s, which is not visible from %s", n.Key(), g.ComponentName(elsewhere.Owner()), component)
			for _, b := range elsewhere.Bindings {
				d.Elements = append(d.Elements, b.String())
			}
		}
		r.Add(d)
	}
}

// boundElsewhere searches the full graphs of the whole tree for a node that
// satisfies the missing key from a component the requester cannot see.
func boundElsewhere(full *bindgraph.Forest, missing *bindgraph.Node) (*bindgraph.Node, bool) {
	tree := full.Tree()
	for _, fg := range full.Graphs() {
		for _, n := range fg.Nodes() {
			if n.Key() != missing.Key() || n.Unsatisfied() {
				continue
			}
			if !tree.IsAncestorOrSelf(n.Owner(), missing.Owner()) {
				return n, true
			}
		}
	}
	return nil, false
}

// optionalOnly reports whether every request for id tolerates absence.
func optionalOnly(g *bindgraph.Graph, id bindgraph.NodeID) bool {
	requests := g.Requests(id)
	if len(requests) == 0 {
		return false
	}
	for _, req := range requests {
		if req.Kind != model.RequestOptional {
			return false
		}
	}
	return true
}
