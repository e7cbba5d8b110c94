package pipeline

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/iVampireSP/bindgraph/internal/aggregate"
	"github.com/iVampireSP/bindgraph/internal/model"
)

// Assemble turns one aggregated declaration set into the raw input of a
// component tree. Module declarations are installed into every component the
// module names; declarations without a module are attributed to it.
func Assemble(set *aggregate.DeclarationSet) (model.TreeSpec, error) {
	spec := model.TreeSpec{
		Root:         set.Root.Component,
		Injectables:  append([]model.Declaration(nil), set.Injectables...),
		ScopeAliases: set.ScopeAliases,
	}

	index := make(map[string]int, len(set.Components))
	for _, c := range set.Components {
		index[c.Name] = len(spec.Components)
		spec.Components = append(spec.Components, model.ComponentSpec{
			Name:        c.Name,
			Parent:      c.Parent,
			Scopes:      append([]string(nil), c.Scopes...),
			EntryPoints: append([]model.EntryPoint(nil), c.EntryPoints...),
			Creator:     c.Creator,
		})
	}

	var errs error
	install := func(owner, target string) (*model.ComponentSpec, bool) {
		i, ok := index[target]
		if !ok {
			errs = multierr.Append(errs, &aggregate.AggregationIntegrityError{
				Reason: fmt.Sprintf("%s is installed in unknown component %s", owner, target),
			})
			return nil, false
		}
		return &spec.Components[i], true
	}

	for _, m := range set.Modules {
		for _, target := range m.InstallIn {
			cs, ok := install("module "+m.Name, target)
			if !ok {
				continue
			}
			for _, d := range m.Declarations {
				if d.Module == "" {
					d.Module = m.Name
				}
				cs.Declarations = append(cs.Declarations, d)
			}
		}
	}
	for _, ep := range set.EntryPoints {
		for _, target := range ep.InstallIn {
			if cs, ok := install("entry point "+ep.Name, target); ok {
				cs.EntryPoints = append(cs.EntryPoints, ep.EntryPoints...)
			}
		}
	}

	if _, ok := index[spec.Root]; !ok {
		errs = multierr.Append(errs, &aggregate.AggregationIntegrityError{
			Reason: fmt.Sprintf("root %s names unknown component %s", set.Root.Name, spec.Root),
		})
	}
	return spec, errs
}
