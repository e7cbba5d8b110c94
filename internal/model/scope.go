package model

// ScopeAliases maps an alias scope to the scope it stands for.
type ScopeAliases map[string]string

// Canonical follows alias links until it reaches a scope that is not an
// alias. Alias loops stop at the first repeated scope.
func (a ScopeAliases) Canonical(scope string) string {
	seen := make(map[string]bool)
	for {
		next, ok := a[scope]
		if !ok || next == "" || seen[scope] {
			return scope
		}
		seen[scope] = true
		scope = next
	}
}

// ScopeSet is the scope annotations of one component, alias-aware.
type ScopeSet struct {
	scopes  []string
	aliases ScopeAliases
}

// NewScopeSet builds a set over scopes resolving through aliases.
func NewScopeSet(scopes []string, aliases ScopeAliases) ScopeSet {
	return ScopeSet{scopes: append([]string(nil), scopes...), aliases: aliases}
}

// Contains reports whether scope, or the scope it aliases, is in the set.
func (s ScopeSet) Contains(scope string) bool {
	if scope == "" {
		return true
	}
	want := s.aliases.Canonical(scope)
	for _, have := range s.scopes {
		if s.aliases.Canonical(have) == want {
			return true
		}
	}
	return false
}

// Scopes returns the declared scopes.
func (s ScopeSet) Scopes() []string {
	return append([]string(nil), s.scopes...)
}

// Empty reports whether no scope is declared.
func (s ScopeSet) Empty() bool {
	return len(s.scopes) == 0
}
