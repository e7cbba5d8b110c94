// Package model holds the immutable data model the resolver works on: keys,
// dependency requests, bindings and the component descriptor tree.
//
// Values in this package are built once from parsed declarations and never
// mutated afterwards. The resolver and validators only read them.
package model

import (
	"sort"
	"strings"
)

// Key identifies a requested or provided value.
//
// Keys are comparable and equality is structural, so they are used directly as
// map keys. Contribution is non-empty only for a multibinding contribution and
// holds the declaring element that makes the contribution unique.
type Key struct {
	Type         string `json:"type"`                   // e.g. "*db.Pool", "Set<Plugin>"
	Qualifier    string `json:"qualifier,omitempty"`    // e.g. "Named(primary)"
	Contribution string `json:"contribution,omitempty"` // declaring element of a multibinding contribution
}

// NewKey returns an unqualified key for typ.
func NewKey(typ string) Key {
	return Key{Type: typ}
}

// Qualified returns a copy of k with the given qualifier.
func (k Key) Qualified(qualifier string) Key {
	k.Qualifier = qualifier
	return k
}

// IsContribution reports whether k names one multibinding contribution.
func (k Key) IsContribution() bool {
	return k.Contribution != ""
}

// Collection returns the collection key a contribution feeds.
// For non-contribution keys it returns k unchanged.
func (k Key) Collection() Key {
	k.Contribution = ""
	return k
}

// IsZero reports whether k has no type.
func (k Key) IsZero() bool {
	return k.Type == ""
}

// String renders the key as "@Qualifier Type{contribution}".
func (k Key) String() string {
	var b strings.Builder
	if k.Qualifier != "" {
		b.WriteString("@")
		b.WriteString(k.Qualifier)
		b.WriteString(" ")
	}
	b.WriteString(k.Type)
	if k.Contribution != "" {
		b.WriteString("{")
		b.WriteString(k.Contribution)
		b.WriteString("}")
	}
	return b.String()
}

// Less orders keys by type, qualifier, then contribution.
func (k Key) Less(o Key) bool {
	if k.Type != o.Type {
		return k.Type < o.Type
	}
	if k.Qualifier != o.Qualifier {
		return k.Qualifier < o.Qualifier
	}
	return k.Contribution < o.Contribution
}

// SortKeys sorts keys in place using Key.Less.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
