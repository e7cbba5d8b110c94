package model

import (
	"fmt"
	"strings"
)

// BindingKind tags how a binding produces its value.
type BindingKind int

const (
	KindProvision             BindingKind = iota // direct factory method
	KindInjection                                // injected constructor
	KindSetContribution                          // contributes one element to a set
	KindMapContribution                          // contributes one entry to a map
	KindMultibindsDeclaration                    // declares a possibly-empty collection
	KindDelegate                                 // alias to exactly one other key
	KindSubcomponentCreator                      // builder/factory for a child component
	KindAssistedInjection                        // constructor with assisted parameters
	KindAssistedFactory                          // factory creating an assisted type
	KindOptionalDeclaration                      // declares a key that may be absent
	KindBoundInstance                            // instance supplied to the component creator

	// Kinds below are synthesized by the resolver, never declared.
	KindComponent
	KindMultiboundSet
	KindMultiboundMap
)

var bindingKindNames = map[BindingKind]string{
	KindProvision:             "provision",
	KindInjection:             "injection",
	KindSetContribution:       "set_contribution",
	KindMapContribution:       "map_contribution",
	KindMultibindsDeclaration: "multibinds",
	KindDelegate:              "delegate",
	KindSubcomponentCreator:   "subcomponent_creator",
	KindAssistedInjection:     "assisted_injection",
	KindAssistedFactory:       "assisted_factory",
	KindOptionalDeclaration:   "optional_declaration",
	KindBoundInstance:         "bound_instance",
	KindComponent:             "component",
	KindMultiboundSet:         "multibound_set",
	KindMultiboundMap:         "multibound_map",
}

func (k BindingKind) String() string {
	if name, ok := bindingKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("binding_kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k BindingKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *BindingKind) UnmarshalText(b []byte) error {
	for kind, name := range bindingKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown binding kind %q", string(b))
}

// IsContribution reports whether the kind feeds a multibinding collection.
func (k BindingKind) IsContribution() bool {
	return k == KindSetContribution || k == KindMapContribution
}

// IsSynthetic reports whether the kind is only created by the resolver.
func (k BindingKind) IsSynthetic() bool {
	return k >= KindComponent
}

// IsMultibinding reports whether instances of the kind are many-to-one
// against a collection key.
func (k BindingKind) IsMultibinding() bool {
	return k.IsContribution() || k == KindMultibindsDeclaration
}

func (k BindingKind) scopeable() bool {
	switch k {
	case KindProvision, KindInjection, KindDelegate, KindSetContribution, KindMapContribution:
		return true
	}
	return false
}

// Binding is a recipe that satisfies one key. It is never mutated after
// construction.
type Binding struct {
	Key          Key
	Kind         BindingKind
	Dependencies []DependencyRequest
	Element      string // declaring element, e.g. "PluginModule.ProvideA"
	Module       string // contributing module, empty for injectables and synthetic bindings
	Scope        string // empty when unscoped

	MapKey          string // map contributions only
	Subcomponent    string // subcomponent creators only: the child component name
	ContributedType string // contributions only: the element type
}

// Scoped reports whether the binding carries a scope.
func (b *Binding) Scoped() bool {
	return b.Scope != ""
}

// Equal reports structural equality. Two equal bindings are the same
// declaration seen twice.
func (b *Binding) Equal(o *Binding) bool {
	if b == o {
		return true
	}
	if b == nil || o == nil {
		return false
	}
	if b.Key != o.Key || b.Kind != o.Kind || b.Element != o.Element || b.Module != o.Module ||
		b.Scope != o.Scope || b.MapKey != o.MapKey || b.Subcomponent != o.Subcomponent ||
		b.ContributedType != o.ContributedType || len(b.Dependencies) != len(o.Dependencies) {
		return false
	}
	for i := range b.Dependencies {
		if b.Dependencies[i] != o.Dependencies[i] {
			return false
		}
	}
	return true
}

func (b *Binding) String() string {
	if b.Element == "" {
		return fmt.Sprintf("%s %s", b.Kind, b.Key)
	}
	return fmt.Sprintf("%s %s (%s)", b.Kind, b.Key, b.Element)
}

// NewSynthetic builds a resolver-synthesized binding.
func NewSynthetic(kind BindingKind, key Key, deps []DependencyRequest, element string) *Binding {
	return &Binding{
		Key:          key,
		Kind:         kind,
		Dependencies: append([]DependencyRequest(nil), deps...),
		Element:      element,
	}
}

// Declaration is a parsed binding declaration handed over by the front end.
// The front end already checked syntactic shape; NewBinding checks the
// invariants the resolver relies on.
type Declaration struct {
	Kind           BindingKind         `json:"kind"`
	Type           string              `json:"type"`
	Qualifier      string              `json:"qualifier,omitempty"`
	Element        string              `json:"element"`
	Module         string              `json:"module,omitempty"`
	Scope          string              `json:"scope,omitempty"`
	Dependencies   []DependencyRequest `json:"dependencies,omitempty"`
	CollectionType string              `json:"collection_type,omitempty"`
	MapKey         string              `json:"map_key,omitempty"`
	Subcomponent   string              `json:"subcomponent,omitempty"`
}

// MalformedBindingError reports a declaration that violates a resolver
// invariant. It is raised before any graph resolution starts.
type MalformedBindingError struct {
	Element string
	Reason  string
}

func (e *MalformedBindingError) Error() string {
	return fmt.Sprintf("malformed binding %s: %s", e.Element, e.Reason)
}

func malformed(d Declaration, format string, args ...any) error {
	element := d.Element
	if element == "" {
		element = fmt.Sprintf("<unnamed %s %s>", d.Kind, d.Type)
	}
	return &MalformedBindingError{Element: element, Reason: fmt.Sprintf(format, args...)}
}

// NewBinding turns one declaration into exactly one binding.
func NewBinding(d Declaration) (*Binding, error) {
	if d.Kind.IsSynthetic() {
		return nil, malformed(d, "kind %s cannot be declared", d.Kind)
	}
	if strings.TrimSpace(d.Type) == "" {
		return nil, malformed(d, "missing type")
	}
	if strings.TrimSpace(d.Element) == "" {
		return nil, malformed(d, "missing declaring element")
	}
	if d.Scope != "" && !d.Kind.scopeable() {
		return nil, malformed(d, "%s bindings cannot be scoped", d.Kind)
	}
	for _, dep := range d.Dependencies {
		if dep.Key.IsZero() {
			return nil, malformed(d, "dependency %q has no type", dep.Element)
		}
		if dep.Key.IsContribution() {
			return nil, malformed(d, "dependency %q requests a single contribution", dep.Element)
		}
	}

	b := &Binding{
		Key:          Key{Type: d.Type, Qualifier: d.Qualifier},
		Kind:         d.Kind,
		Dependencies: append([]DependencyRequest(nil), d.Dependencies...),
		Element:      d.Element,
		Module:       d.Module,
		Scope:        d.Scope,
	}

	switch d.Kind {
	case KindSetContribution, KindMapContribution:
		if strings.TrimSpace(d.CollectionType) == "" {
			return nil, malformed(d, "multibinding contribution has no collection key")
		}
		if d.Kind == KindMapContribution && d.MapKey == "" {
			return nil, malformed(d, "map contribution has no map key")
		}
		b.Key = Key{Type: d.CollectionType, Qualifier: d.Qualifier, Contribution: d.Element}
		b.ContributedType = d.Type
		b.MapKey = d.MapKey
	case KindMultibindsDeclaration, KindOptionalDeclaration:
		if len(d.Dependencies) > 0 {
			return nil, malformed(d, "%s declarations take no dependencies", d.Kind)
		}
	case KindDelegate:
		if len(d.Dependencies) != 1 {
			return nil, malformed(d, "delegate must have exactly one dependency, got %d", len(d.Dependencies))
		}
		if d.Dependencies[0].Key == b.Key {
			return nil, malformed(d, "delegate binds %s to itself", b.Key)
		}
	case KindSubcomponentCreator:
		if d.Subcomponent == "" {
			return nil, malformed(d, "subcomponent creator names no subcomponent")
		}
		b.Subcomponent = d.Subcomponent
	case KindAssistedFactory:
		if len(d.Dependencies) != 1 {
			return nil, malformed(d, "assisted factory must depend on exactly one assisted type, got %d", len(d.Dependencies))
		}
	case KindBoundInstance:
		if len(d.Dependencies) > 0 {
			return nil, malformed(d, "bound instances take no dependencies")
		}
	}
	return b, nil
}
