package model

import "fmt"

// ComponentID is a handle into a Tree. Children refer to their parent by
// handle; descriptors never hold pointers to each other.
type ComponentID int

// NoComponent is the parent handle of the root component.
const NoComponent ComponentID = -1

// CreatorKind says how instances of a generated component are constructed.
type CreatorKind int

const (
	CreatorNone CreatorKind = iota
	CreatorBuilder
	CreatorFactory
)

var creatorKindNames = map[CreatorKind]string{
	CreatorNone:    "none",
	CreatorBuilder: "builder",
	CreatorFactory: "factory",
}

func (k CreatorKind) String() string {
	if name, ok := creatorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("creator_kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k CreatorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CreatorKind) UnmarshalText(b []byte) error {
	for kind, name := range creatorKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown creator kind %q", string(b))
}

// BoundInstance is a value handed to the component creator.
type BoundInstance struct {
	Key     Key    `json:"key"`
	Element string `json:"element"`
}

// Creator describes the builder or factory of a component.
type Creator struct {
	Kind           CreatorKind     `json:"kind,omitempty"`
	BoundInstances []BoundInstance `json:"bound_instances,omitempty"`
}

// ComponentDescriptor is one node of the component hierarchy.
type ComponentDescriptor struct {
	ID          ComponentID
	Name        string
	Parent      ComponentID
	Children    []ComponentID
	Scopes      ScopeSet
	EntryPoints []EntryPoint
	Creator     Creator

	bindings      []*Binding
	explicit      map[Key][]*Binding // one-to-one kinds
	multibindings map[Key][]*Binding // contributions and multibinds declarations by collection key
	optionals     map[Key][]*Binding // optional declarations
}

// IsRoot reports whether the component has no parent.
func (c *ComponentDescriptor) IsRoot() bool {
	return c.Parent == NoComponent
}

// TypeKey is the key under which the component itself can be injected.
func (c *ComponentDescriptor) TypeKey() Key {
	return Key{Type: c.Name}
}

// Bindings returns the locally declared bindings in declaration order.
func (c *ComponentDescriptor) Bindings() []*Binding {
	return append([]*Binding(nil), c.bindings...)
}

// ExplicitBindings returns local one-to-one bindings for key.
func (c *ComponentDescriptor) ExplicitBindings(key Key) []*Binding {
	return append([]*Binding(nil), c.explicit[key]...)
}

// Multibindings returns local contributions and multibinds declarations
// feeding the collection key.
func (c *ComponentDescriptor) Multibindings(collection Key) []*Binding {
	return append([]*Binding(nil), c.multibindings[collection]...)
}

// OptionalDeclarations returns local optional declarations for key.
func (c *ComponentDescriptor) OptionalDeclarations(key Key) []*Binding {
	return append([]*Binding(nil), c.optionals[key]...)
}

// DeclaredKeys returns every key a local binding can satisfy, sorted.
// Contributions are reported under their collection key.
func (c *ComponentDescriptor) DeclaredKeys() []Key {
	seen := make(map[Key]bool)
	var keys []Key
	add := func(k Key) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range c.explicit {
		add(k)
	}
	for k := range c.multibindings {
		add(k)
	}
	for k := range c.optionals {
		add(k)
	}
	SortKeys(keys)
	return keys
}

func (c *ComponentDescriptor) addBinding(b *Binding) {
	var index map[Key][]*Binding
	key := b.Key
	switch {
	case b.Kind.IsMultibinding():
		index = c.multibindings
		key = b.Key.Collection()
	case b.Kind == KindOptionalDeclaration:
		index = c.optionals
	default:
		index = c.explicit
	}
	for _, existing := range index[key] {
		if existing.Equal(b) {
			return
		}
	}
	index[key] = append(index[key], b)
	c.bindings = append(c.bindings, b)
}

// ComponentSpec is the raw input for one component descriptor.
type ComponentSpec struct {
	Name         string        `json:"name"`
	Parent       string        `json:"parent,omitempty"`
	Scopes       []string      `json:"scopes,omitempty"`
	Declarations []Declaration `json:"declarations,omitempty"`
	EntryPoints  []EntryPoint  `json:"entry_points,omitempty"`
	Creator      Creator       `json:"creator"`
}

// TreeSpec is the raw input for a whole component hierarchy.
type TreeSpec struct {
	Root         string          `json:"root"`
	Components   []ComponentSpec `json:"components"`
	Injectables  []Declaration   `json:"injectables,omitempty"`
	ScopeAliases ScopeAliases    `json:"scope_aliases,omitempty"`
}

// Tree owns every descriptor of one component hierarchy. Descriptors are
// stored in pre-order, so a parent always has a smaller handle than its
// children.
type Tree struct {
	components  []*ComponentDescriptor
	byName      map[string]ComponentID
	injectables map[Key][]*Binding
	aliases     ScopeAliases
}

// BuildTree builds the descriptor tree rooted at spec.Root. Components that
// do not descend from the root are not part of the tree.
func BuildTree(spec TreeSpec) (*Tree, error) {
	specs := make(map[string]*ComponentSpec, len(spec.Components))
	children := make(map[string][]string)
	for i := range spec.Components {
		cs := &spec.Components[i]
		if cs.Name == "" {
			return nil, fmt.Errorf("component #%d has no name", i)
		}
		if _, dup := specs[cs.Name]; dup {
			return nil, fmt.Errorf("component %s is defined more than once", cs.Name)
		}
		specs[cs.Name] = cs
	}
	for i := range spec.Components {
		cs := &spec.Components[i]
		if cs.Parent == "" {
			continue
		}
		if _, ok := specs[cs.Parent]; !ok {
			return nil, fmt.Errorf("component %s has unknown parent %s", cs.Name, cs.Parent)
		}
		children[cs.Parent] = append(children[cs.Parent], cs.Name)
	}

	root, ok := specs[spec.Root]
	if !ok {
		return nil, fmt.Errorf("root component %q is not defined", spec.Root)
	}
	if root.Parent != "" {
		return nil, fmt.Errorf("root component %s has parent %s", root.Name, root.Parent)
	}

	aliases := make(ScopeAliases, len(spec.ScopeAliases))
	for alias, scope := range spec.ScopeAliases {
		aliases[alias] = scope
	}

	t := &Tree{
		byName:      make(map[string]ComponentID),
		injectables: make(map[Key][]*Binding),
		aliases:     aliases,
	}

	var add func(cs *ComponentSpec, parent ComponentID) error
	add = func(cs *ComponentSpec, parent ComponentID) error {
		if _, seen := t.byName[cs.Name]; seen {
			return fmt.Errorf("component %s appears twice in the hierarchy", cs.Name)
		}
		id := ComponentID(len(t.components))
		desc := &ComponentDescriptor{
			ID:            id,
			Name:          cs.Name,
			Parent:        parent,
			Scopes:        NewScopeSet(cs.Scopes, aliases),
			EntryPoints:   append([]EntryPoint(nil), cs.EntryPoints...),
			Creator:       cs.Creator,
			explicit:      make(map[Key][]*Binding),
			multibindings: make(map[Key][]*Binding),
			optionals:     make(map[Key][]*Binding),
		}
		t.components = append(t.components, desc)
		t.byName[cs.Name] = id
		if parent != NoComponent {
			p := t.components[parent]
			p.Children = append(p.Children, id)
		}

		for _, d := range cs.Declarations {
			b, err := NewBinding(d)
			if err != nil {
				return err
			}
			if b.Kind == KindInjection || b.Kind == KindAssistedInjection {
				return &MalformedBindingError{Element: b.Element, Reason: fmt.Sprintf("%s bindings are not installed in components", b.Kind)}
			}
			desc.addBinding(b)
		}
		for _, bi := range desc.Creator.BoundInstances {
			b, err := NewBinding(Declaration{
				Kind:      KindBoundInstance,
				Type:      bi.Key.Type,
				Qualifier: bi.Key.Qualifier,
				Element:   bi.Element,
			})
			if err != nil {
				return err
			}
			desc.addBinding(b)
		}

		for _, child := range children[cs.Name] {
			if err := add(specs[child], id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(root, NoComponent); err != nil {
		return nil, err
	}

	for _, d := range spec.Injectables {
		b, err := NewBinding(d)
		if err != nil {
			return nil, err
		}
		if b.Kind != KindInjection && b.Kind != KindAssistedInjection && b.Kind != KindAssistedFactory {
			return nil, &MalformedBindingError{Element: b.Element, Reason: fmt.Sprintf("%s binding is not injectable", b.Kind)}
		}
		dup := false
		for _, existing := range t.injectables[b.Key] {
			if existing.Equal(b) {
				dup = true
				break
			}
		}
		if !dup {
			t.injectables[b.Key] = append(t.injectables[b.Key], b)
		}
	}

	for _, c := range t.components {
		for _, b := range c.bindings {
			if b.Kind != KindSubcomponentCreator {
				continue
			}
			child, ok := t.byName[b.Subcomponent]
			if !ok || t.components[child].Parent != c.ID {
				return nil, &MalformedBindingError{
					Element: b.Element,
					Reason:  fmt.Sprintf("subcomponent %s is not a child of %s", b.Subcomponent, c.Name),
				}
			}
		}
	}
	return t, nil
}

// Root returns the root descriptor.
func (t *Tree) Root() *ComponentDescriptor {
	return t.components[0]
}

// Component returns the descriptor for id.
func (t *Tree) Component(id ComponentID) *ComponentDescriptor {
	return t.components[id]
}

// Lookup finds a descriptor by name.
func (t *Tree) Lookup(name string) (*ComponentDescriptor, bool) {
	id, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.components[id], true
}

// Components returns every descriptor, parents before children.
func (t *Tree) Components() []*ComponentDescriptor {
	return append([]*ComponentDescriptor(nil), t.components...)
}

// Len returns the number of components.
func (t *Tree) Len() int {
	return len(t.components)
}

// Ancestry returns id followed by its ancestors up to the root.
func (t *Tree) Ancestry(id ComponentID) []ComponentID {
	var out []ComponentID
	for cur := id; cur != NoComponent; cur = t.components[cur].Parent {
		out = append(out, cur)
	}
	return out
}

// Depth returns the number of ancestors of id.
func (t *Tree) Depth(id ComponentID) int {
	return len(t.Ancestry(id)) - 1
}

// IsAncestorOrSelf reports whether a is b or one of b's ancestors.
func (t *Tree) IsAncestorOrSelf(a, b ComponentID) bool {
	for cur := b; cur != NoComponent; cur = t.components[cur].Parent {
		if cur == a {
			return true
		}
	}
	return false
}

// Injectables returns the injected-constructor bindings for key.
func (t *Tree) Injectables(key Key) []*Binding {
	return append([]*Binding(nil), t.injectables[key]...)
}

// InjectableKeys returns every key with an injectable binding, sorted.
func (t *Tree) InjectableKeys() []Key {
	keys := make([]Key, 0, len(t.injectables))
	for k := range t.injectables {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Aliases returns the scope alias table.
func (t *Tree) Aliases() ScopeAliases {
	return t.aliases
}

// Names returns component names in tree order.
func (t *Tree) Names() []string {
	names := make([]string, len(t.components))
	for i, c := range t.components {
		names[i] = c.Name
	}
	return names
}
