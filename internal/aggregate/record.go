// Package aggregate collects binding metadata emitted by separately compiled
// units and partitions it into one declaration set per root.
//
// Each unit emits records as Go source files in its well-known aggregation
// package (<unit>/bindgraph_aggregated). A record is a single
// //bindgraph:record directive holding a JSON envelope; the payload shape is
// given by the envelope kind. Records are versioned with a semantic schema
// version so that older aggregators skip records they cannot understand.
package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/iVampireSP/bindgraph/internal/model"
)

// SchemaVersion is the record schema written by this version.
const SchemaVersion = "1.0.0"

// PackageName is the name of the per-unit aggregation package.
const PackageName = "bindgraph_aggregated"

// Kind is the payload kind of a record.
type Kind string

const (
	KindModule         Kind = "module"
	KindInjectable     Kind = "injectable"
	KindComponent      Kind = "component"
	KindEntryPoint     Kind = "entrypoint"
	KindScopeAlias     Kind = "scope_alias"
	KindUninstall      Kind = "uninstall"
	KindRoot           Kind = "root"
	KindProcessedRoots Kind = "processed_roots"
	KindProxy          Kind = "proxy"
)

var knownKinds = map[Kind]bool{
	KindModule:         true,
	KindInjectable:     true,
	KindComponent:      true,
	KindEntryPoint:     true,
	KindScopeAlias:     true,
	KindUninstall:      true,
	KindRoot:           true,
	KindProcessedRoots: true,
	KindProxy:          true,
}

// Known reports whether k is a kind this version understands.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Record is the envelope every emitted record shares.
type Record struct {
	Schema  string          `json:"schema"`
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id"`
	Unit    string          `json:"unit"`
	Payload json.RawMessage `json:"payload"`
}

// NewRecord wraps payload in an envelope of the current schema.
func NewRecord(kind Kind, id, unit string, payload any) (Record, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return Record{}, fmt.Errorf("encode %s record %s: %w", kind, id, err)
	}
	raw := bytes.TrimSpace(buf.Bytes())
	return Record{Schema: SchemaVersion, Kind: kind, ID: id, Unit: unit, Payload: raw}, nil
}

// MustRecord is NewRecord that panics on error.
func MustRecord(kind Kind, id, unit string, payload any) Record {
	r, err := NewRecord(kind, id, unit, payload)
	if err != nil {
		panic(err)
	}
	return r
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s record %s: %w", r.Kind, r.ID, err)
	}
	return nil
}

// Unwrap returns the record a proxy stands for. Other records are returned
// unchanged.
func (r Record) Unwrap() (Record, error) {
	for r.Kind == KindProxy {
		var p Proxy
		if err := r.Decode(&p); err != nil {
			return Record{}, err
		}
		r = p.Record
	}
	return r, nil
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s (unit %s)", r.Kind, r.ID, r.Unit)
}

func (r Record) identity() string {
	return string(r.Kind) + "\x00" + r.ID
}

func (r Record) equal(o Record) bool {
	return r.Kind == o.Kind && r.ID == o.ID && r.Unit == o.Unit && r.Schema == o.Schema &&
		string(r.Payload) == string(o.Payload)
}

// Module is a set of binding declarations installed into components.
type Module struct {
	Name         string              `json:"name"`
	InstallIn    []string            `json:"install_in,omitempty"`
	Declarations []model.Declaration `json:"declarations,omitempty"`
	TestRoot     string              `json:"test_root,omitempty"` // nested in a test root, visible to it only
	Replaces     []string            `json:"replaces,omitempty"`  // test-install module replacing production modules
}

// IsTestInstall reports whether the module replaces production modules in
// every test root.
func (m Module) IsTestInstall() bool {
	return m.TestRoot == "" && len(m.Replaces) > 0
}

// Injectable is an injected constructor usable from any component.
type Injectable struct {
	Declaration model.Declaration `json:"declaration"`
}

// Component declares one component of the hierarchy.
type Component struct {
	Name        string             `json:"name"`
	Parent      string             `json:"parent,omitempty"`
	Scopes      []string           `json:"scopes,omitempty"`
	Creator     model.Creator      `json:"creator"`
	EntryPoints []model.EntryPoint `json:"entry_points,omitempty"`
}

// EntryPointSet adds entry points to the components it installs in.
type EntryPointSet struct {
	Name        string             `json:"name"`
	InstallIn   []string           `json:"install_in"`
	EntryPoints []model.EntryPoint `json:"entry_points"`
}

// ScopeAlias makes Alias behave as Scope.
type ScopeAlias struct {
	Alias string `json:"alias"`
	Scope string `json:"scope"`
}

// Uninstall removes modules from one test root.
type Uninstall struct {
	TestRoot string   `json:"test_root"`
	Modules  []string `json:"modules"`
}

// Root is an application or test root. Every root gets its own generated
// component hierarchy.
type Root struct {
	Name       string `json:"name"`
	Component  string `json:"component"`
	Test       bool   `json:"test,omitempty"`
	Superclass string `json:"superclass,omitempty"`
}

// GeneratedBase is the superclass a root must name when it names one.
func (r Root) GeneratedBase() string {
	return "Bindgraph_" + r.Name
}

// ProcessedRoots marks roots already handled by an earlier aggregation.
type ProcessedRoots struct {
	Roots []string `json:"roots"`
}

// Proxy wraps a record whose declaring element is not public.
type Proxy struct {
	Visibility string `json:"visibility"`
	Record     Record `json:"record"`
}
