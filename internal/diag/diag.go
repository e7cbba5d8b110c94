// Package diag defines the diagnostic taxonomy reported when a binding graph
// fails validation, and the Report that accumulates diagnostics across every
// validator before a build fails.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Kind classifies a diagnostic.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindMalformed
	KindMissingBinding
	KindWrongComponent
	KindDuplicateBinding
	KindUnbrokenCycle
	KindScopeMismatch
	KindAssistedInjection
	KindAggregationIntegrity
)

var kindNames = map[Kind]string{
	KindUnknown:              "UNKNOWN",
	KindMalformed:            "MALFORMED_DECLARATION",
	KindMissingBinding:       "MISSING_BINDING",
	KindWrongComponent:       "BINDING_IN_WRONG_COMPONENT",
	KindDuplicateBinding:     "DUPLICATE_BINDING",
	KindUnbrokenCycle:        "UNBROKEN_CYCLE",
	KindScopeMismatch:        "SCOPE_MISMATCH",
	KindAssistedInjection:    "ASSISTED_INJECTION",
	KindAggregationIntegrity: "AGGREGATION_INTEGRITY",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", k)
}

// Kinds returns every known kind, in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Diagnostic is one problem found in a graph.
type Diagnostic struct {
	Kind      Kind
	Component string   // component the problem is reported against
	Key       string   // rendered key, when the problem concerns one key
	Message   string
	Trace     []string // dependency trace from an entry point, nearest first
	Elements  []string // competing or offending declarations
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", d.Kind)
	if d.Component != "" {
		fmt.Fprintf(&b, " component=%s:", d.Component)
	}
	b.WriteString(" ")
	b.WriteString(d.Message)
	for _, el := range d.Elements {
		b.WriteString("\n    ")
		b.WriteString(el)
	}
	if len(d.Trace) > 0 {
		b.WriteString("\n  trace:")
		for _, step := range d.Trace {
			b.WriteString("\n    ")
			b.WriteString(step)
		}
	}
	return b.String()
}

// Is matches diagnostics by kind.
func (d *Diagnostic) Is(target error) bool {
	var t *Diagnostic
	if errors.As(target, &t) {
		return d.Kind == t.Kind
	}
	return false
}

func (d *Diagnostic) fingerprint() string {
	return strings.Join([]string{
		d.Kind.String(), d.Component, d.Key, d.Message,
		strings.Join(d.Elements, ";"), strings.Join(d.Trace, ";"),
	}, "\x00")
}

// Report accumulates diagnostics. It is not safe for concurrent use; each
// root keeps its own.
type Report struct {
	diags []*Diagnostic
	seen  map[string]bool
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{seen: make(map[string]bool)}
}

// Add records d unless an identical diagnostic was already recorded.
func (r *Report) Add(d *Diagnostic) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	fp := d.fingerprint()
	if r.seen[fp] {
		return
	}
	r.seen[fp] = true
	r.diags = append(r.diags, d)
}

// Addf records a diagnostic built from a format string.
func (r *Report) Addf(kind Kind, component, key string, format string, args ...any) *Diagnostic {
	d := &Diagnostic{Kind: kind, Component: component, Key: key, Message: fmt.Sprintf(format, args...)}
	r.Add(d)
	return d
}

// Merge appends every diagnostic of other.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	for _, d := range other.diags {
		r.Add(d)
	}
}

// Diagnostics returns the recorded diagnostics sorted by kind, component,
// key and message.
func (r *Report) Diagnostics() []*Diagnostic {
	out := append([]*Diagnostic(nil), r.diags...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Message < b.Message
	})
	return out
}

// OfKind returns the diagnostics with the given kind.
func (r *Report) OfKind(kind Kind) []*Diagnostic {
	var out []*Diagnostic
	for _, d := range r.Diagnostics() {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of diagnostics.
func (r *Report) Len() int {
	return len(r.diags)
}

// Empty reports whether nothing was recorded.
func (r *Report) Empty() bool {
	return len(r.diags) == 0
}

// Err combines every diagnostic into one error, or nil when empty.
func (r *Report) Err() error {
	var err error
	for _, d := range r.Diagnostics() {
		err = multierr.Append(err, d)
	}
	return err
}

func hasKind(err error, kind Kind) bool {
	for _, e := range multierr.Errors(err) {
		var d *Diagnostic
		if errors.As(e, &d) && d.Kind == kind {
			return true
		}
	}
	return false
}

// IsMissingBinding reports whether err holds a missing binding diagnostic,
// including one bound only in the wrong component.
func IsMissingBinding(err error) bool {
	return hasKind(err, KindMissingBinding) || hasKind(err, KindWrongComponent)
}

// IsDuplicateBinding reports whether err holds a duplicate binding diagnostic.
func IsDuplicateBinding(err error) bool {
	return hasKind(err, KindDuplicateBinding)
}

// IsUnbrokenCycle reports whether err holds a cycle with no deferred edge.
func IsUnbrokenCycle(err error) bool {
	return hasKind(err, KindUnbrokenCycle)
}

// IsScopeMismatch reports whether err holds a scope mismatch diagnostic.
func IsScopeMismatch(err error) bool {
	return hasKind(err, KindScopeMismatch)
}
