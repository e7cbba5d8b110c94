package aggregate

import (
	"go/ast"
	"strings"
)

// DirectivePrefix starts every bindgraph directive comment.
const DirectivePrefix = "bindgraph:"

// Directive kinds.
const (
	DirectiveRecord  = "record"  // //bindgraph:record {json envelope}
	DirectiveScan    = "scan"    // //bindgraph:scan ./internal/...
	DirectiveExclude = "exclude" // //bindgraph:exclude ./internal/legacy/...
	DirectiveOption  = "option"  // //bindgraph:option share_test_components true
	DirectiveUnit    = "unit"    // //bindgraph:unit example.com/app
)

// Directive represents a parsed //bindgraph: comment.
type Directive struct {
	Kind  string
	Value string
}

// ParseDirective parses one comment line. It reports false when the line is
// not a bindgraph directive.
func ParseDirective(text string) (Directive, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "//") {
		return Directive{}, false
	}
	text = strings.TrimPrefix(text, "//")
	if !strings.HasPrefix(text, DirectivePrefix) {
		return Directive{}, false
	}
	text = strings.TrimPrefix(text, DirectivePrefix)

	parts := strings.SplitN(text, " ", 2)
	kind := strings.TrimSpace(parts[0])
	if kind == "" {
		return Directive{}, false
	}
	value := ""
	if len(parts) > 1 {
		value = strings.TrimSpace(parts[1])
	}
	return Directive{Kind: kind, Value: value}, true
}

// FileDirectives extracts every bindgraph directive of a parsed file, in
// source order.
func FileDirectives(f *ast.File) []Directive {
	var out []Directive
	for _, group := range f.Comments {
		for _, c := range group.List {
			if d, ok := ParseDirective(c.Text); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

// DirectiveValues returns all values for a directive kind.
func DirectiveValues(directives []Directive, kind string) []string {
	var values []string
	for _, d := range directives {
		if d.Kind == kind && d.Value != "" {
			values = append(values, d.Value)
		}
	}
	return values
}
