package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

// PackageSource finds aggregation packages among the scanned packages and
// everything they import, using the go command.
type PackageSource struct {
	Dir     string   // module root the patterns are relative to
	Module  string   // module path, e.g. github.com/acme/app
	Scan    []string // scan patterns, e.g. ./...
	Deps    []string // upstream module paths whose aggregation packages are searched
	Exclude []string
	Ignore  []IgnorePattern
}

func (s *PackageSource) Packages(ctx context.Context) ([]Package, error) {
	cfg := &packages.Config{
		Context: ctx,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
			packages.NeedImports | packages.NeedDeps,
		Dir: s.Dir,
	}

	pkgs, err := packages.Load(cfg, s.patterns()...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var loadErrs []string
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			loadErrs = append(loadErrs, e.Error())
		}
	}
	if len(loadErrs) > 0 {
		return nil, fmt.Errorf("package errors:\n  %s", strings.Join(loadErrs, "\n  "))
	}

	var out []Package
	var visitErr error
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		if visitErr != nil || !IsAggregationPackage(pkg.PkgPath) || s.shouldExclude(pkg.PkgPath) {
			return
		}
		var records []string
		if len(pkg.Syntax) > 0 {
			for _, f := range pkg.Syntax {
				records = append(records, RecordDirectives(f)...)
			}
		} else {
			records, visitErr = parseRecordFiles(append([]string(nil), pkg.GoFiles...))
		}
		out = append(out, Package{Path: pkg.PkgPath, Records: records})
	})
	if visitErr != nil {
		return nil, visitErr
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// patterns converts scan entries to package patterns and adds, per upstream
// module, wildcards matching only its aggregation packages. Nothing imports
// an aggregation package, so the import graph of the scanned packages never
// reaches them.
func (s *PackageSource) patterns() []string {
	scan := s.Scan
	if len(scan) == 0 {
		scan = []string{"./..."}
	}
	var patterns []string
	for _, entry := range scan {
		if s.Module == "" || !strings.HasPrefix(entry, "./") {
			patterns = append(patterns, entry)
			continue
		}
		patterns = append(patterns, s.Module+"/"+strings.TrimPrefix(entry, "./"))
	}
	for _, dep := range s.Deps {
		if dep == "" || dep == s.Module {
			continue
		}
		patterns = append(patterns,
			dep+"/"+PackageName+"...",
			dep+"/.../"+PackageName,
		)
	}
	return patterns
}

// shouldExclude checks explicit excludes and .gitignore patterns. Packages
// outside the module are never excluded.
func (s *PackageSource) shouldExclude(pkgPath string) bool {
	if s.Module == "" || !strings.HasPrefix(pkgPath, s.Module+"/") {
		return false
	}
	for _, exc := range s.Exclude {
		excPath := strings.TrimPrefix(exc, "./")
		excPath = strings.TrimSuffix(excPath, "/...")
		if strings.HasPrefix(pkgPath, s.Module+"/"+excPath) {
			return true
		}
	}
	rel := strings.TrimPrefix(pkgPath, s.Module+"/")
	return Ignored(rel, s.Ignore)
}
