package aggregate

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Package is one aggregation package and the raw record directives it holds.
type Package struct {
	Path    string
	Records []string
}

// Source yields aggregation packages.
type Source interface {
	Packages(ctx context.Context) ([]Package, error)
}

// MemorySource serves a fixed set of packages.
type MemorySource []Package

func (s MemorySource) Packages(context.Context) ([]Package, error) {
	return append([]Package(nil), s...), nil
}

// IsAggregationPackage reports whether a package path or directory names an
// aggregation package.
func IsAggregationPackage(path string) bool {
	path = filepath.ToSlash(path)
	return path == PackageName || strings.HasSuffix(path, "/"+PackageName)
}

// RecordDirectives returns the record directive values of a parsed file.
func RecordDirectives(f *ast.File) []string {
	return DirectiveValues(FileDirectives(f), DirectiveRecord)
}

// DirSource reads aggregation packages from directory trees without loading
// or type checking them.
type DirSource struct {
	Roots  []string
	Ignore []IgnorePattern
}

func (s DirSource) Packages(ctx context.Context) ([]Package, error) {
	var out []Package
	for _, root := range s.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, _ := filepath.Rel(root, path)
			if path != root && (skipDir(d.Name()) || Ignored(rel, s.Ignore)) {
				return filepath.SkipDir
			}
			if !IsAggregationPackage(path) {
				return nil
			}
			pkg, err := readPackageDir(path, func(file string) bool {
				rel, _ := filepath.Rel(root, file)
				return IgnoredFile(rel, s.Ignore)
			})
			if err != nil {
				return err
			}
			out = append(out, pkg)
			return filepath.SkipDir
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor"
}

func readPackageDir(dir string, skip func(file string) bool) (Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Package{}, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") || strings.HasSuffix(e.Name(), "_test.go") {
			continue
		}
		file := filepath.Join(dir, e.Name())
		if skip(file) {
			continue
		}
		files = append(files, file)
	}
	records, err := parseRecordFiles(files)
	if err != nil {
		return Package{}, err
	}
	return Package{Path: filepath.ToSlash(dir), Records: records}, nil
}

func parseRecordFiles(files []string) ([]string, error) {
	sort.Strings(files)
	fset := token.NewFileSet()
	var records []string
	for _, file := range files {
		f, err := parser.ParseFile(fset, file, nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}
		records = append(records, RecordDirectives(f)...)
	}
	return records, nil
}
