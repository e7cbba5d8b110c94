package aggregate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnorePattern is one .gitignore rule.
type IgnorePattern struct {
	Pattern  string
	Negation bool // "!pattern" re-includes what earlier rules excluded
	DirOnly  bool // "pattern/" only matches directories
}

// ParseIgnore reads .gitignore rules. Blank lines and comments are skipped,
// a leading "\#" or "\!" escapes the character and "**/" prefixes are
// dropped since unanchored patterns already match at any depth.
func ParseIgnore(r io.Reader) ([]IgnorePattern, error) {
	var patterns []IgnorePattern
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" || line[0] == '#' {
			continue
		}

		var p IgnorePattern
		switch {
		case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
			line = line[1:]
		case line[0] == '!':
			p.Negation = true
			line = line[1:]
		}
		if trimmed := strings.TrimSuffix(line, "/"); trimmed != line {
			p.DirOnly = true
			line = trimmed
		}
		line = strings.TrimPrefix(line, "**/")
		if line == "" {
			continue
		}
		p.Pattern = line
		patterns = append(patterns, p)
	}
	return patterns, sc.Err()
}

// LoadIgnore parses .gitignore in root. A missing or unreadable file yields
// no patterns.
func LoadIgnore(root string) []IgnorePattern {
	patterns, err := loadIgnore(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return patterns
}

func loadIgnore(name string) ([]IgnorePattern, error) {
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	patterns, err := ParseIgnore(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return patterns, nil
}

// Ignored reports whether the directory at relPath is excluded. Later rules
// win, so a negation re-includes a path.
func Ignored(relPath string, patterns []IgnorePattern) bool {
	return ignored(relPath, true, patterns)
}

// IgnoredFile reports whether the file at relPath is excluded. Directory-only
// rules match its parent directories but never the file itself.
func IgnoredFile(relPath string, patterns []IgnorePattern) bool {
	return ignored(relPath, false, patterns)
}

func ignored(relPath string, isDir bool, patterns []IgnorePattern) bool {
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	out := false
	for _, p := range patterns {
		if p.matches(relPath, isDir) {
			out = !p.Negation
		}
	}
	return out
}

// matches performs simplified gitignore matching. Patterns holding a slash
// are anchored to the root; others match any path element.
func (p IgnorePattern) matches(relPath string, isDir bool) bool {
	pattern := strings.TrimPrefix(p.Pattern, "/")
	if strings.Contains(p.Pattern, "/") {
		if ok, _ := path.Match(pattern, relPath); ok && (isDir || !p.DirOnly) {
			return true
		}
		return strings.HasPrefix(relPath, pattern+"/")
	}

	elems := strings.Split(relPath, "/")
	for i, elem := range elems {
		elemIsDir := isDir || i < len(elems)-1
		if p.DirOnly && !elemIsDir {
			continue
		}
		if ok, _ := path.Match(pattern, elem); ok {
			return true
		}
	}
	return false
}
