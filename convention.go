package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/mod/modfile"

	"github.com/iVampireSP/bindgraph/internal/aggregate"
)

// Option names accepted by //bindgraph:option and their environment
// variables.
const (
	OptionShareTestComponents    = "share_test_components"
	OptionRequireInstallIn       = "require_install_in"
	OptionDisableSuperclassCheck = "disable_superclass_check"
)

var optionEnv = map[string]string{
	OptionShareTestComponents:    "BINDGRAPH_SHARE_TEST_COMPONENTS",
	OptionRequireInstallIn:       "BINDGRAPH_REQUIRE_INSTALL_IN",
	OptionDisableSuperclassCheck: "BINDGRAPH_DISABLE_SUPERCLASS_CHECK",
}

// BuildConfig builds a Config from go.mod, generate.go and .env conventions.
func BuildConfig(moduleRoot string) (*Config, error) {
	module, requires, err := parseGoMod(moduleRoot)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Module:              module,
		Requires:            requires,
		Root:                moduleRoot,
		Unit:                module,
		Scan:                []string{"./..."},
		Output:              ".bindgraph",
		Format:              "json",
		ShareTestComponents: true,
	}
	if err := parseGenerateFile(moduleRoot, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(moduleRoot, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseGoMod returns the module path and every required module path, in
// go.mod order.
func parseGoMod(root string) (string, []string, error) {
	path := filepath.Join(root, "go.mod")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read go.mod: %w", err)
	}
	f, err := modfile.ParseLax(path, data, nil)
	if err != nil {
		return "", nil, fmt.Errorf("parse go.mod: %w", err)
	}
	if f.Module == nil || f.Module.Mod.Path == "" {
		return "", nil, fmt.Errorf("module directive not found in go.mod")
	}
	var requires []string
	for _, r := range f.Require {
		requires = append(requires, r.Mod.Path)
	}
	return f.Module.Mod.Path, requires, nil
}

// parseGenerateFile applies //bindgraph: directives from generate.go. The
// file is optional.
//
//	//bindgraph:unit example.com/app
//	//bindgraph:scan ./internal/...
//	//bindgraph:exclude ./internal/legacy/...
//	//bindgraph:option share_test_components false
func parseGenerateFile(root string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Join(root, "generate.go"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read generate.go: %w", err)
	}

	var scan []string
	for i, line := range strings.Split(string(data), "\n") {
		d, ok := aggregate.ParseDirective(line)
		if !ok {
			continue
		}
		switch d.Kind {
		case aggregate.DirectiveUnit:
			if d.Value != "" {
				cfg.Unit = d.Value
			}
		case aggregate.DirectiveScan:
			scan = append(scan, strings.Fields(d.Value)...)
		case aggregate.DirectiveExclude:
			cfg.Exclude = append(cfg.Exclude, strings.Fields(d.Value)...)
		case aggregate.DirectiveOption:
			parts := strings.Fields(d.Value)
			if len(parts) != 2 {
				return fmt.Errorf("generate.go:%d: option wants <name> <bool>, got %q", i+1, d.Value)
			}
			if err := setOption(cfg, parts[0], parts[1]); err != nil {
				return fmt.Errorf("generate.go:%d: %w", i+1, err)
			}
		}
	}
	if len(scan) > 0 {
		cfg.Scan = scan
	}
	return nil
}

// applyEnv applies BINDGRAPH_* overrides. Process environment wins over
// .env in the module root.
func applyEnv(root string, cfg *Config) error {
	dotenv, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read .env: %w", err)
	}
	for _, name := range []string{OptionShareTestComponents, OptionRequireInstallIn, OptionDisableSuperclassCheck} {
		key := optionEnv[name]
		value, ok := os.LookupEnv(key)
		if !ok {
			value, ok = dotenv[key]
		}
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := setOption(cfg, name, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setOption(cfg *Config, name, value string) error {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("option %s: %q is not a boolean", name, value)
	}
	switch name {
	case OptionShareTestComponents:
		cfg.ShareTestComponents = v
	case OptionRequireInstallIn:
		cfg.RequireInstallIn = v
	case OptionDisableSuperclassCheck:
		cfg.DisableSuperclassCheck = v
	default:
		return fmt.Errorf("unknown option %s", name)
	}
	return nil
}

// findModuleRoot walks up from dir to find the directory containing go.mod.
func findModuleRoot(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("go.mod not found in any parent directory")
}
