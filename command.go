package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/iVampireSP/bindgraph/internal/aggregate"
	"github.com/iVampireSP/bindgraph/internal/metrics"
	"github.com/iVampireSP/bindgraph/internal/model"
	"github.com/iVampireSP/bindgraph/internal/pipeline"
)

// app carries state shared by every subcommand.
type app struct {
	dir     string
	cfg     *Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	// flag values, applied over the convention config when set
	unit                   string
	format                 string
	output                 string
	metricsFile            string
	verbose                bool
	shareTestComponents    bool
	requireInstallIn       bool
	disableSuperclassCheck bool
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "bindgraph",
		Short:         "Build-time dependency injection resolver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.dir, "dir", "C", "", "module directory (default: nearest go.mod above the working directory)")
	flags.StringVar(&a.unit, "unit", "", "aggregating unit (default: module path)")
	flags.StringVarP(&a.format, "format", "f", "", "output format: json, yaml or table")
	flags.StringVarP(&a.output, "output", "o", "", "directory generated files are written to")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write run metrics to this prometheus textfile")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.shareTestComponents, "share-test-components", true, "share one declaration set between test roots without overrides")
	flags.BoolVar(&a.requireInstallIn, "require-install-in", false, "fail on modules without an install target")
	flags.BoolVar(&a.disableSuperclassCheck, "disable-superclass-check", false, "skip the root superclass check")

	root.AddCommand(
		a.resolveCommand(),
		a.aggregateCommand(),
		a.graphCommand(),
		a.emitCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.logger = newLogger(a.verbose)

	moduleRoot, err := findModuleRoot(a.dir)
	if err != nil {
		return err
	}
	cfg, err := BuildConfig(moduleRoot)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("unit") {
		cfg.Unit = a.unit
	}
	if flags.Changed("format") {
		cfg.Format = a.format
	}
	if flags.Changed("output") {
		cfg.Output = a.output
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = a.metricsFile
	}
	if flags.Changed("share-test-components") {
		cfg.ShareTestComponents = a.shareTestComponents
	}
	if flags.Changed("require-install-in") {
		cfg.RequireInstallIn = a.requireInstallIn
	}
	if flags.Changed("disable-superclass-check") {
		cfg.DisableSuperclassCheck = a.disableSuperclassCheck
	}
	cfg.Verbose = a.verbose
	if !filepath.IsAbs(cfg.Output) {
		cfg.Output = filepath.Join(moduleRoot, cfg.Output)
	}
	a.cfg = cfg

	if cfg.MetricsFile != "" {
		a.metrics = metrics.New()
	}

	a.logger.Debug("configuration",
		zap.String("module", cfg.Module),
		zap.String("root", cfg.Root),
		zap.String("unit", cfg.Unit),
		zap.Strings("scan", cfg.Scan),
		zap.Strings("exclude", cfg.Exclude),
		zap.Bool("share_test_components", cfg.ShareTestComponents),
		zap.Bool("require_install_in", cfg.RequireInstallIn),
		zap.Bool("disable_superclass_check", cfg.DisableSuperclassCheck),
	)
	return nil
}

func (a *app) teardown() error {
	defer a.logger.Sync() //nolint:errcheck
	if a.cfg == nil || a.cfg.MetricsFile == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.MetricsFile)
}

func (a *app) pipeline(gen pipeline.Generator) (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Options{
		Aggregate: a.cfg.AggregateConfig(),
		Sources:   a.cfg.Sources(),
		Generator: gen,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
}

func (a *app) resolveCommand() *cobra.Command {
	var specPath string
	var mark bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Aggregate, resolve and validate every root, then generate output for clean roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gen, err := newGenerator(a.cfg.Format, a.cfg.Output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			p, err := a.pipeline(gen)
			if err != nil {
				return err
			}

			var outcomes []*pipeline.Outcome
			var processed aggregate.Record
			if specPath != "" {
				spec, err := loadTreeSpec(specPath)
				if err != nil {
					return err
				}
				name := strings.TrimSuffix(filepath.Base(specPath), filepath.Ext(specPath))
				o, err := p.ProcessTree(cmd.Context(), name, spec)
				if err != nil {
					return err
				}
				outcomes = []*pipeline.Outcome{o}
			} else {
				res, err := p.Run(cmd.Context())
				if err != nil {
					return err
				}
				outcomes = res.Outcomes
				processed = res.Aggregation.Processed
			}
			if err := a.report(cmd.ErrOrStderr(), outcomes); err != nil {
				return err
			}
			if !mark || processed.Kind == "" {
				return nil
			}
			path, err := aggregate.NewEmitter(a.cfg.Root, a.logger).Emit(processed, true)
			if err != nil {
				return err
			}
			a.logger.Info("wrote processed roots marker", zap.String("path", path))
			return nil
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "resolve a component tree from a JSON or YAML file instead of aggregating records")
	cmd.Flags().BoolVar(&mark, "mark-processed", true, "record the resolved roots so downstream units skip them")
	return cmd
}

func (a *app) aggregateCommand() *cobra.Command {
	var mark bool
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Print the declaration sets aggregated from every reachable unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline(nil)
			if err != nil {
				return err
			}
			res, err := p.Aggregate(cmd.Context())
			if err != nil {
				return err
			}
			if mark {
				path, err := aggregate.NewEmitter(a.cfg.Root, a.logger).Emit(res.Processed, true)
				if err != nil {
					return err
				}
				a.logger.Info("wrote processed roots marker", zap.String("path", path))
			}
			return writeSets(cmd.OutOrStdout(), a.cfg.Format, res)
		},
	}
	cmd.Flags().BoolVar(&mark, "mark-processed", false, "record the processed roots in this unit's aggregation package")
	return cmd
}

func (a *app) graphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print resolved binding graphs, including roots with diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline(nil)
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}

			format := a.cfg.Format
			if !cmd.Flags().Changed("format") {
				format = "table"
			}
			var gen pipeline.Generator
			switch format {
			case "json":
				gen = pipeline.GeneratorFunc(func(_ context.Context, o *pipeline.Outcome) error {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(NewRootDoc(o))
				})
			default:
				gen, err = newGenerator(format, "", cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}
			for _, o := range res.Outcomes {
				if err := gen.Generate(cmd.Context(), o); err != nil {
					return err
				}
				for _, d := range o.Report.Diagnostics() {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", o.Root, d.Error())
				}
			}
			return nil
		},
	}
}

func (a *app) emitCommand() *cobra.Command {
	var (
		kind    string
		id      string
		payload string
		private bool
	)
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Write one record into this unit's aggregation package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := buildRecord(aggregate.Kind(kind), id, a.cfg.Unit, payload, cmd.InOrStdin())
			if err != nil {
				return err
			}
			path, err := aggregate.NewEmitter(a.cfg.Root, a.logger).Emit(rec, !private)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&kind, "kind", "", "record kind: module, injectable, component, entrypoint, scope_alias, uninstall or root")
	flags.StringVar(&id, "id", "", "record id, unique per kind")
	flags.StringVar(&payload, "payload", "-", "JSON payload file, - for stdin")
	flags.BoolVar(&private, "private", false, "the declaring element is not public; wrap the record in a proxy")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// report prints diagnostics and fails when any root has some.
func (a *app) report(w io.Writer, outcomes []*pipeline.Outcome) error {
	problems := 0
	for _, o := range outcomes {
		for _, d := range o.Report.Diagnostics() {
			fmt.Fprintf(w, "%s: %s\n", o.Root, d.Error())
			problems++
		}
	}
	if problems > 0 {
		return fmt.Errorf("%d problem(s) in %d root(s)", problems, len(outcomes))
	}
	a.logger.Info("resolved roots", zap.Int("roots", len(outcomes)))
	return nil
}

// buildRecord reads and checks a payload of the given kind.
func buildRecord(kind aggregate.Kind, id, unit, payloadPath string, stdin io.Reader) (aggregate.Record, error) {
	target := payloadFor(kind)
	if target == nil {
		return aggregate.Record{}, fmt.Errorf("kind %q cannot be emitted", kind)
	}

	var data []byte
	var err error
	if payloadPath == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(payloadPath)
	}
	if err != nil {
		return aggregate.Record{}, fmt.Errorf("read payload: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return aggregate.Record{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return aggregate.NewRecord(kind, id, unit, target)
}

func payloadFor(kind aggregate.Kind) any {
	switch kind {
	case aggregate.KindModule:
		return &aggregate.Module{}
	case aggregate.KindInjectable:
		return &aggregate.Injectable{}
	case aggregate.KindComponent:
		return &aggregate.Component{}
	case aggregate.KindEntryPoint:
		return &aggregate.EntryPointSet{}
	case aggregate.KindScopeAlias:
		return &aggregate.ScopeAlias{}
	case aggregate.KindUninstall:
		return &aggregate.Uninstall{}
	case aggregate.KindRoot:
		return &aggregate.Root{}
	}
	return nil
}

// loadTreeSpec reads a component tree from JSON, or from YAML when the file
// extension says so. YAML is converted through JSON so both share the json
// field names.
func loadTreeSpec(path string) (model.TreeSpec, error) {
	var spec model.TreeSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return spec, fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return spec, fmt.Errorf("convert %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse %s: %w", path, err)
	}
	return spec, nil
}

func newLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core).Named("bindgraph")
}
