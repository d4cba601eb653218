package engine

import (
	"log/slog"

	"github.com/sentra-hq/sentra/pkg/capture"
	"github.com/sentra-hq/sentra/pkg/plugins"
	"github.com/sentra-hq/sentra/pkg/rules"
)

// Builder builds complete engine generations. Build touches nothing
// outside the instance under construction: a failed build leaves no
// trace, and a successful one only takes effect once the caller promotes
// the result.
type Builder struct {
	cfg          Config
	inspector    *capture.Inspector
	filterChecks *plugins.FilterCheckRegistry
	logger       *slog.Logger
}

// NewBuilder returns a builder bound to an inspector and the shared
// plugin filter-check registry. inspector may be nil, in which case
// Build fails with ErrNotReady until one is attached.
func NewBuilder(cfg Config, inspector *capture.Inspector, filterChecks *plugins.FilterCheckRegistry, logger *slog.Logger) *Builder {
	if filterChecks == nil {
		filterChecks = plugins.NewFilterCheckRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, inspector: inspector, filterChecks: filterChecks, logger: logger}
}

// Config returns a copy of the builder's configuration snapshot.
func (b *Builder) Config() Config { return b.cfg }

// FilterChecks exposes the shared plugin filter-check registry.
func (b *Builder) FilterChecks() *plugins.FilterCheckRegistry { return b.filterChecks }

// Build assembles a new generation from the rule files:
//
//  1. require a bound inspector;
//  2. apply output and severity settings from the config;
//  3. register filter/formatter factories for every event source;
//  4. load every rule file, continuing past per-file failures and
//     aggregating diagnostics; any failure discards the instance;
//  5. verify plugin compatibility against the loaded rules;
//  6. apply the rule activation policy.
//
// On error the returned engine is nil and the previous generation, if
// any, is untouched.
func (b *Builder) Build(files []rules.RuleFile) (*Engine, error) {
	if b.inspector == nil {
		return nil, ErrNotReady
	}

	e := newEngine(b.cfg)

	factories := NewFactoryRegistry(b.inspector, b.filterChecks, b.cfg.JSONOutput)
	for _, source := range b.cfg.EventSources() {
		ff, mf := factories.Resolve(source)
		e.addSource(source, ff, mf)
	}

	// Load all files even when one of them has an error, so the report
	// covers every file.
	diags := make([]rules.FileDiagnostics, 0, len(files))
	failed := false
	for _, rf := range files {
		d := e.LoadRules(rf, b.cfg.Verbose)
		diags = append(diags, d)
		if !d.OK {
			failed = true
		}
	}
	if failed {
		includeFilenames := len(files) > 1
		return nil, &RuleLoadError{
			Diagnostics: diags,
			report:      rules.Report(diags, includeFilenames, b.cfg.Verbose),
		}
	}

	for _, info := range b.cfg.PluginInfos {
		ok, required, err := e.IsPluginCompatible(info.Name, info.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &PluginIncompatibleError{Name: info.Name, Found: info.Version, Required: required}
		}
	}

	applyActivationPolicy(e, &b.cfg, b.logger)
	e.finalize()

	return e, nil
}
