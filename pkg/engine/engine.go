package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentra-hq/sentra/pkg/plugins"
	"github.com/sentra-hq/sentra/pkg/rules"
)

// CompiledRule is one rule bound to its compiled filter and formatter.
type CompiledRule struct {
	Name        string
	Description string
	Source      string
	Tags        []string
	Priority    rules.Severity
	Enabled     bool

	filter    ruleFilter
	formatter ruleFormatter
	literals  []string
}

type ruleFilter interface {
	Eval(event map[string]any) bool
}

type ruleFormatter interface {
	Format(event map[string]any) string
}

type engineSource struct {
	name       string
	filters    FilterFactory
	formatters FormatterFactory
	rules      []*CompiledRule
}

// Match is one rule firing on one event.
type Match struct {
	Rule     string         `json:"rule"`
	Source   string         `json:"source"`
	Priority rules.Severity `json:"-"`
	Level    string         `json:"priority"`
	Output   string         `json:"output"`
	Tags     []string       `json:"tags,omitempty"`
	Time     time.Time      `json:"time"`
}

// Engine is one immutable generation of the rule engine: its sources,
// compiled rules and activation state. It is fully configured by the
// builder and never mutated afterwards; any number of in-flight
// evaluations may share one instance across a swap.
type Engine struct {
	id        uuid.UUID
	createdAt time.Time

	outputFormat         string
	replaceContainerInfo bool
	minPriority          rules.Severity

	sources     map[string]*engineSource
	sourceOrder []string
	rules       []*CompiledRule

	// plugin name -> minimum versions declared by loaded rule files
	requiredPlugins map[string][]string

	prefilter *literalPrefilter

	evaluations atomic.Int64
	matched     atomic.Int64
}

func newEngine(cfg Config) *Engine {
	return &Engine{
		id:                   uuid.New(),
		createdAt:            time.Now().UTC(),
		outputFormat:         cfg.OutputFormat,
		replaceContainerInfo: cfg.ReplaceContainerInfo,
		minPriority:          cfg.MinPriority,
		sources:              make(map[string]*engineSource),
		requiredPlugins:      make(map[string][]string),
	}
}

// ID is the generation identity, unique per built instance.
func (e *Engine) ID() uuid.UUID { return e.id }

func (e *Engine) CreatedAt() time.Time { return e.createdAt }

func (e *Engine) RuleCount() int { return len(e.rules) }

func (e *Engine) EnabledRuleCount() int {
	n := 0
	for _, r := range e.rules {
		if r.Enabled {
			n++
		}
	}
	return n
}

// Sources lists the registered event sources in registration order.
func (e *Engine) Sources() []string {
	return append([]string(nil), e.sourceOrder...)
}

// Rules returns the compiled rules in load order. The returned slice is
// shared; callers must not mutate it.
func (e *Engine) Rules() []*CompiledRule { return e.rules }

func (e *Engine) addSource(name string, ff FilterFactory, mf FormatterFactory) {
	if _, ok := e.sources[name]; ok {
		return
	}
	e.sources[name] = &engineSource{name: name, filters: ff, formatters: mf}
	e.sourceOrder = append(e.sourceOrder, name)
}

// expandOutput applies the configured extra output formatting to a
// rule's output template. %container.info is replaced by the extra
// format when ReplaceContainerInfo is set, by a container id stub
// otherwise; without ReplaceContainerInfo the extra format is appended.
func (e *Engine) expandOutput(output string) string {
	const containerInfo = "%container.info"
	if strings.Contains(output, containerInfo) {
		if e.replaceContainerInfo && e.outputFormat != "" {
			return strings.ReplaceAll(output, containerInfo, e.outputFormat)
		}
		output = strings.ReplaceAll(output, containerInfo, "container_id=%container.id")
	}
	if e.outputFormat != "" && !e.replaceContainerInfo {
		output = output + " " + e.outputFormat
	}
	return output
}

// LoadRules parses and compiles one rule file into the engine, producing
// per-file diagnostics. Rules naming an unregistered source are skipped
// with a warning; a rule that fails to compile fails the whole file.
// Plugin version requirements declared by the file are recorded for the
// compatibility check.
func (e *Engine) LoadRules(rf rules.RuleFile, verbose bool) rules.FileDiagnostics {
	diag := rules.FileDiagnostics{Name: rf.Name}

	doc, err := rf.Parse()
	if err != nil {
		diag.Err = err.Error()
		return diag
	}

	for _, req := range doc.RequiredPluginVersions {
		e.requiredPlugins[req.Name] = append(e.requiredPlugins[req.Name], req.Version)
	}

	for i := range doc.Rules {
		r := &doc.Rules[i]

		src, ok := e.sources[r.Source]
		if !ok {
			diag.Warnings = append(diag.Warnings,
				fmt.Sprintf("rule %q: unknown source %q, skipping", r.Name, r.Source))
			continue
		}
		if r.Output == "" {
			diag.Warnings = append(diag.Warnings,
				fmt.Sprintf("rule %q: empty output", r.Name))
		}

		f, err := src.filters(r.Condition)
		if err != nil {
			diag.Err = fmt.Sprintf("rule %q: %v", r.Name, err)
			return diag
		}
		cr := &CompiledRule{
			Name:        r.Name,
			Description: r.Description,
			Source:      r.Source,
			Tags:        r.Tags,
			Priority:    r.Priority,
			Enabled:     r.Enabled,
			filter:      f,
			formatter:   src.formatters(e.expandOutput(r.Output)),
			literals:    f.Literals(),
		}
		e.rules = append(e.rules, cr)
		src.rules = append(src.rules, cr)
	}

	diag.OK = true
	diag.Loaded = len(doc.Rules)
	return diag
}

// EnableRule flips every rule whose name contains substring. The empty
// substring matches every rule. Returns how many rules changed state.
func (e *Engine) EnableRule(substring string, enabled bool) int {
	n := 0
	for _, r := range e.rules {
		if substring != "" && !strings.Contains(r.Name, substring) {
			continue
		}
		if r.Enabled != enabled {
			r.Enabled = enabled
			n++
		}
	}
	return n
}

// EnableRuleByTag flips every rule carrying any of the given tags.
func (e *Engine) EnableRuleByTag(tags []string, enabled bool) int {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	n := 0
	for _, r := range e.rules {
		rr := rules.Rule{Tags: r.Tags}
		if !rr.HasTag(set) {
			continue
		}
		if r.Enabled != enabled {
			r.Enabled = enabled
			n++
		}
	}
	return n
}

// IsPluginCompatible checks one loaded plugin's version against every
// minimum the rule files declared for it. When incompatible, required
// holds the version that was not satisfied.
func (e *Engine) IsPluginCompatible(name, version string) (ok bool, required string, err error) {
	for _, req := range e.requiredPlugins[name] {
		compatible, cerr := plugins.Compatible(version, req)
		if cerr != nil {
			return false, req, cerr
		}
		if !compatible {
			return false, req, nil
		}
	}
	return true, "", nil
}

// RequiredPluginVersions returns the minimum versions the loaded rules
// declare, keyed by plugin name.
func (e *Engine) RequiredPluginVersions() map[string][]string {
	out := make(map[string][]string, len(e.requiredPlugins))
	for k, v := range e.requiredPlugins {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// finalize builds the literal prefilter over the rule set. Called by the
// builder after the activation policy has been applied.
func (e *Engine) finalize() {
	e.prefilter = newLiteralPrefilter(e.rules)
}

// Evaluate runs one event from the named source through the enabled
// rules. It must only be called from the thread driving event capture,
// i.e. the consumer of the generation swap.
func (e *Engine) Evaluate(source string, event map[string]any) ([]Match, error) {
	src, ok := e.sources[source]
	if !ok {
		return nil, fmt.Errorf("unknown event source %q", source)
	}
	e.evaluations.Add(1)

	candidates := e.prefilter.candidates(event)

	var out []Match
	now := time.Now().UTC()
	for _, r := range src.rules {
		if !r.Enabled || !r.Priority.AtLeast(e.minPriority) {
			continue
		}
		if !candidates.contains(r) {
			continue
		}
		if !r.filter.Eval(event) {
			continue
		}
		e.matched.Add(1)
		out = append(out, Match{
			Rule:     r.Name,
			Source:   source,
			Priority: r.Priority,
			Level:    r.Priority.String(),
			Output:   r.formatter.Format(event),
			Tags:     r.Tags,
			Time:     now,
		})
	}
	return out, nil
}

// Stats returns how many events this generation evaluated and how many
// rule matches it produced.
func (e *Engine) Stats() (evaluations, matches int64) {
	return e.evaluations.Load(), e.matched.Load()
}
