// Package engine compiles rule files into immutable, swappable engine
// generations and evaluates capture events against them.
package engine

import (
	"github.com/sentra-hq/sentra/pkg/plugins"
	"github.com/sentra-hq/sentra/pkg/rules"
)

// Built-in event sources, always registered on every generation.
const (
	SyscallSource  = "syscall"
	K8sAuditSource = "k8s_audit"
)

// Config is the snapshot of settings a generation is built from. It is
// copied into the builder; mutating it after NewBuilder has no effect on
// generations already built.
type Config struct {
	// OutputFormat is extra formatting appended to every rule output,
	// or substituted for %container.info when ReplaceContainerInfo is
	// set.
	OutputFormat         string
	ReplaceContainerInfo bool

	// MinPriority drops matches from rules less severe than this.
	MinPriority rules.Severity

	JSONOutput bool
	Verbose    bool

	// PluginInfos lists the loaded plugins to check rule requirements
	// against.
	PluginInfos []plugins.Info

	DisabledRuleSubstrings []string
	DisabledRuleTags       []string
	EnabledRuleTags        []string

	extraSources []string
}

// NewConfig returns a config with no severity floor: every matching rule
// is reported until MinPriority says otherwise.
func NewConfig() Config {
	return Config{MinPriority: rules.Debug}
}

// AddEventSource registers an additional event source, typically one
// contributed by a plugin. Built-in sources and duplicates are no-ops.
func (c *Config) AddEventSource(name string) {
	if name == SyscallSource || name == K8sAuditSource {
		return
	}
	for _, s := range c.extraSources {
		if s == name {
			return
		}
	}
	c.extraSources = append(c.extraSources, name)
}

// ContainsEventSource reports whether name is a known source. Matching
// is exact.
func (c *Config) ContainsEventSource(name string) bool {
	if name == SyscallSource || name == K8sAuditSource {
		return true
	}
	for _, s := range c.extraSources {
		if s == name {
			return true
		}
	}
	return false
}

// EventSources returns every source a built generation will carry. The
// built-ins always come first, so the invariant holds even for a
// zero-value Config.
func (c *Config) EventSources() []string {
	out := make([]string, 0, 2+len(c.extraSources))
	out = append(out, SyscallSource, K8sAuditSource)
	out = append(out, c.extraSources...)
	return out
}
