package engine

import (
	"errors"
	"fmt"

	"github.com/sentra-hq/sentra/pkg/rules"
)

// ErrNotReady is returned by Build before a capture inspector has been
// attached.
var ErrNotReady = errors.New("No inspector/source provided yet")

// ErrNotInitialized is returned by the swap's Current before any
// generation has ever been promoted.
var ErrNotInitialized = errors.New("no engine, must call Initialize or Replace first")

// RuleLoadError aggregates the per-file outcomes of a failed build. The
// build loads every file even after one fails, so Diagnostics covers the
// full input set.
type RuleLoadError struct {
	Diagnostics []rules.FileDiagnostics

	report string
}

func (e *RuleLoadError) Error() string { return e.report }

// Failed returns the subset of diagnostics for files that did not load.
func (e *RuleLoadError) Failed() []rules.FileDiagnostics {
	var out []rules.FileDiagnostics
	for _, d := range e.Diagnostics {
		if !d.OK {
			out = append(out, d)
		}
	}
	return out
}

// PluginIncompatibleError reports a loaded plugin that does not satisfy
// a version requirement declared by the rule files.
type PluginIncompatibleError struct {
	Name     string
	Found    string
	Required string
}

func (e *PluginIncompatibleError) Error() string {
	return fmt.Sprintf("Plugin %s version %s not compatible with required plugin version %s",
		e.Name, e.Found, e.Required)
}
