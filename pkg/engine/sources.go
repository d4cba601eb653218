package engine

import (
	"github.com/sentra-hq/sentra/pkg/capture"
	"github.com/sentra-hq/sentra/pkg/filter"
	"github.com/sentra-hq/sentra/pkg/plugins"
)

// FilterFactory compiles one rule condition for a specific event source.
type FilterFactory func(condition string) (*filter.Filter, error)

// FormatterFactory compiles one rule output template for a specific
// event source.
type FormatterFactory func(template string) *filter.Formatter

// FactoryRegistry hands out the filter and formatter factories for each
// event source. The syscall factories bind to the capture inspector;
// plugin-defined sources resolve fields through the shared filter-check
// registry first and fall back to plain event lookup.
type FactoryRegistry struct {
	inspector    *capture.Inspector
	filterChecks *plugins.FilterCheckRegistry
	jsonOutput   bool
}

func NewFactoryRegistry(inspector *capture.Inspector, filterChecks *plugins.FilterCheckRegistry, jsonOutput bool) *FactoryRegistry {
	return &FactoryRegistry{inspector: inspector, filterChecks: filterChecks, jsonOutput: jsonOutput}
}

// Resolve returns the factory pair for one event source.
//
// The inspector handle is captured here on the building goroutine, but
// field extraction only ever runs on the evaluation goroutine; the
// inspector itself must outlive every generation built against it.
func (fr *FactoryRegistry) Resolve(source string) (FilterFactory, FormatterFactory) {
	var resolver filter.FieldResolver
	switch source {
	case SyscallSource:
		resolver = filter.ResolverFunc(fr.inspector.FieldValue)
	case K8sAuditSource:
		resolver = filter.ResolverFunc(capture.LookupField)
	default:
		checks := fr.filterChecks
		resolver = filter.ResolverFunc(func(event map[string]any, field string) (string, bool) {
			if checks != nil {
				if v, ok := checks.Resolve(event, field); ok {
					return v, true
				}
			}
			return capture.LookupField(event, field)
		})
	}

	ff := func(condition string) (*filter.Filter, error) {
		return filter.Compile(condition, resolver)
	}
	mf := func(template string) *filter.Formatter {
		return filter.CompileOutput(template, resolver, fr.jsonOutput)
	}
	return ff, mf
}
