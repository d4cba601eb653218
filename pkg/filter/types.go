// Package filter compiles rule condition expressions and output templates
// into evaluatable objects. Field access is abstracted behind a
// FieldResolver so the same compiler serves syscall events, audit records
// and plugin-defined sources.
package filter

// FieldResolver maps a field name (e.g. "proc.name") to its value within
// one event. The second return is false when the event has no such field.
type FieldResolver interface {
	Resolve(event map[string]any, field string) (string, bool)
}

// ResolverFunc adapts a plain function to FieldResolver.
type ResolverFunc func(event map[string]any, field string) (string, bool)

func (f ResolverFunc) Resolve(event map[string]any, field string) (string, bool) {
	return f(event, field)
}
