package plugins

import "sync"

// FieldExtractor resolves one plugin-contributed field against an event.
type FieldExtractor func(event map[string]any, field string) (string, bool)

// FilterCheckRegistry holds the filter fields contributed by loaded
// plugins. One registry is shared across every engine generation, so
// fields registered at plugin load time stay resolvable after rule-set
// swaps.
type FilterCheckRegistry struct {
	mu       sync.RWMutex
	prefixes map[string]FieldExtractor
}

func NewFilterCheckRegistry() *FilterCheckRegistry {
	return &FilterCheckRegistry{prefixes: make(map[string]FieldExtractor)}
}

// Register binds every field under prefix (e.g. "json") to extractor.
func (r *FilterCheckRegistry) Register(prefix string, extractor FieldExtractor) {
	r.mu.Lock()
	r.prefixes[prefix] = extractor
	r.mu.Unlock()
}

// Resolve looks the field's leading segment up among registered
// prefixes. Returns false when no plugin claims the field.
func (r *FilterCheckRegistry) Resolve(event map[string]any, field string) (string, bool) {
	prefix := field
	if i := indexByte(field, '.'); i >= 0 {
		prefix = field[:i]
	}
	r.mu.RLock()
	extractor, ok := r.prefixes[prefix]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return extractor(event, field)
}

// Prefixes returns the registered field prefixes, for introspection.
func (r *FilterCheckRegistry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		out = append(out, p)
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
