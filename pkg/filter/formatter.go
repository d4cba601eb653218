package filter

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Formatter renders a rule's output template against a matched event.
// Template fields are written as %field.path, e.g.
//
//	"shell in container (user=%user.name container=%container.id)"
type Formatter struct {
	segments []segment
	resolver FieldResolver
	jsonMode bool
}

type segment struct {
	literal string
	field   string
}

// CompileOutput parses an output template and binds it to resolver.
// In JSON mode Format emits a JSON object carrying the rendered text
// plus every referenced field.
func CompileOutput(template string, resolver FieldResolver, jsonMode bool) *Formatter {
	var segs []segment
	rs := []rune(template)
	i := 0
	start := 0
	for i < len(rs) {
		if rs[i] == '%' && i+1 < len(rs) && isFieldStart(rs[i+1]) {
			if i > start {
				segs = append(segs, segment{literal: string(rs[start:i])})
			}
			j := i + 1
			for j < len(rs) && isFieldRune(rs[j]) {
				j++
			}
			segs = append(segs, segment{field: string(rs[i+1 : j])})
			i = j
			start = j
			continue
		}
		i++
	}
	if start < len(rs) {
		segs = append(segs, segment{literal: string(rs[start:])})
	}
	return &Formatter{segments: segs, resolver: resolver, jsonMode: jsonMode}
}

func isFieldStart(r rune) bool { return unicode.IsLetter(r) || r == '_' }

func isFieldRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_'
}

// Format renders the template for one event. Unresolvable fields render
// as <NA>, matching the conventional capture-tool placeholder.
func (f *Formatter) Format(event map[string]any) string {
	var sb strings.Builder
	fields := map[string]string{}
	for _, s := range f.segments {
		if s.field == "" {
			sb.WriteString(s.literal)
			continue
		}
		val, ok := f.resolver.Resolve(event, s.field)
		if !ok {
			val = "<NA>"
		}
		fields[s.field] = val
		sb.WriteString(val)
	}
	if !f.jsonMode {
		return sb.String()
	}
	b, err := json.Marshal(map[string]any{
		"output":        sb.String(),
		"output_fields": fields,
	})
	if err != nil {
		return sb.String()
	}
	return string(b)
}
