package rules

import "strings"

// FileDiagnostics is the outcome of loading one rule file into an engine.
type FileDiagnostics struct {
	Name     string
	OK       bool
	Err      string
	Warnings []string
	Loaded   int
}

func (d FileDiagnostics) render(includeFilename, includeWarnings bool) string {
	var sb strings.Builder
	prefix := ""
	if includeFilename {
		prefix = d.Name + ": "
	}
	if !d.OK {
		sb.WriteString(prefix)
		sb.WriteString(d.Err)
		sb.WriteByte('\n')
	}
	if includeWarnings {
		for _, w := range d.Warnings {
			sb.WriteString(prefix)
			sb.WriteString(w)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Report renders the per-file diagnostics into one operator-facing string.
// Filenames are prefixed only when more than one file was loaded; warnings
// appear only when requested.
func Report(diags []FileDiagnostics, includeFilenames, includeWarnings bool) string {
	var sb strings.Builder
	for _, d := range diags {
		sb.WriteString(d.render(includeFilenames, includeWarnings))
	}
	return sb.String()
}
