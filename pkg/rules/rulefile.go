package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleFile is a rule file as handed to the engine builder: its name plus
// raw content. Parsing and compiling happen when the file is loaded into
// an engine, so that per-file failures can be aggregated instead of
// aborting the whole build at the first bad file.
type RuleFile struct {
	Name    string
	Content []byte
}

// Load reads a rule file from disk. Read failures are reported here;
// content errors surface later, when the file is loaded into an engine.
func Load(filename string) (RuleFile, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return RuleFile{}, err
	}
	return RuleFile{Name: filepath.Base(filename), Content: b}, nil
}

// LoadAll reads every named file, stopping at the first unreadable one.
func LoadAll(filenames []string) ([]RuleFile, error) {
	out := make([]RuleFile, 0, len(filenames))
	for _, fn := range filenames {
		rf, err := Load(fn)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
		out = append(out, rf)
	}
	return out, nil
}

// Rule is one detection rule as written in a rule file. Condition and
// output stay as raw text here; the engine compiles them per source.
type Rule struct {
	Name        string
	Description string
	Condition   string
	Output      string
	Priority    Severity
	Source      string
	Tags        []string
	Enabled     bool
}

// HasTag reports whether the rule carries any of the given tags.
func (r *Rule) HasTag(tags map[string]struct{}) bool {
	for _, t := range r.Tags {
		if _, ok := tags[t]; ok {
			return true
		}
	}
	return false
}

// PluginRequirement is a minimum plugin version declared by a rule file.
type PluginRequirement struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Document is the parsed form of a rule file.
type Document struct {
	Rules                  []Rule
	RequiredPluginVersions []PluginRequirement
}

type rawRule struct {
	Rule      string   `yaml:"rule"`
	Desc      string   `yaml:"desc"`
	Condition string   `yaml:"condition"`
	Output    string   `yaml:"output"`
	Priority  string   `yaml:"priority"`
	Source    string   `yaml:"source"`
	Tags      []string `yaml:"tags"`
	Enabled   *bool    `yaml:"enabled"`
}

type rawFile struct {
	RequiredPluginVersions []PluginRequirement `yaml:"required_plugin_versions"`
	Rules                  []rawRule           `yaml:"rules"`
}

// Parse decodes the YAML content of a rule file.
func (rf RuleFile) Parse() (Document, error) {
	var raw rawFile
	if err := yaml.Unmarshal(rf.Content, &raw); err != nil {
		return Document{}, fmt.Errorf("invalid YAML: %w", err)
	}

	doc := Document{RequiredPluginVersions: raw.RequiredPluginVersions}
	for i, rr := range raw.Rules {
		if strings.TrimSpace(rr.Rule) == "" {
			return Document{}, fmt.Errorf("rule %d: missing rule name", i)
		}
		if strings.TrimSpace(rr.Condition) == "" {
			return Document{}, fmt.Errorf("rule %q: missing condition", rr.Rule)
		}
		prio := Warning
		if rr.Priority != "" {
			p, err := ParseSeverity(rr.Priority)
			if err != nil {
				return Document{}, fmt.Errorf("rule %q: %w", rr.Rule, err)
			}
			prio = p
		}
		source := rr.Source
		if source == "" {
			source = "syscall"
		}
		enabled := true
		if rr.Enabled != nil {
			enabled = *rr.Enabled
		}
		doc.Rules = append(doc.Rules, Rule{
			Name:        rr.Rule,
			Description: rr.Desc,
			Condition:   rr.Condition,
			Output:      rr.Output,
			Priority:    prio,
			Source:      source,
			Tags:        rr.Tags,
			Enabled:     enabled,
		})
	}
	return doc, nil
}
