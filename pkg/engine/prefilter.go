package engine

import (
	"encoding/json"

	ac "github.com/petar-dambovaliev/aho-corasick"
)

// literalPrefilter gates rule evaluation on an Aho-Corasick scan of the
// raw event for the string literals the rule conditions compare against.
// Rules whose conditions yield no usable literal are always evaluated.
type literalPrefilter struct {
	automaton    *ac.AhoCorasick
	patterns     []string
	patternRules map[int][]*CompiledRule
	always       []*CompiledRule
}

// candidateSet is the outcome of one prefilter pass.
type candidateSet struct {
	all bool
	set map[*CompiledRule]struct{}
}

func (c candidateSet) contains(r *CompiledRule) bool {
	if c.all {
		return true
	}
	_, ok := c.set[r]
	return ok
}

func newLiteralPrefilter(crs []*CompiledRule) *literalPrefilter {
	p := &literalPrefilter{patternRules: make(map[int][]*CompiledRule)}

	dedupe := make(map[string]int)
	for _, r := range crs {
		if len(r.literals) == 0 {
			p.always = append(p.always, r)
			continue
		}
		for _, lit := range r.literals {
			idx, ok := dedupe[lit]
			if !ok {
				idx = len(p.patterns)
				p.patterns = append(p.patterns, lit)
				dedupe[lit] = idx
			}
			p.patternRules[idx] = append(p.patternRules[idx], r)
		}
	}

	if len(p.patterns) > 0 {
		builder := ac.NewAhoCorasickBuilder(ac.Opts{
			AsciiCaseInsensitive: true,
			MatchKind:            ac.LeftMostLongestMatch,
		})
		automaton := builder.Build(p.patterns)
		p.automaton = &automaton
	}
	return p
}

// candidates scans the event once and returns the rules that could
// possibly match it. A nil or empty prefilter passes everything through.
func (p *literalPrefilter) candidates(event map[string]any) candidateSet {
	if p == nil || p.automaton == nil {
		return candidateSet{all: true}
	}

	b, err := json.Marshal(event)
	if err != nil {
		return candidateSet{all: true}
	}

	set := make(map[*CompiledRule]struct{}, len(p.always))
	for _, r := range p.always {
		set[r] = struct{}{}
	}
	for _, m := range p.automaton.FindAll(string(b)) {
		for _, r := range p.patternRules[m.Pattern()] {
			set[r] = struct{}{}
		}
	}
	return candidateSet{set: set}
}
