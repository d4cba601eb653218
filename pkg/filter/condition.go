package filter

import (
	"fmt"
	"strings"
	"unicode"
)

// ---------------- Tokens ----------------

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokAnd
	tokOr
	tokNot
	tokLeftParen
	tokRightParen
	tokOperator
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' || r == '/' || r == ':' || r == '*'
}

func lex(input string) ([]token, error) {
	var toks []token
	rs := []rune(input)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLeftParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRightParen, ")"})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case r == '=':
			toks = append(toks, token{tokOperator, "="})
			i++
		case r == '!':
			if i+1 < len(rs) && rs[i+1] == '=' {
				toks = append(toks, token{tokOperator, "!="})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '!' at offset %d", i)
			}
		case r == '"' || r == '\'':
			quote := r
			j := i + 1
			for j < len(rs) && rs[j] != quote {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : j])})
			i = j + 1
		case isIdentRune(r):
			j := i
			for j < len(rs) && isIdentRune(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			switch strings.ToLower(word) {
			case "and":
				toks = append(toks, token{tokAnd, word})
			case "or":
				toks = append(toks, token{tokOr, word})
			case "not":
				toks = append(toks, token{tokNot, word})
			case "contains", "icontains", "startswith", "endswith", "in", "exists":
				toks = append(toks, token{tokOperator, strings.ToLower(word)})
			default:
				toks = append(toks, token{tokIdent, word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	return toks, nil
}

// ---------------- AST ----------------

type astKind int

const (
	astAnd astKind = iota
	astOr
	astNot
	astCompare
)

type astNode struct {
	kind astKind

	left, right *astNode // binary
	operand     *astNode // unary

	// comparison
	field  string
	op     string
	values []string
}

// ---------------- Parser ----------------
//
// Grammar, lowest precedence first:
//
//	or     := and ('or' and)*
//	and    := unary ('and' unary)*
//	unary  := 'not' unary | '(' or ')' | compare
//	compare := field 'exists'
//	         | field op value
//	         | field 'in' '(' value (',' value)* ')'

type parser struct {
	toks []token
	pos  int
}

func (p *parser) current() *token {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *parser) advance() *token {
	t := p.current()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (*astNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for t := p.current(); t != nil && t.kind == tokOr; t = p.current() {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &astNode{kind: astOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (*astNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.current(); t != nil && t.kind == tokAnd; t = p.current() {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &astNode{kind: astAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (*astNode, error) {
	t := p.current()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of condition")
	}
	switch t.kind {
	case tokNot:
		p.advance()
		op, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &astNode{kind: astNot, operand: op}, nil
	case tokLeftParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.advance(); c == nil || c.kind != tokRightParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	case tokIdent:
		return p.parseCompare()
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

func (p *parser) parseCompare() (*astNode, error) {
	field := p.advance().text

	opTok := p.advance()
	if opTok == nil || opTok.kind != tokOperator {
		return nil, fmt.Errorf("field %q: expected operator", field)
	}
	op := opTok.text

	if op == "exists" {
		return &astNode{kind: astCompare, field: field, op: op}, nil
	}

	if op == "in" {
		if t := p.advance(); t == nil || t.kind != tokLeftParen {
			return nil, fmt.Errorf("field %q: expected '(' after in", field)
		}
		var values []string
		for {
			v := p.advance()
			if v == nil || (v.kind != tokIdent && v.kind != tokString) {
				return nil, fmt.Errorf("field %q: expected value in list", field)
			}
			values = append(values, v.text)
			sep := p.advance()
			if sep == nil {
				return nil, fmt.Errorf("field %q: unterminated value list", field)
			}
			if sep.kind == tokRightParen {
				break
			}
			if sep.kind != tokComma {
				return nil, fmt.Errorf("field %q: expected ',' or ')'", field)
			}
		}
		return &astNode{kind: astCompare, field: field, op: op, values: values}, nil
	}

	v := p.advance()
	if v == nil || (v.kind != tokIdent && v.kind != tokString) {
		return nil, fmt.Errorf("field %q: expected value after %q", field, op)
	}
	return &astNode{kind: astCompare, field: field, op: op, values: []string{v.text}}, nil
}

// ---------------- Compiled filter ----------------

// Filter is a compiled condition bound to a field resolver.
type Filter struct {
	root     *astNode
	resolver FieldResolver
	literals []string
}

// Compile parses a condition expression and binds it to resolver.
func Compile(condition string, resolver FieldResolver) (*Filter, error) {
	toks, err := lex(condition)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(toks) {
		return nil, fmt.Errorf("trailing input after condition: %q", toks[p.pos].text)
	}
	return &Filter{root: root, resolver: resolver, literals: collectLiterals(root)}, nil
}

// Literals returns comparison values usable as prefilter patterns. A
// non-empty result is a guarantee: the condition cannot match an event
// unless at least one returned literal occurs somewhere in it. An empty
// result means no such guarantee exists and the rule must always be
// evaluated.
func (f *Filter) Literals() []string {
	return f.literals
}

func collectLiterals(n *astNode) []string {
	lits, ok := requiredLiterals(n)
	if !ok {
		return nil
	}
	return lits
}

// requiredLiterals computes a literal set such that one member must
// appear in any matching event. ok is false when no sound set exists,
// e.g. under negation or when an operand is too short to be selective.
func requiredLiterals(n *astNode) ([]string, bool) {
	if n == nil {
		return nil, false
	}
	switch n.kind {
	case astAnd:
		// Either conjunct's guarantee covers the conjunction.
		if lits, ok := requiredLiterals(n.left); ok {
			return lits, true
		}
		return requiredLiterals(n.right)
	case astOr:
		// Both branches must be covered or the guarantee is void.
		left, ok := requiredLiterals(n.left)
		if !ok {
			return nil, false
		}
		right, ok := requiredLiterals(n.right)
		if !ok {
			return nil, false
		}
		return append(left, right...), true
	case astNot:
		return nil, false
	case astCompare:
		switch n.op {
		case "=", "contains", "icontains", "startswith", "endswith", "in":
			out := make([]string, 0, len(n.values))
			for _, v := range n.values {
				if len(v) < 3 || strings.ContainsAny(v, "*?") {
					return nil, false
				}
				out = append(out, strings.ToLower(v))
			}
			return out, true
		}
	}
	return nil, false
}

// Eval evaluates the condition against one event.
func (f *Filter) Eval(event map[string]any) bool {
	return evalNode(f.root, f.resolver, event)
}

func evalNode(n *astNode, r FieldResolver, event map[string]any) bool {
	switch n.kind {
	case astAnd:
		return evalNode(n.left, r, event) && evalNode(n.right, r, event)
	case astOr:
		return evalNode(n.left, r, event) || evalNode(n.right, r, event)
	case astNot:
		return !evalNode(n.operand, r, event)
	case astCompare:
		return evalCompare(n, r, event)
	}
	return false
}

func evalCompare(n *astNode, r FieldResolver, event map[string]any) bool {
	val, ok := r.Resolve(event, n.field)
	if n.op == "exists" {
		return ok
	}
	if !ok {
		return false
	}
	switch n.op {
	case "=":
		return matchValue(val, n.values[0])
	case "!=":
		return !matchValue(val, n.values[0])
	case "contains":
		return strings.Contains(val, n.values[0])
	case "icontains":
		return strings.Contains(strings.ToLower(val), strings.ToLower(n.values[0]))
	case "startswith":
		return strings.HasPrefix(val, n.values[0])
	case "endswith":
		return strings.HasSuffix(val, n.values[0])
	case "in":
		for _, want := range n.values {
			if matchValue(val, want) {
				return true
			}
		}
	}
	return false
}

// matchValue is equality with simple '*' glob support on the pattern side.
func matchValue(val, pattern string) bool {
	if !strings.ContainsRune(pattern, '*') {
		return val == pattern
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(val, parts[0]) {
		return false
	}
	val = val[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(val, part)
		if idx < 0 {
			return false
		}
		val = val[idx+len(part):]
	}
	return strings.HasSuffix(val, parts[len(parts)-1])
}
