package trends

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"insightcore/internal/query"
)

// Formula is a parsed arithmetic expression over series variables A..Z, each
// bound to one entity's series in declared order. Division by zero yields 0,
// and any NaN/Inf result is coerced to 0 before output.
type Formula struct {
	root node
	vars map[byte]bool
}

type node interface {
	eval(env func(byte) float64) float64
}

type numNode float64

func (n numNode) eval(func(byte) float64) float64 { return float64(n) }

type varNode byte

func (n varNode) eval(env func(byte) float64) float64 { return env(byte(n)) }

type binNode struct {
	op          byte
	left, right node
}

func (n *binNode) eval(env func(byte) float64) float64 {
	l := n.left.eval(env)
	r := n.right.eval(env)
	switch n.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	default:
		if r == 0 {
			return 0
		}
		return l / r
	}
}

// ParseFormula parses an expression like "(A - B) / B * 100".
func ParseFormula(expr string) (*Formula, error) {
	p := &parser{input: strings.TrimSpace(expr), vars: make(map[byte]bool)}
	if p.input == "" {
		return nil, &query.ValidationError{Field: "formula", Reason: "formula is empty"}
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, &query.ValidationError{Field: "formula", Reason: fmt.Sprintf("unexpected %q at position %d", p.input[p.pos], p.pos)}
	}
	return &Formula{root: root, vars: p.vars}, nil
}

// Variables returns the variable letters the formula references.
func (f *Formula) Variables() []byte {
	var out []byte
	for b := byte('A'); b <= 'Z'; b++ {
		if f.vars[b] {
			out = append(out, b)
		}
	}
	return out
}

// Eval computes the combined series pointwise. Missing variables read as 0.
func (f *Formula) Eval(series map[byte][]float64, length int) []float64 {
	out := make([]float64, length)
	for i := 0; i < length; i++ {
		out[i] = coerce(f.root.eval(func(v byte) float64 {
			s := series[v]
			if i >= len(s) {
				return 0
			}
			return s[i]
		}))
	}
	return out
}

type parser struct {
	input string
	pos   int
	vars  map[byte]bool
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseExpr handles + and -.
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: op, left: left, right: right}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseFactor() (node, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, &query.ValidationError{Field: "formula", Reason: "missing closing parenthesis"}
		}
		p.pos++
		return inner, nil
	case c == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &binNode{op: '-', left: numNode(0), right: inner}, nil
	case c >= 'A' && c <= 'Z':
		p.pos++
		p.vars[c] = true
		return varNode(c), nil
	case unicode.IsDigit(rune(c)) || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return nil, &query.ValidationError{Field: "formula", Reason: "invalid number " + p.input[start:p.pos]}
		}
		return numNode(v), nil
	default:
		return nil, &query.ValidationError{Field: "formula", Reason: fmt.Sprintf("unexpected character %q", c)}
	}
}

// AlignByBreakdown outer-joins per-entity breakdown series by bucket key so a
// formula applies across matching buckets; buckets missing on an entity pad
// with zeros.
func AlignByBreakdown(perEntity []map[string][]float64, length int) map[string][][]float64 {
	keys := make(map[string]struct{})
	for _, m := range perEntity {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	out := make(map[string][][]float64, len(keys))
	for k := range keys {
		rows := make([][]float64, len(perEntity))
		for i, m := range perEntity {
			if s, ok := m[k]; ok {
				rows[i] = s
			} else {
				rows[i] = make([]float64, length)
			}
		}
		out[k] = rows
	}
	return out
}
