// Package filter compiles observer-supplied expressions that select
// events from the log, e.g.
//
//	name == "state_enter" AND data.state == "dead"
//	source_entity == 7 OR (tick >= 100 AND name matches "^hit_")
//
// Fields are name, seq, tick, source_entity and data.<path>.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/gyaneshwarpardhi/simgate/internal/event"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// node is a compiled boolean expression.
type node interface {
	match(ev *event.Event) bool
}

type andNode struct{ left, right node }
type orNode struct{ left, right node }
type notNode struct{ inner node }

type cmpNode struct {
	left  operand
	op    Operator
	right operand
	re    *regexp.Regexp // precompiled when op is matches and right is a literal
}

// operand is either a literal or a field path.
type operand struct {
	literal any
	path    []string
}

type tokKind int

const (
	tkWord tokKind = iota
	tkOp
	tkString
	tkNumber
	tkBool
	tkLParen
	tkRParen
	tkEOF
)

type tok struct {
	kind tokKind
	val  string
	pos  int
}

func lex(src string) ([]tok, error) {
	var out []tok
	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			out = append(out, tok{tkLParen, "(", i})
			i++
		case ch == ')':
			out = append(out, tok{tkRParen, ")", i})
			i++
		case strings.IndexByte("=!<>", ch) >= 0:
			if i+1 < len(src) && src[i+1] == '=' {
				out = append(out, tok{tkOp, src[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			out = append(out, tok{tkOp, string(ch), i})
			i++
		case ch == '"' || ch == '\'':
			var sb strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != ch; j++ {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			out = append(out, tok{tkString, sb.String(), i})
			i = j + 1
		case unicode.IsDigit(rune(ch)) || (ch == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			out = append(out, tok{tkNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			word := src[i:j]
			if lw := strings.ToLower(word); lw == "true" || lw == "false" {
				out = append(out, tok{tkBool, lw, i})
			} else {
				out = append(out, tok{tkWord, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return append(out, tok{tkEOF, "", len(src)}), nil
}

type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek() tok { return p.toks[p.pos] }

func (p *parser) next() tok {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tkWord && strings.EqualFold(t.val, kw) {
		p.pos++
		return true
	}
	return false
}

// or = and ("OR" and)*
func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

// and = unary ("AND" unary)*
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

// unary = "NOT" unary | "(" or ")" | comparison
func (p *parser) parseUnary() (node, error) {
	if p.keyword("NOT") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	if p.peek().kind == tkLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tkRParen {
			return nil, fmt.Errorf("expected ) at position %d, got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	var op Operator
	switch t := p.next(); {
	case t.kind == tkOp:
		op = Operator(t.val)
	case t.kind == tkWord && strings.EqualFold(t.val, "contains"):
		op = OpContains
	case t.kind == tkWord && strings.EqualFold(t.val, "matches"):
		op = OpMatches
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return newCmp(left, op, right)
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tkString:
		return operand{literal: t.val}, nil
	case tkBool:
		return operand{literal: t.val == "true"}, nil
	case tkNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return operand{literal: f}, nil
	case tkWord:
		path := strings.Split(t.val, ".")
		if err := checkPath(path); err != nil {
			return operand{}, fmt.Errorf("position %d: %w", t.pos, err)
		}
		return operand{path: path}, nil
	default:
		return operand{}, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
	}
}

func checkPath(path []string) error {
	switch path[0] {
	case "name", "seq", "tick", "source_entity":
		if len(path) != 1 {
			return fmt.Errorf("field %q has no subfields", path[0])
		}
		return nil
	case "data":
		for _, seg := range path[1:] {
			if seg == "" {
				return fmt.Errorf("empty segment in %q", strings.Join(path, "."))
			}
		}
		return nil
	}
	return fmt.Errorf("unknown field %q", path[0])
}
