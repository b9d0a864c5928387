package filter

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/gyaneshwarpardhi/simgate/internal/event"
)

// Filter is a compiled expression. A nil *Filter matches every event.
type Filter struct {
	src  string
	root node
}

// Compile parses expr. An empty or blank expr yields a nil Filter.
func Compile(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, fmt.Errorf("filter: unexpected %q at position %d", t.val, t.pos)
	}
	return &Filter{src: expr, root: root}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Match reports whether ev satisfies the filter. Missing fields and
// mismatched types compare false.
func (f *Filter) Match(ev *event.Event) bool {
	if f == nil {
		return true
	}
	return f.root.match(ev)
}

// Apply returns the events that match, preserving order.
func (f *Filter) Apply(events []event.Event) []event.Event {
	if f == nil {
		return events
	}
	out := events[:0:0]
	for i := range events {
		if f.root.match(&events[i]) {
			out = append(out, events[i])
		}
	}
	return out
}

func (n andNode) match(ev *event.Event) bool { return n.left.match(ev) && n.right.match(ev) }
func (n orNode) match(ev *event.Event) bool  { return n.left.match(ev) || n.right.match(ev) }
func (n notNode) match(ev *event.Event) bool { return !n.inner.match(ev) }

func newCmp(left operand, op Operator, right operand) (node, error) {
	n := cmpNode{left: left, op: op, right: right}
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains:
	case OpMatches:
		if pattern, ok := right.literal.(string); ok && right.path == nil {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
			}
			n.re = re
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return n, nil
}

func (n cmpNode) match(ev *event.Event) bool {
	left, ok := n.left.resolve(ev)
	if !ok {
		return false
	}
	right, ok := n.right.resolve(ev)
	if !ok {
		return false
	}
	switch n.op {
	case OpEq:
		return equal(left, right)
	case OpNeq:
		return !equal(left, right)
	case OpGt, OpGte, OpLt, OpLte:
		lf, lok := toFloat64(left)
		rf, rok := toFloat64(right)
		if !lok || !rok {
			return false
		}
		switch n.op {
		case OpGt:
			return lf > rf
		case OpGte:
			return lf >= rf
		case OpLt:
			return lf < rf
		default:
			return lf <= rf
		}
	case OpContains:
		s, ok := left.(string)
		return ok && strings.Contains(s, fmt.Sprint(right))
	case OpMatches:
		s, ok := left.(string)
		if !ok {
			return false
		}
		re := n.re
		if re == nil {
			pattern, ok := right.(string)
			if !ok {
				return false
			}
			var err error
			if re, err = regexp.Compile(pattern); err != nil {
				return false
			}
		}
		return re.MatchString(s)
	}
	return false
}

func (o operand) resolve(ev *event.Event) (any, bool) {
	if o.path == nil {
		return o.literal, true
	}
	switch o.path[0] {
	case "name":
		return ev.Name, true
	case "seq":
		return ev.Seq, true
	case "tick":
		return ev.Tick, true
	case "source_entity":
		if ev.SourceEntity == nil {
			return nil, false
		}
		return *ev.SourceEntity, true
	}
	// data.<path>
	cur := ev.Data
	for _, seg := range o.path[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// equal compares numbers by value, bools strictly and everything else by
// its printed form.
func equal(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}
