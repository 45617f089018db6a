package pbtest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// expr is a parsed filter expression.
type expr interface {
	eval(rec map[string]any) bool
}

type andExpr struct{ left, right expr }
type orExpr struct{ left, right expr }

type cmpExpr struct {
	field string
	op    string
	value any
}

func (e andExpr) eval(rec map[string]any) bool { return e.left.eval(rec) && e.right.eval(rec) }
func (e orExpr) eval(rec map[string]any) bool  { return e.left.eval(rec) || e.right.eval(rec) }

func (e cmpExpr) eval(rec map[string]any) bool {
	got := lookup(rec, e.field)
	switch e.op {
	case "=":
		return compareValues(got, e.value) == 0
	case "!=":
		return compareValues(got, e.value) != 0
	case "~":
		return strings.Contains(strings.ToLower(stringify(got)), strings.ToLower(stringify(e.value)))
	case "!~":
		return !strings.Contains(strings.ToLower(stringify(got)), strings.ToLower(stringify(e.value)))
	case ">":
		return compareValues(got, e.value) > 0
	case ">=":
		return compareValues(got, e.value) >= 0
	case "<":
		return compareValues(got, e.value) < 0
	case "<=":
		return compareValues(got, e.value) <= 0
	}
	return false
}

type token struct {
	kind string // ident, string, number, op, lparen, rparen, and, or
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{"lparen", "("})
			i++
		case c == ')':
			toks = append(toks, token{"rparen", ")"})
			i++
		case strings.HasPrefix(s[i:], "&&"):
			toks = append(toks, token{"and", "&&"})
			i += 2
		case strings.HasPrefix(s[i:], "||"):
			toks = append(toks, token{"or", "||"})
			i += 2
		case c == '"' || c == '\'':
			var b strings.Builder
			j := i + 1
			for ; j < len(s) && s[j] != c; j++ {
				if s[j] == '\\' && j+1 < len(s) {
					j++
				}
				b.WriteByte(s[j])
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, token{"string", b.String()})
			i = j + 1
		case strings.ContainsRune("=!~<>", rune(c)):
			j := i + 1
			for j < len(s) && strings.ContainsRune("=~", rune(s[j])) {
				j++
			}
			toks = append(toks, token{"op", s[i:j]})
			i = j
		default:
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || strings.ContainsRune("_.@-", rune(s[j]))) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("unexpected %q at %d", c, i)
			}
			word := s[i:j]
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				toks = append(toks, token{"number", word})
			} else {
				toks = append(toks, token{"ident", word})
			}
			i = j
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func parseFilter(s string) (expr, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("trailing tokens in filter %q", s)
	}
	return e, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) or() (expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != "or" {
			return left, nil
		}
		p.pos++
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
}

func (p *parser) and() (expr, error) {
	left, err := p.factor()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != "and" {
			return left, nil
		}
		p.pos++
		right, err := p.factor()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
}

func (p *parser) factor() (expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of filter")
	}
	if t.kind == "lparen" {
		p.pos++
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != "rparen" {
			return nil, fmt.Errorf("missing )")
		}
		p.pos++
		return e, nil
	}
	if t.kind != "ident" || p.pos+2 >= len(p.toks) {
		return nil, fmt.Errorf("expected comparison at token %d", p.pos)
	}
	op := p.toks[p.pos+1]
	val := p.toks[p.pos+2]
	if op.kind != "op" {
		return nil, fmt.Errorf("expected operator after %s", t.text)
	}
	p.pos += 3

	var v any
	switch val.kind {
	case "string":
		v = val.text
	case "number":
		f, _ := strconv.ParseFloat(val.text, 64)
		v = f
	case "ident":
		switch val.text {
		case "true":
			v = true
		case "false":
			v = false
		case "null":
			v = ""
		default:
			return nil, fmt.Errorf("field references on the right side are not supported")
		}
	default:
		return nil, fmt.Errorf("unexpected value %q", val.text)
	}
	return cmpExpr{field: t.text, op: op.text, value: v}, nil
}

// lookup resolves a possibly dotted field path, such as
// "expand.company.company_name", against nested record maps.
func lookup(rec map[string]any, path string) any {
	var cur any = rec
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case nil:
		return 0, true
	}
	return 0, false
}

// compareValues orders two stored or literal values, numerically when both
// sides are numeric and as strings otherwise.
func compareValues(a, b any) int {
	_, aBool := a.(bool)
	_, bBool := b.(bool)
	if aBool || bBool {
		as, bs := stringify(a), stringify(b)
		if a == nil {
			as = "false"
		}
		if b == nil {
			bs = "false"
		}
		return strings.Compare(as, bs)
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			_, aStr := a.(string)
			_, bStr := b.(string)
			if !(aStr && bStr) {
				switch {
				case af < bf:
					return -1
				case af > bf:
					return 1
				}
				return 0
			}
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}
