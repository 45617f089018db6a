package pocketbase

import (
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is the store's canonical datetime representation.
const DateTimeLayout = "2006-01-02 15:04:05.000Z"

var literalEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// operatorStripper removes characters that would let free text change the
// structure of a filter expression.
var operatorStripper = strings.NewReplacer(
	"&", "", "|", "", "!", "", "(", "", ")", "",
	"~", "", "=", "", "<", "", ">", "",
)

// Quote renders s as a filter string literal.
func Quote(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

// Sanitize cleans user-typed search text before it is embedded in a filter.
func Sanitize(s string) string {
	return strings.TrimSpace(operatorStripper.Replace(s))
}

// Eq matches field equal to a string value.
func Eq(field, value string) string {
	return field + " = " + Quote(value)
}

// Neq matches field not equal to a string value.
func Neq(field, value string) string {
	return field + " != " + Quote(value)
}

// Like matches field containing value, case-insensitively.
func Like(field, value string) string {
	return field + " ~ " + Quote(value)
}

// Gte matches a numeric field greater than or equal to n.
func Gte(field string, n int) string {
	return field + " >= " + strconv.Itoa(n)
}

// EqTime matches a datetime field equal to t.
func EqTime(field string, t time.Time) string {
	return field + " = " + Quote(t.UTC().Format(DateTimeLayout))
}

// And joins the non-empty parts with &&.
func And(parts ...string) string {
	return join(" && ", parts)
}

// Or joins the non-empty parts with || and groups them in parentheses.
func Or(parts ...string) string {
	s := join(" || ", parts)
	if strings.Contains(s, " || ") {
		return "(" + s + ")"
	}
	return s
}

func join(sep string, parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// SearchAny matches term in any of fields. It returns "" for blank terms.
func SearchAny(term string, fields ...string) string {
	term = Sanitize(term)
	if term == "" {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = Like(f, term)
	}
	return Or(parts...)
}

// Sort renders a sort expression for one field.
func Sort(field string, desc bool) string {
	if field == "" {
		return ""
	}
	if desc {
		return "-" + field
	}
	return field
}
