package ldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeFilterValue escapes a value for interpolation into a search filter
// (RFC 4515): `\`, `*`, `(`, `)`, NUL and non-ASCII bytes become \xx.
func EscapeFilterValue(value string) string {
	return ldap.EscapeFilter(value)
}

// EqualityFilter matches entries where any of attrs equals value exactly.
func EqualityFilter(attrs []string, value string) string {
	return anyOf(attrs, "="+EscapeFilterValue(value))
}

// SubstringFilter matches entries where any of attrs contains value.
func SubstringFilter(attrs []string, value string) string {
	return anyOf(attrs, "=*"+EscapeFilterValue(value)+"*")
}

func anyOf(attrs []string, assertion string) string {
	var b strings.Builder
	if len(attrs) > 1 {
		b.WriteString("(|")
	}
	for _, attr := range attrs {
		b.WriteString("(")
		b.WriteString(attr)
		b.WriteString(assertion)
		b.WriteString(")")
	}
	if len(attrs) > 1 {
		b.WriteString(")")
	}
	return b.String()
}

// EscapeDNValue escapes an attribute value for use in an RDN (RFC 4514).
//
//   - "Doe, John" → "Doe\, John"
//   - " John " → "\ John\ "
//   - "#123" → "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == ',' || c == '+' || c == '"' || c == '\\' || c == '<' || c == '>' || c == ';':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '#' && i == 0:
			b.WriteString(`\#`)
		case c == ' ' && (i == 0 || i == last):
			b.WriteString(`\ `)
		case c == 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
