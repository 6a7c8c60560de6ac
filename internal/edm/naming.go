package edm

import (
	"strings"
	"unicode"
)

// lowerCamelCase lowers the leading upper-case run of s, keeping the last upper-case rune of a
// run that starts a new word: ID → id, EnumValue → enumValue, URLValue → urlValue.
func lowerCamelCase(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	if n > 1 && n < len(r) && unicode.IsLower(r[n]) {
		n--
	}
	for i := 0; i < n; i++ {
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

// snakeCase converts a Go identifier to snake_case: CustomerId → customer_id,
// ProductWithEnumKeys → product_with_enum_keys, ID → id.
func snakeCase(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i, c := range r {
		if unicode.IsUpper(c) && i > 0 {
			prev := r[i-1]
			nextLower := i+1 < len(r) && unicode.IsLower(r[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(c))
	}
	return b.String()
}
