// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tagset

import (
	"strings"
	"unicode"
)

// NameTransformer maps a declared identifier to a tag key. Implementations
// must be deterministic and idempotent: applying the transformer to its own
// output returns the output unchanged.
type NameTransformer func(name string) string

// ValueConverter rewrites a tag value before validation. The key is provided
// for converters that only apply to certain tags.
type ValueConverter func(key, value string) string

// SnakeCase converts CamelCase identifiers to lower_snake_case. Runs of upper
// case letters are kept together, so HTTPServer becomes http_server. Already
// converted names pass through unchanged.
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && boundaryBefore(runes, i) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// boundaryBefore reports whether a word boundary precedes the upper case rune
// at i: either the previous rune is lower case or a digit, or the previous
// rune is upper case but the next one is lower case (the last letter of an
// acronym followed by a word).
func boundaryBefore(runes []rune, i int) bool {
	prev := runes[i-1]
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	return unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
}
