package auth

import (
	"strings"
)

// NormalizeDN canonicalizes a distinguished name string for comparison:
// RDNs are split on unescaped commas, attribute types are uppercased and
// surrounding whitespace is dropped. Escapes inside values are preserved.
func NormalizeDN(dn string) string {
	rdns := splitRDNs(dn)
	for i, rdn := range rdns {
		rdn = strings.TrimSpace(rdn)
		if eq := strings.Index(rdn, "="); eq > 0 {
			attr := strings.ToUpper(strings.TrimSpace(rdn[:eq]))
			val := strings.TrimSpace(rdn[eq+1:])
			rdn = attr + "=" + val
		}
		rdns[i] = rdn
	}
	return strings.Join(rdns, ",")
}

// splitRDNs splits a DN on commas that are not escaped with a backslash
func splitRDNs(dn string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range dn {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// EqualDN reports whether two DN strings are equal after normalization
func EqualDN(a, b string) bool {
	return NormalizeDN(a) == NormalizeDN(b)
}

// MatchDNPattern reports whether dn matches pattern. Patterns are normalized
// DNs where "*" matches any run of characters within the string.
func MatchDNPattern(pattern, dn string) bool {
	return wildcardMatch(NormalizeDN(pattern), NormalizeDN(dn))
}

// wildcardMatch implements simple glob matching where '*' matches any
// (possibly empty) substring
func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
