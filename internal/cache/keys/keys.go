// Package keys builds cache keys for catalog payloads.
package keys

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "obe:catalog"

// Catalog returns the cache key for a source catalog fetched from rawURL.
// The host is kept readable for operators; the full URL is hashed.
func Catalog(source, rawURL string) string {
	src := sanitize(strings.ToLower(strings.TrimSpace(source)))
	host := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		host = sanitize(u.Host)
	}
	sum := xxhash.Sum64String(strings.TrimSpace(rawURL))
	return fmt.Sprintf("%s:%s:%s:u=%016x", prefix, src, host, sum)
}

// Pattern matches every catalog key of source, for SCAN based purges.
func Pattern(source string) string {
	if source == "" {
		return prefix + ":*"
	}
	return fmt.Sprintf("%s:%s:*", prefix, sanitize(strings.ToLower(source)))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
