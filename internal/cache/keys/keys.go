// Package keys builds the Redis keys of the series cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	seriesPrefix = "series"
	genPrefix    = "gen"
)

// Series keys one cached series. fingerprint is the canonical encoding of the
// request; gen is the collection generation it was computed under.
func Series(collection string, gen uint64, fingerprint []byte) string {
	return fmt.Sprintf("%s:%s:g%d:f=%016x", seriesPrefix, sanitizeCollection(collection), gen, xxhash.Sum64(fingerprint))
}

// Generation keys the counter bumped when collection changes.
func Generation(collection string) string {
	return genPrefix + ":" + sanitizeCollection(collection)
}

func sanitizeCollection(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// '/', ':' and any non-ASCII rune
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
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
