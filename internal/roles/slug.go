package roles

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives a URL-safe slug from a role name: diacritics are
// stripped, everything outside [a-z0-9] collapses to single hyphens.
func Slugify(name string) string {
	flattened, _, err := transform.String(deaccent, name)
	if err != nil {
		flattened = name
	}
	var b strings.Builder
	b.Grow(len(flattened))
	lastHyphen := true
	for _, r := range strings.ToLower(flattened) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
