// Package slug derives human-readable short codes from URLs and allocates
// free codes against a repository.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const separator = '-'

// Normalize turns s into a URL-safe token: accents are folded to ASCII,
// letters are lowercased, runs of whitespace and hyphens become a single '-',
// and every other character is dropped. "Hello, Wörld!" and "Hello-World"
// both become "hello-world"; "my-site.com" becomes "my-sitecom".
func Normalize(s string) string {
	// Transformers carry state, so a fresh chain is built per call.
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteRune(separator)
			}
			pendingSep = false
			b.WriteRune(r)
		case r == separator || unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes and drops a dangling separator.
func truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimRight(s, string(separator))
}
