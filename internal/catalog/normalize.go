package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// apostrophes and Hebrew geresh/gershayim are dropped so "Bava Kamma" and
// "Bava Kam'ma", or רמב"ם and רמבם, compare equal.
var dropped = map[rune]bool{
	'\'': true, '’': true, '‘': true, 'ʼ': true, '`': true,
	'"': true, '״': true, '׳': true, '“': true, '”': true,
}

// Normalize folds a name for comparison: diacritics and Hebrew vowel points are
// stripped, letters lower-cased, punctuation turned into spaces, and runs of
// whitespace collapsed.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		switch {
		case dropped[r]:
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
