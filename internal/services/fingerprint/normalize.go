// -----------------------------------------------------------------------
// Normalization - Canonical text forms feeding duplicate fingerprints
// -----------------------------------------------------------------------

package fingerprint

import "strings"

// foldTable maps accented Latin runes to their ASCII base forms.
// Covers Latin-1 Supplement plus the Latin Extended-A characters that
// show up in US place and builder names. Unmapped runes pass through.
var foldTable = map[rune]string{
	'à': "a", 'á': "a", 'â': "a", 'ã': "a", 'ä': "a", 'å': "a", 'ā': "a", 'ă': "a", 'ą': "a",
	'è': "e", 'é': "e", 'ê': "e", 'ë': "e", 'ē': "e", 'ĕ': "e", 'ė': "e", 'ę': "e", 'ě': "e",
	'ì': "i", 'í': "i", 'î': "i", 'ï': "i", 'ī': "i", 'ĭ': "i", 'į': "i", 'ı': "i",
	'ò': "o", 'ó': "o", 'ô': "o", 'õ': "o", 'ö': "o", 'ø': "o", 'ō': "o", 'ŏ': "o", 'ő': "o",
	'ù': "u", 'ú': "u", 'û': "u", 'ü': "u", 'ū': "u", 'ŭ': "u", 'ů': "u", 'ű': "u", 'ų': "u",
	'ý': "y", 'ÿ': "y",
	'ñ': "n", 'ń': "n", 'ņ': "n", 'ň': "n",
	'ç': "c", 'ć': "c", 'ĉ': "c", 'č': "c",
	'ś': "s", 'ŝ': "s", 'ş': "s", 'š': "s",
	'ź': "z", 'ż': "z", 'ž': "z",
	'ĝ': "g", 'ğ': "g", 'ġ': "g", 'ģ': "g",
	'ĺ': "l", 'ļ': "l", 'ľ': "l", 'ł': "l",
	'ŕ': "r", 'ŗ': "r", 'ř': "r",
	'ť': "t", 'ţ': "t",
	'ď': "d", 'đ': "d",
	'ĥ': "h", 'ħ': "h",
	'ŵ': "w",
	'æ': "ae", 'œ': "oe", 'ß': "ss", 'þ': "th", 'ð': "d",
}

// streetSuffixes canonicalizes common street suffix tokens so
// "Main Street" and "Main St" produce the same property fingerprint.
var streetSuffixes = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"road":      "rd",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"suite":     "ste",
	"apartment": "apt",
}

// Normalize produces the canonical form used in fingerprints:
// lowercase, diacritics folded to ASCII, whitespace collapsed, trimmed.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if folded, ok := foldTable[r]; ok {
			b.WriteString(folded)
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeStreet normalizes a street address line. On top of Normalize
// it drops punctuation and canonicalizes street suffix tokens, so
// "123 N. Main Street" and "123 N Main St" collide.
func NormalizeStreet(s string) string {
	cleaned := strings.NewReplacer(".", " ", ",", " ", "#", " ").Replace(s)
	tokens := strings.Fields(Normalize(cleaned))
	for i, token := range tokens {
		if suffix, ok := streetSuffixes[token]; ok {
			tokens[i] = suffix
		}
	}
	return strings.Join(tokens, " ")
}
