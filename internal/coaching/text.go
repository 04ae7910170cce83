package coaching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold strips diacritics and lower-cases s so keyword tables can be written
// in plain ASCII ("dépense" matches "depense").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func containsAny(value string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(value, k) {
			return true
		}
	}
	return false
}
