package util

import (
	"regexp"
	"strings"
)

var (
	reQuotes = regexp.MustCompile(`["'` + "`" + `«»]`)
	reSpaces = regexp.MustCompile(`\s+`)
)

// NormalizeName folds a free-form name (warehouse, product) into a stable
// lookup key: upper case, Ё collapsed to Е, quotes stripped, whitespace
// collapsed. Parentheses are kept so district disambiguators survive.
func NormalizeName(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.ReplaceAll(s, "Ё", "Е")
	s = reQuotes.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeCode normalizes an article or barcode: upper case, spaces dropped,
// only code-safe runes kept.
func NormalizeCode(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.ReplaceAll(s, " ", "")
	out := strings.Builder{}
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'А' && r <= 'Я') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '/' || r == '.' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// StripParenthetical removes a trailing "(...)" disambiguator if present:
// "Казань (Зеленодольск)" -> "Казань".
func StripParenthetical(input string) string {
	open := strings.Index(input, "(")
	if open <= 0 {
		return strings.TrimSpace(input)
	}
	return strings.TrimSpace(input[:open])
}
