package translator

import (
	"strings"

	iso639_3 "github.com/barbashov/iso639-3"
)

// NormalizeLanguage canonicalizes any ISO 639 code or English language name
// to the two-letter code when one exists, else the three-letter code. Unknown
// input comes back lowercased as-is.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	lang := iso639_3.FromAnyCode(code)
	if lang == nil {
		lang = iso639_3.FromName(code)
	}
	if lang == nil {
		return code
	}
	if lang.Part1 != "" {
		return lang.Part1
	}
	return lang.Part3
}

// LanguageAliases returns every tag that identifies the language in a
// subtitle filename: the 2-letter code, the 3-letter codes, and the
// lowercased English name.
func LanguageAliases(code string) []string {
	code = strings.ToLower(strings.TrimSpace(code))
	lang := iso639_3.FromAnyCode(code)
	if lang == nil {
		return []string{code}
	}

	seen := make(map[string]struct{})
	var aliases []string
	add := func(tag string) {
		tag = strings.ToLower(tag)
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		aliases = append(aliases, tag)
	}

	add(lang.Part1)
	add(lang.Part3)
	add(lang.Part2B)
	add(lang.Part2T)
	add(lang.Name)
	return aliases
}

// SameLanguage reports whether two tags refer to the same language.
func SameLanguage(a, b string) bool {
	return NormalizeLanguage(a) == NormalizeLanguage(b)
}
