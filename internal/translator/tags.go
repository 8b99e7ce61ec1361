package translator

import (
	"regexp"
	"strings"
	"unicode"
)

// overrideTag is one `{...}` block removed from an event, with the rune
// offset it held in the cleaned text.
type overrideTag struct {
	Offset int
	Text   string
}

var (
	assTagRe    = regexp.MustCompile(`\{[^}]*\}`)
	positioning = []string{`\pos`, `\move`, `\org`}
	htmlTagRe   = regexp.MustCompile(`(?i)</?(?:i|b|u|s|font)[^>]*>`)
	hiBracketRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	hiSpeakerRe = regexp.MustCompile(`^[A-Z][A-Z .'-]{1,24}:\s*`)
)

// splitTags removes override blocks from an ASS event, recording each
// block's rune offset within the remaining clean text.
func splitTags(text string) (string, []overrideTag) {
	var tags []overrideTag
	var clean []rune
	runes := []rune(text)

	for i := 0; i < len(runes); {
		if runes[i] == '{' {
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '}' {
					end = j
					break
				}
			}
			if end >= 0 {
				tags = append(tags, overrideTag{Offset: len(clean), Text: string(runes[i : end+1])})
				i = end + 1
				continue
			}
		}
		clean = append(clean, runes[i])
		i++
	}
	return string(clean), tags
}

// reinsertTags places override blocks back into translated text. Each tag's
// position maps proportionally from the clean source text, then snaps to the
// nearest word boundary within three characters.
func reinsertTags(translated string, cleanLen int, tags []overrideTag) string {
	if len(tags) == 0 {
		return translated
	}
	runes := []rune(translated)

	var out strings.Builder
	prev := 0
	for _, tag := range tags {
		pos := 0
		if cleanLen > 0 {
			pos = tag.Offset * len(runes) / cleanLen
		}
		if pos > len(runes) {
			pos = len(runes)
		}
		pos = snapToWordBoundary(runes, pos, 3)
		if pos < prev {
			pos = prev
		}
		out.WriteString(string(runes[prev:pos]))
		out.WriteString(tag.Text)
		prev = pos
	}
	out.WriteString(string(runes[prev:]))
	return out.String()
}

// snapToWordBoundary shifts pos to the nearest space or string edge within
// the given radius, preferring the closest move.
func snapToWordBoundary(runes []rune, pos, radius int) int {
	isBoundary := func(p int) bool {
		if p <= 0 || p >= len(runes) {
			return true
		}
		return unicode.IsSpace(runes[p]) || unicode.IsSpace(runes[p-1])
	}
	if isBoundary(pos) {
		return pos
	}
	for d := 1; d <= radius; d++ {
		if pos-d >= 0 && isBoundary(pos-d) {
			return pos - d
		}
		if pos+d <= len(runes) && isBoundary(pos+d) {
			return pos + d
		}
	}
	return pos
}

// hasPositioning reports whether an event carries placement overrides.
func hasPositioning(text string) bool {
	for _, block := range assTagRe.FindAllString(text, -1) {
		for _, tag := range positioning {
			if strings.Contains(block, tag) {
				return true
			}
		}
	}
	return false
}

// StripMarkup removes inline HTML-like tags from SRT text.
func StripMarkup(text string) string {
	return htmlTagRe.ReplaceAllString(text, "")
}

// StripHearingImpaired removes bracketed sound descriptions and leading
// speaker labels.
func StripHearingImpaired(text string) string {
	text = hiBracketRe.ReplaceAllString(text, "")
	text = hiSpeakerRe.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
