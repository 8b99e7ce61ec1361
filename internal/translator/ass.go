package translator

import (
	"strings"

	"github.com/asticode/go-astisub"
)

// signsNamePatterns mark a style as signs/songs by name alone.
var signsNamePatterns = []string{
	"sign", "song", "karaoke", "kfx", "typeset", "caption", "credit", "title", "lyric",
}

// styleIsSignsByName checks the exact-pattern list on a style name.
func styleIsSignsByName(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range signsNamePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	// OP/ED styles are conventionally named with the bare prefix.
	return strings.HasPrefix(lower, "op") || strings.HasPrefix(lower, "ed")
}

// classifyStyles partitions styles into dialog and signs/songs. A style is
// signs when its name matches a known pattern, or when more than 80% of its
// events carry positioning overrides.
func classifyStyles(subs *astisub.Subtitles) map[string]bool {
	signs := make(map[string]bool)
	total := make(map[string]int)
	positioned := make(map[string]int)

	for _, item := range subs.Items {
		name := ""
		if item.Style != nil {
			name = item.Style.ID
		}
		total[name]++
		if hasPositioning(itemRawText(item)) {
			positioned[name]++
		}
	}

	for name, count := range total {
		if styleIsSignsByName(name) {
			signs[name] = true
			continue
		}
		if count > 0 && float64(positioned[name]) > 0.8*float64(count) {
			signs[name] = true
		}
	}
	return signs
}

// itemRawText reconstructs an event's text with override blocks inline and
// line breaks as the ASS \N convention.
func itemRawText(item *astisub.Item) string {
	var lines []string
	for _, line := range item.Lines {
		var sb strings.Builder
		for _, li := range line.Items {
			if li.InlineStyle != nil && li.InlineStyle.SSAEffect != "" {
				effect := li.InlineStyle.SSAEffect
				if !strings.HasPrefix(effect, "{") {
					effect = "{" + effect + "}"
				}
				sb.WriteString(effect)
			}
			sb.WriteString(li.Text)
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, `\N`)
}

// setItemText replaces an event's lines with translated text. Override
// blocks already embedded in the text are written through verbatim.
func setItemText(item *astisub.Item, text string) {
	segments := strings.Split(text, `\N`)
	item.Lines = item.Lines[:0]
	for _, segment := range segments {
		item.Lines = append(item.Lines, astisub.Line{
			Items: []astisub.LineItem{{Text: segment}},
		})
	}
}

// itemStyleName returns the event's style ID, empty for the default style.
func itemStyleName(item *astisub.Item) string {
	if item.Style != nil {
		return item.Style.ID
	}
	return ""
}

// prefixTitle marks a translated script's title with the target language.
func prefixTitle(subs *astisub.Subtitles, targetLang string) {
	tag := "[" + strings.ToUpper(targetLang) + "] "
	if subs.Metadata == nil {
		subs.Metadata = &astisub.Metadata{Title: strings.TrimSpace(tag)}
		return
	}
	if strings.HasPrefix(subs.Metadata.Title, tag) {
		return
	}
	subs.Metadata.Title = tag + subs.Metadata.Title
}
