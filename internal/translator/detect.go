package translator

import (
	"os"
	"path/filepath"
	"strings"
)

// ExternalSubtitle is a subtitle file found next to a video.
type ExternalSubtitle struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Forced   bool   `json:"forced"`
	IsASS    bool   `json:"isAss"`
}

var subtitleExts = map[string]bool{".ass": true, ".ssa": true, ".srt": true, ".vtt": true}

// ListExternalSubtitles finds subtitle files sharing the video's basename.
// Filenames follow `<base>.<langtag>[.forced].<ext>`; a bare `<base>.<ext>`
// is reported with an empty language.
func ListExternalSubtitles(videoPath string) ([]ExternalSubtitle, error) {
	dir := filepath.Dir(videoPath)
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var subs []ExternalSubtitle
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !subtitleExts[ext] {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if stem != base && !strings.HasPrefix(stem, base+".") {
			continue
		}

		sub := ExternalSubtitle{
			Path:  filepath.Join(dir, name),
			IsASS: ext == ".ass" || ext == ".ssa",
		}
		if stem != base {
			tags := strings.Split(stem[len(base)+1:], ".")
			if last := tags[len(tags)-1]; strings.EqualFold(last, "forced") {
				sub.Forced = true
				tags = tags[:len(tags)-1]
			}
			if len(tags) > 0 {
				sub.Language = strings.ToLower(tags[len(tags)-1])
			}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// FindExternalSubtitle returns the best external subtitle for a language,
// matching any alias of the language tag and preferring ASS over SRT. With
// forced set, only `.<lang>.forced.<ext>` files qualify.
func FindExternalSubtitle(videoPath, language string, forced bool) (*ExternalSubtitle, error) {
	subs, err := ListExternalSubtitles(videoPath)
	if err != nil {
		return nil, err
	}

	aliases := LanguageAliases(language)
	matches := func(tag string) bool {
		for _, alias := range aliases {
			if tag == alias {
				return true
			}
		}
		return false
	}

	var best *ExternalSubtitle
	for i := range subs {
		sub := &subs[i]
		if sub.Forced != forced {
			continue
		}
		if sub.Language == "" || !matches(sub.Language) {
			continue
		}
		if sub.IsASS {
			return sub, nil
		}
		if best == nil {
			best = sub
		}
	}
	return best, nil
}

// SubtitlePath builds the conventional sibling path for a subtitle file.
func SubtitlePath(videoPath, language string, forced bool, ext string) string {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	if forced {
		return base + "." + language + ".forced." + strings.TrimPrefix(ext, ".")
	}
	return base + "." + language + "." + strings.TrimPrefix(ext, ".")
}
