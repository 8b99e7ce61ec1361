package translator

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// stopwords per source language, used to spot untranslated output.
var stopwords = map[string][]string{
	"en": {"the", "and", "you", "that", "have", "what", "with", "this", "your", "not"},
	"de": {"der", "die", "das", "und", "nicht", "ich", "ist", "du", "ein", "mit"},
	"es": {"que", "los", "las", "una", "por", "con", "para", "esta", "pero", "como"},
	"fr": {"les", "des", "est", "pas", "que", "une", "pour", "dans", "vous", "avec"},
	"ja": {"です", "ます", "した", "から", "けど", "って", "ない", "する", "こと", "それ"},
}

type qualityCheck struct {
	identical int
	badRatio  int
	stopword  int
}

// QualityWarnings inspects translated lines against their sources and
// returns human-readable warnings.
func QualityWarnings(source, translated []string, sourceLang string) []string {
	if len(source) == 0 || len(source) != len(translated) {
		return nil
	}

	var check qualityCheck
	words := stopwords[NormalizeLanguage(sourceLang)]

	for i := range source {
		src := strings.TrimSpace(source[i])
		dst := strings.TrimSpace(translated[i])
		if src == "" {
			continue
		}
		if strings.EqualFold(src, dst) {
			check.identical++
		}
		ratio := float64(len([]rune(dst))) / float64(len([]rune(src)))
		if ratio < 0.2 || ratio > 3.0 {
			check.badRatio++
		}
		lower := " " + strings.ToLower(dst) + " "
		for _, w := range words {
			if strings.Contains(lower, " "+w+" ") {
				check.stopword++
				break
			}
		}
	}

	var warnings []string
	if float64(check.identical) > 0.5*float64(len(source)) {
		warnings = append(warnings, fmt.Sprintf("%d of %d lines identical to source, output may be untranslated", check.identical, len(source)))
	}
	if check.badRatio > 0 {
		warnings = append(warnings, fmt.Sprintf("%d lines with length ratio outside [0.2, 3.0]", check.badRatio))
	}
	if float64(check.stopword) > 0.3*float64(len(source)) {
		warnings = append(warnings, fmt.Sprintf("%d lines contain %s stopwords", check.stopword, sourceLang))
	}
	return warnings
}

// QualitySidecar is the metadata written next to each translated subtitle.
type QualitySidecar struct {
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	Backend        string    `json:"backend"`
	Score          int       `json:"score"`
	Warnings       []string  `json:"warnings,omitempty"`
	MemoryHits     int       `json:"memoryHits"`
	TranslatedAt   time.Time `json:"translatedAt"`
}

// SidecarPath returns the quality sidecar path for a subtitle file.
func SidecarPath(subtitlePath string) string {
	return subtitlePath + ".quality.json"
}

// WriteSidecar persists quality metadata next to its subtitle.
func WriteSidecar(subtitlePath string, sidecar *QualitySidecar) error {
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(SidecarPath(subtitlePath), data, 0o644)
}

// ReadSidecar loads quality metadata for a subtitle, nil when absent.
func ReadSidecar(subtitlePath string) (*QualitySidecar, error) {
	data, err := os.ReadFile(SidecarPath(subtitlePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sidecar QualitySidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("failed to parse quality sidecar: %w", err)
	}
	return &sidecar, nil
}
