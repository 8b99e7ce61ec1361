package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asticode/go-astisub"
	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/pathutil"
	"github.com/sublarr/sublarr/internal/translator"
)

// ToolResult reports what an in-place tool changed.
type ToolResult struct {
	Path         string `json:"path"`
	BackupPath   string `json:"backupPath"`
	LinesChanged int    `json:"linesChanged"`
	LinesDropped int    `json:"linesDropped"`
}

// Tools mutate one subtitle file at a time, always writing a backup
// sibling first.
type Tools struct {
	mediaRoot string
	logger    zerolog.Logger
}

// NewTools creates the tool runner. Operations outside mediaRoot are
// refused.
func NewTools(mediaRoot string, logger zerolog.Logger) *Tools {
	return &Tools{
		mediaRoot: mediaRoot,
		logger:    logger.With().Str("component", "tools").Logger(),
	}
}

// BackupPath is the sibling a tool writes before mutating:
// `movie.de.srt` backs up to `movie.de.bak.srt`.
func BackupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".bak" + ext
}

func (t *Tools) open(path string) (*astisub.Subtitles, error) {
	if err := pathutil.EnsureWithin(t.mediaRoot, path); err != nil {
		return nil, fmt.Errorf("refusing to modify %s: %w", path, err)
	}
	subs, err := astisub.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open subtitle: %w", err)
	}
	return subs, nil
}

func (t *Tools) backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read subtitle for backup: %w", err)
	}
	backupPath := BackupPath(path)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backupPath, nil
}

func (t *Tools) save(subs *astisub.Subtitles, path string) error {
	if err := subs.Write(path); err != nil {
		return fmt.Errorf("failed to write subtitle: %w", err)
	}
	return nil
}

// RemoveHI strips hearing-impaired annotations from every line, dropping
// lines that end up empty.
func (t *Tools) RemoveHI(path string) (*ToolResult, error) {
	subs, err := t.open(path)
	if err != nil {
		return nil, err
	}
	backupPath, err := t.backup(path)
	if err != nil {
		return nil, err
	}

	result := &ToolResult{Path: path, BackupPath: backupPath}
	var kept []*astisub.Item
	for _, item := range subs.Items {
		changed := false
		var lines []astisub.Line
		for _, line := range item.Lines {
			var items []astisub.LineItem
			for _, li := range line.Items {
				cleaned := translator.StripHearingImpaired(li.Text)
				if cleaned != li.Text {
					changed = true
				}
				if cleaned == "" {
					continue
				}
				li.Text = cleaned
				items = append(items, li)
			}
			if len(items) > 0 {
				line.Items = items
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			result.LinesDropped++
			continue
		}
		if changed {
			result.LinesChanged++
		}
		item.Lines = lines
		kept = append(kept, item)
	}
	subs.Items = kept

	if err := t.save(subs, path); err != nil {
		return nil, err
	}
	t.logger.Info().Str("file", path).Int("changed", result.LinesChanged).Int("dropped", result.LinesDropped).Msg("HI removal complete")
	return result, nil
}

// AdjustTiming shifts every event by the given offset. Negative offsets
// clamp at zero rather than producing negative timestamps.
func (t *Tools) AdjustTiming(path string, offset time.Duration) (*ToolResult, error) {
	subs, err := t.open(path)
	if err != nil {
		return nil, err
	}
	backupPath, err := t.backup(path)
	if err != nil {
		return nil, err
	}

	result := &ToolResult{Path: path, BackupPath: backupPath}
	for _, item := range subs.Items {
		item.StartAt += offset
		item.EndAt += offset
		if item.StartAt < 0 {
			item.StartAt = 0
		}
		if item.EndAt < 0 {
			item.EndAt = 0
		}
		result.LinesChanged++
	}

	if err := t.save(subs, path); err != nil {
		return nil, err
	}
	t.logger.Info().Str("file", path).Dur("offset", offset).Msg("Timing adjusted")
	return result, nil
}

// CommonFixes applies the usual OCR and formatting cleanups: markup
// stripping, whitespace collapse, double-dash ellipses, and empty-event
// removal.
func (t *Tools) CommonFixes(path string) (*ToolResult, error) {
	subs, err := t.open(path)
	if err != nil {
		return nil, err
	}
	backupPath, err := t.backup(path)
	if err != nil {
		return nil, err
	}

	result := &ToolResult{Path: path, BackupPath: backupPath}
	var kept []*astisub.Item
	for _, item := range subs.Items {
		changed := false
		empty := true
		for li := range item.Lines {
			for lj := range item.Lines[li].Items {
				text := item.Lines[li].Items[lj].Text
				fixed := applyCommonFixes(text)
				if fixed != text {
					changed = true
				}
				item.Lines[li].Items[lj].Text = fixed
				if strings.TrimSpace(fixed) != "" {
					empty = false
				}
			}
		}
		if empty {
			result.LinesDropped++
			continue
		}
		if changed {
			result.LinesChanged++
		}
		kept = append(kept, item)
	}
	subs.Items = kept

	if err := t.save(subs, path); err != nil {
		return nil, err
	}
	t.logger.Info().Str("file", path).Int("changed", result.LinesChanged).Msg("Common fixes applied")
	return result, nil
}

func applyCommonFixes(text string) string {
	text = translator.StripMarkup(text)
	text = strings.ReplaceAll(text, "--", "…")
	text = strings.ReplaceAll(text, "|", "I")
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(text)
}

// PreviewLine pairs a line with what a tool would turn it into.
type PreviewLine struct {
	Original string `json:"original"`
	Fixed    string `json:"fixed"`
}

// Preview shows the effect of a tool on the first maxLines lines without
// touching the file.
func (t *Tools) Preview(path, tool string, maxLines int) ([]PreviewLine, error) {
	subs, err := t.open(path)
	if err != nil {
		return nil, err
	}
	if maxLines <= 0 {
		maxLines = 20
	}

	var transform func(string) string
	switch tool {
	case "remove-hi":
		transform = translator.StripHearingImpaired
	case "common-fixes":
		transform = applyCommonFixes
	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}

	var preview []PreviewLine
	for _, item := range subs.Items {
		for _, line := range item.Lines {
			for _, li := range line.Items {
				if len(preview) >= maxLines {
					return preview, nil
				}
				fixed := transform(li.Text)
				if fixed == li.Text {
					continue
				}
				preview = append(preview, PreviewLine{Original: li.Text, Fixed: fixed})
			}
		}
	}
	return preview, nil
}
