package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/translator"
)

// SubtitleInfo describes one subtitle file for API responses.
type SubtitleInfo struct {
	Path         string `json:"path"`
	Language     string `json:"language"`
	Forced       bool   `json:"forced"`
	Format       string `json:"format"`
	SizeBytes    int64  `json:"sizeBytes"`
	QualityScore *int   `json:"qualityScore,omitempty"`
	Backend      string `json:"backend,omitempty"`
}

// ItemView is one library item with its subtitle presence summary.
type ItemView struct {
	integrations.LibraryItem
	Subtitles []SubtitleInfo `json:"subtitles"`
}

// Inventory reads subtitle state off the filesystem for library views and
// exports.
type Inventory struct {
	library LibrarySource
	logger  zerolog.Logger
}

// LibrarySource enumerates library items; satisfied by the integrations
// facade.
type LibrarySource interface {
	EnumerateLibrary(ctx context.Context) ([]integrations.LibraryItem, error)
}

// NewInventory creates the inventory reader. library may be nil for
// standalone setups that query per video path.
func NewInventory(library LibrarySource, logger zerolog.Logger) *Inventory {
	return &Inventory{
		library: library,
		logger:  logger.With().Str("component", "library").Logger(),
	}
}

// SubtitlesFor lists the subtitle files next to one video, enriched with
// quality sidecar data where present.
func SubtitlesFor(videoPath string) []SubtitleInfo {
	subs, err := translator.ListExternalSubtitles(videoPath)
	if err != nil {
		return nil
	}

	infos := make([]SubtitleInfo, 0, len(subs))
	for _, sub := range subs {
		info := SubtitleInfo{
			Path:     sub.Path,
			Language: sub.Language,
			Forced:   sub.Forced,
			Format:   strings.TrimPrefix(filepath.Ext(sub.Path), "."),
		}
		if st, err := os.Stat(sub.Path); err == nil {
			info.SizeBytes = st.Size()
		}
		if sc, err := translator.ReadSidecar(sub.Path); err == nil && sc != nil {
			score := sc.Score
			info.QualityScore = &score
			info.Backend = sc.Backend
		}
		infos = append(infos, info)
	}
	return infos
}

// List returns every library item with its subtitles.
func (inv *Inventory) List(ctx context.Context) ([]ItemView, error) {
	if inv.library == nil {
		return nil, nil
	}
	items, err := inv.library.EnumerateLibrary(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView{
			LibraryItem: item,
			Subtitles:   SubtitlesFor(item.VideoPath),
		})
	}
	return views, nil
}

// SeriesSubtitles returns subtitle state for every episode of one series.
func (inv *Inventory) SeriesSubtitles(ctx context.Context, seriesID int64) ([]ItemView, error) {
	views, err := inv.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []ItemView
	for _, v := range views {
		if v.ItemType == "episode" && v.SeriesID == seriesID {
			out = append(out, v)
		}
	}
	return out, nil
}

// ExportEntries flattens the library into export rows.
func (inv *Inventory) ExportEntries(ctx context.Context) ([]integrations.SubtitleEntry, error) {
	views, err := inv.List(ctx)
	if err != nil {
		return nil, err
	}

	var entries []integrations.SubtitleEntry
	for _, v := range views {
		for _, sub := range v.Subtitles {
			entries = append(entries, integrations.SubtitleEntry{
				VideoPath:    v.VideoPath,
				SubtitlePath: sub.Path,
				Language:     sub.Language,
				Forced:       sub.Forced,
				Format:       sub.Format,
			})
		}
	}
	return entries, nil
}
