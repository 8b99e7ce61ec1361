// Package scanner keeps the wanted list in sync with the library. A scan
// pass enumerates every video, decides per target language whether a
// subtitle is still missing, and upserts wanted items; a search pass feeds
// due items through the wanted pipeline.
package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translator"
	"github.com/sublarr/sublarr/internal/wanted"
	"github.com/sublarr/sublarr/internal/websocket"
)

var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".m4v":  true,
	".mov":  true,
	".ts":   true,
	".webm": true,
	".wmv":  true,
}

// IsVideoFile reports whether the file name has a known video extension.
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Config tunes the two loops.
type Config struct {
	ScanInterval     time.Duration // zero disables the scan loop
	SearchInterval   time.Duration // zero disables the search loop
	ScanOnStart      bool
	SearchOnStart    bool
	MaxItemsPerRun   int
	Parallelism      int
	ItemPause        time.Duration // rate-shaping pause between searched items
	MinSearchAge     time.Duration // advisory minimum between searches of one item
	MaxAttempts      int
	UpgradeDetection bool
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:   6 * time.Hour,
		SearchInterval: time.Hour,
		MaxItemsPerRun: 50,
		Parallelism:    3,
		ItemPause:      2 * time.Second,
		MinSearchAge:   time.Hour,
		MaxAttempts:    5,
	}
}

// LibrarySource enumerates the videos an external manager owns. Satisfied
// by the integrations facade.
type LibrarySource interface {
	EnumerateLibrary(ctx context.Context) ([]integrations.LibraryItem, error)
}

// Broadcaster pushes progress events to connected clients.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{}) error
}

// Scanner owns the scan and search loops. Both are guarded by non-blocking
// locks so overlapping invocations refuse instead of queueing.
type Scanner struct {
	store    *store.Store
	library  LibrarySource
	pipeline *wanted.Pipeline
	hub      Broadcaster
	config   Config
	logger   zerolog.Logger

	scanning  chan struct{}
	searching chan struct{}
}

// New creates a scanner. library and hub may be nil.
func New(st *store.Store, library LibrarySource, pipeline *wanted.Pipeline, hub Broadcaster, config Config, logger zerolog.Logger) *Scanner {
	if config.MaxItemsPerRun <= 0 {
		config.MaxItemsPerRun = DefaultConfig().MaxItemsPerRun
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultConfig().Parallelism
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	s := &Scanner{
		store:     st,
		library:   library,
		pipeline:  pipeline,
		hub:       hub,
		config:    config,
		logger:    logger.With().Str("component", "scanner").Logger(),
		scanning:  make(chan struct{}, 1),
		searching: make(chan struct{}, 1),
	}
	return s
}

// ErrBusy reports that a loop invocation was refused because a previous one
// is still running.
var ErrBusy = errors.New("scanner: previous run still in progress")

// ScanResult summarizes one scan pass.
type ScanResult struct {
	ItemsSeen    int   `json:"itemsSeen"`
	WantedAdded  int   `json:"wantedAdded"`
	WantedKept   int   `json:"wantedKept"`
	Removed      int   `json:"removed"`
	SkippedFiles int   `json:"skippedFiles"`
	DurationMs   int64 `json:"durationMs"`
}

// Scan runs one library pass. Returns store.ErrConflict-free; a concurrent
// scan yields ErrBusy.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	select {
	case s.scanning <- struct{}{}:
		defer func() { <-s.scanning }()
	default:
		return nil, ErrBusy
	}

	start := time.Now()
	result := &ScanResult{}

	items, err := s.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := os.Stat(item.VideoPath); err != nil {
			result.SkippedFiles++
			continue
		}
		seen[item.VideoPath] = true
		result.ItemsSeen++
		s.scanItem(ctx, item, result)
	}

	removed, err := s.prune(ctx, seen)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Wanted pruning failed")
	}
	result.Removed = removed
	result.DurationMs = time.Since(start).Milliseconds()

	s.broadcast(websocket.EventScanComplete, result)
	s.logger.Info().
		Int("seen", result.ItemsSeen).
		Int("added", result.WantedAdded).
		Int("removed", result.Removed).
		Int64("ms", result.DurationMs).
		Msg("Scan complete")
	return result, nil
}

// enumerate merges manager libraries with watched folders.
func (s *Scanner) enumerate(ctx context.Context) ([]integrations.LibraryItem, error) {
	var items []integrations.LibraryItem
	if s.library != nil {
		managed, err := s.library.EnumerateLibrary(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, managed...)
	}

	folders, err := s.store.ListWatchedFolders(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, folder := range folders {
		found, err := s.walkFolder(folder)
		if err != nil {
			s.logger.Warn().Err(err).Str("folder", folder.Path).Msg("Watched folder walk failed")
			continue
		}
		items = append(items, found...)
	}
	return items, nil
}

func (s *Scanner) walkFolder(folder *store.WatchedFolder) ([]integrations.LibraryItem, error) {
	var items []integrations.LibraryItem
	err := filepath.WalkDir(folder.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// The trash tree holds soft-deleted files, never library input.
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsVideoFile(path) {
			return nil
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		items = append(items, integrations.LibraryItem{
			ItemType:  folder.ItemType,
			Title:     ParseTitle(base),
			VideoPath: path,
		})
		return nil
	})
	return items, err
}

// ParseTitle strips release decorations from a file name, keeping the part
// before the first year or SxxEyy marker.
func ParseTitle(base string) string {
	cleaned := strings.NewReplacer(".", " ", "_", " ").Replace(base)
	fields := strings.Fields(cleaned)
	var kept []string
	for _, f := range fields {
		if isYear(f) || isEpisodeMarker(f) {
			break
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return cleaned
	}
	return strings.Join(kept, " ")
}

func isYear(s string) bool {
	s = strings.Trim(s, "()[]")
	if len(s) != 4 {
		return false
	}
	return s >= "1900" && s <= "2099" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}

func isEpisodeMarker(s string) bool {
	if len(s) < 6 {
		return false
	}
	upper := strings.ToUpper(s)
	return upper[0] == 'S' && strings.Contains(upper, "E") && strings.IndexFunc(upper[1:3], func(r rune) bool { return r < '0' || r > '9' }) == -1
}

// scanItem upserts wanted rows for each missing target language of one
// video.
func (s *Scanner) scanItem(ctx context.Context, item integrations.LibraryItem, result *ScanResult) {
	profile := s.effectiveProfile(ctx, item)
	if profile == nil || len(profile.TargetLanguages) == 0 {
		return
	}

	for _, lang := range profile.TargetLanguages {
		s.scanLanguage(ctx, item, profile, lang, result)
	}
	if profile.ForcedPreference == store.ForcedRequire {
		s.scanForced(ctx, item, profile, result)
	}
}

func (s *Scanner) effectiveProfile(ctx context.Context, item integrations.LibraryItem) *store.LanguageProfile {
	itemID := item.SeriesID
	if item.ItemType == "movie" {
		itemID = item.MovieID
	}
	if profile, err := s.store.GetAssignedProfile(ctx, item.ItemType, itemID); err == nil {
		return profile
	}
	profile, err := s.store.GetDefaultProfile(ctx)
	if err != nil {
		return nil
	}
	return profile
}

func (s *Scanner) scanLanguage(ctx context.Context, item integrations.LibraryItem, profile *store.LanguageProfile, lang string, result *ScanResult) {
	existing, err := translator.FindExternalSubtitle(item.VideoPath, lang, false)
	if err != nil {
		s.logger.Warn().Err(err).Str("video", item.VideoPath).Msg("Subtitle detection failed")
		return
	}

	// A target ASS satisfies the item outright. An SRT satisfies it unless
	// upgrade detection should keep hunting for an ASS.
	upgradeCandidate := false
	currentScore := 0
	if existing != nil {
		if existing.IsASS || !s.config.UpgradeDetection {
			return
		}
		upgradeCandidate = true
		if dl, err := s.store.LatestDownload(ctx, item.VideoPath, lang, false); err == nil {
			currentScore = dl.Score
		}
	}

	wantedItem := store.WantedItem{
		FilePath:         item.VideoPath,
		TargetLanguage:   lang,
		SubtitleType:     store.SubtitleTypeFull,
		ItemType:         item.ItemType,
		Title:            item.Title,
		Season:           item.Season,
		Episode:          item.Episode,
		UpgradeCandidate: upgradeCandidate,
		CurrentScore:     currentScore,
		Status:           store.WantedStatusWanted,
	}
	if item.SeriesID != 0 {
		wantedItem.SeriesID = &item.SeriesID
	}
	if item.MovieID != 0 {
		wantedItem.ExternalID = &item.MovieID
	}

	// The upsert always runs so a rescan refreshes descriptive fields and
	// upgrade tracking; existence only decides the kept/added counters.
	_, lookupErr := s.store.GetWantedByKey(ctx, item.VideoPath, lang, store.SubtitleTypeFull)
	if _, err := s.store.UpsertWanted(ctx, wantedItem); err != nil {
		s.logger.Warn().Err(err).Str("video", item.VideoPath).Str("lang", lang).Msg("Wanted upsert failed")
		return
	}
	if lookupErr == nil {
		result.WantedKept++
	} else {
		result.WantedAdded++
	}
}

func (s *Scanner) scanForced(ctx context.Context, item integrations.LibraryItem, profile *store.LanguageProfile, result *ScanResult) {
	for _, lang := range profile.TargetLanguages {
		existing, err := translator.FindExternalSubtitle(item.VideoPath, lang, true)
		if err != nil || existing != nil {
			continue
		}
		wantedItem := store.WantedItem{
			FilePath:       item.VideoPath,
			TargetLanguage: lang,
			SubtitleType:   store.SubtitleTypeForced,
			ItemType:       item.ItemType,
			Title:          item.Title,
			Season:         item.Season,
			Episode:        item.Episode,
			Status:         store.WantedStatusWanted,
		}
		if item.SeriesID != 0 {
			wantedItem.SeriesID = &item.SeriesID
		}
		if item.MovieID != 0 {
			wantedItem.ExternalID = &item.MovieID
		}
		_, lookupErr := s.store.GetWantedByKey(ctx, item.VideoPath, lang, store.SubtitleTypeForced)
		if _, err := s.store.UpsertWanted(ctx, wantedItem); err != nil {
			continue
		}
		if lookupErr == nil {
			result.WantedKept++
		} else {
			result.WantedAdded++
		}
	}
}

// prune removes wanted rows whose video vanished, whose target ASS appeared,
// or whose owner is no longer enumerated. The ownership check only applies
// when enumeration saw anything at all, so a manager outage does not wipe
// the wanted list.
func (s *Scanner) prune(ctx context.Context, seen map[string]bool) (int, error) {
	items, _, err := s.store.ListWanted(ctx, store.WantedFilter{})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, item := range items {
		drop := false
		switch {
		case fileMissing(item.FilePath):
			drop = true
		case len(seen) > 0 && !seen[item.FilePath]:
			drop = true
		case item.SubtitleType == store.SubtitleTypeFull:
			if sub, err := translator.FindExternalSubtitle(item.FilePath, item.TargetLanguage, false); err == nil && sub != nil && sub.IsASS {
				drop = true
			}
		}
		if !drop {
			continue
		}
		if err := s.store.DeleteWanted(ctx, item.ID); err == nil {
			removed++
		}
	}
	return removed, nil
}

func fileMissing(path string) bool {
	_, err := os.Stat(path)
	return err != nil
}

// SearchResult summarizes one search pass.
type SearchResult struct {
	Processed  int   `json:"processed"`
	Found      int   `json:"found"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"durationMs"`
}

// Search runs one pass over due wanted items with bounded parallelism.
func (s *Scanner) Search(ctx context.Context) (*SearchResult, error) {
	select {
	case s.searching <- struct{}{}:
		defer func() { <-s.searching }()
	default:
		return nil, ErrBusy
	}

	start := time.Now()
	items, err := s.store.ListSearchable(ctx, s.config.MaxAttempts, s.config.MaxItemsPerRun, s.config.MinSearchAge)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)

	results := make(chan store.WantedStatus, len(items))
	for i, item := range items {
		if i > 0 && s.config.ItemPause > 0 {
			select {
			case <-time.After(s.config.ItemPause):
			case <-gctx.Done():
			}
		}
		g.Go(func() error {
			res, err := s.pipeline.Process(gctx, item)
			if err != nil {
				s.logger.Warn().Err(err).Int64("id", item.ID).Msg("Search processing failed")
				results <- store.WantedStatusWanted
				return nil
			}
			results <- res.Status
			s.broadcast(websocket.EventWantedSearchProgress, map[string]any{
				"id":     item.ID,
				"file":   item.FilePath,
				"status": res.Status,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	for status := range results {
		result.Processed++
		switch status {
		case store.WantedStatusFound:
			result.Found++
		case store.WantedStatusFailed:
			result.Failed++
		}
	}
	result.DurationMs = time.Since(start).Milliseconds()

	s.broadcast(websocket.EventWantedScanCompleted, result)
	s.logger.Info().
		Int("processed", result.Processed).
		Int("found", result.Found).
		Int("failed", result.Failed).
		Msg("Search pass complete")
	return result, nil
}

func (s *Scanner) broadcast(event string, payload any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Broadcast(event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("Broadcast failed")
	}
}
