package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/breaker"
	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/provider"
	providermgr "github.com/sublarr/sublarr/internal/provider/manager"
	"github.com/sublarr/sublarr/internal/ratelimit"
	"github.com/sublarr/sublarr/internal/scoring"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translation"
	"github.com/sublarr/sublarr/internal/translator"
	"github.com/sublarr/sublarr/internal/wanted"
)

type fakeLibrary struct {
	items []integrations.LibraryItem
	err   error
}

func (f *fakeLibrary) EnumerateLibrary(context.Context) ([]integrations.LibraryItem, error) {
	return f.items, f.err
}

type fixture struct {
	store   *store.Store
	scanner *Scanner
	library *fakeLibrary
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	st := store.New(db.Conn(), zerolog.Nop())
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), zerolog.Nop())
	registry := provider.NewRegistry(st, limiter, zerolog.Nop())
	search := providermgr.New(registry, st, scoring.NewDefaultScorer(), limiter,
		providermgr.Config{MaxRetries: 1, RetryBase: time.Millisecond}, zerolog.Nop())

	brk := breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: time.Second}, zerolog.Nop())
	tm := translation.NewManager(st, brk, zerolog.Nop())
	tm.Register(translation.NewMockBackend("mock"))
	tr := translator.New(tm, nil, nil, zerolog.Nop())

	pipeline := wanted.New(st, search, tr, nil, wanted.DefaultConfig(), zerolog.Nop())

	library := &fakeLibrary{}
	sc := New(st, library, pipeline, nil, config, zerolog.Nop())
	return &fixture{store: st, scanner: sc, library: library}
}

func (f *fixture) defaultProfile(t *testing.T, languages ...string) {
	t.Helper()
	if len(languages) == 0 {
		languages = []string{"de"}
	}
	_, err := f.store.CreateProfile(context.Background(), store.LanguageProfile{
		Name:            "default",
		SourceLanguage:  "en",
		TargetLanguages: languages,
		FallbackChain:   []string{"mock"},
		IsDefault:       true,
	})
	require.NoError(t, err)
}

func makeVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestScanAddsWantedPerLanguage(t *testing.T) {
	f := newFixture(t, Config{})
	f.defaultProfile(t, "de", "fr")

	video := makeVideo(t, "Movie.2022.mkv")
	f.library.items = []integrations.LibraryItem{
		{ItemType: "movie", Title: "Movie", VideoPath: video, MovieID: 7},
	}

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsSeen)
	assert.Equal(t, 2, result.WantedAdded)

	items, total, err := f.store.ListWanted(context.Background(), store.WantedFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, item := range items {
		assert.Equal(t, video, item.FilePath)
		assert.Equal(t, store.WantedStatusWanted, item.Status)
	}
}

func TestScanSkipsSatisfiedLanguages(t *testing.T) {
	f := newFixture(t, Config{})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	assPath := translator.SubtitlePath(video, "de", false, ".ass")
	require.NoError(t, os.WriteFile(assPath, []byte("[Script Info]"), 0o644))

	f.library.items = []integrations.LibraryItem{
		{ItemType: "movie", Title: "Movie", VideoPath: video},
	}

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.WantedAdded)
}

func TestScanMarksSRTAsUpgradeCandidate(t *testing.T) {
	f := newFixture(t, Config{UpgradeDetection: true})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	srtPath := translator.SubtitlePath(video, "de", false, ".srt")
	require.NoError(t, os.WriteFile(srtPath, []byte("1\n"), 0o644))

	f.library.items = []integrations.LibraryItem{
		{ItemType: "movie", Title: "Movie", VideoPath: video},
	}

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.WantedAdded)

	item, err := f.store.GetWantedByKey(context.Background(), video, "de", store.SubtitleTypeFull)
	require.NoError(t, err)
	assert.True(t, item.UpgradeCandidate)
}

func TestRescanRefreshesExistingWantedFields(t *testing.T) {
	f := newFixture(t, Config{UpgradeDetection: true})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	f.library.items = []integrations.LibraryItem{
		{ItemType: "movie", Title: "Movie", VideoPath: video},
	}

	first, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.WantedAdded)

	item, err := f.store.GetWantedByKey(context.Background(), video, "de", store.SubtitleTypeFull)
	require.NoError(t, err)
	assert.False(t, item.UpgradeCandidate)

	// An SRT lands between scans; the second pass must fold the new state
	// into the existing row instead of leaving it untouched.
	srtPath := translator.SubtitlePath(video, "de", false, ".srt")
	require.NoError(t, os.WriteFile(srtPath, []byte("1\n"), 0o644))
	f.library.items[0].Title = "Movie (2022)"

	second, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.WantedKept)
	assert.Zero(t, second.WantedAdded)

	item, err = f.store.GetWantedByKey(context.Background(), video, "de", store.SubtitleTypeFull)
	require.NoError(t, err)
	assert.True(t, item.UpgradeCandidate)
	assert.Equal(t, "Movie (2022)", item.Title)
}

func TestScanKeepsSRTWithoutUpgradeDetection(t *testing.T) {
	f := newFixture(t, Config{UpgradeDetection: false})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	srtPath := translator.SubtitlePath(video, "de", false, ".srt")
	require.NoError(t, os.WriteFile(srtPath, []byte("1\n"), 0o644))

	f.library.items = []integrations.LibraryItem{
		{ItemType: "movie", Title: "Movie", VideoPath: video},
	}

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.WantedAdded)
}

func TestScanWatchedFolder(t *testing.T) {
	f := newFixture(t, Config{})
	f.defaultProfile(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Show.S01E01.1080p.mkv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".sublarr_trash", "b1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".sublarr_trash", "b1", "old.mkv"), []byte("x"), 0o644))

	_, err := f.store.AddWatchedFolder(context.Background(), dir, "episode")
	require.NoError(t, err)

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsSeen, "text files and trashed videos are not library items")
	assert.Equal(t, 1, result.WantedAdded)

	items, _, err := f.store.ListWanted(context.Background(), store.WantedFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Show", items[0].Title)
}

func TestScanPrunesVanishedVideos(t *testing.T) {
	f := newFixture(t, Config{})
	f.defaultProfile(t)

	_, err := f.store.UpsertWanted(context.Background(), store.WantedItem{
		FilePath:       "/media/gone.mkv",
		TargetLanguage: "de",
		SubtitleType:   store.SubtitleTypeFull,
		ItemType:       "movie",
		Title:          "Gone",
		Status:         store.WantedStatusWanted,
	})
	require.NoError(t, err)

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	_, total, err := f.store.ListWanted(context.Background(), store.WantedFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestScanPrunesSatisfiedItems(t *testing.T) {
	f := newFixture(t, Config{})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	_, err := f.store.UpsertWanted(context.Background(), store.WantedItem{
		FilePath:       video,
		TargetLanguage: "de",
		SubtitleType:   store.SubtitleTypeFull,
		ItemType:       "movie",
		Title:          "Movie",
		Status:         store.WantedStatusWanted,
	})
	require.NoError(t, err)

	// Target ASS appears between scans.
	require.NoError(t, os.WriteFile(translator.SubtitlePath(video, "de", false, ".ass"), []byte("[Script Info]"), 0o644))

	result, err := f.scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
}

func TestScanRefusesOverlap(t *testing.T) {
	f := newFixture(t, Config{})
	f.scanner.scanning <- struct{}{}
	defer func() { <-f.scanner.scanning }()

	_, err := f.scanner.Scan(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSearchProcessesDueItems(t *testing.T) {
	f := newFixture(t, Config{Parallelism: 2, ItemPause: 0})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	_, err := f.store.UpsertWanted(context.Background(), store.WantedItem{
		FilePath:       video,
		TargetLanguage: "de",
		SubtitleType:   store.SubtitleTypeFull,
		ItemType:       "movie",
		Title:          "Movie",
		Status:         store.WantedStatusWanted,
	})
	require.NoError(t, err)

	result, err := f.scanner.Search(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	// No providers and no local material: the item backs off but stays
	// wanted.
	item, err := f.store.GetWantedByKey(context.Background(), video, "de", store.SubtitleTypeFull)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusWanted, item.Status)
	assert.Equal(t, 1, item.SearchCount)
	assert.NotNil(t, item.RetryAfter)
}

func TestWebhookPipelinePhases(t *testing.T) {
	f := newFixture(t, Config{})
	f.defaultProfile(t)

	video := makeVideo(t, "Movie.mkv")
	event := &integrations.MediaEvent{
		Source:    "radarr",
		EventType: integrations.WebhookEventDownload,
		ItemType:  "movie",
		Title:     "Movie",
		VideoPath: video,
		MovieID:   9,
	}

	outcome, err := f.scanner.HandleMediaEvent(context.Background(), event,
		WebhookConfig{ScanEnabled: true, SearchEnabled: false, NotifyEnabled: false})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ItemsAdded)

	item, err := f.store.GetWantedByKey(context.Background(), video, "de", store.SubtitleTypeFull)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusWanted, item.Status)
}

func TestWebhookTestEventIsAcknowledged(t *testing.T) {
	f := newFixture(t, Config{})

	event := &integrations.MediaEvent{Source: "sonarr", EventType: integrations.WebhookEventTest}
	outcome, err := f.scanner.HandleMediaEvent(context.Background(), event, DefaultWebhookConfig())
	require.NoError(t, err)
	assert.Zero(t, outcome.ItemsAdded)
}

func TestParseTitle(t *testing.T) {
	cases := map[string]string{
		"Show.S01E01.1080p.BluRay": "Show",
		"Some_Movie_2022_1080p":    "Some Movie",
		"Plain Title":              "Plain Title",
		"Movie.(2021).WEB-DL":      "Movie",
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseTitle(input), input)
	}
}
