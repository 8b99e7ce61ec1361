package wanted

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
	"github.com/sublarr/sublarr/internal/provider"
	providermgr "github.com/sublarr/sublarr/internal/provider/manager"
	"github.com/sublarr/sublarr/internal/ratelimit"
	"github.com/sublarr/sublarr/internal/scoring"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translation"
	"github.com/sublarr/sublarr/internal/translator"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,000
Hello there.

2
00:00:04,000 --> 00:00:06,000
Goodbye.
`

type fixture struct {
	store    *store.Store
	registry *provider.Registry
	backend  *translation.MockBackend
	pipeline *Pipeline
}

func newFixture(t *testing.T, config Config) *fixture {
	return newFixtureWithQueue(t, config, nil)
}

func newFixtureWithQueue(t *testing.T, config Config, queue translator.TranscriptionQueue) *fixture {
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
	backend := translation.NewMockBackend("mock")
	tm.Register(backend)
	tr := translator.New(tm, nil, queue, zerolog.Nop())

	if config.MaxSearchAttempts == 0 {
		config = DefaultConfig()
		config.SourceLanguage = "en"
	}
	p := New(st, search, tr, nil, config, zerolog.Nop())
	return &fixture{store: st, registry: registry, backend: backend, pipeline: p}
}

func (f *fixture) wantedItem(t *testing.T, videoPath string, subType store.SubtitleType) *store.WantedItem {
	t.Helper()
	item, err := f.store.UpsertWanted(context.Background(), store.WantedItem{
		FilePath:       videoPath,
		TargetLanguage: "de",
		SubtitleType:   subType,
		ItemType:       "movie",
		Title:          "Some Movie",
	})
	require.NoError(t, err)
	return item
}

func makeVideo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

// Profile-free items need a default chain so translation steps can run.
func (f *fixture) setDefaultProfile(t *testing.T) {
	t.Helper()
	_, err := f.store.CreateProfile(context.Background(), store.LanguageProfile{
		Name:            "default",
		SourceLanguage:  "en",
		TargetLanguages: []string{"de"},
		FallbackChain:   []string{"mock"},
		IsDefault:       true,
	})
	require.NoError(t, err)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Now()

	assert.Equal(t, now.Add(4*time.Hour), f.pipeline.Backoff(1, now))
	assert.Equal(t, now.Add(8*time.Hour), f.pipeline.Backoff(2, now))
	assert.Equal(t, now.Add(16*time.Hour), f.pipeline.Backoff(3, now))
	assert.Equal(t, now.Add(168*time.Hour), f.pipeline.Backoff(10, now))
}

func TestProcessRefusesAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, Config{})
	mock := provider.NewMock("untouched")
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	video := makeVideo(t)
	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	item.SearchCount = 5

	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusFailed, result.Status)
	assert.Zero(t, mock.SearchCalls(), "exhausted items must not contact providers")

	stored, err := f.store.GetWanted(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusFailed, stored.Status)
}

func TestProcessFailsWhenVideoMissing(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.wantedItem(t, "/nonexistent/Movie.mkv", store.SubtitleTypeFull)

	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusFailed, result.Status)
}

func TestProcessDirectTargetASS(t *testing.T) {
	f := newFixture(t, Config{})
	video := makeVideo(t)

	c := provider.Candidate{SubtitleID: "a1", Language: "de", Format: provider.FormatASS, Filename: "a1.ass"}
	c.AddMatch(provider.MatchSeries)
	mock := provider.NewMock("alpha", c)
	mock.Body = []byte("[Script Info]\nTitle: x\n\n[Events]\n")
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, store.WantedStatusFound, result.Status)
	assert.Equal(t, "alpha", result.Provider)
	assert.FileExists(t, translator.SubtitlePath(video, "de", false, ".ass"))
	assert.Zero(t, f.backend.Calls(), "direct downloads need no translation")

	stored, err := f.store.GetWanted(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusFound, stored.Status)
	assert.Equal(t, 1, stored.SearchCount)
}

func TestProcessTranslatesSourceSRT(t *testing.T) {
	f := newFixture(t, Config{SkipSRTOnNoASS: false, MaxSearchAttempts: 5, BackoffBaseHours: 1, BackoffCapHours: 4, SourceLanguage: "en", DownloadTries: 3})
	f.setDefaultProfile(t)
	video := makeVideo(t)

	c := provider.Candidate{SubtitleID: "s1", Language: "en", Format: provider.FormatSRT, Filename: "s1.srt"}
	c.AddMatch(provider.MatchSeries)
	mock := provider.NewMock("srthost", c)
	mock.Body = []byte(sampleSRT)
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	require.Equal(t, store.WantedStatusFound, result.Status)
	assert.Contains(t, result.Source, "translated")

	data, err := os.ReadFile(translator.SubtitlePath(video, "de", false, ".srt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "de:Hello there.")

	// Provenance row carries the provider.
	latest, err := f.store.LatestDownload(context.Background(), video, "de", false)
	require.NoError(t, err)
	assert.Equal(t, "srthost", latest.Provider)
}

func TestProcessSkipsSRTStepsWhenNoASSAnywhere(t *testing.T) {
	f := newFixture(t, Config{SkipSRTOnNoASS: true, MaxSearchAttempts: 5, BackoffBaseHours: 1, BackoffCapHours: 4, SourceLanguage: "en", DownloadTries: 3})
	video := makeVideo(t)

	c := provider.Candidate{SubtitleID: "s1", Language: "en", Format: provider.FormatSRT, Filename: "s1.srt"}
	c.AddMatch(provider.MatchSeries)
	mock := provider.NewMock("srthost", c)
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, store.WantedStatusWanted, result.Status)
	assert.Zero(t, mock.DownloadCalls(), "SRT candidates must not be fetched when no ASS exists anywhere")
	require.NotNil(t, result.RetryAfter)

	stored, err := f.store.GetWanted(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SearchCount)
	require.NotNil(t, stored.RetryAfter)
}

func TestProcessForcedDownloadOnly(t *testing.T) {
	f := newFixture(t, Config{})
	video := makeVideo(t)

	c := provider.Candidate{SubtitleID: "f1", Language: "de", Format: provider.FormatSRT, Forced: true, Filename: "f1.srt"}
	c.AddMatch(provider.MatchSeries)
	mock := provider.NewMock("forcedhost", c)
	mock.Body = []byte(sampleSRT)
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	item := f.wantedItem(t, video, store.SubtitleTypeForced)
	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, store.WantedStatusFound, result.Status)
	assert.FileExists(t, translator.SubtitlePath(video, "de", true, ".srt"))
	assert.Zero(t, f.backend.Calls(), "forced mode never translates")
}

func TestProcessForcedFailsWhenNothingFound(t *testing.T) {
	f := newFixture(t, Config{})
	video := makeVideo(t)

	item := f.wantedItem(t, video, store.SubtitleTypeForced)
	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusFailed, result.Status)
}

type stubTranscriptionQueue struct {
	calls int
}

func (q *stubTranscriptionQueue) EnqueueTranscription(context.Context, string, string, string) (string, error) {
	q.calls++
	return "job-1", nil
}

func TestProcessParksItemWhileTranscribing(t *testing.T) {
	queue := &stubTranscriptionQueue{}
	f := newFixtureWithQueue(t, Config{
		MaxSearchAttempts: 5, BackoffBaseHours: 1, BackoffCapHours: 4,
		SourceLanguage: "en", DownloadTries: 3, Transcription: true,
	}, queue)
	f.setDefaultProfile(t)
	video := makeVideo(t)

	// No providers, no local material: the waterfall falls through to ASR.
	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, store.WantedStatusSearching, result.Status)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, 1, queue.calls)

	// The item holds the searching status until the transcript lands.
	stored, err := f.store.GetWanted(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusSearching, stored.Status)
}

func TestFinishTranscriptionSettlesParkedItem(t *testing.T) {
	queue := &stubTranscriptionQueue{}
	f := newFixtureWithQueue(t, Config{
		MaxSearchAttempts: 5, BackoffBaseHours: 1, BackoffCapHours: 4,
		SourceLanguage: "en", DownloadTries: 3, Transcription: true,
	}, queue)
	f.setDefaultProfile(t)
	video := makeVideo(t)

	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	_, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	// The ASR worker drops the source SRT next to the video.
	srcPath := translator.SubtitlePath(video, "en", false, ".srt")
	require.NoError(t, os.WriteFile(srcPath, []byte(sampleSRT), 0o644))

	require.NoError(t, f.pipeline.FinishTranscription(context.Background(), video, "en", "de"))

	stored, err := f.store.GetWanted(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusFound, stored.Status)

	data, err := os.ReadFile(translator.SubtitlePath(video, "de", false, ".srt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "de:Hello there.")
}

func TestProcessIgnoredItemUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	video := makeVideo(t)
	item := f.wantedItem(t, video, store.SubtitleTypeFull)
	item.Status = store.WantedStatusIgnored

	result, err := f.pipeline.Process(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, store.WantedStatusIgnored, result.Status)

	stored, err := f.store.GetWanted(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.SearchCount)
}
