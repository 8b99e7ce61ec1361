package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/provider"
	"github.com/sublarr/sublarr/internal/ratelimit"
	"github.com/sublarr/sublarr/internal/scoring"
	"github.com/sublarr/sublarr/internal/store"
)

type fixture struct {
	store    *store.Store
	registry *provider.Registry
	limiter  *ratelimit.Limiter
	manager  *Manager
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
	m := New(registry, st, scoring.NewDefaultScorer(), limiter, config, zerolog.Nop())

	return &fixture{store: st, registry: registry, limiter: limiter, manager: m}
}

func candidate(id, lang string, format provider.Format, signals ...provider.MatchSignal) provider.Candidate {
	c := provider.Candidate{SubtitleID: id, Language: lang, Format: format, Filename: id + "." + string(format)}
	for _, sig := range signals {
		c.AddMatch(sig)
	}
	return c
}

func TestSearchMergesAndSorts(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 1, RetryBase: time.Millisecond})

	f.registry.Register(provider.NewMock("alpha",
		candidate("a1", "de", provider.FormatSRT, provider.MatchSeries, provider.MatchSeason, provider.MatchEpisode),
	), provider.Settings{Enabled: true, Priority: 60})
	f.registry.Register(provider.NewMock("beta",
		candidate("b1", "de", provider.FormatASS, provider.MatchSeries),
		candidate("b2", "en", provider.FormatSRT, provider.MatchSeries), // filtered: wrong language
	), provider.Settings{Enabled: true, Priority: 40})

	result, err := f.manager.Search(context.Background(), provider.VideoQuery{
		FilePath:  "/media/tv/Show/S01E01.mkv",
		Series:    "Show",
		Languages: []string{"de"},
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)

	// ASS first regardless of score, then the higher-scoring SRT.
	assert.Equal(t, "b1", result.Candidates[0].SubtitleID)
	assert.Equal(t, "a1", result.Candidates[1].SubtitleID)
	assert.Equal(t, 2, result.ProvidersUsed)
}

func TestSearchEmptyProviderList(t *testing.T) {
	f := newFixture(t, Config{})

	result, err := f.manager.Search(context.Background(), provider.VideoQuery{
		FilePath:  "/media/tv/Show/S01E01.mkv",
		Languages: []string{"de"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
}

func TestSearchSkipsDisabledProvider(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 1, RetryBase: time.Millisecond})

	enabled := provider.NewMock("up", candidate("u1", "de", provider.FormatSRT, provider.MatchSeries))
	disabled := provider.NewMock("down", candidate("d1", "de", provider.FormatSRT, provider.MatchSeries))
	f.registry.Register(enabled, provider.Settings{Enabled: true, Priority: 50})
	f.registry.Register(disabled, provider.Settings{Enabled: false, Priority: 90})

	result, err := f.manager.Search(context.Background(), provider.VideoQuery{
		FilePath:  "/media/tv/Show/S01E01.mkv",
		Languages: []string{"de"},
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "u1", result.Candidates[0].SubtitleID)
	assert.Zero(t, disabled.SearchCalls())
}

func TestSearchProviderErrorDoesNotFailFanout(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 1, RetryBase: time.Millisecond})

	good := provider.NewMock("good", candidate("g1", "de", provider.FormatSRT, provider.MatchSeries))
	bad := provider.NewMock("bad")
	bad.SearchErr = provider.NewAuthError("bad", nil)
	f.registry.Register(good, provider.Settings{Enabled: true, Priority: 50})
	f.registry.Register(bad, provider.Settings{Enabled: true, Priority: 50})

	result, err := f.manager.Search(context.Background(), provider.VideoQuery{
		FilePath:  "/media/tv/Show/S01E01.mkv",
		Languages: []string{"de"},
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Contains(t, result.ProviderErrors, "bad")
}

func TestAuthFailuresDoNotAutoDisable(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 0, RetryBase: time.Millisecond})

	locked := provider.NewMock("locked")
	locked.SearchErr = provider.NewAuthError("locked", nil)
	f.registry.Register(locked, provider.Settings{Enabled: true, Priority: 50})

	query := provider.VideoQuery{FilePath: "/media/tv/Show/S01E01.mkv", Languages: []string{"de"}}
	for i := 0; i < 8; i++ {
		_, err := f.manager.Search(context.Background(), query)
		require.NoError(t, err)
	}

	stats, err := f.store.GetProviderStats(context.Background(), "locked")
	require.NoError(t, err)
	assert.False(t, stats.AutoDisabled, "bad credentials must not trip auto-disable")
	assert.Zero(t, stats.ConsecutiveFailures)
}

func TestOutageFailureCountsTowardDisable(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 0, RetryBase: time.Millisecond})

	down := provider.NewMock("down")
	down.SearchErr = provider.NewNetworkError("down", nil)
	f.registry.Register(down, provider.Settings{Enabled: true, Priority: 50})

	query := provider.VideoQuery{FilePath: "/media/tv/Show/S01E01.mkv", Languages: []string{"de"}}
	_, err := f.manager.Search(context.Background(), query)
	require.NoError(t, err)

	stats, err := f.store.GetProviderStats(context.Background(), "down")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
}

func TestFanoutBound(t *testing.T) {
	assert.Equal(t, 15*time.Second, fanoutBound(10*time.Second, 5*time.Second))
	// Unset provider timeouts still yield a finite bound.
	assert.Equal(t, 35*time.Second, fanoutBound(0, 5*time.Second))
	assert.Equal(t, 10*time.Second, fanoutBound(10*time.Second, -time.Second))
}

func TestSearchCacheHitSkipsProviders(t *testing.T) {
	f := newFixture(t, Config{CacheTTL: time.Minute, MaxRetries: 1, RetryBase: time.Millisecond})

	mock := provider.NewMock("cached", candidate("c1", "de", provider.FormatSRT, provider.MatchSeries))
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	query := provider.VideoQuery{FilePath: "/media/tv/Show/S01E01.mkv", Languages: []string{"de"}}

	first, err := f.manager.Search(context.Background(), query)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.Equal(t, 1, mock.SearchCalls())

	second, err := f.manager.Search(context.Background(), query)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, mock.SearchCalls())
	require.Len(t, second.Candidates, 1)
	assert.Equal(t, first.Candidates[0].Score, second.Candidates[0].Score)
}

func TestSearchBlacklistExcludes(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 1, RetryBase: time.Millisecond})

	mock := provider.NewMock("alpha",
		candidate("keep", "de", provider.FormatSRT, provider.MatchSeries),
		candidate("burned", "de", provider.FormatSRT, provider.MatchSeries),
	)
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})
	f.manager.Blacklist("alpha", "burned")

	result, err := f.manager.Search(context.Background(), provider.VideoQuery{
		FilePath:  "/media/tv/Show/S01E01.mkv",
		Languages: []string{"de"},
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "keep", result.Candidates[0].SubtitleID)
}

func TestDownloadExtractsZip(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 1, RetryBase: time.Millisecond})

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Show.S01E01.de.ass")
	require.NoError(t, err)
	_, err = w.Write([]byte("[Script Info]\nTitle: test\n"))
	require.NoError(t, err)
	// A readme must not win over the subtitle.
	w2, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w2.Write([]byte("ignore me"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	mock := provider.NewMock("ziphost", candidate("z1", "de", provider.FormatUnknown))
	mock.Body = buf.Bytes()
	f.registry.Register(mock, provider.Settings{Enabled: true, Priority: 50})

	c := mock.Candidates[0]
	payload, err := f.manager.Download(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, provider.FormatASS, payload.Format)
	assert.Equal(t, "Show.S01E01.de.ass", payload.Filename)
	assert.Contains(t, string(payload.Data), "[Script Info]")
}

func TestSaveWritesLanguageSuffixedFile(t *testing.T) {
	f := newFixture(t, Config{})
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "Show.S01E01.mkv")

	c := candidate("s1", "de", provider.FormatSRT, provider.MatchSeries)
	c.ProviderName = "alpha"
	payload := &provider.Payload{Data: []byte("1\n00:00:01,000 --> 00:00:02,000\nhi\n"), Format: provider.FormatSRT}

	path, err := f.manager.Save(context.Background(), c, payload, videoPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Show.S01E01.de.srt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:01")

	// History row recorded with provenance.
	latest, err := f.store.LatestDownload(context.Background(), videoPath, "de", false)
	require.NoError(t, err)
	assert.Equal(t, "alpha", latest.Provider)

	// Forced tracks carry the marker.
	forced := c
	forced.Forced = true
	path, err = f.manager.Save(context.Background(), forced, payload, videoPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Show.S01E01.de.forced.srt"), path)
}
