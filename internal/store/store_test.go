package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate())
	return New(db.Conn(), zerolog.Nop())
}

func TestUpsertWantedRevivesNonIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.UpsertWanted(ctx, WantedItem{
		FilePath:       "/media/tv/Show/S01E01.mkv",
		TargetLanguage: "de",
		ItemType:       "episode",
		Title:          "Show",
		Season:         1,
		Episode:        1,
	})
	require.NoError(t, err)
	assert.Equal(t, WantedStatusWanted, item.Status)
	assert.Equal(t, SubtitleTypeFull, item.SubtitleType)

	require.NoError(t, s.UpdateWantedStatus(ctx, item.ID, WantedStatusFailed, "no results"))

	// Re-upserting the same tuple revives it and keeps a single row.
	revived, err := s.UpsertWanted(ctx, WantedItem{
		FilePath:       "/media/tv/Show/S01E01.mkv",
		TargetLanguage: "de",
		ItemType:       "episode",
		Title:          "Show",
	})
	require.NoError(t, err)
	assert.Equal(t, item.ID, revived.ID)
	assert.Equal(t, WantedStatusWanted, revived.Status)
}

func TestUpsertWantedKeepsIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.UpsertWanted(ctx, WantedItem{
		FilePath:       "/media/tv/Show/S01E02.mkv",
		TargetLanguage: "de",
		ItemType:       "episode",
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateWantedStatus(ctx, item.ID, WantedStatusIgnored, ""))

	again, err := s.UpsertWanted(ctx, WantedItem{
		FilePath:       "/media/tv/Show/S01E02.mkv",
		TargetLanguage: "de",
		ItemType:       "episode",
	})
	require.NoError(t, err)
	assert.Equal(t, WantedStatusIgnored, again.Status)
}

func TestWantedIdentityIncludesSubtitleType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertWanted(ctx, WantedItem{
		FilePath: "/media/movies/Film.mkv", TargetLanguage: "de", ItemType: "movie",
	})
	require.NoError(t, err)

	_, err = s.UpsertWanted(ctx, WantedItem{
		FilePath: "/media/movies/Film.mkv", TargetLanguage: "de", ItemType: "movie",
		SubtitleType: SubtitleTypeForced,
	})
	require.NoError(t, err)

	items, total, err := s.ListWanted(ctx, WantedFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)
}

func TestListSearchableSkipsBackedOff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh, err := s.UpsertWanted(ctx, WantedItem{
		FilePath: "/media/tv/A/S01E01.mkv", TargetLanguage: "de", ItemType: "episode",
	})
	require.NoError(t, err)

	backed, err := s.UpsertWanted(ctx, WantedItem{
		FilePath: "/media/tv/B/S01E01.mkv", TargetLanguage: "de", ItemType: "episode",
	})
	require.NoError(t, err)

	retry := time.Now().Add(time.Hour)
	require.NoError(t, s.RecordSearchAttempt(ctx, backed.ID, &retry))

	items, err := s.ListSearchable(ctx, 10, 100, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fresh.ID, items[0].ID)
}

func TestJobTransitionsAreForwardOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "job-1", "/media/tv/Show/S01E01.en.ass")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)

	require.NoError(t, s.MarkJobRunning(ctx, "job-1"))
	// Already running, a second transition must fail.
	assert.ErrorIs(t, s.MarkJobRunning(ctx, "job-1"), ErrNotFound)

	require.NoError(t, s.CompleteJob(ctx, "job-1", "/media/tv/Show/S01E01.de.ass", `{"lines":42}`, "abc123"))

	job, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	// Completed jobs cannot fail afterwards.
	assert.ErrorIs(t, s.FailJob(ctx, "job-1", "boom"), ErrNotFound)
	// And cannot requeue, that is reserved for failed jobs.
	assert.ErrorIs(t, s.RequeueJob(ctx, "job-1"), ErrNotFound)
}

func TestListOutdatedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, "job-old", "/a.ass")
	require.NoError(t, err)
	require.NoError(t, s.MarkJobRunning(ctx, "job-old"))
	require.NoError(t, s.CompleteJob(ctx, "job-old", "/a.de.ass", "{}", "hash-v1"))

	_, err = s.CreateJob(ctx, "job-new", "/b.ass")
	require.NoError(t, err)
	require.NoError(t, s.MarkJobRunning(ctx, "job-new"))
	require.NoError(t, s.CompleteJob(ctx, "job-new", "/b.de.ass", "{}", "hash-v2"))

	outdated, err := s.ListOutdatedJobs(ctx, "hash-v2")
	require.NoError(t, err)
	require.Len(t, outdated, 1)
	assert.Equal(t, "job-old", outdated[0].ID)
}

func TestListOutdatedJobsUsesLatestCompletionPerFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// First run under the old configuration.
	_, err := s.CreateJob(ctx, "job-1", "/a.ass")
	require.NoError(t, err)
	require.NoError(t, s.MarkJobRunning(ctx, "job-1"))
	require.NoError(t, s.CompleteJob(ctx, "job-1", "/a.de.ass", "{}", "hash-v1"))

	outdated, err := s.ListOutdatedJobs(ctx, "hash-v2")
	require.NoError(t, err)
	require.Len(t, outdated, 1)

	// Re-translation under the current configuration clears the file.
	_, err = s.CreateJob(ctx, "job-2", "/a.ass")
	require.NoError(t, err)
	require.NoError(t, s.MarkJobRunning(ctx, "job-2"))
	require.NoError(t, s.CompleteJob(ctx, "job-2", "/a.de.ass", "{}", "hash-v2"))

	outdated, err = s.ListOutdatedJobs(ctx, "hash-v2")
	require.NoError(t, err)
	assert.Empty(t, outdated)
}

func TestProviderStatsRunningAverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordProviderSearch(ctx, "opensubtitles", 100))
	require.NoError(t, s.RecordProviderSearch(ctx, "opensubtitles", 300))

	stats, err := s.GetProviderStats(ctx, "opensubtitles")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSearches)
	assert.InDelta(t, 200.0, stats.AvgResponseTimeMs, 0.01)
	assert.Equal(t, int64(300), stats.LastResponseTimeMs)
}

func TestProviderAutoDisableAndRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordProviderFailure(ctx, "addic7ed", true, 3, time.Hour))
	}

	stats, err := s.GetProviderStats(ctx, "addic7ed")
	require.NoError(t, err)
	assert.True(t, stats.AutoDisabled)
	require.NotNil(t, stats.DisabledUntil)
	assert.Equal(t, 3, stats.ConsecutiveFailures)

	// A success clears the disable and the failure streak.
	require.NoError(t, s.RecordProviderSuccess(ctx, "addic7ed", 420))
	stats, err = s.GetProviderStats(ctx, "addic7ed")
	require.NoError(t, err)
	assert.False(t, stats.AutoDisabled)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.InDelta(t, 420.0, stats.AvgScore, 0.01)
}

func TestProviderFailureNotCountingTowardDisable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordProviderFailure(ctx, "embedded", false, 3, time.Hour))
	}

	stats, err := s.GetProviderStats(ctx, "embedded")
	require.NoError(t, err)
	assert.False(t, stats.AutoDisabled)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.Equal(t, int64(5), stats.FailedDownloads)
}

func TestGlossaryMergePrecedenceAndCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateGlossaryEntry(ctx, GlossaryEntry{
		SourceTerm: "Titan", TargetTerm: "Titan (global)",
	})
	require.NoError(t, err)
	_, err = s.CreateGlossaryEntry(ctx, GlossaryEntry{
		SeriesName: "Attack on Titan", SourceTerm: "titan", TargetTerm: "Titan (series)",
	})
	require.NoError(t, err)

	merged, err := s.MergedGlossary(ctx, "Attack on Titan")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	// Series entry wins on a case-folded source term clash.
	assert.Equal(t, "Titan (series)", merged[0].TargetTerm)

	for i := 0; i < 40; i++ {
		_, err := s.CreateGlossaryEntry(ctx, GlossaryEntry{
			SourceTerm: "term-" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			TargetTerm: "x",
		})
		require.NoError(t, err)
	}
	merged, err = s.MergedGlossary(ctx, "Attack on Titan")
	require.NoError(t, err)
	assert.Len(t, merged, 30)
}

func TestTranslationMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LookupMemory(ctx, "en", "de", "Hello there")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.StoreMemory(ctx, "en", "de", "Hello there", "Hallo"))

	// Whitespace and case differences still hit the cache.
	e, err := s.LookupMemory(ctx, "en", "de", "  hello   THERE ")
	require.NoError(t, err)
	assert.Equal(t, "Hallo", e.TargetText)
	assert.Equal(t, 1, e.HitCount)
}

func TestProfileAssignmentFallsBackToDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def, err := s.CreateProfile(ctx, LanguageProfile{
		Name: "Default", SourceLanguage: "en",
		TargetLanguages: []string{"de"},
		FallbackChain:   []string{"openai", "deepl"},
		IsDefault:       true,
	})
	require.NoError(t, err)

	anime, err := s.CreateProfile(ctx, LanguageProfile{
		Name: "Anime", SourceLanguage: "ja",
		TargetLanguages: []string{"de", "en"},
	})
	require.NoError(t, err)

	require.NoError(t, s.AssignProfile(ctx, anime.ID, "series", 7))

	got, err := s.GetAssignedProfile(ctx, "series", 7)
	require.NoError(t, err)
	assert.Equal(t, anime.ID, got.ID)
	assert.Equal(t, []string{"de", "en"}, got.TargetLanguages)

	got, err = s.GetAssignedProfile(ctx, "series", 99)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, []string{"openai", "deepl"}, got.FallbackChain)
}

func TestProviderCacheExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := CacheKey("/media/tv/Show/S01E01.mkv", []string{"de", "en"}, "")
	// Order independent language set.
	assert.Equal(t, key, CacheKey("/media/tv/Show/S01E01.mkv", []string{"en", "de"}, ""))

	require.NoError(t, s.PutProviderCache(ctx, "opensubtitles", key, `[{"id":"1"}]`, time.Minute))

	results, err := s.GetProviderCache(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, results)

	require.NoError(t, s.PutProviderCache(ctx, "opensubtitles", "expired-key", `[]`, -time.Minute))
	_, err = s.GetProviderCache(ctx, "expired-key")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.SweepProviderCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSettingsTypedAccessors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.GetSettingBool(ctx, "missing", true))
	assert.Equal(t, 42, s.GetSettingInt(ctx, "missing", 42))

	require.NoError(t, s.SetSetting(ctx, "wanted.max_attempts", "5"))
	assert.Equal(t, 5, s.GetSettingInt(ctx, "wanted.max_attempts", 10))

	type weights struct {
		Title int `json:"title"`
	}
	require.NoError(t, s.SetSettingJSON(ctx, "scoring.weights", weights{Title: 320}))
	var w weights
	require.NoError(t, s.GetSettingJSON(ctx, "scoring.weights", &w))
	assert.Equal(t, 320, w.Title)
}

func TestTrashBatchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []TrashEntry{
		{OriginalPath: "/media/tv/Show/S01E01.de.srt", TrashedPath: "/media/.sublarr_trash/b1/S01E01.de.srt", SizeBytes: 1234},
	}
	require.NoError(t, s.CreateTrashBatch(ctx, "b1", entries))
	assert.ErrorIs(t, s.CreateTrashBatch(ctx, "b1", entries), ErrConflict)

	batch, err := s.GetTrashBatch(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, batch.Entries, 1)
	assert.Equal(t, entries[0].OriginalPath, batch.Entries[0].OriginalPath)

	require.NoError(t, s.DeleteTrashBatch(ctx, "b1"))
	_, err = s.GetTrashBatch(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadHistoryLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordDownload(ctx, SubtitleDownload{
		VideoPath: "/media/tv/Show/S01E01.mkv", SubtitlePath: "/media/tv/Show/S01E01.de.srt",
		Language: "de", Provider: "opensubtitles", Score: 310, Format: "srt",
	})
	require.NoError(t, err)
	_, err = s.RecordDownload(ctx, SubtitleDownload{
		VideoPath: "/media/tv/Show/S01E01.mkv", SubtitlePath: "/media/tv/Show/S01E01.de.ass",
		Language: "de", Provider: "addic7ed", Score: 450, Format: "ass",
	})
	require.NoError(t, err)

	latest, err := s.LatestDownload(ctx, "/media/tv/Show/S01E01.mkv", "de", false)
	require.NoError(t, err)
	assert.Equal(t, "addic7ed", latest.Provider)
	assert.Equal(t, 450, latest.Score)

	_, err = s.LatestDownload(ctx, "/media/tv/Show/S01E01.mkv", "de", true)
	assert.ErrorIs(t, err, ErrNotFound)
}
