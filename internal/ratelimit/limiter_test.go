package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSearchLimit(t *testing.T) {
	l := NewLimiter(Config{
		SearchLimit: 2, SearchPeriod: time.Hour,
		DownloadLimit: 10, DownloadPeriod: time.Hour,
	}, zerolog.Nop())

	assert.False(t, l.CheckSearchLimit("opensubtitles"))
	l.RecordSearch("opensubtitles")
	l.RecordSearch("opensubtitles")
	assert.True(t, l.CheckSearchLimit("opensubtitles"))

	// Other providers have their own budgets.
	assert.False(t, l.CheckSearchLimit("addic7ed"))
}

func TestWindowReset(t *testing.T) {
	l := NewLimiter(Config{
		SearchLimit: 1, SearchPeriod: 20 * time.Millisecond,
		DownloadLimit: 1, DownloadPeriod: 20 * time.Millisecond,
	}, zerolog.Nop())

	l.RecordSearch("opensubtitles")
	assert.True(t, l.CheckSearchLimit("opensubtitles"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, l.CheckSearchLimit("opensubtitles"))
}

func TestDownloadLimitIndependentOfSearch(t *testing.T) {
	l := NewLimiter(Config{
		SearchLimit: 1, SearchPeriod: time.Hour,
		DownloadLimit: 1, DownloadPeriod: time.Hour,
	}, zerolog.Nop())

	l.RecordSearch("addic7ed")
	assert.True(t, l.CheckSearchLimit("addic7ed"))
	assert.False(t, l.CheckDownloadLimit("addic7ed"))

	l.RecordDownload("addic7ed")
	assert.True(t, l.CheckDownloadLimit("addic7ed"))
}

func TestPerProviderOverride(t *testing.T) {
	l := NewLimiter(DefaultConfig(), zerolog.Nop())
	l.SetProviderConfig("addic7ed", Config{
		SearchLimit: 1, SearchPeriod: time.Hour,
		DownloadLimit: 1, DownloadPeriod: time.Hour,
	})

	l.RecordSearch("addic7ed")
	assert.True(t, l.CheckSearchLimit("addic7ed"))

	// Default config still applies elsewhere.
	l.RecordSearch("opensubtitles")
	assert.False(t, l.CheckSearchLimit("opensubtitles"))
}

func TestGetLimitsAndReset(t *testing.T) {
	l := NewLimiter(Config{
		SearchLimit: 5, SearchPeriod: time.Hour,
		DownloadLimit: 2, DownloadPeriod: time.Hour,
	}, zerolog.Nop())

	l.RecordSearch("opensubtitles")
	l.RecordDownload("opensubtitles")
	l.RecordDownload("opensubtitles")

	status := l.GetLimits("opensubtitles")
	assert.Equal(t, 1, status.SearchCount)
	assert.Equal(t, 2, status.DownloadCount)
	assert.False(t, status.SearchLimited)
	assert.True(t, status.DownloadLimited)

	l.Reset("opensubtitles")
	status = l.GetLimits("opensubtitles")
	assert.Zero(t, status.SearchCount)
	assert.Zero(t, status.DownloadCount)
}
