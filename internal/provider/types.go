// Package provider defines the subtitle-provider plugin surface and the
// registry that gates access to each provider.
package provider

import (
	"context"
	"time"
)

// Format is a subtitle container format, ranked for sorting.
type Format string

const (
	FormatASS     Format = "ass"
	FormatSSA     Format = "ssa"
	FormatSRT     Format = "srt"
	FormatVTT     Format = "vtt"
	FormatUnknown Format = "unknown"
)

// Rank orders formats for result sorting. Lower is better.
func (f Format) Rank() int {
	switch f {
	case FormatASS:
		return 0
	case FormatSSA:
		return 1
	case FormatSRT:
		return 2
	case FormatVTT:
		return 3
	default:
		return 4
	}
}

// MatchSignal names one attribute of the query a candidate matched on.
type MatchSignal string

const (
	MatchSeries       MatchSignal = "series"
	MatchSeason       MatchSignal = "season"
	MatchEpisode      MatchSignal = "episode"
	MatchYear         MatchSignal = "year"
	MatchReleaseGroup MatchSignal = "release_group"
	MatchResolution   MatchSignal = "resolution"
	MatchIMDB         MatchSignal = "imdb_id"
	MatchTVDB         MatchSignal = "tvdb_id"
	MatchHash         MatchSignal = "hash"
)

// VideoQuery describes the video a subtitle is wanted for.
type VideoQuery struct {
	FilePath        string   `json:"filePath"`
	Series          string   `json:"series,omitempty"`
	Title           string   `json:"title,omitempty"`
	Season          int      `json:"season,omitempty"`
	Episode         int      `json:"episode,omitempty"`
	Year            int      `json:"year,omitempty"`
	IMDBID          string   `json:"imdbId,omitempty"`
	TVDBID          int64    `json:"tvdbId,omitempty"`
	AniDBID         int64    `json:"anidbId,omitempty"`
	AniListID       int64    `json:"anilistId,omitempty"`
	TMDBID          int64    `json:"tmdbId,omitempty"`
	ReleaseGroup    string   `json:"releaseGroup,omitempty"`
	Resolution      string   `json:"resolution,omitempty"`
	AbsoluteEpisode int      `json:"absoluteEpisode,omitempty"`
	Languages       []string `json:"languages"`
	ForcedOnly      bool     `json:"forcedOnly,omitempty"`
}

// Candidate is one subtitle offered by a provider.
type Candidate struct {
	ProviderName      string                   `json:"providerName"`
	SubtitleID        string                   `json:"subtitleId"`
	Score             int                      `json:"score"`
	Filename          string                   `json:"filename"`
	Language          string                   `json:"language"`
	Format            Format                   `json:"format"`
	ReleaseInfo       string                   `json:"releaseInfo,omitempty"`
	HearingImpaired   bool                     `json:"hearingImpaired"`
	Forced            bool                     `json:"forced"`
	Matches           map[MatchSignal]struct{} `json:"-"`
	MachineTranslated bool                     `json:"machineTranslated"`
	MTConfidence      float64                  `json:"mtConfidence,omitempty"`
	UploaderTrust     float64                  `json:"uploaderTrust,omitempty"`
	ProviderData      map[string]string        `json:"providerData,omitempty"`
}

// HasMatch reports whether the candidate matched on the given signal.
func (c *Candidate) HasMatch(signal MatchSignal) bool {
	_, ok := c.Matches[signal]
	return ok
}

// AddMatch records a match signal.
func (c *Candidate) AddMatch(signal MatchSignal) {
	if c.Matches == nil {
		c.Matches = make(map[MatchSignal]struct{})
	}
	c.Matches[signal] = struct{}{}
}

// Payload is a downloaded subtitle body plus its declared format.
type Payload struct {
	Data     []byte
	Format   Format
	Filename string
}

// SubtitleProvider is implemented by every subtitle source.
type SubtitleProvider interface {
	// Name is the stable identifier used in configuration and stats.
	Name() string
	// DisplayName is the human-readable name.
	DisplayName() string
	// Initialize prepares the provider (login, token refresh). Called once
	// before the first search and again after configuration changes.
	Initialize(ctx context.Context) error
	// Search returns candidates for the query. Implementations set all
	// candidate fields except Score.
	Search(ctx context.Context, query VideoQuery) ([]Candidate, error)
	// Download fetches the subtitle body for a candidate.
	Download(ctx context.Context, candidate Candidate) (*Payload, error)
	// Terminate releases provider resources.
	Terminate(ctx context.Context) error
}

// Settings are per-provider knobs the registry enforces.
type Settings struct {
	Enabled    bool
	Priority   int
	Timeout    time.Duration
	MaxRetries int
}
