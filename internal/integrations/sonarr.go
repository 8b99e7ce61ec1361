package integrations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// SonarrSeries is the subset of the Sonarr series resource Sublarr uses.
type SonarrSeries struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Path   string `json:"path"`
	Year   int    `json:"year"`
	TvdbID int64  `json:"tvdbId"`
	ImdbID string `json:"imdbId"`
}

// SonarrEpisode is one episode row joined with its file.
type SonarrEpisode struct {
	ID            int64  `json:"id"`
	SeriesID      int64  `json:"seriesId"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
	HasFile       bool   `json:"hasFile"`
	EpisodeFileID int64  `json:"episodeFileId"`
}

// SonarrEpisodeFile carries the on-disk path for an episode.
type SonarrEpisodeFile struct {
	ID           int64  `json:"id"`
	SeriesID     int64  `json:"seriesId"`
	SeasonNumber int    `json:"seasonNumber"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	ReleaseGroup string `json:"releaseGroup"`
}

type sonarrStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// SonarrClient talks to a Sonarr v3 instance.
type SonarrClient struct {
	*client
}

// NewSonarrClient creates a Sonarr API client.
func NewSonarrClient(cfg ClientConfig, logger zerolog.Logger) (*SonarrClient, error) {
	c, err := newClient(cfg, "sonarr", logger)
	if err != nil {
		return nil, err
	}
	return &SonarrClient{client: c}, nil
}

// Ping verifies connectivity and credentials.
func (c *SonarrClient) Ping(ctx context.Context) error {
	var status sonarrStatus
	if err := c.getJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return fmt.Errorf("sonarr unreachable: %w", err)
	}
	return nil
}

// Version returns the reported Sonarr version.
func (c *SonarrClient) Version(ctx context.Context) (string, error) {
	var status sonarrStatus
	if err := c.getJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return "", err
	}
	return status.Version, nil
}

// ListSeries returns all series known to Sonarr.
func (c *SonarrClient) ListSeries(ctx context.Context) ([]SonarrSeries, error) {
	var series []SonarrSeries
	if err := c.getJSON(ctx, "/api/v3/series", &series); err != nil {
		return nil, err
	}
	return series, nil
}

// ListEpisodes returns all episodes for a series.
func (c *SonarrClient) ListEpisodes(ctx context.Context, seriesID int64) ([]SonarrEpisode, error) {
	var episodes []SonarrEpisode
	path := fmt.Sprintf("/api/v3/episode?seriesId=%d", seriesID)
	if err := c.getJSON(ctx, path, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// ListEpisodeFiles returns the on-disk files for a series.
func (c *SonarrClient) ListEpisodeFiles(ctx context.Context, seriesID int64) ([]SonarrEpisodeFile, error) {
	var files []SonarrEpisodeFile
	path := fmt.Sprintf("/api/v3/episodefile?seriesId=%d", seriesID)
	if err := c.getJSON(ctx, path, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// RescanSeries asks Sonarr to rescan a series folder so a freshly written
// subtitle shows up in its UI.
func (c *SonarrClient) RescanSeries(ctx context.Context, seriesID int64) error {
	payload := map[string]any{
		"name":     "RescanSeries",
		"seriesId": seriesID,
	}
	if err := c.postJSON(ctx, "/api/v3/command", payload); err != nil {
		return fmt.Errorf("sonarr rescan failed: %w", err)
	}
	c.logger.Debug().Int64("seriesId", seriesID).Msg("Requested series rescan")
	return nil
}
