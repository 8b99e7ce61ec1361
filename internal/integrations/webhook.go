package integrations

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Webhook event types that trigger work. Everything else is acknowledged
// and ignored.
const (
	WebhookEventDownload = "Download"
	WebhookEventTest     = "Test"
)

// MediaEvent is the normalized form of a library-manager webhook.
type MediaEvent struct {
	Source    string `json:"source"` // sonarr, radarr
	EventType string `json:"eventType"`
	ItemType  string `json:"itemType"` // episode, movie
	VideoPath string `json:"videoPath,omitempty"`
	Title     string `json:"title"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
	SeriesID  int64  `json:"seriesId,omitempty"`
	MovieID   int64  `json:"movieId,omitempty"`
	Year      int    `json:"year,omitempty"`
}

// IsTest reports whether this is a connectivity test from the sender.
func (e *MediaEvent) IsTest() bool {
	return e.EventType == WebhookEventTest
}

type sonarrWebhook struct {
	EventType string `json:"eventType"`
	Series    struct {
		ID     int64  `json:"id"`
		Title  string `json:"title"`
		Path   string `json:"path"`
		Year   int    `json:"year"`
		TvdbID int64  `json:"tvdbId"`
	} `json:"series"`
	Episodes []struct {
		SeasonNumber  int    `json:"seasonNumber"`
		EpisodeNumber int    `json:"episodeNumber"`
		Title         string `json:"title"`
	} `json:"episodes"`
	EpisodeFile struct {
		Path         string `json:"path"`
		RelativePath string `json:"relativePath"`
	} `json:"episodeFile"`
}

type radarrWebhook struct {
	EventType string `json:"eventType"`
	Movie     struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Year       int    `json:"year"`
		FolderPath string `json:"folderPath"`
		TmdbID     int64  `json:"tmdbId"`
	} `json:"movie"`
	MovieFile struct {
		Path         string `json:"path"`
		RelativePath string `json:"relativePath"`
	} `json:"movieFile"`
}

// ParseSonarrWebhook decodes a Sonarr webhook payload. Returns nil for event
// types other than Download and Test.
func ParseSonarrWebhook(body []byte) (*MediaEvent, error) {
	var payload sonarrWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid sonarr webhook payload: %w", err)
	}
	if payload.EventType != WebhookEventDownload && payload.EventType != WebhookEventTest {
		return nil, nil
	}

	event := &MediaEvent{
		Source:    "sonarr",
		EventType: payload.EventType,
		ItemType:  "episode",
		Title:     payload.Series.Title,
		SeriesID:  payload.Series.ID,
		Year:      payload.Series.Year,
		VideoPath: resolveWebhookPath(payload.EpisodeFile.Path, payload.Series.Path, payload.EpisodeFile.RelativePath),
	}
	if len(payload.Episodes) > 0 {
		event.Season = payload.Episodes[0].SeasonNumber
		event.Episode = payload.Episodes[0].EpisodeNumber
	}
	return event, nil
}

// ParseRadarrWebhook decodes a Radarr webhook payload. Returns nil for event
// types other than Download and Test.
func ParseRadarrWebhook(body []byte) (*MediaEvent, error) {
	var payload radarrWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid radarr webhook payload: %w", err)
	}
	if payload.EventType != WebhookEventDownload && payload.EventType != WebhookEventTest {
		return nil, nil
	}

	return &MediaEvent{
		Source:    "radarr",
		EventType: payload.EventType,
		ItemType:  "movie",
		Title:     payload.Movie.Title,
		MovieID:   payload.Movie.ID,
		Year:      payload.Movie.Year,
		VideoPath: resolveWebhookPath(payload.MovieFile.Path, payload.Movie.FolderPath, payload.MovieFile.RelativePath),
	}, nil
}

// resolveWebhookPath prefers the absolute file path; older payloads only
// carry the folder plus a relative path.
func resolveWebhookPath(absolute, folder, relative string) string {
	if absolute != "" {
		return absolute
	}
	if folder != "" && relative != "" {
		return filepath.Join(folder, strings.TrimPrefix(relative, "/"))
	}
	return ""
}
