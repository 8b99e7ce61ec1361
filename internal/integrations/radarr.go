package integrations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// RadarrMovie is the subset of the Radarr movie resource Sublarr uses.
type RadarrMovie struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	Year      int              `json:"year"`
	Path      string           `json:"path"`
	TmdbID    int64            `json:"tmdbId"`
	ImdbID    string           `json:"imdbId"`
	HasFile   bool             `json:"hasFile"`
	MovieFile *RadarrMovieFile `json:"movieFile,omitempty"`
}

// RadarrMovieFile carries the on-disk path for a movie.
type RadarrMovieFile struct {
	ID           int64  `json:"id"`
	MovieID      int64  `json:"movieId"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	ReleaseGroup string `json:"releaseGroup"`
}

type radarrStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// RadarrClient talks to a Radarr v3 instance.
type RadarrClient struct {
	*client
}

// NewRadarrClient creates a Radarr API client.
func NewRadarrClient(cfg ClientConfig, logger zerolog.Logger) (*RadarrClient, error) {
	c, err := newClient(cfg, "radarr", logger)
	if err != nil {
		return nil, err
	}
	return &RadarrClient{client: c}, nil
}

// Ping verifies connectivity and credentials.
func (c *RadarrClient) Ping(ctx context.Context) error {
	var status radarrStatus
	if err := c.getJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return fmt.Errorf("radarr unreachable: %w", err)
	}
	return nil
}

// Version returns the reported Radarr version.
func (c *RadarrClient) Version(ctx context.Context) (string, error) {
	var status radarrStatus
	if err := c.getJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return "", err
	}
	return status.Version, nil
}

// ListMovies returns all movies known to Radarr.
func (c *RadarrClient) ListMovies(ctx context.Context) ([]RadarrMovie, error) {
	var movies []RadarrMovie
	if err := c.getJSON(ctx, "/api/v3/movie", &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// RescanMovie asks Radarr to rescan a movie folder.
func (c *RadarrClient) RescanMovie(ctx context.Context, movieID int64) error {
	payload := map[string]any{
		"name":     "RescanMovie",
		"movieIds": []int64{movieID},
	}
	if err := c.postJSON(ctx, "/api/v3/command", payload); err != nil {
		return fmt.Errorf("radarr rescan failed: %w", err)
	}
	c.logger.Debug().Int64("movieId", movieID).Msg("Requested movie rescan")
	return nil
}
