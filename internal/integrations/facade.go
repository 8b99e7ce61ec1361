package integrations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/store"
)

// LibraryItem is one video the scanner should consider, normalized across
// Sonarr episodes and Radarr movies.
type LibraryItem struct {
	ItemType  string `json:"itemType"` // episode, movie
	Title     string `json:"title"`
	VideoPath string `json:"videoPath"`
	Season    int    `json:"season,omitempty"`
	Episode   int    `json:"episode,omitempty"`
	SeriesID  int64  `json:"seriesId,omitempty"`
	MovieID   int64  `json:"movieId,omitempty"`
	Year      int    `json:"year,omitempty"`
}

// IntegrationStatus reports reachability of one external service.
type IntegrationStatus struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Reachable bool   `json:"reachable"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Facade aggregates the configured library managers behind one interface.
// Either client may be nil when not configured.
type Facade struct {
	sonarr *SonarrClient
	radarr *RadarrClient
	logger zerolog.Logger
}

// NewFacade wraps the configured clients. Pass nil for absent services.
func NewFacade(sonarr *SonarrClient, radarr *RadarrClient, logger zerolog.Logger) *Facade {
	return &Facade{
		sonarr: sonarr,
		radarr: radarr,
		logger: logger.With().Str("component", "integrations").Logger(),
	}
}

// HasSonarr reports whether a Sonarr client is configured.
func (f *Facade) HasSonarr() bool { return f.sonarr != nil }

// HasRadarr reports whether a Radarr client is configured.
func (f *Facade) HasRadarr() bool { return f.radarr != nil }

// EnumerateLibrary lists every video file known to the configured managers.
// A failing manager is logged and skipped so one outage does not empty the
// whole scan.
func (f *Facade) EnumerateLibrary(ctx context.Context) ([]LibraryItem, error) {
	if f.sonarr == nil && f.radarr == nil {
		return nil, nil
	}

	var items []LibraryItem
	if f.sonarr != nil {
		episodes, err := f.enumerateSonarr(ctx)
		if err != nil {
			f.logger.Warn().Err(err).Msg("Sonarr enumeration failed, skipping")
		} else {
			items = append(items, episodes...)
		}
	}
	if f.radarr != nil {
		movies, err := f.enumerateRadarr(ctx)
		if err != nil {
			f.logger.Warn().Err(err).Msg("Radarr enumeration failed, skipping")
		} else {
			items = append(items, movies...)
		}
	}
	return items, nil
}

func (f *Facade) enumerateSonarr(ctx context.Context) ([]LibraryItem, error) {
	series, err := f.sonarr.ListSeries(ctx)
	if err != nil {
		return nil, err
	}

	var items []LibraryItem
	for _, s := range series {
		episodes, err := f.sonarr.ListEpisodes(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("episodes for series %d: %w", s.ID, err)
		}
		files, err := f.sonarr.ListEpisodeFiles(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("episode files for series %d: %w", s.ID, err)
		}
		paths := make(map[int64]string, len(files))
		for _, ef := range files {
			paths[ef.ID] = ef.Path
		}

		for _, ep := range episodes {
			if !ep.HasFile {
				continue
			}
			path, ok := paths[ep.EpisodeFileID]
			if !ok || path == "" {
				continue
			}
			items = append(items, LibraryItem{
				ItemType:  "episode",
				Title:     s.Title,
				VideoPath: path,
				Season:    ep.SeasonNumber,
				Episode:   ep.EpisodeNumber,
				SeriesID:  s.ID,
				Year:      s.Year,
			})
		}
	}
	return items, nil
}

func (f *Facade) enumerateRadarr(ctx context.Context) ([]LibraryItem, error) {
	movies, err := f.radarr.ListMovies(ctx)
	if err != nil {
		return nil, err
	}

	var items []LibraryItem
	for _, m := range movies {
		if !m.HasFile || m.MovieFile == nil || m.MovieFile.Path == "" {
			continue
		}
		items = append(items, LibraryItem{
			ItemType:  "movie",
			Title:     m.Title,
			VideoPath: m.MovieFile.Path,
			MovieID:   m.ID,
			Year:      m.Year,
		})
	}
	return items, nil
}

// FileFound notifies the owning manager that a subtitle landed next to its
// video so it can rescan the containing entity. Implements the wanted
// pipeline's notifier; the caller logs and drops any error.
func (f *Facade) FileFound(ctx context.Context, item *store.WantedItem, subtitlePath string) error {
	switch {
	case item.ItemType == "episode" && item.SeriesID != nil && f.sonarr != nil:
		return f.sonarr.RescanSeries(ctx, *item.SeriesID)
	case item.ItemType == "movie" && item.ExternalID != nil && f.radarr != nil:
		return f.radarr.RescanMovie(ctx, *item.ExternalID)
	}
	f.logger.Debug().Str("file", subtitlePath).Msg("No manager owns this item, skipping rescan")
	return nil
}

// Health pings each configured service.
func (f *Facade) Health(ctx context.Context) []IntegrationStatus {
	var statuses []IntegrationStatus
	if f.sonarr != nil {
		statuses = append(statuses, f.ping(ctx, "sonarr"))
	}
	if f.radarr != nil {
		statuses = append(statuses, f.ping(ctx, "radarr"))
	}
	return statuses
}

func (f *Facade) ping(ctx context.Context, name string) IntegrationStatus {
	status := IntegrationStatus{Name: name, Enabled: true}

	var version string
	var err error
	switch name {
	case "sonarr":
		version, err = f.sonarr.Version(ctx)
	case "radarr":
		version, err = f.radarr.Version(ctx)
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Reachable = true
	status.Version = version
	return status
}
