package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/store"
)

func newSonarrServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var commands []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v3/system/status":
			json.NewEncoder(w).Encode(map[string]string{"appName": "Sonarr", "version": "4.0.0"})
		case "/api/v3/series":
			json.NewEncoder(w).Encode([]SonarrSeries{
				{ID: 1, Title: "Frieren", Path: "/tv/Frieren", Year: 2023},
			})
		case "/api/v3/episode":
			json.NewEncoder(w).Encode([]SonarrEpisode{
				{ID: 10, SeriesID: 1, SeasonNumber: 1, EpisodeNumber: 5, HasFile: true, EpisodeFileID: 100},
				{ID: 11, SeriesID: 1, SeasonNumber: 1, EpisodeNumber: 6, HasFile: false},
			})
		case "/api/v3/episodefile":
			json.NewEncoder(w).Encode([]SonarrEpisodeFile{
				{ID: 100, SeriesID: 1, SeasonNumber: 1, Path: "/tv/Frieren/S01E05.mkv"},
			})
		case "/api/v3/command":
			var cmd map[string]any
			json.NewDecoder(r.Body).Decode(&cmd)
			commands = append(commands, cmd["name"].(string))
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &commands
}

func TestSonarrClientPingAndRescan(t *testing.T) {
	srv, commands := newSonarrServer(t)

	c, err := NewSonarrClient(ClientConfig{URL: srv.URL, APIKey: "test-key"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.RescanSeries(context.Background(), 1))
	assert.Equal(t, []string{"RescanSeries"}, *commands)
}

func TestSonarrClientRejectsBadKey(t *testing.T) {
	srv, _ := newSonarrServer(t)

	c, err := NewSonarrClient(ClientConfig{URL: srv.URL, APIKey: "wrong"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

func TestClientRequiresURLAndKey(t *testing.T) {
	_, err := NewSonarrClient(ClientConfig{APIKey: "k"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewRadarrClient(ClientConfig{URL: "http://x"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestFacadeEnumerateLibrary(t *testing.T) {
	sonarrSrv, _ := newSonarrServer(t)
	radarrSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/movie":
			json.NewEncoder(w).Encode([]RadarrMovie{
				{ID: 7, Title: "Suzume", Year: 2022, HasFile: true, MovieFile: &RadarrMovieFile{Path: "/movies/Suzume/Suzume.mkv"}},
				{ID: 8, Title: "Missing", HasFile: false},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(radarrSrv.Close)

	sc, err := NewSonarrClient(ClientConfig{URL: sonarrSrv.URL, APIKey: "test-key"}, zerolog.Nop())
	require.NoError(t, err)
	rc, err := NewRadarrClient(ClientConfig{URL: radarrSrv.URL, APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)

	f := NewFacade(sc, rc, zerolog.Nop())
	items, err := f.EnumerateLibrary(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "episode", items[0].ItemType)
	assert.Equal(t, "/tv/Frieren/S01E05.mkv", items[0].VideoPath)
	assert.Equal(t, 5, items[0].Episode)

	assert.Equal(t, "movie", items[1].ItemType)
	assert.Equal(t, "/movies/Suzume/Suzume.mkv", items[1].VideoPath)
}

func TestFacadeFileFoundRoutesToOwner(t *testing.T) {
	srv, commands := newSonarrServer(t)
	sc, err := NewSonarrClient(ClientConfig{URL: srv.URL, APIKey: "test-key"}, zerolog.Nop())
	require.NoError(t, err)

	f := NewFacade(sc, nil, zerolog.Nop())
	seriesID := int64(1)
	item := &store.WantedItem{ItemType: "episode", SeriesID: &seriesID}
	require.NoError(t, f.FileFound(context.Background(), item, "/tv/Frieren/S01E05.de.ass"))
	assert.Equal(t, []string{"RescanSeries"}, *commands)

	// No owning manager: a no-op, not an error.
	orphan := &store.WantedItem{ItemType: "movie"}
	assert.NoError(t, f.FileFound(context.Background(), orphan, "/movies/x.de.srt"))
}

func TestParseSonarrWebhook(t *testing.T) {
	body := []byte(`{
		"eventType": "Download",
		"series": {"id": 3, "title": "Frieren", "path": "/tv/Frieren", "year": 2023},
		"episodes": [{"seasonNumber": 1, "episodeNumber": 5, "title": "Phantoms"}],
		"episodeFile": {"relativePath": "Season 1/S01E05.mkv"}
	}`)

	event, err := ParseSonarrWebhook(body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "sonarr", event.Source)
	assert.Equal(t, "episode", event.ItemType)
	assert.Equal(t, int64(3), event.SeriesID)
	assert.Equal(t, 5, event.Episode)
	assert.Equal(t, "/tv/Frieren/Season 1/S01E05.mkv", event.VideoPath)
	assert.False(t, event.IsTest())
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	event, err := ParseSonarrWebhook([]byte(`{"eventType": "Grab"}`))
	require.NoError(t, err)
	assert.Nil(t, event)

	event, err = ParseRadarrWebhook([]byte(`{"eventType": "Rename"}`))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestParseRadarrWebhookTestEvent(t *testing.T) {
	event, err := ParseRadarrWebhook([]byte(`{"eventType": "Test", "movie": {"id": 9, "title": "Suzume"}}`))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.IsTest())
	assert.Equal(t, "radarr", event.Source)
}

func TestParseRadarrWebhookDownload(t *testing.T) {
	body := []byte(`{
		"eventType": "Download",
		"movie": {"id": 9, "title": "Suzume", "year": 2022, "folderPath": "/movies/Suzume"},
		"movieFile": {"path": "/movies/Suzume/Suzume.2022.mkv"}
	}`)
	event, err := ParseRadarrWebhook(body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, int64(9), event.MovieID)
	assert.Equal(t, "/movies/Suzume/Suzume.2022.mkv", event.VideoPath)
}

func TestCheckCompatibility(t *testing.T) {
	entries := []SubtitleEntry{
		{VideoPath: "/tv/a/S01E01.mkv", SubtitlePath: "/tv/a/S01E01.de.ass"},
		{VideoPath: "/tv/a/S01E01.mkv", SubtitlePath: "/tv/a/S01E01.de.forced.srt"},
		{VideoPath: "/tv/a/S01E01.mkv", SubtitlePath: "/tv/a/S01E01.GERMAN.srt"},
		{VideoPath: "/tv/a/S01E01.mkv", SubtitlePath: "/tv/a/other.de.srt"},
	}
	issues := CheckCompatibility("plex", entries)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0].Problem, "language tag")
	assert.Contains(t, issues[1].Problem, "base name")
}

func TestExportFormats(t *testing.T) {
	entries := []SubtitleEntry{
		{VideoPath: "/tv/a.mkv", SubtitlePath: "/tv/a.de.srt", Language: "de", Format: "srt"},
	}

	data, mime, err := Export(ExportJSON, entries)
	require.NoError(t, err)
	assert.Equal(t, "application/json", mime)
	var roundtrip []SubtitleEntry
	require.NoError(t, json.Unmarshal(data, &roundtrip))
	assert.Equal(t, entries, roundtrip)

	data, mime, err = Export(ExportBazarr, entries)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", mime)
	assert.Contains(t, string(data), "/tv/a.de.srt")

	_, _, err = Export(ExportFormat("xml"), entries)
	assert.Error(t, err)

	archive, err := ExportZip(entries)
	require.NoError(t, err)
	assert.NotEmpty(t, archive)
}
