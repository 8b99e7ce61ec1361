package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const openSubtitlesBaseURL = "https://api.opensubtitles.com/api/v1"

// OpenSubtitlesConfig holds credentials for the OpenSubtitles REST API.
type OpenSubtitlesConfig struct {
	APIKey   string `json:"apiKey"`
	Username string `json:"username"`
	Password string `json:"password"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// OpenSubtitles implements SubtitleProvider against the OpenSubtitles REST API.
type OpenSubtitles struct {
	config OpenSubtitlesConfig
	client *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	token string
}

// NewOpenSubtitles creates the provider. Initialize performs the login.
func NewOpenSubtitles(config OpenSubtitlesConfig, logger zerolog.Logger) *OpenSubtitles {
	if config.BaseURL == "" {
		config.BaseURL = openSubtitlesBaseURL
	}
	return &OpenSubtitles{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("provider", "opensubtitles").Logger(),
	}
}

func (o *OpenSubtitles) Name() string        { return "opensubtitles" }
func (o *OpenSubtitles) DisplayName() string { return "OpenSubtitles" }

// Initialize logs in and caches the bearer token.
func (o *OpenSubtitles) Initialize(ctx context.Context) error {
	if o.config.APIKey == "" {
		return NewAuthError(o.Name(), fmt.Errorf("api key not configured"))
	}
	if o.config.Username == "" {
		// Anonymous access works with just the API key, at reduced quota.
		return nil
	}

	body, _ := json.Marshal(map[string]string{
		"username": o.config.Username,
		"password": o.config.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.config.BaseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return NewNetworkError(o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewAuthError(o.Name(), fmt.Errorf("login returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return NewNetworkError(o.Name(), fmt.Errorf("login returned %d", resp.StatusCode))
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return NewParseError(o.Name(), "failed to decode login response", err)
	}

	o.mu.Lock()
	o.token = loginResp.Token
	o.mu.Unlock()
	return nil
}

type osSubtitle struct {
	ID         string `json:"id"`
	Attributes struct {
		Language          string  `json:"language"`
		Release           string  `json:"release"`
		HearingImpaired   bool    `json:"hearing_impaired"`
		ForeignPartsOnly  bool    `json:"foreign_parts_only"`
		MachineTranslated bool    `json:"machine_translated"`
		Ratings           float64 `json:"ratings"`
		FromTrusted       bool    `json:"from_trusted"`
		MovieHashMatch    bool    `json:"moviehash_match"`
		Files             []struct {
			FileID   int64  `json:"file_id"`
			FileName string `json:"file_name"`
		} `json:"files"`
		FeatureDetails struct {
			SeasonNumber  int    `json:"season_number"`
			EpisodeNumber int    `json:"episode_number"`
			Year          int    `json:"year"`
			Title         string `json:"title"`
			ParentTitle   string `json:"parent_title"`
			IMDBID        int64  `json:"imdb_id"`
			TVDBID        int64  `json:"tvdb_id"`
		} `json:"feature_details"`
	} `json:"attributes"`
}

// Search queries the subtitles endpoint for each requested language.
func (o *OpenSubtitles) Search(ctx context.Context, query VideoQuery) ([]Candidate, error) {
	params := url.Values{}
	params.Set("languages", strings.Join(query.Languages, ","))
	if query.Series != "" {
		params.Set("query", query.Series)
	} else if query.Title != "" {
		params.Set("query", query.Title)
	}
	if query.Season > 0 {
		params.Set("season_number", strconv.Itoa(query.Season))
	}
	if query.Episode > 0 {
		params.Set("episode_number", strconv.Itoa(query.Episode))
	}
	if query.Year > 0 {
		params.Set("year", strconv.Itoa(query.Year))
	}
	if query.IMDBID != "" {
		params.Set("imdb_id", strings.TrimPrefix(query.IMDBID, "tt"))
	}
	if query.TVDBID > 0 {
		params.Set("parent_tvdb_id", strconv.FormatInt(query.TVDBID, 10))
	}
	if query.ForcedOnly {
		params.Set("foreign_parts_only", "only")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		o.config.BaseURL+"/subtitles?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(o.Name(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewRateLimitError(o.Name())
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, NewAuthError(o.Name(), fmt.Errorf("search returned 401"))
	case resp.StatusCode != http.StatusOK:
		return nil, NewSearchError(o.Name(), fmt.Errorf("search returned %d", resp.StatusCode))
	}

	var searchResp struct {
		Data []osSubtitle `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, NewParseError(o.Name(), "failed to decode search response", err)
	}

	candidates := make([]Candidate, 0, len(searchResp.Data))
	for _, sub := range searchResp.Data {
		if len(sub.Attributes.Files) == 0 {
			continue
		}
		c := o.toCandidate(sub, query)
		candidates = append(candidates, c)
	}
	o.logger.Debug().Int("results", len(candidates)).Msg("Search complete")
	return candidates, nil
}

func (o *OpenSubtitles) toCandidate(sub osSubtitle, query VideoQuery) Candidate {
	attrs := sub.Attributes
	file := attrs.Files[0]

	c := Candidate{
		ProviderName:      o.Name(),
		SubtitleID:        sub.ID,
		Filename:          file.FileName,
		Language:          attrs.Language,
		Format:            formatFromFilename(file.FileName),
		ReleaseInfo:       attrs.Release,
		HearingImpaired:   attrs.HearingImpaired,
		Forced:            attrs.ForeignPartsOnly,
		MachineTranslated: attrs.MachineTranslated,
		ProviderData: map[string]string{
			"file_id": strconv.FormatInt(file.FileID, 10),
		},
	}
	if attrs.MachineTranslated {
		// Ratings run 0-10; reuse as MT confidence.
		c.MTConfidence = attrs.Ratings / 10
	}
	if attrs.FromTrusted {
		c.UploaderTrust = 1
	}

	if attrs.MovieHashMatch {
		c.AddMatch(MatchHash)
	}
	fd := attrs.FeatureDetails
	series := fd.ParentTitle
	if series == "" {
		series = fd.Title
	}
	if query.Series != "" && strings.EqualFold(series, query.Series) {
		c.AddMatch(MatchSeries)
	}
	if query.Season > 0 && fd.SeasonNumber == query.Season {
		c.AddMatch(MatchSeason)
	}
	if query.Episode > 0 && fd.EpisodeNumber == query.Episode {
		c.AddMatch(MatchEpisode)
	}
	if query.Year > 0 && fd.Year == query.Year {
		c.AddMatch(MatchYear)
	}
	if query.IMDBID != "" && fd.IMDBID > 0 &&
		strings.TrimPrefix(query.IMDBID, "tt") == strconv.FormatInt(fd.IMDBID, 10) {
		c.AddMatch(MatchIMDB)
	}
	if query.TVDBID > 0 && fd.TVDBID == query.TVDBID {
		c.AddMatch(MatchTVDB)
	}
	if query.ReleaseGroup != "" && strings.Contains(strings.ToLower(attrs.Release), strings.ToLower(query.ReleaseGroup)) {
		c.AddMatch(MatchReleaseGroup)
	}
	if query.Resolution != "" && strings.Contains(strings.ToLower(attrs.Release), strings.ToLower(query.Resolution)) {
		c.AddMatch(MatchResolution)
	}
	return c
}

// Download requests a temporary link for the file and fetches it.
func (o *OpenSubtitles) Download(ctx context.Context, candidate Candidate) (*Payload, error) {
	fileID, ok := candidate.ProviderData["file_id"]
	if !ok {
		return nil, NewDownloadError(o.Name(), fmt.Errorf("candidate has no file_id"))
	}

	body, _ := json.Marshal(map[string]string{"file_id": fileID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.config.BaseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewRateLimitError(o.Name())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewDownloadError(o.Name(), fmt.Errorf("download returned %d", resp.StatusCode))
	}

	var dlResp struct {
		Link     string `json:"link"`
		FileName string `json:"file_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dlResp); err != nil {
		return nil, NewParseError(o.Name(), "failed to decode download response", err)
	}

	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, dlResp.Link, nil)
	if err != nil {
		return nil, err
	}
	fileResp, err := o.client.Do(fileReq)
	if err != nil {
		return nil, NewNetworkError(o.Name(), err)
	}
	defer fileResp.Body.Close()

	if fileResp.StatusCode != http.StatusOK {
		return nil, NewDownloadError(o.Name(), fmt.Errorf("file fetch returned %d", fileResp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(fileResp.Body, 10<<20))
	if err != nil {
		return nil, NewNetworkError(o.Name(), err)
	}

	filename := dlResp.FileName
	if filename == "" {
		filename = candidate.Filename
	}
	return &Payload{
		Data:     data,
		Format:   formatFromFilename(filename),
		Filename: filename,
	}, nil
}

// Terminate drops the cached token.
func (o *OpenSubtitles) Terminate(ctx context.Context) error {
	o.mu.Lock()
	o.token = ""
	o.mu.Unlock()
	return nil
}

func (o *OpenSubtitles) setHeaders(req *http.Request) {
	req.Header.Set("Api-Key", o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sublarr v1.0")

	o.mu.Lock()
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	o.mu.Unlock()
}

// formatFromFilename infers the subtitle format from a file extension.
func formatFromFilename(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ass":
		return FormatASS
	case ".ssa":
		return FormatSSA
	case ".srt":
		return FormatSRT
	case ".vtt":
		return FormatVTT
	default:
		return FormatUnknown
	}
}
