package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const addic7edBaseURL = "https://www.addic7ed.com"

// addic7edLanguages maps ISO-639-1 codes to the site's language names.
var addic7edLanguages = map[string]string{
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"pl": "Polish",
	"sv": "Swedish",
	"da": "Danish",
	"no": "Norwegian",
	"fi": "Finnish",
}

// Addic7edConfig holds configuration for the Addic7ed scraper.
type Addic7edConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
}

// Addic7ed implements SubtitleProvider by scraping the Addic7ed episode
// pages. The site serves SRT only.
type Addic7ed struct {
	config Addic7edConfig
	client *http.Client
	logger zerolog.Logger
}

// NewAddic7ed creates the provider.
func NewAddic7ed(config Addic7edConfig, logger zerolog.Logger) *Addic7ed {
	if config.BaseURL == "" {
		config.BaseURL = addic7edBaseURL
	}
	return &Addic7ed{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("provider", "addic7ed").Logger(),
	}
}

func (a *Addic7ed) Name() string                         { return "addic7ed" }
func (a *Addic7ed) DisplayName() string                  { return "Addic7ed" }
func (a *Addic7ed) Initialize(ctx context.Context) error { return nil }
func (a *Addic7ed) Terminate(ctx context.Context) error  { return nil }

// Search scrapes the per-episode page. Addic7ed is series-oriented; movie
// queries return no results.
func (a *Addic7ed) Search(ctx context.Context, query VideoQuery) ([]Candidate, error) {
	if query.Series == "" || query.Season == 0 || query.Episode == 0 {
		return nil, nil
	}

	pageURL := fmt.Sprintf("%s/serie/%s/%d/%d/episode",
		a.config.BaseURL, url.PathEscape(query.Series), query.Season, query.Episode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Sublarr/1.0)")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewRateLimitError(a.Name())
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewSearchError(a.Name(), fmt.Errorf("episode page returned %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, NewParseError(a.Name(), "failed to parse episode page", err)
	}
	return a.parseEpisodePage(doc, query), nil
}

// parseEpisodePage extracts one candidate per subtitle version table.
func (a *Addic7ed) parseEpisodePage(doc *goquery.Document, query VideoQuery) []Candidate {
	wanted := make(map[string]string) // site language name -> ISO code
	for _, iso := range query.Languages {
		if name, ok := addic7edLanguages[iso]; ok {
			wanted[name] = iso
		}
	}

	candidates := make([]Candidate, 0)
	doc.Find("table.tabel95 table.tabel95").Each(func(i int, table *goquery.Selection) {
		version := strings.TrimSpace(table.Find("td.NewsTitle").Text())
		version = strings.TrimPrefix(version, "Version ")
		if idx := strings.Index(version, ","); idx > 0 {
			version = version[:idx]
		}

		table.Find("tr").Each(func(j int, row *goquery.Selection) {
			langName := strings.TrimSpace(row.Find("td.language").Text())
			iso, ok := wanted[langName]
			if !ok {
				return
			}

			status := strings.TrimSpace(row.Find("td b").First().Text())
			if !strings.EqualFold(status, "Completed") {
				return
			}

			href, exists := row.Find("a.buttonDownload").First().Attr("href")
			if !exists {
				return
			}

			hearingImpaired := row.Parent().Find("img[title='Hearing Impaired']").Length() > 0

			c := Candidate{
				ProviderName: a.Name(),
				SubtitleID:   href,
				Filename:     fmt.Sprintf("%s - %dx%02d - %s.srt", query.Series, query.Season, query.Episode, version),
				Language:     iso,
				Format:       FormatSRT,
				ReleaseInfo:  version,
				ProviderData:    map[string]string{"href": href},
				HearingImpaired: hearingImpaired,
			}
			// The episode page is already series/season/episode exact.
			c.AddMatch(MatchSeries)
			c.AddMatch(MatchSeason)
			c.AddMatch(MatchEpisode)
			if query.ReleaseGroup != "" && strings.EqualFold(version, query.ReleaseGroup) {
				c.AddMatch(MatchReleaseGroup)
			}
			candidates = append(candidates, c)
		})
	})

	a.logger.Debug().
		Str("series", query.Series).
		Int("season", query.Season).
		Int("episode", query.Episode).
		Int("results", len(candidates)).
		Msg("Parsed episode page")
	return candidates
}

// Download fetches the subtitle behind the scraped link. Addic7ed requires
// the episode page as referer.
func (a *Addic7ed) Download(ctx context.Context, candidate Candidate) (*Payload, error) {
	href, ok := candidate.ProviderData["href"]
	if !ok {
		return nil, NewDownloadError(a.Name(), fmt.Errorf("candidate has no download href"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.BaseURL+href, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Sublarr/1.0)")
	req.Header.Set("Referer", a.config.BaseURL+"/")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewRateLimitError(a.Name())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewDownloadError(a.Name(), fmt.Errorf("download returned %d", resp.StatusCode))
	}

	// The site answers quota-exhausted with an HTML page instead of a file.
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") {
		return nil, NewRateLimitError(a.Name())
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, NewNetworkError(a.Name(), err)
	}
	return &Payload{Data: data, Format: FormatSRT, Filename: candidate.Filename}, nil
}
