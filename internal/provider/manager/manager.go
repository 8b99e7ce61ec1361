// Package manager coordinates subtitle searches across providers: fan-out,
// scoring, merging, caching, and download with archive extraction.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/sublarr/sublarr/internal/provider"
	"github.com/sublarr/sublarr/internal/ratelimit"
	"github.com/sublarr/sublarr/internal/scoring"
	"github.com/sublarr/sublarr/internal/store"
)

// Config tunes search and download behavior.
type Config struct {
	// EarlyExit stops the fan-out once a candidate scores PerfectThreshold.
	EarlyExit bool
	// AutoPrioritize re-sorts providers by success rate once they have
	// at least ten recorded searches.
	AutoPrioritize bool
	// MinScore drops candidates below this score. Zero keeps everything.
	MinScore int
	// FormatFilter keeps only candidates of one format ("ass", "srt", "").
	FormatFilter string
	// CacheTTL is how long merged search results stay valid.
	CacheTTL time.Duration
	// MaxRetries bounds attempts per provider call.
	MaxRetries int
	// RetryBase is the base for exponential backoff between attempts.
	RetryBase time.Duration
	// FanoutSlack extends the wait beyond the slowest provider timeout.
	FanoutSlack time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		EarlyExit:      true,
		AutoPrioritize: true,
		CacheTTL:       15 * time.Minute,
		MaxRetries:     3,
		RetryBase:      500 * time.Millisecond,
		FanoutSlack:    5 * time.Second,
	}
}

// Manager owns the priority-ordered provider list.
type Manager struct {
	registry *provider.Registry
	store    *store.Store
	scorer   *scoring.Scorer
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger

	mu        sync.RWMutex
	config    Config
	blacklist map[string]struct{} // "provider|subtitle_id"
}

// New creates a manager.
func New(registry *provider.Registry, st *store.Store, scorer *scoring.Scorer,
	limiter *ratelimit.Limiter, config Config, logger zerolog.Logger) *Manager {
	return &Manager{
		registry:  registry,
		store:     st,
		scorer:    scorer,
		limiter:   limiter,
		config:    config,
		blacklist: make(map[string]struct{}),
		logger:    logger.With().Str("component", "provider-manager").Logger(),
	}
}

// SetConfig replaces the live configuration.
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// Registry returns the underlying provider registry.
func (m *Manager) Registry() *provider.Registry {
	return m.registry
}

// Blacklist excludes a (provider, subtitle) pair from future results.
func (m *Manager) Blacklist(providerName, subtitleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[providerName+"|"+subtitleID] = struct{}{}
}

func (m *Manager) isBlacklisted(c provider.Candidate) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blacklist[c.ProviderName+"|"+c.SubtitleID]
	return ok
}

// countsTowardDisable reports whether a failure advances the auto-disable
// counter. Auth and rate-limit refusals are configuration or quota problems,
// not provider outages.
func countsTowardDisable(err error) bool {
	return !errors.Is(err, provider.ErrAuthentication) && !errors.Is(err, provider.ErrRateLimit)
}

// fanoutBound caps the whole fan-out at the slowest provider timeout plus
// the configured slack.
func fanoutBound(maxTimeout, slack time.Duration) time.Duration {
	if maxTimeout <= 0 {
		maxTimeout = 30 * time.Second
	}
	if slack < 0 {
		slack = 0
	}
	return maxTimeout + slack
}

type searchTaskResult struct {
	ProviderName string
	Candidates   []provider.Candidate
	Err          error
}

// SearchResult is the outcome of one fan-out search.
type SearchResult struct {
	Candidates     []provider.Candidate `json:"candidates"`
	ProvidersUsed  int                  `json:"providersUsed"`
	ProviderErrors map[string]string    `json:"providerErrors,omitempty"`
	FromCache      bool                 `json:"fromCache"`
	EarlyExit      bool                 `json:"earlyExit"`
}

// Search fans out the query across all admitted providers and returns the
// merged, scored, filtered candidate list, best first. An empty provider
// list yields an empty result, not an error.
func (m *Manager) Search(ctx context.Context, query provider.VideoQuery) (*SearchResult, error) {
	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()

	cacheKey := store.CacheKey(query.FilePath, query.Languages, config.FormatFilter)
	if config.CacheTTL > 0 {
		if cached, err := m.store.GetProviderCache(ctx, cacheKey); err == nil {
			var candidates []provider.Candidate
			if err := json.Unmarshal([]byte(cached), &candidates); err == nil {
				m.logger.Debug().Str("file", query.FilePath).Msg("Provider cache hit")
				return &SearchResult{Candidates: candidates, FromCache: true}, nil
			}
		}
	}

	order, err := m.providerOrder(ctx)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return &SearchResult{Candidates: []provider.Candidate{}}, nil
	}

	scoringCtx, err := m.scoringContext(ctx, query)
	if err != nil {
		return nil, err
	}

	admitted := make([]string, 0, len(order))
	var maxTimeout time.Duration
	for _, name := range order {
		if err := m.registry.Admit(ctx, name, "search"); err != nil {
			if provider.IsSkip(err) {
				m.logger.Debug().Str("provider", name).Msg("Provider skipped by admission gate")
				continue
			}
			m.logger.Warn().Err(err).Str("provider", name).Msg("Admission check failed")
			continue
		}
		if err := m.registry.EnsureInitialized(ctx, name); err != nil {
			m.logger.Warn().Err(err).Str("provider", name).Msg("Provider initialization failed")
			m.registry.RecordFailure(ctx, name, countsTowardDisable(err))
			continue
		}
		admitted = append(admitted, name)
		if settings, _ := m.registry.SettingsFor(name); settings.Timeout > maxTimeout {
			maxTimeout = settings.Timeout
		}
	}

	// The whole fan-out gets one deadline; a hung provider cannot stall the
	// search past the slowest configured timeout plus slack.
	fanoutCtx, cancel := context.WithTimeout(ctx, fanoutBound(maxTimeout, config.FanoutSlack))
	defer cancel()

	results := make(chan searchTaskResult, len(admitted))
	var wg sync.WaitGroup
	started := len(admitted)

	for _, name := range admitted {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			candidates, err := m.searchOne(fanoutCtx, name, query)
			results <- searchTaskResult{ProviderName: name, Candidates: candidates, Err: err}
		}(name)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	merged := make([]provider.Candidate, 0)
	providerErrors := make(map[string]string)
	used := 0
	earlyExit := false

collect:
	for result := range results {
		if result.Err != nil {
			providerErrors[result.ProviderName] = result.Err.Error()
			continue
		}
		used++

		for i := range result.Candidates {
			c := result.Candidates[i]
			score := m.scorer.Score(&c, query, scoringCtx)
			merged = append(merged, c)

			if config.EarlyExit && score >= scoring.PerfectThreshold {
				m.logger.Info().
					Str("provider", result.ProviderName).
					Int("score", score).
					Msg("Perfect match, stopping fan-out")
				earlyExit = true
				cancel()
				break collect
			}
		}
	}

	filtered := m.filterAndSort(merged, query, config)

	if config.CacheTTL > 0 && !earlyExit {
		if raw, err := json.Marshal(filtered); err == nil {
			if err := m.store.PutProviderCache(ctx, "merged", cacheKey, string(raw), config.CacheTTL); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to write provider cache")
			}
		}
	}

	m.logger.Info().
		Int("providers", started).
		Int("used", used).
		Int("results", len(filtered)).
		Bool("earlyExit", earlyExit).
		Msg("Search complete")

	return &SearchResult{
		Candidates:     filtered,
		ProvidersUsed:  used,
		ProviderErrors: providerErrors,
		EarlyExit:      earlyExit,
	}, nil
}

// searchOne runs a single provider search with timeout and retry.
func (m *Manager) searchOne(ctx context.Context, name string, query provider.VideoQuery) ([]provider.Candidate, error) {
	p, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", name)
	}
	settings, _ := m.registry.SettingsFor(name)

	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()

	maxRetries := config.MaxRetries
	if settings.MaxRetries > 0 {
		maxRetries = settings.MaxRetries
	}

	callCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()

	var candidates []provider.Candidate
	start := time.Now()

	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(config.RetryBase))
	err := retry.Do(callCtx, backoff, func(ctx context.Context) error {
		var searchErr error
		candidates, searchErr = p.Search(ctx, query)
		if searchErr == nil {
			return nil
		}
		// Rate-limit and auth errors never retry within the attempt.
		if provider.IsRetryable(searchErr) {
			return retry.RetryableError(searchErr)
		}
		return searchErr
	})

	elapsed := time.Since(start).Milliseconds()
	m.limiter.RecordSearch(name)
	if recErr := m.store.RecordProviderSearch(ctx, name, elapsed); recErr != nil {
		m.logger.Warn().Err(recErr).Str("provider", name).Msg("Failed to record search stats")
	}

	if err != nil {
		m.registry.RecordFailure(ctx, name, countsTowardDisable(err))
		return nil, err
	}
	return candidates, nil
}

// filterAndSort applies language, format, score, and blacklist filters,
// deduplicates by (provider, subtitle_id), and sorts best first.
func (m *Manager) filterAndSort(candidates []provider.Candidate, query provider.VideoQuery, config Config) []provider.Candidate {
	wantLang := make(map[string]struct{}, len(query.Languages))
	for _, lang := range query.Languages {
		wantLang[strings.ToLower(lang)] = struct{}{}
	}

	seen := make(map[string]struct{})
	out := make([]provider.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if len(wantLang) > 0 {
			if _, ok := wantLang[strings.ToLower(c.Language)]; !ok {
				continue
			}
		}
		if query.ForcedOnly && !c.Forced {
			continue
		}
		if config.FormatFilter != "" && string(c.Format) != config.FormatFilter {
			continue
		}
		if config.MinScore > 0 && c.Score < config.MinScore {
			continue
		}
		if m.isBlacklisted(c) {
			continue
		}
		key := c.ProviderName + "|" + c.SubtitleID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Format.Rank(), out[j].Format.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// providerOrder returns enabled provider names by priority, optionally
// re-sorted by success rate.
func (m *Manager) providerOrder(ctx context.Context) ([]string, error) {
	names := m.registry.Enabled()

	type ranked struct {
		name        string
		priority    int
		successRate float64
		searches    int64
	}
	entries := make([]ranked, 0, len(names))
	for _, name := range names {
		settings, _ := m.registry.SettingsFor(name)
		entry := ranked{name: name, priority: settings.Priority}

		if m.config.AutoPrioritize {
			stats, err := m.store.GetProviderStats(ctx, name)
			if err != nil {
				return nil, err
			}
			entry.searches = stats.TotalSearches
			total := stats.SuccessfulDownloads + stats.FailedDownloads
			if total > 0 {
				entry.successRate = float64(stats.SuccessfulDownloads) / float64(total)
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if m.config.AutoPrioritize && a.searches >= 10 && b.searches >= 10 && a.successRate != b.successRate {
			return a.successRate > b.successRate
		}
		return a.priority > b.priority
	})

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out, nil
}

// scoringContext loads per-provider score modifiers.
func (m *Manager) scoringContext(ctx context.Context, query provider.VideoQuery) (scoring.Context, error) {
	all, err := m.store.ListProviderStats(ctx)
	if err != nil {
		return scoring.Context{}, err
	}
	modifiers := make(map[string]int, len(all))
	for _, stats := range all {
		if stats.ScoreModifier != 0 {
			modifiers[stats.ProviderName] = stats.ScoreModifier
		}
	}
	return scoring.Context{ProviderModifiers: modifiers}, nil
}

// Download fetches the candidate's payload, transparently unpacking zip and
// rar archives. The returned payload carries the true inner format.
func (m *Manager) Download(ctx context.Context, candidate provider.Candidate) (*provider.Payload, error) {
	name := candidate.ProviderName
	if err := m.registry.Admit(ctx, name, "download"); err != nil {
		return nil, err
	}
	if err := m.registry.EnsureInitialized(ctx, name); err != nil {
		m.registry.RecordFailure(ctx, name, countsTowardDisable(err))
		return nil, err
	}
	p, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", name)
	}

	m.limiter.RecordDownload(name)

	payload, err := p.Download(ctx, candidate)
	if err != nil {
		m.registry.RecordFailure(ctx, name, countsTowardDisable(err))
		return nil, err
	}

	if unpacked, err := extractArchive(payload); err != nil {
		m.registry.RecordFailure(ctx, name, false)
		return nil, provider.NewParseError(name, "failed to extract archive", err)
	} else if unpacked != nil {
		payload = unpacked
	}

	m.registry.RecordSuccess(ctx, name, candidate.Score)
	return payload, nil
}

// Save writes a downloaded payload next to the video and records history.
// The final path is <base>.<language>.<ext>, with a .forced marker when the
// candidate is a forced track. Returns the path written.
func (m *Manager) Save(ctx context.Context, candidate provider.Candidate, payload *provider.Payload, videoPath string) (string, error) {
	format := payload.Format
	if format == provider.FormatUnknown {
		format = candidate.Format
	}
	ext := string(format)
	if format == provider.FormatUnknown {
		ext = "srt"
	}

	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	var path string
	if candidate.Forced {
		path = fmt.Sprintf("%s.%s.forced.%s", base, candidate.Language, ext)
	} else {
		path = fmt.Sprintf("%s.%s.%s", base, candidate.Language, ext)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create subtitle directory: %w", err)
	}
	if err := os.WriteFile(path, payload.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write subtitle: %w", err)
	}

	_, err := m.store.RecordDownload(ctx, store.SubtitleDownload{
		VideoPath:    videoPath,
		SubtitlePath: path,
		Language:     candidate.Language,
		Forced:       candidate.Forced,
		Provider:     candidate.ProviderName,
		ReleaseName:  candidate.ReleaseInfo,
		Score:        candidate.Score,
		Format:       ext,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to record download history")
	}

	m.logger.Info().
		Str("path", path).
		Str("provider", candidate.ProviderName).
		Int("score", candidate.Score).
		Msg("Saved subtitle")
	return path, nil
}
