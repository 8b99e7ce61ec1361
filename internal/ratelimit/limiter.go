// Package ratelimit provides rate limiting for subtitle provider operations.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config defines rate limit configuration.
type Config struct {
	// SearchLimit is the maximum number of searches allowed in the period
	SearchLimit int
	// SearchPeriod is the time period for search limiting
	SearchPeriod time.Duration
	// DownloadLimit is the maximum number of downloads allowed in the period
	DownloadLimit int
	// DownloadPeriod is the time period for download limiting
	DownloadPeriod time.Duration
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		SearchLimit:    100,
		SearchPeriod:   time.Hour,
		DownloadLimit:  25,
		DownloadPeriod: time.Hour,
	}
}

// Limiter tracks search/download counts per provider.
type Limiter struct {
	logger zerolog.Logger

	mu             sync.RWMutex
	configs        map[string]Config
	defaultConfig  Config
	searchCounts   map[string]*rateBucket
	downloadCounts map[string]*rateBucket
}

// rateBucket tracks rate limit state for a single provider.
type rateBucket struct {
	count     int
	resetTime time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(defaultConfig Config, logger zerolog.Logger) *Limiter {
	return &Limiter{
		logger:         logger.With().Str("component", "rate-limiter").Logger(),
		configs:        make(map[string]Config),
		defaultConfig:  defaultConfig,
		searchCounts:   make(map[string]*rateBucket),
		downloadCounts: make(map[string]*rateBucket),
	}
}

// SetProviderConfig overrides the limits for one provider. Existing buckets
// are dropped so the new limits take effect on the next window.
func (l *Limiter) SetProviderConfig(provider string, config Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.configs[provider] = config
	delete(l.searchCounts, provider)
	delete(l.downloadCounts, provider)
}

// CheckSearchLimit returns whether the provider has reached its search limit.
func (l *Limiter) CheckSearchLimit(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	config := l.configFor(provider)
	bucket := l.getOrCreateBucket(l.searchCounts, provider, config.SearchPeriod)

	if time.Now().After(bucket.resetTime) {
		bucket.count = 0
		bucket.resetTime = time.Now().Add(config.SearchPeriod)
	}

	if bucket.count >= config.SearchLimit {
		l.logger.Warn().
			Str("provider", provider).
			Int("count", bucket.count).
			Int("limit", config.SearchLimit).
			Msg("Search rate limit reached")
		return true
	}
	return false
}

// CheckDownloadLimit returns whether the provider has reached its download limit.
func (l *Limiter) CheckDownloadLimit(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	config := l.configFor(provider)
	bucket := l.getOrCreateBucket(l.downloadCounts, provider, config.DownloadPeriod)

	if time.Now().After(bucket.resetTime) {
		bucket.count = 0
		bucket.resetTime = time.Now().Add(config.DownloadPeriod)
	}

	if bucket.count >= config.DownloadLimit {
		l.logger.Warn().
			Str("provider", provider).
			Int("count", bucket.count).
			Int("limit", config.DownloadLimit).
			Msg("Download rate limit reached")
		return true
	}
	return false
}

// RecordSearch records a search for rate limiting purposes.
func (l *Limiter) RecordSearch(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	config := l.configFor(provider)
	bucket := l.getOrCreateBucket(l.searchCounts, provider, config.SearchPeriod)

	if time.Now().After(bucket.resetTime) {
		bucket.count = 0
		bucket.resetTime = time.Now().Add(config.SearchPeriod)
	}
	bucket.count++
}

// RecordDownload records a download for rate limiting purposes.
func (l *Limiter) RecordDownload(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	config := l.configFor(provider)
	bucket := l.getOrCreateBucket(l.downloadCounts, provider, config.DownloadPeriod)

	if time.Now().After(bucket.resetTime) {
		bucket.count = 0
		bucket.resetTime = time.Now().Add(config.DownloadPeriod)
	}
	bucket.count++
}

// LimitStatus represents the current rate limit status for a provider.
type LimitStatus struct {
	Provider          string    `json:"provider"`
	SearchCount       int       `json:"searchCount"`
	SearchLimit       int       `json:"searchLimit"`
	SearchResetTime   time.Time `json:"searchResetTime"`
	DownloadCount     int       `json:"downloadCount"`
	DownloadLimit     int       `json:"downloadLimit"`
	DownloadResetTime time.Time `json:"downloadResetTime"`
	SearchLimited     bool      `json:"searchLimited"`
	DownloadLimited   bool      `json:"downloadLimited"`
}

// GetLimits returns the current rate limit status for a provider.
func (l *Limiter) GetLimits(provider string) *LimitStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	config := l.configFor(provider)
	status := &LimitStatus{
		Provider:          provider,
		SearchLimit:       config.SearchLimit,
		SearchResetTime:   time.Now().Add(config.SearchPeriod),
		DownloadLimit:     config.DownloadLimit,
		DownloadResetTime: time.Now().Add(config.DownloadPeriod),
	}

	if bucket, ok := l.searchCounts[provider]; ok && time.Now().Before(bucket.resetTime) {
		status.SearchCount = bucket.count
		status.SearchResetTime = bucket.resetTime
	}
	if bucket, ok := l.downloadCounts[provider]; ok && time.Now().Before(bucket.resetTime) {
		status.DownloadCount = bucket.count
		status.DownloadResetTime = bucket.resetTime
	}

	status.SearchLimited = status.SearchCount >= config.SearchLimit
	status.DownloadLimited = status.DownloadCount >= config.DownloadLimit
	return status
}

// Reset clears the rate limit state for a provider.
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.searchCounts, provider)
	delete(l.downloadCounts, provider)

	l.logger.Info().Str("provider", provider).Msg("Reset rate limits")
}

// ResetAll clears all rate limit state.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.searchCounts = make(map[string]*rateBucket)
	l.downloadCounts = make(map[string]*rateBucket)
}

func (l *Limiter) configFor(provider string) Config {
	if config, ok := l.configs[provider]; ok {
		return config
	}
	return l.defaultConfig
}

func (l *Limiter) getOrCreateBucket(buckets map[string]*rateBucket, provider string, period time.Duration) *rateBucket {
	if bucket, ok := buckets[provider]; ok {
		return bucket
	}
	bucket := &rateBucket{resetTime: time.Now().Add(period)}
	buckets[provider] = bucket
	return bucket
}
