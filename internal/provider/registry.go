package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/ratelimit"
	"github.com/sublarr/sublarr/internal/store"
)

const (
	// defaultFailureThreshold auto-disables a provider after this many
	// consecutive failures.
	defaultFailureThreshold = 5
	// defaultCooldown is how long an auto-disabled provider stays out.
	defaultCooldown = 30 * time.Minute
	// defaultTimeout bounds a single provider call.
	defaultTimeout = 30 * time.Second
)

// Registry holds the provider catalog and gates every call through the
// per-provider rate limiter and circuit state.
type Registry struct {
	store   *store.Store
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	failureThreshold int
	cooldown         time.Duration

	mu          sync.RWMutex
	providers   map[string]SubtitleProvider
	settings    map[string]Settings
	initialized map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(st *store.Store, limiter *ratelimit.Limiter, logger zerolog.Logger) *Registry {
	return &Registry{
		store:            st,
		limiter:          limiter,
		logger:           logger.With().Str("component", "provider-registry").Logger(),
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
		providers:        make(map[string]SubtitleProvider),
		settings:         make(map[string]Settings),
		initialized:      make(map[string]bool),
	}
}

// Register adds a provider with its settings. Re-registering replaces the
// previous instance and resets its lifecycle.
func (r *Registry) Register(p SubtitleProvider, settings Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}
	name := p.Name()
	r.providers[name] = p
	r.settings[name] = settings
	r.initialized[name] = false

	r.logger.Info().
		Str("provider", name).
		Bool("enabled", settings.Enabled).
		Int("priority", settings.Priority).
		Msg("Registered provider")
}

// Unregister terminates and removes a provider.
func (r *Registry) Unregister(ctx context.Context, name string) {
	r.mu.Lock()
	p, ok := r.providers[name]
	delete(r.providers, name)
	delete(r.settings, name)
	delete(r.initialized, name)
	r.mu.Unlock()

	if ok {
		if err := p.Terminate(ctx); err != nil {
			r.logger.Warn().Err(err).Str("provider", name).Msg("Provider terminate failed")
		}
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (SubtitleProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// SettingsFor returns the settings for a provider.
func (r *Registry) SettingsFor(name string) (Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[name]
	return s, ok
}

// Enabled returns the names of all enabled providers.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		if r.settings[name].Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Admit checks the gate for one call kind ("search" or "download"). It
// refuses without contacting the provider when the rate budget is spent or
// the provider is auto-disabled with the cooldown still running.
func (r *Registry) Admit(ctx context.Context, name, kind string) error {
	r.mu.RLock()
	settings, known := r.settings[name]
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("unknown provider %s", name)
	}
	if !settings.Enabled {
		return NewDisabledError(name)
	}

	switch kind {
	case "download":
		if r.limiter.CheckDownloadLimit(name) {
			return NewRateLimitError(name)
		}
	default:
		if r.limiter.CheckSearchLimit(name) {
			return NewRateLimitError(name)
		}
	}

	// GetProviderStats clears an expired auto-disable on observation.
	stats, err := r.store.GetProviderStats(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read provider stats: %w", err)
	}
	if stats.AutoDisabled && stats.DisabledUntil != nil && time.Now().Before(*stats.DisabledUntil) {
		return NewDisabledError(name)
	}
	return nil
}

// EnsureInitialized lazily initializes a provider before its first call.
func (r *Registry) EnsureInitialized(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized[name] {
		return nil
	}
	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("unknown provider %s", name)
	}
	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}
	r.initialized[name] = true
	r.logger.Debug().Str("provider", name).Msg("Provider initialized")
	return nil
}

// RecordSuccess reports a successful call with the candidate score.
func (r *Registry) RecordSuccess(ctx context.Context, name string, score int) {
	if err := r.store.RecordProviderSuccess(ctx, name, score); err != nil {
		r.logger.Warn().Err(err).Str("provider", name).Msg("Failed to record provider success")
	}
}

// RecordFailure reports a failed call. Only genuine outages count toward
// auto-disable; auth and rate-limit refusals are recorded without advancing
// the counter.
func (r *Registry) RecordFailure(ctx context.Context, name string, countsTowardDisable bool) {
	err := r.store.RecordProviderFailure(ctx, name, countsTowardDisable, r.failureThreshold, r.cooldown)
	if err != nil {
		r.logger.Warn().Err(err).Str("provider", name).Msg("Failed to record provider failure")
	}
}

// ClearDisable manually re-enables an auto-disabled provider.
func (r *Registry) ClearDisable(ctx context.Context, name string) error {
	return r.store.ClearProviderDisable(ctx, name)
}

// TerminateAll shuts down every provider, used on reload and shutdown.
func (r *Registry) TerminateAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, p := range r.providers {
		if !r.initialized[name] {
			continue
		}
		if err := p.Terminate(ctx); err != nil {
			r.logger.Warn().Err(err).Str("provider", name).Msg("Provider terminate failed")
		}
		r.initialized[name] = false
	}
}
