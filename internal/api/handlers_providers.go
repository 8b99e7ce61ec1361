package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sublarr/sublarr/internal/provider"
	"github.com/sublarr/sublarr/internal/store"
)

// ProviderView merges persisted configuration, live registry state, and
// aggregated stats for one provider.
type ProviderView struct {
	Name         string               `json:"name"`
	DisplayName  string               `json:"displayName"`
	Enabled      bool                 `json:"enabled"`
	Priority     int                  `json:"priority"`
	Initialized  bool                 `json:"initialized"`
	AutoDisabled bool                 `json:"autoDisabled"`
	Stats        *store.ProviderStats `json:"stats,omitempty"`
}

func (s *Server) listProviders(c echo.Context) error {
	ctx := c.Request().Context()

	configs, err := s.deps.Store.ListProviders(ctx)
	if err != nil {
		return storeError(c, err)
	}

	views := make([]ProviderView, 0, len(configs))
	for _, cfg := range configs {
		view := ProviderView{
			Name:     cfg.Name,
			Enabled:  cfg.Enabled,
			Priority: cfg.Priority,
		}
		if p, ok := s.deps.Providers.Registry().Get(cfg.Name); ok {
			view.DisplayName = p.DisplayName()
		}
		if stats, err := s.deps.Store.GetProviderStats(ctx, cfg.Name); err == nil {
			view.Stats = stats
			view.AutoDisabled = stats.AutoDisabled
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) providerStats(c echo.Context) error {
	stats, err := s.deps.Store.ListProviderStats(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// providerHealth reports the circuit state per provider without contacting
// any of them.
func (s *Server) providerHealth(c echo.Context) error {
	ctx := c.Request().Context()

	health := map[string]any{}
	for _, name := range s.deps.Providers.Registry().Enabled() {
		entry := map[string]any{"status": "ok"}
		if stats, err := s.deps.Store.GetProviderStats(ctx, name); err == nil {
			if stats.AutoDisabled {
				entry["status"] = "disabled"
				if stats.DisabledUntil != nil {
					entry["disabledUntil"] = stats.DisabledUntil
				}
			}
			entry["consecutiveFailures"] = stats.ConsecutiveFailures
		}
		health[name] = entry
	}
	return c.JSON(http.StatusOK, health)
}

// providerSearch runs a manual fan-out search without downloading anything.
func (s *Server) providerSearch(c echo.Context) error {
	var query provider.VideoQuery
	if err := c.Bind(&query); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if len(query.Languages) == 0 {
		return httpError(c, http.StatusBadRequest, "languages is required")
	}

	result, err := s.deps.Providers.Search(c.Request().Context(), query)
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// testProvider initializes one provider and reports whether it responds.
func (s *Server) testProvider(c echo.Context) error {
	name := c.Param("name")
	p, ok := s.deps.Providers.Registry().Get(name)
	if !ok {
		return httpError(c, http.StatusNotFound, "unknown provider")
	}

	start := time.Now()
	err := p.Initialize(c.Request().Context())
	elapsed := time.Since(start)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"name":    name,
			"ok":      false,
			"error":   err.Error(),
			"elapsed": elapsed.Milliseconds(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"name":    name,
		"ok":      true,
		"elapsed": elapsed.Milliseconds(),
	})
}

// enableProvider flips a provider on or off and clears any auto-disable
// when re-enabling.
func (s *Server) enableProvider(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}

	registry := s.deps.Providers.Registry()
	p, ok := registry.Get(name)
	if !ok {
		return httpError(c, http.StatusNotFound, "unknown provider")
	}
	if err := s.deps.Store.SetProviderEnabled(ctx, name, req.Enabled); err != nil {
		return storeError(c, err)
	}

	settings, _ := registry.SettingsFor(name)
	settings.Enabled = req.Enabled
	registry.Register(p, settings)
	if req.Enabled {
		if err := registry.ClearDisable(ctx, name); err != nil {
			s.logger.Warn().Err(err).Str("provider", name).Msg("Clearing auto-disable failed")
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"name": name, "enabled": req.Enabled})
}

func (s *Server) clearProviderCache(c echo.Context) error {
	if err := s.deps.Store.ClearProviderCache(c.Request().Context()); err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cache cleared"})
}
