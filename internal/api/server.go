// Package api exposes the HTTP and WebSocket surface. Handlers stay
// shallow: bind, call one service operation, encode.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/jobqueue"
	"github.com/sublarr/sublarr/internal/library"
	providermgr "github.com/sublarr/sublarr/internal/provider/manager"
	"github.com/sublarr/sublarr/internal/scanner"
	"github.com/sublarr/sublarr/internal/scheduler"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translation"
	"github.com/sublarr/sublarr/internal/translator"
	"github.com/sublarr/sublarr/internal/wanted"
	"github.com/sublarr/sublarr/internal/watcher"
	"github.com/sublarr/sublarr/internal/websocket"
)

// Deps are the services the server exposes. Hub, Queue, Facade, Scheduler,
// and Watcher may be nil in stripped-down setups.
type Deps struct {
	Store       *store.Store
	Hub         *websocket.Hub
	Queue       *jobqueue.DurableQueue
	Translation *translation.Manager
	Translator  *translator.Translator
	Pipeline    *wanted.Pipeline
	Scanner     *scanner.Scanner
	Providers   *providermgr.Manager
	Facade      *integrations.Facade
	Trash       *library.Trash
	Tools       *library.Tools
	Inventory   *library.Inventory
	Scheduler   *scheduler.Scheduler
	Watcher     *watcher.Service
	WebhookConf scanner.WebhookConfig
	Version     string
}

// Server handles HTTP requests for the Sublarr API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger zerolog.Logger

	batchMu sync.Mutex
	batches map[string]*BatchState
}

// NewServer creates the API server over already-wired services.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger.With().Str("component", "api").Logger(),
		batches: make(map[string]*BatchState),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.deps.Hub != nil {
		s.echo.GET("/ws", s.deps.Hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	// Translation
	api.POST("/translate", s.translateAsync)
	api.POST("/translate/sync", s.translateSync)
	api.GET("/status/:id", s.getJobStatus)
	api.GET("/jobs", s.listJobs)
	api.POST("/jobs/:id/retry", s.retryJob)
	api.POST("/batch", s.startBatch)
	api.GET("/batch/status", s.batchStatus)
	api.POST("/retranslate/:id", s.retranslate)
	api.POST("/retranslate/batch", s.retranslateBatch)
	api.GET("/retranslate/status", s.retranslateStatus)

	// Wanted
	api.GET("/wanted", s.listWanted)
	api.GET("/wanted/summary", s.wantedSummary)
	api.POST("/wanted", s.createWanted)
	api.GET("/wanted/:id", s.getWanted)
	api.DELETE("/wanted/:id", s.deleteWanted)
	api.POST("/wanted/refresh", s.refreshWanted)
	api.POST("/wanted/:id/search", s.searchWanted)
	api.POST("/wanted/:id/process", s.searchWanted)
	api.POST("/wanted/batch-search", s.batchSearchWanted)
	api.POST("/wanted/search-all", s.searchAllWanted)

	// Providers
	api.GET("/providers", s.listProviders)
	api.GET("/providers/stats", s.providerStats)
	api.GET("/providers/health", s.providerHealth)
	api.POST("/providers/search", s.providerSearch)
	api.POST("/providers/test/:name", s.testProvider)
	api.POST("/providers/:name/enable", s.enableProvider)
	api.POST("/providers/cache/clear", s.clearProviderCache)

	// Library and trash
	api.GET("/library", s.listLibrary)
	api.GET("/library/episodes/:id/subtitles", s.episodeSubtitles)
	api.GET("/library/series/:id/subtitles", s.seriesSubtitles)
	api.DELETE("/library/subtitles", s.deleteSubtitles)
	api.POST("/library/series/:id/subtitles/batch-delete", s.batchDeleteSubtitles)
	api.GET("/library/trash", s.listTrash)
	api.POST("/library/trash/:batchId/restore", s.restoreTrash)
	api.DELETE("/library/trash/:batchId", s.purgeTrash)

	// Language profiles
	api.GET("/profiles", s.listProfiles)
	api.POST("/profiles", s.createProfile)
	api.GET("/profiles/:id", s.getProfile)
	api.PUT("/profiles/:id", s.updateProfile)
	api.DELETE("/profiles/:id", s.deleteProfile)
	api.POST("/profiles/:id/assign", s.assignProfile)

	// Configuration
	api.GET("/config", s.getConfig)
	api.PUT("/config", s.updateConfig)

	// Glossary
	api.GET("/glossary", s.listGlossary)
	api.POST("/glossary", s.createGlossaryEntry)
	api.PUT("/glossary/:id", s.updateGlossaryEntry)
	api.DELETE("/glossary/:id", s.deleteGlossaryEntry)

	// History and statistics
	api.GET("/history/downloads", s.listDownloadHistory)
	api.GET("/history/upgrades", s.listUpgradeHistory)
	api.GET("/backends/stats", s.backendStats)

	// Webhooks
	api.POST("/webhook/sonarr", s.webhookSonarr)
	api.POST("/webhook/radarr", s.webhookRadarr)

	// Tools
	api.POST("/tools/remove-hi", s.toolRemoveHI)
	api.POST("/tools/adjust-timing", s.toolAdjustTiming)
	api.POST("/tools/common-fixes", s.toolCommonFixes)
	api.GET("/tools/preview", s.toolPreview)

	// Watched folders (standalone mode)
	api.GET("/watched-folders", s.listWatchedFolders)
	api.POST("/watched-folders", s.addWatchedFolder)
	api.DELETE("/watched-folders/:id", s.removeWatchedFolder)
	api.POST("/scan", s.triggerScan)

	// Integrations
	api.GET("/integrations/health", s.integrationsHealth)
	api.GET("/integrations/mapping", s.integrationsMapping)
	api.GET("/integrations/compat/:flavor", s.integrationsCompat)
	api.GET("/integrations/export", s.integrationsExport)

	// Scheduler tasks
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks/:id/run", s.runTask)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// healthCheck reports per-integration status. Overall health tracks the
// reachability of the default profile's first translation backend.
func (s *Server) healthCheck(c echo.Context) error {
	ctx := c.Request().Context()

	healthy := true
	backends := map[string]string{}
	if s.deps.Translation != nil {
		var chain []string
		if profile, err := s.deps.Store.GetDefaultProfile(ctx); err == nil {
			chain = profile.FallbackChain
		}
		results := s.deps.Translation.HealthCheck(ctx)
		for name, msg := range results {
			if msg != "" {
				backends[name] = msg
			} else {
				backends[name] = "ok"
			}
		}
		if len(chain) > 0 {
			if msg, checked := results[chain[0]]; checked && msg != "" {
				healthy = false
			}
		}
	}

	var services []integrations.IntegrationStatus
	if s.deps.Facade != nil {
		services = s.deps.Facade.Health(ctx)
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"healthy":      healthy,
		"backends":     backends,
		"integrations": services,
	})
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()
	summary, _ := s.deps.Store.GetWantedSummary(ctx)

	clients := 0
	if s.deps.Hub != nil {
		clients = s.deps.Hub.ClientCount()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"version":   s.deps.Version,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"wanted":    summary,
		"wsClients": clients,
	})
}

func httpError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func storeError(c echo.Context, err error) error {
	switch err {
	case store.ErrNotFound:
		return httpError(c, http.StatusNotFound, "not found")
	case store.ErrConflict:
		return httpError(c, http.StatusConflict, "conflict")
	default:
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
}
