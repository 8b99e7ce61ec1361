package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/pathutil"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/websocket"
)

func (s *Server) listProfiles(c echo.Context) error {
	profiles, err := s.deps.Store.ListProfiles(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, profiles)
}

func (s *Server) createProfile(c echo.Context) error {
	var profile store.LanguageProfile
	if err := c.Bind(&profile); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if profile.Name == "" || len(profile.TargetLanguages) == 0 {
		return httpError(c, http.StatusBadRequest, "name and targetLanguages are required")
	}
	created, err := s.deps.Store.CreateProfile(c.Request().Context(), profile)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) getProfile(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	profile, err := s.deps.Store.GetProfile(c.Request().Context(), id)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) updateProfile(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	var profile store.LanguageProfile
	if err := c.Bind(&profile); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	profile.ID = id

	updated, err := s.deps.Store.UpdateProfile(c.Request().Context(), profile)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteProfile(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	if err := s.deps.Store.DeleteProfile(c.Request().Context(), id); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) assignProfile(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	var req struct {
		ItemType string `json:"itemType"`
		ItemID   int64  `json:"itemId"`
	}
	if err := c.Bind(&req); err != nil || req.ItemType == "" {
		return httpError(c, http.StatusBadRequest, "itemType and itemId are required")
	}
	if err := s.deps.Store.AssignProfile(c.Request().Context(), id, req.ItemType, req.ItemID); err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"profileId": id, "itemType": req.ItemType, "itemId": req.ItemID})
}

// secretKey reports whether a settings key carries a credential that must
// be masked in responses.
func secretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range []string{"api_key", "apikey", "token", "password", "secret"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (s *Server) getConfig(c echo.Context) error {
	settings, err := s.deps.Store.ListSettings(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	masked := make(map[string]string, len(settings))
	for key, value := range settings {
		if secretKey(key) && value != "" {
			masked[key] = "********"
		} else {
			masked[key] = value
		}
	}
	return c.JSON(http.StatusOK, masked)
}

// callbackKey reports whether a settings key holds an outbound callback URL
// that must pass the SSRF guard. Sonarr/Radarr base URLs stay exempt: those
// normally live on the same LAN.
func callbackKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "webhook") || strings.Contains(lower, "callback")
}

// updateConfig writes the submitted keys. Masked placeholder values are
// skipped so a round-tripped GET body does not wipe credentials.
func (s *Server) updateConfig(c echo.Context) error {
	ctx := c.Request().Context()

	var settings map[string]string
	if err := c.Bind(&settings); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}

	for key, value := range settings {
		if callbackKey(key) && value != "" {
			if err := pathutil.ValidateCallbackURL(value); err != nil {
				return httpError(c, http.StatusBadRequest, err.Error())
			}
		}
	}

	changed := make([]string, 0, len(settings))
	for key, value := range settings {
		if secretKey(key) && value == "********" {
			continue
		}
		if err := s.deps.Store.SetSetting(ctx, key, value); err != nil {
			return storeError(c, err)
		}
		changed = append(changed, key)
	}

	s.broadcast(websocket.EventConfigUpdated, map[string]any{"keys": changed})
	return c.JSON(http.StatusOK, map[string]any{"updated": len(changed)})
}

func (s *Server) webhookSonarr(c echo.Context) error {
	return s.handleWebhook(c, "sonarr", integrations.ParseSonarrWebhook)
}

func (s *Server) webhookRadarr(c echo.Context) error {
	return s.handleWebhook(c, "radarr", integrations.ParseRadarrWebhook)
}

// handleWebhook acknowledges immediately and runs the pipeline in the
// background. Managers treat slow webhook responses as failures.
func (s *Server) handleWebhook(c echo.Context, source string, parse func([]byte) (*integrations.MediaEvent, error)) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return httpError(c, http.StatusBadRequest, "failed to read body")
	}

	event, err := parse(body)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	if event == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "acknowledged"})
	}

	go func() {
		if _, err := s.deps.Scanner.HandleMediaEvent(context.Background(), event, s.deps.WebhookConf); err != nil {
			s.logger.Warn().Err(err).Str("source", source).Msg("Webhook pipeline failed")
		}
	}()
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) integrationsHealth(c echo.Context) error {
	if s.deps.Facade == nil {
		return c.JSON(http.StatusOK, []integrations.IntegrationStatus{})
	}
	return c.JSON(http.StatusOK, s.deps.Facade.Health(c.Request().Context()))
}

func (s *Server) integrationsMapping(c echo.Context) error {
	if s.deps.Facade == nil {
		return httpError(c, http.StatusBadRequest, "no integrations configured")
	}
	return c.JSON(http.StatusOK, s.deps.Facade.BuildMappingReport(c.Request().Context()))
}

func (s *Server) integrationsCompat(c echo.Context) error {
	if s.deps.Inventory == nil {
		return httpError(c, http.StatusBadRequest, "no library source configured")
	}
	entries, err := s.deps.Inventory.ExportEntries(c.Request().Context())
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
	issues := integrations.CheckCompatibility(c.Param("flavor"), entries)
	return c.JSON(http.StatusOK, map[string]any{
		"flavor": c.Param("flavor"),
		"issues": issues,
	})
}

func (s *Server) integrationsExport(c echo.Context) error {
	if s.deps.Inventory == nil {
		return httpError(c, http.StatusBadRequest, "no library source configured")
	}
	entries, err := s.deps.Inventory.ExportEntries(c.Request().Context())
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}

	format := c.QueryParam("format")
	if format == "zip" {
		data, err := integrations.ExportZip(entries)
		if err != nil {
			return httpError(c, http.StatusInternalServerError, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="sublarr-export.zip"`)
		return c.Blob(http.StatusOK, "application/zip", data)
	}
	if format == "" {
		format = string(integrations.ExportJSON)
	}

	data, mime, err := integrations.Export(integrations.ExportFormat(format), entries)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.Blob(http.StatusOK, mime, data)
}

func (s *Server) listTasks(c echo.Context) error {
	if s.deps.Scheduler == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.deps.Scheduler.ListTasks())
}

func (s *Server) runTask(c echo.Context) error {
	if s.deps.Scheduler == nil {
		return httpError(c, http.StatusBadRequest, "scheduler disabled")
	}
	if err := s.deps.Scheduler.RunNow(c.Param("id")); err != nil {
		return httpError(c, http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "task started"})
}
