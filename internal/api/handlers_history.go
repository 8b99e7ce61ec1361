package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sublarr/sublarr/internal/store"
)

func (s *Server) listGlossary(c echo.Context) error {
	entries, err := s.deps.Store.ListGlossaryEntries(c.Request().Context(), c.QueryParam("series"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) createGlossaryEntry(c echo.Context) error {
	var entry store.GlossaryEntry
	if err := c.Bind(&entry); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if entry.SourceTerm == "" || entry.TargetTerm == "" {
		return httpError(c, http.StatusBadRequest, "sourceTerm and targetTerm are required")
	}
	created, err := s.deps.Store.CreateGlossaryEntry(c.Request().Context(), entry)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) updateGlossaryEntry(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	var entry store.GlossaryEntry
	if err := c.Bind(&entry); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	entry.ID = id

	updated, err := s.deps.Store.UpdateGlossaryEntry(c.Request().Context(), entry)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteGlossaryEntry(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	if err := s.deps.Store.DeleteGlossaryEntry(c.Request().Context(), id); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listDownloadHistory(c echo.Context) error {
	downloads, total, err := s.deps.Store.ListDownloads(c.Request().Context(),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": downloads, "total": total})
}

func (s *Server) listUpgradeHistory(c echo.Context) error {
	upgrades, err := s.deps.Store.ListUpgrades(c.Request().Context(), intQuery(c, "limit", 50))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, upgrades)
}

func (s *Server) backendStats(c echo.Context) error {
	stats, err := s.deps.Store.ListBackendStats(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
