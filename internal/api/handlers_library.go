package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sublarr/sublarr/internal/library"
)

func (s *Server) listLibrary(c echo.Context) error {
	if s.deps.Inventory == nil {
		return c.JSON(http.StatusOK, []library.ItemView{})
	}
	views, err := s.deps.Inventory.List(c.Request().Context())
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, views)
}

// episodeSubtitles lists subtitles next to one video. The id path segment
// carries the video path as a query parameter fallback for callers that
// only know the file.
func (s *Server) episodeSubtitles(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return httpError(c, http.StatusBadRequest, "path query parameter is required")
	}
	return c.JSON(http.StatusOK, library.SubtitlesFor(path))
}

func (s *Server) seriesSubtitles(c echo.Context) error {
	if s.deps.Inventory == nil {
		return c.JSON(http.StatusOK, []library.ItemView{})
	}
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	views, err := s.deps.Inventory.SeriesSubtitles(c.Request().Context(), id)
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, views)
}

// deleteSubtitles soft-deletes subtitle files into the trash.
func (s *Server) deleteSubtitles(c echo.Context) error {
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return httpError(c, http.StatusBadRequest, "paths is required")
	}

	batch, err := s.deps.Trash.Delete(c.Request().Context(), req.Paths)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, batch)
}

// batchDeleteSubtitles trashes every subtitle of one series matching the
// requested language.
func (s *Server) batchDeleteSubtitles(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}

	var req struct {
		Language string `json:"language,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if s.deps.Inventory == nil {
		return httpError(c, http.StatusBadRequest, "no library source configured")
	}

	views, err := s.deps.Inventory.SeriesSubtitles(ctx, id)
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}

	var paths []string
	for _, v := range views {
		for _, sub := range v.Subtitles {
			if req.Language == "" || sub.Language == req.Language {
				paths = append(paths, sub.Path)
			}
		}
	}
	if len(paths) == 0 {
		return c.JSON(http.StatusOK, map[string]int{"deleted": 0})
	}

	batch, err := s.deps.Trash.Delete(ctx, paths)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, batch)
}

func (s *Server) listTrash(c echo.Context) error {
	batches, err := s.deps.Trash.List(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, batches)
}

func (s *Server) restoreTrash(c echo.Context) error {
	batch, err := s.deps.Trash.Restore(c.Request().Context(), c.Param("batchId"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, batch)
}

func (s *Server) purgeTrash(c echo.Context) error {
	if err := s.deps.Trash.Purge(c.Request().Context(), c.Param("batchId")); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type toolRequest struct {
	Path     string `json:"path"`
	OffsetMs int64  `json:"offsetMs,omitempty"`
}

func (s *Server) toolRemoveHI(c echo.Context) error {
	var req toolRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return httpError(c, http.StatusBadRequest, "path is required")
	}
	result, err := s.deps.Tools.RemoveHI(req.Path)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) toolAdjustTiming(c echo.Context) error {
	var req toolRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return httpError(c, http.StatusBadRequest, "path is required")
	}
	result, err := s.deps.Tools.AdjustTiming(req.Path, time.Duration(req.OffsetMs)*time.Millisecond)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) toolCommonFixes(c echo.Context) error {
	var req toolRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return httpError(c, http.StatusBadRequest, "path is required")
	}
	result, err := s.deps.Tools.CommonFixes(req.Path)
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) toolPreview(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return httpError(c, http.StatusBadRequest, "path query parameter is required")
	}
	tool := c.QueryParam("tool")
	if tool == "" {
		tool = "remove-hi"
	}
	lines, err := s.deps.Tools.Preview(path, tool, intQuery(c, "lines", 20))
	if err != nil {
		return httpError(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, lines)
}

func (s *Server) listWatchedFolders(c echo.Context) error {
	folders, err := s.deps.Store.ListWatchedFolders(c.Request().Context(), false)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, folders)
}

func (s *Server) addWatchedFolder(c echo.Context) error {
	var req struct {
		Path     string `json:"path"`
		ItemType string `json:"itemType,omitempty"`
	}
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return httpError(c, http.StatusBadRequest, "path is required")
	}
	if req.ItemType == "" {
		req.ItemType = "movie"
	}
	folder, err := s.deps.Store.AddWatchedFolder(c.Request().Context(), req.Path, req.ItemType)
	if err != nil {
		return storeError(c, err)
	}
	s.refreshWatcher(c.Request().Context())
	return c.JSON(http.StatusCreated, folder)
}

func (s *Server) refreshWatcher(ctx context.Context) {
	if s.deps.Watcher == nil {
		return
	}
	if err := s.deps.Watcher.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Watcher refresh failed")
	}
}

func (s *Server) removeWatchedFolder(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	if err := s.deps.Store.RemoveWatchedFolder(c.Request().Context(), id); err != nil {
		return storeError(c, err)
	}
	s.refreshWatcher(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) triggerScan(c echo.Context) error {
	go func() {
		if _, err := s.deps.Scanner.Scan(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Triggered scan failed")
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "scan started"})
}
