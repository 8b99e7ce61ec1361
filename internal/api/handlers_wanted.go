package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/websocket"
)

func intParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func intQuery(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func (s *Server) listWanted(c echo.Context) error {
	filter := store.WantedFilter{
		ItemType:     c.QueryParam("item_type"),
		Status:       store.WantedStatus(c.QueryParam("status")),
		SubtitleType: store.SubtitleType(c.QueryParam("subtitle_type")),
		Limit:        intQuery(c, "limit", 50),
		Offset:       intQuery(c, "offset", 0),
	}
	if v := c.QueryParam("series_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.SeriesID = &id
		}
	}

	items, total, err := s.deps.Store.ListWanted(c.Request().Context(), filter)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) wantedSummary(c echo.Context) error {
	summary, err := s.deps.Store.GetWantedSummary(c.Request().Context())
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) createWanted(c echo.Context) error {
	var item store.WantedItem
	if err := c.Bind(&item); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if item.FilePath == "" || item.TargetLanguage == "" {
		return httpError(c, http.StatusBadRequest, "filePath and targetLanguage are required")
	}
	if item.SubtitleType == "" {
		item.SubtitleType = store.SubtitleTypeFull
	}
	item.Status = store.WantedStatusWanted

	created, err := s.deps.Store.UpsertWanted(c.Request().Context(), item)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) getWanted(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	item, err := s.deps.Store.GetWanted(c.Request().Context(), id)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) deleteWanted(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	if err := s.deps.Store.DeleteWanted(c.Request().Context(), id); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// refreshWanted triggers a library scan in the background.
func (s *Server) refreshWanted(c echo.Context) error {
	go func() {
		if _, err := s.deps.Scanner.Scan(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Triggered scan failed")
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "scan started"})
}

// searchWanted runs the pipeline for one item immediately, ignoring the
// backoff gate. Explicit user action overrides the schedule.
func (s *Server) searchWanted(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	item, err := s.deps.Store.GetWanted(ctx, id)
	if err != nil {
		return storeError(c, err)
	}

	result, err := s.deps.Pipeline.Process(ctx, item)
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// batchSearchWanted processes a list of item ids in the background.
func (s *Server) batchSearchWanted(c echo.Context) error {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.IDs) == 0 {
		return httpError(c, http.StatusBadRequest, "ids is required")
	}

	go func() {
		ctx := context.Background()
		done := 0
		for _, id := range req.IDs {
			item, err := s.deps.Store.GetWanted(ctx, id)
			if err != nil {
				continue
			}
			if _, err := s.deps.Pipeline.Process(ctx, item); err != nil {
				s.logger.Warn().Err(err).Int64("id", id).Msg("Batch search item failed")
			}
			done++
			s.broadcast(websocket.EventWantedBatchProgress, map[string]any{
				"done":  done,
				"total": len(req.IDs),
			})
		}
		s.broadcast(websocket.EventWantedBatchCompleted, map[string]int{"total": len(req.IDs)})
	}()

	return c.JSON(http.StatusAccepted, map[string]int{"queued": len(req.IDs)})
}

// searchAllWanted kicks off a full search pass in the background.
func (s *Server) searchAllWanted(c echo.Context) error {
	go func() {
		if _, err := s.deps.Scanner.Search(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Triggered search pass failed")
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "search started"})
}
