package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sublarr/sublarr/internal/jobqueue"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translation"
	"github.com/sublarr/sublarr/internal/translator"
	"github.com/sublarr/sublarr/internal/websocket"
)

// TranslateRequest is the body of the translate endpoints.
type TranslateRequest struct {
	VideoPath      string `json:"videoPath"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	RemoveHI       bool   `json:"removeHi,omitempty"`
}

// BatchState tracks one in-flight batch.
type BatchState struct {
	ID        string     `json:"id"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Running   bool       `json:"running"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (s *Server) buildRequest(ctx context.Context, req TranslateRequest) translator.Request {
	out := translator.Request{
		VideoPath:      req.VideoPath,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		RemoveHI:       req.RemoveHI,
	}
	if profile, err := s.deps.Store.GetDefaultProfile(ctx); err == nil {
		if out.SourceLanguage == "" {
			out.SourceLanguage = profile.SourceLanguage
		}
		if out.TargetLanguage == "" && len(profile.TargetLanguages) > 0 {
			out.TargetLanguage = profile.TargetLanguages[0]
		}
		out.Chain = profile.FallbackChain
	}
	out.Glossary = s.globalGlossary(ctx)
	return out
}

// globalGlossary loads the series-independent glossary terms. Requests built
// here carry them so job config hashes line up with the pipeline's.
func (s *Server) globalGlossary(ctx context.Context) []translation.Term {
	entries, err := s.deps.Store.MergedGlossary(ctx, "")
	if err != nil {
		return nil
	}
	terms := make([]translation.Term, 0, len(entries))
	for _, e := range entries {
		terms = append(terms, translation.Term{Source: e.SourceTerm, Target: e.TargetTerm})
	}
	return terms
}

// currentConfigHash fingerprints the active translation configuration, the
// same way completed jobs record theirs. Empty when no backend manager is
// wired.
func (s *Server) currentConfigHash(ctx context.Context) string {
	if s.deps.Translation == nil {
		return ""
	}
	var chain []string
	var target string
	if profile, err := s.deps.Store.GetDefaultProfile(ctx); err == nil {
		chain = profile.FallbackChain
		if len(profile.TargetLanguages) > 0 {
			target = profile.TargetLanguages[0]
		}
	}
	return s.deps.Translation.ConfigHash(chain, target, s.globalGlossary(ctx))
}

// translateAsync enqueues a file translation and returns the job id.
func (s *Server) translateAsync(c echo.Context) error {
	var req TranslateRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.VideoPath == "" {
		return httpError(c, http.StatusBadRequest, "videoPath is required")
	}

	trReq := s.buildRequest(c.Request().Context(), req)
	work := func(ctx context.Context) (*jobqueue.Outcome, error) {
		result, err := s.deps.Translator.TranslateFile(ctx, trReq)
		if err != nil {
			return nil, err
		}
		s.broadcast(websocket.EventJobUpdate, result)
		return &jobqueue.Outcome{OutputPath: result.OutputPath, ConfigHash: result.ConfigHash}, nil
	}

	id, err := jobqueue.Run(c.Request().Context(), s.queue(), req.VideoPath, work)
	if err != nil {
		return httpError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"jobId": id})
}

// translateSync runs the translation on the request goroutine.
func (s *Server) translateSync(c echo.Context) error {
	var req TranslateRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.VideoPath == "" {
		return httpError(c, http.StatusBadRequest, "videoPath is required")
	}

	result, err := s.deps.Translator.TranslateFile(c.Request().Context(), s.buildRequest(c.Request().Context(), req))
	if err != nil {
		return httpError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) queue() jobqueue.Queue {
	if s.deps.Queue == nil {
		return nil
	}
	return s.deps.Queue
}

func (s *Server) getJobStatus(c echo.Context) error {
	if s.deps.Queue == nil {
		return httpError(c, http.StatusNotFound, "job tracking disabled")
	}
	job, err := s.deps.Queue.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c echo.Context) error {
	status := store.JobStatus(c.QueryParam("status"))
	jobs, err := s.deps.Store.ListJobs(c.Request().Context(), status, intQuery(c, "limit", 100))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

// retryJob requeues a failed job's file through a fresh translation.
func (s *Server) retryJob(c echo.Context) error {
	ctx := c.Request().Context()
	job, err := s.deps.Store.GetJob(ctx, c.Param("id"))
	if err != nil {
		return storeError(c, err)
	}
	if job.Status != store.JobStatusFailed {
		return httpError(c, http.StatusBadRequest, "only failed jobs can be retried")
	}

	trReq := s.buildRequest(ctx, TranslateRequest{VideoPath: job.FilePath})
	id, err := jobqueue.Run(ctx, s.queue(), job.FilePath, func(ctx context.Context) (*jobqueue.Outcome, error) {
		result, err := s.deps.Translator.TranslateFile(ctx, trReq)
		if err != nil {
			return nil, err
		}
		return &jobqueue.Outcome{OutputPath: result.OutputPath, ConfigHash: result.ConfigHash}, nil
	})
	if err != nil {
		return httpError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"jobId": id})
}

// startBatch translates a list of files in the background, tracking
// progress under a batch id.
func (s *Server) startBatch(c echo.Context) error {
	var req struct {
		Files          []string `json:"files"`
		SourceLanguage string   `json:"sourceLanguage,omitempty"`
		TargetLanguage string   `json:"targetLanguage,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.Files) == 0 {
		return httpError(c, http.StatusBadRequest, "files is required")
	}

	state := &BatchState{
		ID:        uuid.NewString(),
		Total:     len(req.Files),
		Running:   true,
		StartedAt: time.Now().UTC(),
	}
	s.batchMu.Lock()
	s.batches[state.ID] = state
	s.batchMu.Unlock()

	base := TranslateRequest{SourceLanguage: req.SourceLanguage, TargetLanguage: req.TargetLanguage}
	go s.runBatch(state, req.Files, base)

	return c.JSON(http.StatusAccepted, state)
}

func (s *Server) runBatch(state *BatchState, files []string, base TranslateRequest) {
	ctx := context.Background()
	for _, file := range files {
		req := base
		req.VideoPath = file
		_, err := s.deps.Translator.TranslateFile(ctx, s.buildRequest(ctx, req))

		s.batchMu.Lock()
		if err != nil {
			state.Failed++
		}
		state.Completed++
		progress := *state
		s.batchMu.Unlock()

		s.broadcast(websocket.EventBatchProgress, progress)
	}

	now := time.Now().UTC()
	s.batchMu.Lock()
	state.Running = false
	state.EndedAt = &now
	final := *state
	s.batchMu.Unlock()
	s.broadcast(websocket.EventBatchCompleted, final)
}

func (s *Server) batchStatus(c echo.Context) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	states := make([]BatchState, 0, len(s.batches))
	for _, b := range s.batches {
		states = append(states, *b)
	}
	return c.JSON(http.StatusOK, states)
}

// retranslate re-runs translation for one wanted item's video.
func (s *Server) retranslate(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := intParam(c, "id")
	if err != nil {
		return httpError(c, http.StatusBadRequest, "invalid id")
	}
	item, err := s.deps.Store.GetWanted(ctx, id)
	if err != nil {
		return storeError(c, err)
	}

	trReq := s.buildRequest(ctx, TranslateRequest{VideoPath: item.FilePath, TargetLanguage: item.TargetLanguage})
	jobID, err := jobqueue.Run(ctx, s.queue(), item.FilePath, func(ctx context.Context) (*jobqueue.Outcome, error) {
		result, err := s.deps.Translator.TranslateFile(ctx, trReq)
		if err != nil {
			return nil, err
		}
		s.broadcast(websocket.EventRetranslationCompleted, result)
		return &jobqueue.Outcome{OutputPath: result.OutputPath, ConfigHash: result.ConfigHash}, nil
	})
	if err != nil {
		return httpError(c, http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"jobId": jobID})
}

// retranslateBatch re-runs translation for every file whose last completed
// job recorded a different translation configuration than the current one.
func (s *Server) retranslateBatch(c echo.Context) error {
	ctx := c.Request().Context()
	currentHash := s.currentConfigHash(ctx)
	if currentHash == "" {
		return httpError(c, http.StatusServiceUnavailable, "translation backends not configured")
	}

	jobs, err := s.deps.Store.ListOutdatedJobs(ctx, currentHash)
	if err != nil {
		return storeError(c, err)
	}
	files := make([]string, 0, len(jobs))
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if seen[job.FilePath] {
			continue
		}
		seen[job.FilePath] = true
		files = append(files, job.FilePath)
	}
	if len(files) == 0 {
		return c.JSON(http.StatusOK, map[string]int{"queued": 0})
	}

	state := &BatchState{
		ID:        uuid.NewString(),
		Total:     len(files),
		Running:   true,
		StartedAt: time.Now().UTC(),
	}
	s.batchMu.Lock()
	s.batches[state.ID] = state
	s.batchMu.Unlock()

	go s.runRetranslateBatch(state, files)
	return c.JSON(http.StatusAccepted, state)
}

// runRetranslateBatch pushes each outdated file back through the translator.
// Completed jobs record the fresh config hash, clearing their outdated state.
func (s *Server) runRetranslateBatch(state *BatchState, files []string) {
	ctx := context.Background()
	for _, file := range files {
		trReq := s.buildRequest(ctx, TranslateRequest{VideoPath: file})
		work := func(ctx context.Context) (*jobqueue.Outcome, error) {
			result, err := s.deps.Translator.TranslateFile(ctx, trReq)
			s.finishBatchItem(state, err)
			if err != nil {
				return nil, err
			}
			return &jobqueue.Outcome{OutputPath: result.OutputPath, ConfigHash: result.ConfigHash}, nil
		}
		if _, err := jobqueue.Run(ctx, s.queue(), file, work); err != nil && s.deps.Queue != nil {
			// Synchronous runs already counted themselves inside work.
			s.finishBatchItem(state, err)
		}
	}
}

// finishBatchItem records one finished file and closes the batch on the last
// one.
func (s *Server) finishBatchItem(state *BatchState, err error) {
	s.batchMu.Lock()
	if err != nil {
		state.Failed++
	}
	state.Completed++
	done := state.Completed >= state.Total
	if done && state.Running {
		state.Running = false
		now := time.Now().UTC()
		state.EndedAt = &now
	}
	progress := *state
	s.batchMu.Unlock()

	if done {
		s.broadcast(websocket.EventRetranslationCompleted, progress)
	} else {
		s.broadcast(websocket.EventRetranslationProgress, progress)
	}
}

// retranslateStatus reports how many completed jobs are outdated against the
// current configuration, plus any in-flight batches.
func (s *Server) retranslateStatus(c echo.Context) error {
	ctx := c.Request().Context()

	outdated := 0
	if currentHash := s.currentConfigHash(ctx); currentHash != "" {
		jobs, err := s.deps.Store.ListOutdatedJobs(ctx, currentHash)
		if err != nil {
			return storeError(c, err)
		}
		outdated = len(jobs)
	}

	s.batchMu.Lock()
	states := make([]BatchState, 0, len(s.batches))
	for _, b := range s.batches {
		states = append(states, *b)
	}
	s.batchMu.Unlock()

	return c.JSON(http.StatusOK, map[string]any{
		"outdated": outdated,
		"batches":  states,
	})
}

func (s *Server) broadcast(event string, payload any) {
	if s.deps.Hub == nil {
		return
	}
	if err := s.deps.Hub.Broadcast(event, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("Broadcast failed")
	}
}
