// Package transcriber produces subtitles from speech via a Whisper ASR
// webservice. It is the last resort of the translation waterfall: a
// transcribed source-language SRT is written next to the video, then the
// normal translate path picks it up as external source material.
package transcriber

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/jobqueue"
	"github.com/sublarr/sublarr/internal/translator"
)

const defaultTimeout = 30 * time.Minute

// Client talks to a whisper-asr-webservice instance.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientConfig configures the ASR connection.
type ClientConfig struct {
	URL     string
	Model   string // advisory, the service picks its loaded model
	Timeout time.Duration
}

// NewClient creates an ASR client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("whisper URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "whisper-client").Logger(),
	}, nil
}

// Transcribe uploads an audio file and returns the recognized speech as SRT.
// language may be empty for auto-detection.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) ([]byte, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	params := url.Values{}
	params.Set("task", "transcribe")
	params.Set("output", "srt")
	if language != "" {
		params.Set("language", language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/asr?"+params.Encode(), pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("transcription produced no output")
	}
	return data, nil
}

// Health checks service reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/openapi.json", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper returned status %d", resp.StatusCode)
	}
	return nil
}

// CompletionHandler re-enters the translation pipeline once a transcribed
// SRT exists next to the video.
type CompletionHandler func(ctx context.Context, videoPath, sourceLang, targetLang string) error

// AudioExtractor pulls an audio track out of a video container. Satisfied
// by the translator's Prober.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

// Service runs transcription jobs in the background. It implements the
// translator's transcription queue.
type Service struct {
	client     *Client
	prober     AudioExtractor
	queue      jobqueue.Queue
	onComplete CompletionHandler
	logger     zerolog.Logger
}

// NewService wires the ASR client to the job queue. queue may be nil; jobs
// then run synchronously in the caller.
func NewService(client *Client, prober AudioExtractor, queue jobqueue.Queue, logger zerolog.Logger) *Service {
	return &Service{
		client: client,
		prober: prober,
		queue:  queue,
		logger: logger.With().Str("component", "transcriber").Logger(),
	}
}

// SetCompletionHandler registers the pipeline re-entry callback. Set after
// construction because the translator and the service reference each other.
func (s *Service) SetCompletionHandler(fn CompletionHandler) {
	s.onComplete = fn
}

// EnqueueTranscription schedules recognition of a video's speech. The
// resulting SRT lands at `<base>.<sourceLang>.srt` next to the video.
func (s *Service) EnqueueTranscription(ctx context.Context, videoPath, sourceLang, targetLang string) (string, error) {
	work := func(workCtx context.Context) (*jobqueue.Outcome, error) {
		outputPath, err := s.transcribe(workCtx, videoPath, sourceLang)
		if err != nil {
			return nil, err
		}
		if s.onComplete != nil {
			if err := s.onComplete(workCtx, videoPath, sourceLang, targetLang); err != nil {
				s.logger.Warn().Err(err).Str("video", videoPath).Msg("Pipeline re-entry after transcription failed")
			}
		}
		return &jobqueue.Outcome{OutputPath: outputPath}, nil
	}

	id, err := jobqueue.Run(ctx, s.queue, videoPath, work)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("video", videoPath).Str("job", id).Msg("Transcription queued")
	return id, nil
}

func (s *Service) transcribe(ctx context.Context, videoPath, sourceLang string) (string, error) {
	audioPath, err := s.prober.ExtractAudio(ctx, videoPath)
	if err != nil {
		return "", err
	}
	defer os.Remove(audioPath)

	lang := translator.NormalizeLanguage(sourceLang)
	data, err := s.client.Transcribe(ctx, audioPath, lang)
	if err != nil {
		return "", err
	}

	outputPath := translator.SubtitlePath(videoPath, lang, false, ".srt")
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcribed subtitle: %w", err)
	}
	s.logger.Info().Str("video", videoPath).Str("output", outputPath).Msg("Transcription complete")
	return outputPath, nil
}
