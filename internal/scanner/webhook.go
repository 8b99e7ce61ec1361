package scanner

import (
	"context"
	"time"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translator"
	"github.com/sublarr/sublarr/internal/websocket"
)

// WebhookConfig toggles the phases of the webhook-driven pipeline.
type WebhookConfig struct {
	Delay         time.Duration // wait for the file to settle before probing
	ScanEnabled   bool
	SearchEnabled bool
	NotifyEnabled bool
}

// DefaultWebhookConfig enables every phase with a short settle delay.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Delay:         10 * time.Second,
		ScanEnabled:   true,
		SearchEnabled: true,
		NotifyEnabled: true,
	}
}

// WebhookOutcome reports what the webhook pipeline did.
type WebhookOutcome struct {
	Event       *integrations.MediaEvent `json:"event"`
	ItemsAdded  int                      `json:"itemsAdded"`
	ItemsFound  int                      `json:"itemsFound"`
	ItemsFailed int                      `json:"itemsFailed"`
}

// HandleMediaEvent runs the webhook pipeline for one download event:
// optional delay, targeted scan of the affected video, wanted processing
// for any new items, then a completion broadcast. Meant to run on a
// background worker, not the request goroutine.
func (s *Scanner) HandleMediaEvent(ctx context.Context, event *integrations.MediaEvent, cfg WebhookConfig) (*WebhookOutcome, error) {
	outcome := &WebhookOutcome{Event: event}
	s.broadcast(websocket.EventWebhookReceived, event)

	if event.IsTest() || event.VideoPath == "" {
		s.broadcast(websocket.EventWebhookCompleted, outcome)
		return outcome, nil
	}

	if cfg.Delay > 0 {
		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if cfg.ScanEnabled {
		result := &ScanResult{}
		item := integrations.LibraryItem{
			ItemType:  event.ItemType,
			Title:     event.Title,
			VideoPath: event.VideoPath,
			Season:    event.Season,
			Episode:   event.Episode,
			SeriesID:  event.SeriesID,
			MovieID:   event.MovieID,
			Year:      event.Year,
		}
		s.scanItem(ctx, item, result)
		outcome.ItemsAdded = result.WantedAdded
	}

	if cfg.SearchEnabled {
		items, _, err := s.store.ListWanted(ctx, store.WantedFilter{Status: store.WantedStatusWanted})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.FilePath != event.VideoPath {
				continue
			}
			res, err := s.pipeline.Process(ctx, item)
			if err != nil {
				s.logger.Warn().Err(err).Int64("id", item.ID).Msg("Webhook processing failed")
				continue
			}
			switch res.Status {
			case store.WantedStatusFound:
				outcome.ItemsFound++
			case store.WantedStatusFailed:
				outcome.ItemsFailed++
			}
		}
	}

	if cfg.NotifyEnabled {
		s.broadcast(websocket.EventWebhookCompleted, outcome)
	}
	return outcome, nil
}

// SatisfiedByExisting reports whether the event's video already has its
// target subtitle, letting handlers short-circuit before scheduling work.
func SatisfiedByExisting(videoPath, language string) bool {
	sub, err := translator.FindExternalSubtitle(videoPath, language, false)
	return err == nil && sub != nil && sub.IsASS
}
