package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/scanner"
	"github.com/sublarr/sublarr/internal/store"
)

// EventSink runs the scan-and-search pipeline for one media event.
// Satisfied by the scanner.
type EventSink interface {
	HandleMediaEvent(ctx context.Context, event *integrations.MediaEvent, cfg scanner.WebhookConfig) (*scanner.WebhookOutcome, error)
}

// Service keeps the watcher's paths in sync with the watched-folder table
// and turns debounced file events into pipeline runs.
type Service struct {
	watcher *Watcher
	store   *store.Store
	sink    EventSink
	cfg     scanner.WebhookConfig
	logger  zerolog.Logger

	mu      sync.RWMutex
	folders map[int64]*store.WatchedFolder

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the watcher service. The webhook config's delay gives
// files time to finish copying before the targeted scan probes them.
func NewService(st *store.Store, sink EventSink, cfg scanner.WebhookConfig, logger zerolog.Logger) (*Service, error) {
	w, err := New(DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		watcher: w,
		store:   st,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With().Str("component", "watcher-service").Logger(),
		folders: make(map[int64]*store.WatchedFolder),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.SetHandler(s.handleEvents)
	return s, nil
}

// Start loads the enabled watched folders and begins watching them.
func (s *Service) Start(ctx context.Context) error {
	folders, err := s.store.ListWatchedFolders(ctx, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, folder := range folders {
		if err := s.watcher.AddPath(folder.Path); err != nil {
			s.logger.Warn().Err(err).Str("path", folder.Path).Msg("Failed to watch folder")
			continue
		}
		s.folders[folder.ID] = folder
	}
	count := len(s.folders)
	s.mu.Unlock()

	s.watcher.Start()
	s.logger.Info().Int("folders", count).Msg("Watcher service started")
	return nil
}

// Stop halts event delivery.
func (s *Service) Stop() error {
	s.cancel()
	return s.watcher.Stop()
}

// Refresh reconciles the watch set against the watched-folder table. Called
// after folders are added or removed through the API.
func (s *Service) Refresh(ctx context.Context) error {
	folders, err := s.store.ListWatchedFolders(ctx, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[int64]*store.WatchedFolder, len(folders))
	for _, folder := range folders {
		current[folder.ID] = folder
	}

	for id, folder := range s.folders {
		if _, keep := current[id]; !keep {
			s.watcher.RemovePath(folder.Path)
			delete(s.folders, id)
		}
	}
	for id, folder := range current {
		if _, watching := s.folders[id]; !watching {
			if err := s.watcher.AddPath(folder.Path); err != nil {
				s.logger.Warn().Err(err).Str("path", folder.Path).Msg("Failed to watch folder")
				continue
			}
			s.folders[id] = folder
		}
	}
	return nil
}

// handleEvents feeds new or changed video files through the pipeline.
// Removals are left to the next scheduled scan's pruning.
func (s *Service) handleEvents(events []FileEvent) {
	for _, event := range events {
		if event.Op != "create" && event.Op != "write" {
			continue
		}
		folder := s.folderFor(event.Path)
		if folder == nil {
			continue
		}

		base := strings.TrimSuffix(filepath.Base(event.Path), filepath.Ext(event.Path))
		media := &integrations.MediaEvent{
			Source:    "watcher",
			EventType: integrations.WebhookEventDownload,
			ItemType:  folder.ItemType,
			VideoPath: event.Path,
			Title:     scanner.ParseTitle(base),
		}

		if _, err := s.sink.HandleMediaEvent(s.ctx, media, s.cfg); err != nil {
			s.logger.Warn().Err(err).Str("path", event.Path).Msg("File event processing failed")
		}
	}
}

func (s *Service) folderFor(path string) *store.WatchedFolder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, folder := range s.folders {
		if rel, err := filepath.Rel(folder.Path, path); err == nil &&
			rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return folder
		}
	}
	return nil
}
