// Package watcher reacts to filesystem activity in watched folders. It is
// the standalone-mode counterpart to the *arr webhooks: a new video file
// triggers the same targeted scan-and-search pipeline without waiting for
// the next scheduled scan.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/scanner"
)

// FileEvent is one debounced filesystem change on a video file.
type FileEvent struct {
	Path      string    `json:"path"`
	Op        string    `json:"op"` // create, write, remove, rename
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives a debounced batch of events.
type Handler func(events []FileEvent)

// Config tunes event batching.
type Config struct {
	// DebounceDelay is how long to wait after the last event before
	// flushing the batch. Copies and unpacks touch the same file many
	// times in quick succession.
	DebounceDelay time.Duration
	// MaxBatchSize forces a flush regardless of the debounce timer.
	MaxBatchSize int
}

// DefaultConfig returns the default batching parameters.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 2 * time.Second,
		MaxBatchSize:  100,
	}
}

// Watcher wraps fsnotify with recursive directory tracking and event
// debouncing. Only video files produce events.
type Watcher struct {
	fs      *fsnotify.Watcher
	config  Config
	logger  zerolog.Logger
	handler Handler

	pathsMu sync.RWMutex
	paths   map[string]bool

	eventsMu sync.Mutex
	pending  map[string]FileEvent
	debounce *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher. Call AddPath and Start afterwards.
func New(config Config, logger zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		fs:      fs,
		config:  config,
		logger:  logger.With().Str("component", "watcher").Logger(),
		paths:   make(map[string]bool),
		pending: make(map[string]FileEvent),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// SetHandler registers the batch consumer.
func (w *Watcher) SetHandler(handler Handler) {
	w.handler = handler
}

// Start begins delivering events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.eventLoop()
}

// Stop flushes pending events and releases the inotify resources.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.fs.Close()
}

// AddPath watches a directory tree. Dot-directories are skipped, matching
// the scanner's enumeration rules.
func (w *Watcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	if w.paths[abs] {
		return nil
	}
	if err := w.fs.Add(abs); err != nil {
		return err
	}
	w.paths[abs] = true

	err = filepath.WalkDir(abs, func(sub string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || sub == abs {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(sub); err != nil {
			w.logger.Warn().Err(err).Str("path", sub).Msg("Failed to watch subdirectory")
			return nil
		}
		w.paths[sub] = true
		return nil
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("path", abs).Msg("Walk failed while adding watches")
	}

	w.logger.Info().Str("path", abs).Msg("Watching folder")
	return nil
}

// RemovePath drops a directory tree from the watch set.
func (w *Watcher) RemovePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.pathsMu.Lock()
	defer w.pathsMu.Unlock()

	for watched := range w.paths {
		if watched == abs || isSubPath(watched, abs) {
			w.fs.Remove(watched)
			delete(w.paths, watched)
		}
	}
	return nil
}

// WatchedPaths lists every directory currently under watch.
func (w *Watcher) WatchedPaths() []string {
	w.pathsMu.RLock()
	defer w.pathsMu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for path := range w.paths {
		paths = append(paths, path)
	}
	return paths
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.eventsMu.Lock()
			w.flushLocked()
			w.eventsMu.Unlock()
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	if !scanner.IsVideoFile(name) {
		// New directories join the watch set so nested drops are seen.
		if event.Has(fsnotify.Create) && !strings.HasPrefix(name, ".") {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.fs.Add(event.Name); err == nil {
					w.pathsMu.Lock()
					w.paths[event.Name] = true
					w.pathsMu.Unlock()
				}
			}
		}
		return
	}

	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "create"
	case event.Has(fsnotify.Write):
		op = "write"
	case event.Has(fsnotify.Remove):
		op = "remove"
	case event.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}

	w.eventsMu.Lock()
	defer w.eventsMu.Unlock()

	// Keyed by path so a copy in progress collapses to one event.
	w.pending[event.Name] = FileEvent{Path: event.Name, Op: op, Timestamp: time.Now()}

	if len(w.pending) >= w.config.MaxBatchSize {
		w.flushLocked()
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.config.DebounceDelay, func() {
		w.eventsMu.Lock()
		defer w.eventsMu.Unlock()
		w.flushLocked()
	})
}

func (w *Watcher) flushLocked() {
	if len(w.pending) == 0 {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}

	events := make([]FileEvent, 0, len(w.pending))
	for _, event := range w.pending {
		events = append(events, event)
	}
	w.pending = make(map[string]FileEvent)

	if w.handler != nil {
		go w.handler(events)
	}
	w.logger.Debug().Int("count", len(events)).Msg("Flushed file events")
}

func isSubPath(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
