package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/scanner"
	"github.com/sublarr/sublarr/internal/testutil"
)

type eventCollector struct {
	mu     sync.Mutex
	events []FileEvent
	notify chan struct{}
}

func newEventCollector() *eventCollector {
	return &eventCollector{notify: make(chan struct{}, 10)}
}

func (c *eventCollector) handle(events []FileEvent) {
	c.mu.Lock()
	c.events = append(c.events, events...)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *eventCollector) wait(t *testing.T) []FileEvent {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for file events")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FileEvent(nil), c.events...)
}

func TestWatcherReportsVideoCreation(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{DebounceDelay: 50 * time.Millisecond, MaxBatchSize: 100}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	collector := newEventCollector()
	w.SetHandler(collector.handle)
	require.NoError(t, w.AddPath(dir))
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Movie.2023.mkv"), []byte("x"), 0o644))

	events := collector.wait(t)
	require.NotEmpty(t, events)
	assert.Equal(t, filepath.Join(dir, "Movie.2023.mkv"), events[0].Path)
}

func TestWatcherIgnoresNonVideoFiles(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{DebounceDelay: 50 * time.Millisecond, MaxBatchSize: 100}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	collector := newEventCollector()
	w.SetHandler(collector.handle)
	require.NoError(t, w.AddPath(dir))
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case <-collector.notify:
		t.Fatal("non-video file must not produce events")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDeduplicatesRapidWrites(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{DebounceDelay: 100 * time.Millisecond, MaxBatchSize: 100}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	collector := newEventCollector()
	w.SetHandler(collector.handle)
	require.NoError(t, w.AddPath(dir))
	w.Start()

	path := filepath.Join(dir, "Show.S01E01.mkv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.WriteString("chunk")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	events := collector.wait(t)
	count := 0
	for _, e := range events {
		if e.Path == path {
			count++
		}
	}
	assert.Equal(t, 1, count, "rapid writes on one file collapse to one event")
}

type fakeSink struct {
	mu     sync.Mutex
	events []*integrations.MediaEvent
	notify chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{notify: make(chan struct{}, 10)}
}

func (f *fakeSink) HandleMediaEvent(_ context.Context, event *integrations.MediaEvent, _ scanner.WebhookConfig) (*scanner.WebhookOutcome, error) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	f.notify <- struct{}{}
	return &scanner.WebhookOutcome{Event: event}, nil
}

func TestServiceDispatchesPipelineEvents(t *testing.T) {
	st := testutil.NewTestStore(t)

	dir := t.TempDir()
	_, err := st.AddWatchedFolder(context.Background(), dir, "movie")
	require.NoError(t, err)

	sink := newFakeSink()
	svc, err := NewService(st, sink, scanner.WebhookConfig{ScanEnabled: true}, zerolog.Nop())
	require.NoError(t, err)
	svc.watcher.config.DebounceDelay = 50 * time.Millisecond

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop() })

	path := filepath.Join(dir, "Heat.1995.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	select {
	case <-sink.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pipeline dispatch")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.events)
	event := sink.events[0]
	assert.Equal(t, "watcher", event.Source)
	assert.Equal(t, "movie", event.ItemType)
	assert.Equal(t, path, event.VideoPath)
	assert.Equal(t, "Heat", event.Title)
}

func TestServiceRefreshDropsRemovedFolders(t *testing.T) {
	st := testutil.NewTestStore(t)

	ctx := context.Background()
	dir := t.TempDir()
	folder, err := st.AddWatchedFolder(ctx, dir, "movie")
	require.NoError(t, err)

	svc, err := NewService(st, newFakeSink(), scanner.WebhookConfig{}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { svc.Stop() })

	assert.NotEmpty(t, svc.watcher.WatchedPaths())

	require.NoError(t, st.RemoveWatchedFolder(ctx, folder.ID))
	require.NoError(t, svc.Refresh(ctx))
	assert.Empty(t, svc.folders)
}
