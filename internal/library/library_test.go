package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translator"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:03,000
[door creaks] Hello there.

2
00:00:04,000 --> 00:00:06,000
JOHN: Wait for me!
`

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return store.New(db.Conn(), zerolog.Nop())
}

func writeSubtitle(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sampleSRT), 0o644))
	return path
}

func TestTrashDeleteAndRestore(t *testing.T) {
	st := newStore(t)
	root := t.TempDir()
	trash := NewTrash(st, root, time.Hour, zerolog.Nop())

	sub := writeSubtitle(t, root, "Movie.de.srt")
	sidecar := translator.SidecarPath(sub)
	require.NoError(t, os.WriteFile(sidecar, []byte(`{"score":80}`), 0o644))

	batch, err := trash.Delete(context.Background(), []string{sub})
	require.NoError(t, err)
	require.Len(t, batch.Entries, 2, "sidecar travels with its subtitle")

	assert.NoFileExists(t, sub)
	assert.NoFileExists(t, sidecar)
	assert.FileExists(t, filepath.Join(trash.Root(), batch.BatchID, "manifest.json"))

	restored, err := trash.Restore(context.Background(), batch.BatchID)
	require.NoError(t, err)
	assert.Len(t, restored.Entries, 2)
	assert.FileExists(t, sub)
	assert.FileExists(t, sidecar)

	_, err = st.GetTrashBatch(context.Background(), batch.BatchID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrashRefusesEscapingPaths(t *testing.T) {
	st := newStore(t)
	root := t.TempDir()
	trash := NewTrash(st, root, time.Hour, zerolog.Nop())

	outside := writeSubtitle(t, t.TempDir(), "Outside.de.srt")
	_, err := trash.Delete(context.Background(), []string{outside})
	assert.Error(t, err)
	assert.FileExists(t, outside, "refused deletions must not touch the file")
}

func TestTrashPurgeExpired(t *testing.T) {
	st := newStore(t)
	root := t.TempDir()
	trash := NewTrash(st, root, time.Nanosecond, zerolog.Nop())

	sub := writeSubtitle(t, root, "Old.de.srt")
	batch, err := trash.Delete(context.Background(), []string{sub})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	purged, err := trash.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.NoDirExists(t, filepath.Join(trash.Root(), batch.BatchID))
}

func TestBackupPath(t *testing.T) {
	assert.Equal(t, "/m/Movie.de.bak.srt", BackupPath("/m/Movie.de.srt"))
	assert.Equal(t, "/m/Movie.de.bak.ass", BackupPath("/m/Movie.de.ass"))
}

func TestRemoveHI(t *testing.T) {
	root := t.TempDir()
	tools := NewTools(root, zerolog.Nop())
	sub := writeSubtitle(t, root, "Movie.de.srt")

	result, err := tools.RemoveHI(sub)
	require.NoError(t, err)
	assert.FileExists(t, result.BackupPath)
	assert.Equal(t, 2, result.LinesChanged)

	data, err := os.ReadFile(sub)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello there.")
	assert.NotContains(t, string(data), "door creaks")
	assert.NotContains(t, string(data), "JOHN:")

	backup, err := os.ReadFile(result.BackupPath)
	require.NoError(t, err)
	assert.Contains(t, string(backup), "door creaks")
}

func TestAdjustTiming(t *testing.T) {
	root := t.TempDir()
	tools := NewTools(root, zerolog.Nop())
	sub := writeSubtitle(t, root, "Movie.de.srt")

	result, err := tools.AdjustTiming(sub, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, result.LinesChanged)

	data, err := os.ReadFile(sub)
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:03,000 --> 00:00:05,000")
}

func TestAdjustTimingClampsAtZero(t *testing.T) {
	root := t.TempDir()
	tools := NewTools(root, zerolog.Nop())
	sub := writeSubtitle(t, root, "Movie.de.srt")

	_, err := tools.AdjustTiming(sub, -10*time.Second)
	require.NoError(t, err)

	data, err := os.ReadFile(sub)
	require.NoError(t, err)
	assert.Contains(t, string(data), "00:00:00,000")
}

func TestCommonFixes(t *testing.T) {
	root := t.TempDir()
	tools := NewTools(root, zerolog.Nop())
	path := filepath.Join(root, "Movie.de.srt")
	require.NoError(t, os.WriteFile(path, []byte(`1
00:00:01,000 --> 00:00:03,000
<i>Hello</i>   world--

`), 0o644))

	result, err := tools.CommonFixes(path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.LinesChanged)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello world…")
}

func TestToolsRefuseOutsideMediaRoot(t *testing.T) {
	tools := NewTools(t.TempDir(), zerolog.Nop())
	outside := writeSubtitle(t, t.TempDir(), "Outside.de.srt")

	_, err := tools.RemoveHI(outside)
	assert.Error(t, err)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	root := t.TempDir()
	tools := NewTools(root, zerolog.Nop())
	sub := writeSubtitle(t, root, "Movie.de.srt")
	before, err := os.ReadFile(sub)
	require.NoError(t, err)

	preview, err := tools.Preview(sub, "remove-hi", 10)
	require.NoError(t, err)
	require.NotEmpty(t, preview)
	assert.Equal(t, "[door creaks] Hello there.", preview[0].Original)
	assert.Equal(t, "Hello there.", preview[0].Fixed)

	after, err := os.ReadFile(sub)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NoFileExists(t, BackupPath(sub))
}

type staticLibrary struct {
	items []integrations.LibraryItem
}

func (s *staticLibrary) EnumerateLibrary(context.Context) ([]integrations.LibraryItem, error) {
	return s.items, nil
}

func TestInventoryListAndExport(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Movie.mkv")
	require.NoError(t, os.WriteFile(video, []byte("x"), 0o644))
	writeSubtitle(t, dir, "Movie.de.srt")
	writeSubtitle(t, dir, "Movie.de.forced.srt")

	lib := &staticLibrary{items: []integrations.LibraryItem{
		{ItemType: "movie", Title: "Movie", VideoPath: video},
	}}
	inv := NewInventory(lib, zerolog.Nop())

	views, err := inv.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Len(t, views[0].Subtitles, 2)

	entries, err := inv.ExportEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	forcedCount := 0
	for _, e := range entries {
		assert.Equal(t, video, e.VideoPath)
		assert.Equal(t, "de", e.Language)
		if e.Forced {
			forcedCount++
		}
	}
	assert.Equal(t, 1, forcedCount)
}
