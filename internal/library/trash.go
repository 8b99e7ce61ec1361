// Package library manages subtitle files on disk: soft deletion through a
// trash tree, inventory for the API, and the in-place repair tools.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/pathutil"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/translator"
)

const trashDirName = ".sublarr_trash"

// Trash soft-deletes subtitles into `<media_root>/.sublarr_trash/<batch>/`
// so deletions are reversible until retention purges them.
type Trash struct {
	store     *store.Store
	mediaRoot string
	retention time.Duration
	logger    zerolog.Logger
}

// NewTrash creates the trash manager rooted under mediaRoot.
func NewTrash(st *store.Store, mediaRoot string, retention time.Duration, logger zerolog.Logger) *Trash {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Trash{
		store:     st,
		mediaRoot: mediaRoot,
		retention: retention,
		logger:    logger.With().Str("component", "trash").Logger(),
	}
}

// Root returns the trash directory.
func (t *Trash) Root() string {
	return filepath.Join(t.mediaRoot, trashDirName)
}

// Delete moves the given subtitle files (and their quality sidecars) into a
// new batch. Paths outside the media root are refused.
func (t *Trash) Delete(ctx context.Context, paths []string) (*store.TrashBatch, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to delete")
	}
	for _, p := range paths {
		if err := pathutil.EnsureWithin(t.mediaRoot, p); err != nil {
			return nil, fmt.Errorf("refusing to trash %s: %w", p, err)
		}
	}

	batchID := uuid.NewString()
	batchDir := filepath.Join(t.Root(), batchID)
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trash batch dir: %w", err)
	}

	var entries []store.TrashEntry
	for _, p := range paths {
		entry, err := t.moveIntoBatch(batchDir, p)
		if err != nil {
			// Roll the partial batch back so no file is half-deleted.
			t.restoreEntries(entries)
			os.RemoveAll(batchDir)
			return nil, err
		}
		entries = append(entries, *entry)

		// The quality sidecar travels with its subtitle.
		sidecar := translator.SidecarPath(p)
		if _, err := os.Stat(sidecar); err == nil {
			if scEntry, err := t.moveIntoBatch(batchDir, sidecar); err == nil {
				entries = append(entries, *scEntry)
			}
		}
	}

	if err := t.writeManifest(batchDir, entries); err != nil {
		t.restoreEntries(entries)
		os.RemoveAll(batchDir)
		return nil, err
	}
	if err := t.store.CreateTrashBatch(ctx, batchID, entries); err != nil {
		t.restoreEntries(entries)
		os.RemoveAll(batchDir)
		return nil, err
	}

	t.logger.Info().Str("batch", batchID).Int("files", len(entries)).Msg("Files trashed")
	return &store.TrashBatch{BatchID: batchID, Entries: entries, CreatedAt: time.Now().UTC()}, nil
}

func (t *Trash) moveIntoBatch(batchDir, path string) (*store.TrashEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot trash %s: %w", path, err)
	}

	trashed := filepath.Join(batchDir, filepath.Base(path))
	// Flatten collisions between same-named files from different folders.
	if _, err := os.Stat(trashed); err == nil {
		trashed = filepath.Join(batchDir, uuid.NewString()[:8]+"-"+filepath.Base(path))
	}
	if err := os.Rename(path, trashed); err != nil {
		return nil, fmt.Errorf("failed to move %s to trash: %w", path, err)
	}
	return &store.TrashEntry{OriginalPath: path, TrashedPath: trashed, SizeBytes: info.Size()}, nil
}

func (t *Trash) writeManifest(batchDir string, entries []store.TrashEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(batchDir, "manifest.json"), data, 0o644)
}

func (t *Trash) restoreEntries(entries []store.TrashEntry) {
	for _, e := range entries {
		if err := os.Rename(e.TrashedPath, e.OriginalPath); err != nil {
			t.logger.Error().Err(err).Str("file", e.OriginalPath).Msg("Rollback restore failed")
		}
	}
}

// Restore moves every file of a batch back to its original location and
// removes the batch.
func (t *Trash) Restore(ctx context.Context, batchID string) (*store.TrashBatch, error) {
	batch, err := t.store.GetTrashBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	for _, e := range batch.Entries {
		if err := os.MkdirAll(filepath.Dir(e.OriginalPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to recreate %s: %w", filepath.Dir(e.OriginalPath), err)
		}
		if err := os.Rename(e.TrashedPath, e.OriginalPath); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", e.OriginalPath, err)
		}
	}

	os.RemoveAll(filepath.Join(t.Root(), batchID))
	if err := t.store.DeleteTrashBatch(ctx, batchID); err != nil {
		t.logger.Warn().Err(err).Str("batch", batchID).Msg("Failed to drop restored batch record")
	}
	t.logger.Info().Str("batch", batchID).Int("files", len(batch.Entries)).Msg("Batch restored")
	return batch, nil
}

// Purge permanently deletes a batch's files.
func (t *Trash) Purge(ctx context.Context, batchID string) error {
	if _, err := t.store.GetTrashBatch(ctx, batchID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(t.Root(), batchID)); err != nil {
		return fmt.Errorf("failed to purge batch %s: %w", batchID, err)
	}
	return t.store.DeleteTrashBatch(ctx, batchID)
}

// PurgeExpired removes batches older than the retention window. Intended to
// run on a schedule.
func (t *Trash) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-t.retention)
	expired, err := t.store.ListExpiredTrashBatches(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, batch := range expired {
		if err := t.Purge(ctx, batch.BatchID); err != nil {
			t.logger.Warn().Err(err).Str("batch", batch.BatchID).Msg("Retention purge failed")
			continue
		}
		purged++
	}
	if purged > 0 {
		t.logger.Info().Int("batches", purged).Msg("Expired trash purged")
	}
	return purged, nil
}

// List returns all batches, newest first.
func (t *Trash) List(ctx context.Context) ([]*store.TrashBatch, error) {
	return t.store.ListTrashBatches(ctx)
}
