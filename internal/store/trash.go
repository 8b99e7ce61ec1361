package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TrashEntry is one file moved into a trash batch, with the original
// location needed to restore it.
type TrashEntry struct {
	OriginalPath string `json:"originalPath"`
	TrashedPath  string `json:"trashedPath"`
	SizeBytes    int64  `json:"sizeBytes"`
}

// TrashBatch is a group of files removed together, restorable as a unit.
type TrashBatch struct {
	BatchID   string       `json:"batchId"`
	Entries   []TrashEntry `json:"entries"`
	CreatedAt time.Time    `json:"createdAt"`
}

// CreateTrashBatch records a batch and its manifest.
func (s *Store) CreateTrashBatch(ctx context.Context, batchID string, entries []TrashEntry) error {
	manifest, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode trash manifest: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trash_batches (batch_id, manifest) VALUES (?, ?)`,
		batchID, string(manifest))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create trash batch: %w", err)
	}
	return nil
}

// GetTrashBatch returns a batch by id.
func (s *Store) GetTrashBatch(ctx context.Context, batchID string) (*TrashBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT batch_id, manifest, created_at FROM trash_batches WHERE batch_id = ?`, batchID)
	return scanTrashBatch(row)
}

// ListTrashBatches returns all batches, newest first.
func (s *Store) ListTrashBatches(ctx context.Context) ([]*TrashBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, manifest, created_at FROM trash_batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trash batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*TrashBatch, 0)
	for rows.Next() {
		b, err := scanTrashBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// DeleteTrashBatch removes the batch record. Callers purge the files first.
func (s *Store) DeleteTrashBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trash_batches WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("failed to delete trash batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiredTrashBatches returns batches created before the cutoff.
func (s *Store) ListExpiredTrashBatches(ctx context.Context, olderThan time.Time) ([]*TrashBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, manifest, created_at FROM trash_batches
		WHERE created_at < ? ORDER BY created_at`, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trash batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*TrashBatch, 0)
	for rows.Next() {
		b, err := scanTrashBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanTrashBatch(row rowScanner) (*TrashBatch, error) {
	var b TrashBatch
	var manifest string

	err := row.Scan(&b.BatchID, &manifest, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan trash batch: %w", err)
	}
	if err := json.Unmarshal([]byte(manifest), &b.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode trash manifest: %w", err)
	}
	return &b, nil
}
