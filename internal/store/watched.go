package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WatchedFolder is a library root the scanner walks on its schedule.
type WatchedFolder struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	ItemType  string    `json:"itemType"` // episode or movie library
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// AddWatchedFolder registers a folder. Duplicate paths yield ErrConflict.
func (s *Store) AddWatchedFolder(ctx context.Context, path, itemType string) (*WatchedFolder, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watched_folders (path, item_type) VALUES (?, ?)`, path, itemType)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to add watched folder: %w", err)
	}

	id, _ := res.LastInsertId()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, item_type, enabled, created_at FROM watched_folders WHERE id = ?`, id)
	return scanWatchedFolder(row)
}

// ListWatchedFolders returns registered folders. When enabledOnly is set,
// disabled folders are skipped.
func (s *Store) ListWatchedFolders(ctx context.Context, enabledOnly bool) ([]*WatchedFolder, error) {
	query := `SELECT id, path, item_type, enabled, created_at FROM watched_folders`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched folders: %w", err)
	}
	defer rows.Close()

	folders := make([]*WatchedFolder, 0)
	for rows.Next() {
		f, err := scanWatchedFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// SetWatchedFolderEnabled toggles a folder.
func (s *Store) SetWatchedFolderEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watched_folders SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to toggle watched folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveWatchedFolder deletes a folder registration.
func (s *Store) RemoveWatchedFolder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watched_folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove watched folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWatchedFolder(row rowScanner) (*WatchedFolder, error) {
	var f WatchedFolder
	err := row.Scan(&f.ID, &f.Path, &f.ItemType, &f.Enabled, &f.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan watched folder: %w", err)
	}
	return &f, nil
}
