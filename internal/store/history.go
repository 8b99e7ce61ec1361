package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SubtitleDownload records a subtitle saved to disk, with enough provenance
// to score upgrades against it later.
type SubtitleDownload struct {
	ID           int64     `json:"id"`
	VideoPath    string    `json:"videoPath"`
	SubtitlePath string    `json:"subtitlePath"`
	Language     string    `json:"language"`
	Forced       bool      `json:"forced"`
	Provider     string    `json:"provider"`
	ReleaseName  string    `json:"releaseName,omitempty"`
	Score        int       `json:"score"`
	Format       string    `json:"format"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// UpgradeRecord captures a replacement of one subtitle by a better-scoring one.
type UpgradeRecord struct {
	ID           int64     `json:"id"`
	VideoPath    string    `json:"videoPath"`
	Language     string    `json:"language"`
	OldProvider  string    `json:"oldProvider"`
	NewProvider  string    `json:"newProvider"`
	OldScore     int       `json:"oldScore"`
	NewScore     int       `json:"newScore"`
	OldPath      string    `json:"oldPath"`
	NewPath      string    `json:"newPath"`
	UpgradedAt   time.Time `json:"upgradedAt"`
}

// RecordDownload inserts a download row and returns it.
func (s *Store) RecordDownload(ctx context.Context, d SubtitleDownload) (*SubtitleDownload, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subtitle_downloads (video_path, subtitle_path, language, forced, provider, release_name, score, format)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.VideoPath, d.SubtitlePath, d.Language, d.Forced, d.Provider, d.ReleaseName, d.Score, d.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to record download: %w", err)
	}
	id, _ := res.LastInsertId()
	d.ID = id
	d.DownloadedAt = time.Now().UTC()
	return &d, nil
}

// LatestDownload returns the most recent download for a video path and
// language, or ErrNotFound. The wanted pipeline uses it to decide whether a
// new candidate is an upgrade.
func (s *Store) LatestDownload(ctx context.Context, videoPath, language string, forced bool) (*SubtitleDownload, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, video_path, subtitle_path, language, forced, provider, release_name, score, format, downloaded_at
		FROM subtitle_downloads
		WHERE video_path = ? AND language = ? AND forced = ?
		ORDER BY downloaded_at DESC, id DESC LIMIT 1`, videoPath, language, forced)
	return scanDownload(row)
}

// ListDownloads returns download history, newest first.
func (s *Store) ListDownloads(ctx context.Context, limit, offset int) ([]*SubtitleDownload, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subtitle_downloads`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count downloads: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_path, subtitle_path, language, forced, provider, release_name, score, format, downloaded_at
		FROM subtitle_downloads
		ORDER BY downloaded_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	downloads := make([]*SubtitleDownload, 0)
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, 0, err
		}
		downloads = append(downloads, d)
	}
	return downloads, total, rows.Err()
}

// RecordUpgrade inserts an upgrade row.
func (s *Store) RecordUpgrade(ctx context.Context, u UpgradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upgrade_history (video_path, language, old_provider, new_provider, old_score, new_score, old_path, new_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.VideoPath, u.Language, u.OldProvider, u.NewProvider, u.OldScore, u.NewScore, u.OldPath, u.NewPath)
	if err != nil {
		return fmt.Errorf("failed to record upgrade: %w", err)
	}
	return nil
}

// ListUpgrades returns upgrade history, newest first.
func (s *Store) ListUpgrades(ctx context.Context, limit int) ([]*UpgradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_path, language, old_provider, new_provider, old_score, new_score, old_path, new_path, upgraded_at
		FROM upgrade_history ORDER BY upgraded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upgrades: %w", err)
	}
	defer rows.Close()

	upgrades := make([]*UpgradeRecord, 0)
	for rows.Next() {
		var u UpgradeRecord
		if err := rows.Scan(&u.ID, &u.VideoPath, &u.Language, &u.OldProvider, &u.NewProvider,
			&u.OldScore, &u.NewScore, &u.OldPath, &u.NewPath, &u.UpgradedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upgrade: %w", err)
		}
		upgrades = append(upgrades, &u)
	}
	return upgrades, rows.Err()
}

func scanDownload(row rowScanner) (*SubtitleDownload, error) {
	var d SubtitleDownload
	err := row.Scan(&d.ID, &d.VideoPath, &d.SubtitlePath, &d.Language, &d.Forced,
		&d.Provider, &d.ReleaseName, &d.Score, &d.Format, &d.DownloadedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan download: %w", err)
	}
	return &d, nil
}
