package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// WantedStatus enumerates the lifecycle states of a wanted item.
type WantedStatus string

const (
	WantedStatusWanted    WantedStatus = "wanted"
	WantedStatusSearching WantedStatus = "searching"
	WantedStatusFound     WantedStatus = "found"
	WantedStatusFailed    WantedStatus = "failed"
	WantedStatusIgnored   WantedStatus = "ignored"
)

// SubtitleType distinguishes full dialogue subtitles from forced tracks.
type SubtitleType string

const (
	SubtitleTypeFull   SubtitleType = "full"
	SubtitleTypeForced SubtitleType = "forced"
)

// ExistingSub describes what already exists on disk for a wanted tuple.
type ExistingSub string

const (
	ExistingNone        ExistingSub = "none"
	ExistingSRT         ExistingSub = "srt"
	ExistingASS         ExistingSub = "ass"
	ExistingEmbeddedSRT ExistingSub = "embedded_srt"
	ExistingEmbeddedASS ExistingSub = "embedded_ass"
)

// WantedItem is a request for one subtitle file, identified by
// (file_path, target_language, subtitle_type).
type WantedItem struct {
	ID               int64        `json:"id"`
	FilePath         string       `json:"filePath"`
	TargetLanguage   string       `json:"targetLanguage"`
	SubtitleType     SubtitleType `json:"subtitleType"`
	ItemType         string       `json:"itemType"` // episode, movie
	Title            string       `json:"title"`
	Season           int          `json:"season,omitempty"`
	Episode          int          `json:"episode,omitempty"`
	SeriesID         *int64       `json:"seriesId,omitempty"`
	ExternalID       *int64       `json:"externalId,omitempty"`
	ExistingSub      ExistingSub  `json:"existingSub"`
	UpgradeCandidate bool         `json:"upgradeCandidate"`
	CurrentScore     int          `json:"currentScore"`
	Status           WantedStatus `json:"status"`
	SearchCount      int          `json:"searchCount"`
	LastSearchAt     *time.Time   `json:"lastSearchAt,omitempty"`
	RetryAfter       *time.Time   `json:"retryAfter,omitempty"`
	Error            string       `json:"error,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// WantedFilter narrows wanted-item listings.
type WantedFilter struct {
	ItemType     string
	Status       WantedStatus
	SeriesID     *int64
	SubtitleType SubtitleType
	Limit        int
	Offset       int
}

const wantedColumns = `id, file_path, target_language, subtitle_type, item_type, title,
	season, episode, series_id, external_id, existing_sub, upgrade_candidate,
	current_score, status, search_count, last_search_at, retry_after, error,
	created_at, updated_at`

// UpsertWanted inserts or revives a wanted item. An existing row with
// status=ignored keeps its status; only descriptive fields update. Any other
// existing row is revived to status=wanted. Returns the stored row.
func (s *Store) UpsertWanted(ctx context.Context, item WantedItem) (*WantedItem, error) {
	if item.SubtitleType == "" {
		item.SubtitleType = SubtitleTypeFull
	}
	if item.ExistingSub == "" {
		item.ExistingSub = ExistingNone
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wanted_items (
			file_path, target_language, subtitle_type, item_type, title,
			season, episode, series_id, external_id, existing_sub,
			upgrade_candidate, current_score, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'wanted')
		ON CONFLICT (file_path, target_language, subtitle_type) DO UPDATE SET
			item_type = excluded.item_type,
			title = excluded.title,
			season = excluded.season,
			episode = excluded.episode,
			series_id = excluded.series_id,
			external_id = excluded.external_id,
			existing_sub = excluded.existing_sub,
			upgrade_candidate = excluded.upgrade_candidate,
			current_score = excluded.current_score,
			status = CASE WHEN wanted_items.status = 'ignored'
				THEN 'ignored' ELSE 'wanted' END,
			updated_at = CURRENT_TIMESTAMP`,
		item.FilePath, item.TargetLanguage, item.SubtitleType, item.ItemType,
		item.Title, item.Season, item.Episode, item.SeriesID, item.ExternalID,
		item.ExistingSub, item.UpgradeCandidate, item.CurrentScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert wanted item: %w", err)
	}

	return s.GetWantedByKey(ctx, item.FilePath, item.TargetLanguage, item.SubtitleType)
}

// GetWanted returns a wanted item by id.
func (s *Store) GetWanted(ctx context.Context, id int64) (*WantedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+wantedColumns+` FROM wanted_items WHERE id = ?`, id)
	return scanWanted(row)
}

// GetWantedByKey returns a wanted item by its identity tuple.
func (s *Store) GetWantedByKey(ctx context.Context, filePath, language string, subType SubtitleType) (*WantedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+wantedColumns+` FROM wanted_items
		 WHERE file_path = ? AND target_language = ? AND subtitle_type = ?`,
		filePath, language, subType)
	return scanWanted(row)
}

// ListWanted returns wanted items matching the filter, newest first.
func (s *Store) ListWanted(ctx context.Context, filter WantedFilter) ([]*WantedItem, int, error) {
	where := []string{"1=1"}
	args := []any{}

	if filter.ItemType != "" {
		where = append(where, "item_type = ?")
		args = append(args, filter.ItemType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.SeriesID != nil {
		where = append(where, "series_id = ?")
		args = append(args, *filter.SeriesID)
	}
	if filter.SubtitleType != "" {
		where = append(where, "subtitle_type = ?")
		args = append(args, filter.SubtitleType)
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wanted_items WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count wanted items: %w", err)
	}

	query := `SELECT ` + wantedColumns + ` FROM wanted_items WHERE ` + cond + ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list wanted items: %w", err)
	}
	defer rows.Close()

	items := make([]*WantedItem, 0)
	for rows.Next() {
		item, err := scanWanted(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// ListSearchable returns wanted items eligible for a search pass: wanted
// status, attempts remaining, and past any advisory backoff.
func (s *Store) ListSearchable(ctx context.Context, maxAttempts, limit int, minAge time.Duration) ([]*WantedItem, error) {
	cutoff := time.Now().Add(-minAge)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+wantedColumns+` FROM wanted_items
		WHERE status = 'wanted'
		  AND search_count < ?
		  AND (last_search_at IS NULL OR last_search_at < ?)
		  AND (retry_after IS NULL OR retry_after < CURRENT_TIMESTAMP)
		ORDER BY search_count ASC, updated_at ASC
		LIMIT ?`,
		maxAttempts, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list searchable items: %w", err)
	}
	defer rows.Close()

	items := make([]*WantedItem, 0)
	for rows.Next() {
		item, err := scanWanted(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateWantedStatus moves a wanted item to a new status with optional error text.
func (s *Store) UpdateWantedStatus(ctx context.Context, id int64, status WantedStatus, errText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wanted_items SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, errText, id)
	if err != nil {
		return fmt.Errorf("failed to update wanted status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSearchAttempt increments search_count, updates last_search_at, and
// sets the retry_after advisory timestamp.
func (s *Store) RecordSearchAttempt(ctx context.Context, id int64, retryAfter *time.Time) error {
	var retry any
	if retryAfter != nil {
		retry = retryAfter.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE wanted_items SET
			search_count = search_count + 1,
			last_search_at = CURRENT_TIMESTAMP,
			retry_after = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, retry, id)
	if err != nil {
		return fmt.Errorf("failed to record search attempt: %w", err)
	}
	return nil
}

// DeleteWanted removes a wanted item.
func (s *Store) DeleteWanted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wanted_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete wanted item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWantedByPath removes all wanted items for a file path. Used by the
// scanner when a video file disappears.
func (s *Store) DeleteWantedByPath(ctx context.Context, filePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wanted_items WHERE file_path = ?`, filePath)
	if err != nil {
		return fmt.Errorf("failed to delete wanted items by path: %w", err)
	}
	return nil
}

// ListWantedPaths returns every distinct file path with at least one wanted row.
func (s *Store) ListWantedPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_path FROM wanted_items`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wanted paths: %w", err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// WantedSummary aggregates wanted items by status.
type WantedSummary struct {
	Total     int `json:"total"`
	Wanted    int `json:"wanted"`
	Searching int `json:"searching"`
	Found     int `json:"found"`
	Failed    int `json:"failed"`
	Ignored   int `json:"ignored"`
}

// GetWantedSummary returns counts per status.
func (s *Store) GetWantedSummary(ctx context.Context) (*WantedSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM wanted_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize wanted items: %w", err)
	}
	defer rows.Close()

	summary := &WantedSummary{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary.Total += count
		switch WantedStatus(status) {
		case WantedStatusWanted:
			summary.Wanted = count
		case WantedStatusSearching:
			summary.Searching = count
		case WantedStatusFound:
			summary.Found = count
		case WantedStatusFailed:
			summary.Failed = count
		case WantedStatusIgnored:
			summary.Ignored = count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWanted(row rowScanner) (*WantedItem, error) {
	var item WantedItem
	var seriesID, externalID sql.NullInt64
	var lastSearch, retryAfter sql.NullTime

	err := row.Scan(
		&item.ID, &item.FilePath, &item.TargetLanguage, &item.SubtitleType,
		&item.ItemType, &item.Title, &item.Season, &item.Episode,
		&seriesID, &externalID, &item.ExistingSub, &item.UpgradeCandidate,
		&item.CurrentScore, &item.Status, &item.SearchCount,
		&lastSearch, &retryAfter, &item.Error,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan wanted item: %w", err)
	}

	if seriesID.Valid {
		item.SeriesID = &seriesID.Int64
	}
	if externalID.Valid {
		item.ExternalID = &externalID.Int64
	}
	if lastSearch.Valid {
		item.LastSearchAt = &lastSearch.Time
	}
	if retryAfter.Valid {
		item.RetryAfter = &retryAfter.Time
	}
	return &item, nil
}
