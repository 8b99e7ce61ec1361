package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProviderStats tracks per-provider health and performance. Running averages
// use the weighted formula new_avg = (old_avg*n + new) / (n+1), applied
// atomically inside a single UPDATE so concurrent recorders cannot corrupt
// derived aggregates.
type ProviderStats struct {
	ProviderName        string     `json:"providerName"`
	TotalSearches       int64      `json:"totalSearches"`
	SuccessfulDownloads int64      `json:"successfulDownloads"`
	FailedDownloads     int64      `json:"failedDownloads"`
	AvgScore            float64    `json:"avgScore"`
	AvgResponseTimeMs   float64    `json:"avgResponseTimeMs"`
	LastResponseTimeMs  int64      `json:"lastResponseTimeMs"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	AutoDisabled        bool       `json:"autoDisabled"`
	DisabledUntil       *time.Time `json:"disabledUntil,omitempty"`
	ScoreModifier       int        `json:"scoreModifier"`
}

// BackendStats mirrors ProviderStats for translation backends, with
// character accounting instead of download counters.
type BackendStats struct {
	BackendName         string     `json:"backendName"`
	TotalRequests       int64      `json:"totalRequests"`
	SuccessfulRequests  int64      `json:"successfulRequests"`
	FailedRequests      int64      `json:"failedRequests"`
	TotalCharacters     int64      `json:"totalCharacters"`
	AvgResponseTimeMs   float64    `json:"avgResponseTimeMs"`
	LastResponseTimeMs  int64      `json:"lastResponseTimeMs"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
}

// GetProviderStats returns stats for one provider. A provider without a row
// yet gets zero-valued stats. An expired auto-disable is cleared on read.
func (s *Store) GetProviderStats(ctx context.Context, name string) (*ProviderStats, error) {
	// Expired auto-disable clears transparently on observation.
	_, err := s.db.ExecContext(ctx, `
		UPDATE provider_stats SET auto_disabled = 0, disabled_until = NULL, consecutive_failures = 0
		WHERE provider_name = ? AND auto_disabled = 1 AND disabled_until <= CURRENT_TIMESTAMP`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired auto-disable: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT provider_name, total_searches, successful_downloads, failed_downloads,
			avg_score, avg_response_time_ms, last_response_time_ms, consecutive_failures,
			last_success_at, last_failure_at, auto_disabled, disabled_until, score_modifier
		FROM provider_stats WHERE provider_name = ?`, name)

	stats, err := scanProviderStats(row)
	if err == ErrNotFound {
		return &ProviderStats{ProviderName: name}, nil
	}
	return stats, err
}

// ListProviderStats returns stats for all providers with recorded activity.
func (s *Store) ListProviderStats(ctx context.Context) ([]*ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_name, total_searches, successful_downloads, failed_downloads,
			avg_score, avg_response_time_ms, last_response_time_ms, consecutive_failures,
			last_success_at, last_failure_at, auto_disabled, disabled_until, score_modifier
		FROM provider_stats ORDER BY provider_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider stats: %w", err)
	}
	defer rows.Close()

	all := make([]*ProviderStats, 0)
	for rows.Next() {
		stats, err := scanProviderStats(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	return all, rows.Err()
}

// RecordProviderSearch increments the search counter and folds the response
// time into the running average.
func (s *Store) RecordProviderSearch(ctx context.Context, name string, responseTimeMs int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_stats (provider_name, total_searches, avg_response_time_ms, last_response_time_ms)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (provider_name) DO UPDATE SET
			total_searches = total_searches + 1,
			avg_response_time_ms = (avg_response_time_ms * total_searches + ?) / (total_searches + 1),
			last_response_time_ms = ?`,
		name, float64(responseTimeMs), responseTimeMs, float64(responseTimeMs), responseTimeMs)
	if err != nil {
		return fmt.Errorf("failed to record provider search: %w", err)
	}
	return nil
}

// RecordProviderSuccess records a successful download with its score. The
// success resets consecutive_failures and clears any auto-disable.
func (s *Store) RecordProviderSuccess(ctx context.Context, name string, score int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_stats (provider_name, successful_downloads, avg_score, last_success_at)
		VALUES (?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (provider_name) DO UPDATE SET
			avg_score = (avg_score * successful_downloads + ?) / (successful_downloads + 1),
			successful_downloads = successful_downloads + 1,
			consecutive_failures = 0,
			auto_disabled = 0,
			disabled_until = NULL,
			last_success_at = CURRENT_TIMESTAMP`,
		name, float64(score), float64(score))
	if err != nil {
		return fmt.Errorf("failed to record provider success: %w", err)
	}
	return nil
}

// RecordProviderFailure records a failed operation. When countsTowardDisable
// is set and consecutive_failures crosses the threshold, the provider is
// auto-disabled until now+cooldown.
func (s *Store) RecordProviderFailure(ctx context.Context, name string, countsTowardDisable bool, threshold int, cooldown time.Duration) error {
	increment := 0
	if countsTowardDisable {
		increment = 1
	}
	disabledUntil := time.Now().Add(cooldown).UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_stats (provider_name, failed_downloads, consecutive_failures, last_failure_at)
		VALUES (?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (provider_name) DO UPDATE SET
			failed_downloads = failed_downloads + 1,
			consecutive_failures = consecutive_failures + ?,
			last_failure_at = CURRENT_TIMESTAMP,
			auto_disabled = CASE WHEN consecutive_failures + ? >= ? THEN 1 ELSE auto_disabled END,
			disabled_until = CASE WHEN consecutive_failures + ? >= ? THEN ? ELSE disabled_until END`,
		name, increment,
		increment,
		increment, threshold,
		increment, threshold, disabledUntil)
	if err != nil {
		return fmt.Errorf("failed to record provider failure: %w", err)
	}
	return nil
}

// ClearProviderDisable re-enables a provider and zeroes its failure streak.
func (s *Store) ClearProviderDisable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE provider_stats SET auto_disabled = 0, disabled_until = NULL, consecutive_failures = 0
		WHERE provider_name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to clear provider disable: %w", err)
	}
	return nil
}

// GetBackendStats returns stats for one translation backend.
func (s *Store) GetBackendStats(ctx context.Context, name string) (*BackendStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT backend_name, total_requests, successful_requests, failed_requests,
			total_characters, avg_response_time_ms, last_response_time_ms,
			consecutive_failures, last_success_at, last_failure_at
		FROM backend_stats WHERE backend_name = ?`, name)

	stats, err := scanBackendStats(row)
	if err == ErrNotFound {
		return &BackendStats{BackendName: name}, nil
	}
	return stats, err
}

// ListBackendStats returns stats for all backends with recorded activity.
func (s *Store) ListBackendStats(ctx context.Context) ([]*BackendStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT backend_name, total_requests, successful_requests, failed_requests,
			total_characters, avg_response_time_ms, last_response_time_ms,
			consecutive_failures, last_success_at, last_failure_at
		FROM backend_stats ORDER BY backend_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backend stats: %w", err)
	}
	defer rows.Close()

	all := make([]*BackendStats, 0)
	for rows.Next() {
		stats, err := scanBackendStats(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	return all, rows.Err()
}

// RecordBackendSuccess records a successful translation call.
func (s *Store) RecordBackendSuccess(ctx context.Context, name string, responseTimeMs, characters int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_stats (backend_name, total_requests, successful_requests,
			total_characters, avg_response_time_ms, last_response_time_ms, last_success_at)
		VALUES (?, 1, 1, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (backend_name) DO UPDATE SET
			avg_response_time_ms = (avg_response_time_ms * total_requests + ?) / (total_requests + 1),
			total_requests = total_requests + 1,
			successful_requests = successful_requests + 1,
			total_characters = total_characters + ?,
			last_response_time_ms = ?,
			consecutive_failures = 0,
			last_success_at = CURRENT_TIMESTAMP`,
		name, characters, float64(responseTimeMs), responseTimeMs,
		float64(responseTimeMs), characters, responseTimeMs)
	if err != nil {
		return fmt.Errorf("failed to record backend success: %w", err)
	}
	return nil
}

// RecordBackendFailure records a failed translation call.
func (s *Store) RecordBackendFailure(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_stats (backend_name, total_requests, failed_requests,
			consecutive_failures, last_failure_at)
		VALUES (?, 1, 1, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (backend_name) DO UPDATE SET
			total_requests = total_requests + 1,
			failed_requests = failed_requests + 1,
			consecutive_failures = consecutive_failures + 1,
			last_failure_at = CURRENT_TIMESTAMP`, name)
	if err != nil {
		return fmt.Errorf("failed to record backend failure: %w", err)
	}
	return nil
}

func scanProviderStats(row rowScanner) (*ProviderStats, error) {
	var stats ProviderStats
	var lastSuccess, lastFailure, disabledUntil sql.NullTime

	err := row.Scan(&stats.ProviderName, &stats.TotalSearches,
		&stats.SuccessfulDownloads, &stats.FailedDownloads, &stats.AvgScore,
		&stats.AvgResponseTimeMs, &stats.LastResponseTimeMs,
		&stats.ConsecutiveFailures, &lastSuccess, &lastFailure,
		&stats.AutoDisabled, &disabledUntil, &stats.ScoreModifier)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan provider stats: %w", err)
	}

	if lastSuccess.Valid {
		stats.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		stats.LastFailureAt = &lastFailure.Time
	}
	if disabledUntil.Valid {
		stats.DisabledUntil = &disabledUntil.Time
	}
	return &stats, nil
}

func scanBackendStats(row rowScanner) (*BackendStats, error) {
	var stats BackendStats
	var lastSuccess, lastFailure sql.NullTime

	err := row.Scan(&stats.BackendName, &stats.TotalRequests,
		&stats.SuccessfulRequests, &stats.FailedRequests, &stats.TotalCharacters,
		&stats.AvgResponseTimeMs, &stats.LastResponseTimeMs,
		&stats.ConsecutiveFailures, &lastSuccess, &lastFailure)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan backend stats: %w", err)
	}

	if lastSuccess.Valid {
		stats.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		stats.LastFailureAt = &lastFailure.Time
	}
	return &stats, nil
}
