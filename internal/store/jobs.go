package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobStatus enumerates translation-job states. Transitions are forward only.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a unit of translation work, retained for history and for
// re-translation detection via its config hash.
type Job struct {
	ID          string     `json:"id"`
	FilePath    string     `json:"filePath"`
	Status      JobStatus  `json:"status"`
	Stats       string     `json:"stats"` // JSON blob
	OutputPath  string     `json:"outputPath,omitempty"`
	Error       string     `json:"error,omitempty"`
	ConfigHash  string     `json:"configHash,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

const jobColumns = `id, file_path, status, stats, output_path, error, config_hash, created_at, completed_at`

// CreateJob inserts a new queued job.
func (s *Store) CreateJob(ctx context.Context, id, filePath string) (*Job, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, file_path, status) VALUES (?, ?, 'queued')`, id, filePath)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns jobs, newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions a job to running.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	return s.transitionJob(ctx, id, JobStatusRunning,
		`UPDATE jobs SET status = 'running' WHERE id = ? AND status = 'queued'`)
}

// CompleteJob records a successful job with its output and the config hash
// of the translation settings in effect.
func (s *Store) CompleteJob(ctx context.Context, id, outputPath, stats, configHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', output_path = ?, stats = ?,
			config_hash = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('queued', 'running')`,
		outputPath, stats, configHash, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed job with its error text.
func (s *Store) FailJob(ctx context.Context, id, errText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('queued', 'running')`, errText, id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueJob resets a failed job back to queued for a retry.
func (s *Store) RequeueJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', error = '', completed_at = NULL
		WHERE id = ? AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOutdatedJobs returns, per file, the latest completed job whose stored
// config hash differs from the current hash. Only the newest completion
// counts: a file re-translated under the current configuration is no longer
// outdated, whatever its older jobs recorded.
func (s *Store) ListOutdatedJobs(ctx context.Context, currentHash string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'completed' AND config_hash != '' AND config_hash != ?
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j2
			WHERE j2.file_path = jobs.file_path AND j2.status = 'completed'
			  AND (j2.completed_at > jobs.completed_at
			       OR (j2.completed_at = jobs.completed_at AND j2.rowid > jobs.rowid))
		  )
		ORDER BY completed_at DESC`, currentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to list outdated jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) transitionJob(ctx context.Context, id string, to JobStatus, query string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to transition job to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.FilePath, &job.Status, &job.Stats,
		&job.OutputPath, &job.Error, &job.ConfigHash, &job.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
