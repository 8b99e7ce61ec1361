package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GlossaryEntry pins a translation for a source term, either globally or
// for a single series.
type GlossaryEntry struct {
	ID         int64     `json:"id"`
	SeriesName string    `json:"seriesName,omitempty"` // empty means global
	SourceTerm string    `json:"sourceTerm"`
	TargetTerm string    `json:"targetTerm"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// glossaryMergeLimit caps the merged glossary handed to a translation
// backend so prompts stay bounded.
const glossaryMergeLimit = 30

// CreateGlossaryEntry inserts an entry. An empty series name makes it global.
func (s *Store) CreateGlossaryEntry(ctx context.Context, e GlossaryEntry) (*GlossaryEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO glossary_entries (series_name, source_term, target_term, notes)
		VALUES (?, ?, ?, ?)`,
		e.SeriesName, e.SourceTerm, e.TargetTerm, e.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create glossary entry: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetGlossaryEntry(ctx, id)
}

// UpdateGlossaryEntry overwrites an entry's terms and notes.
func (s *Store) UpdateGlossaryEntry(ctx context.Context, e GlossaryEntry) (*GlossaryEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE glossary_entries SET source_term = ?, target_term = ?, notes = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		e.SourceTerm, e.TargetTerm, e.Notes, e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update glossary entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetGlossaryEntry(ctx, e.ID)
}

// GetGlossaryEntry returns an entry by id.
func (s *Store) GetGlossaryEntry(ctx context.Context, id int64) (*GlossaryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, series_name, source_term, target_term, notes, created_at, updated_at
		FROM glossary_entries WHERE id = ?`, id)
	return scanGlossaryEntry(row)
}

// ListGlossaryEntries returns entries, optionally filtered by series name.
// Passing "*" lists global entries only.
func (s *Store) ListGlossaryEntries(ctx context.Context, seriesName string) ([]*GlossaryEntry, error) {
	query := `SELECT id, series_name, source_term, target_term, notes, created_at, updated_at
		FROM glossary_entries`
	args := []any{}
	switch seriesName {
	case "":
		// all entries
	case "*":
		query += ` WHERE series_name = ''`
	default:
		query += ` WHERE series_name = ?`
		args = append(args, seriesName)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list glossary entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*GlossaryEntry, 0)
	for rows.Next() {
		e, err := scanGlossaryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteGlossaryEntry removes an entry.
func (s *Store) DeleteGlossaryEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM glossary_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete glossary entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MergedGlossary combines global entries with a series' own entries. When a
// source term appears in both, the series entry wins; the comparison folds
// case. The result holds the most recently updated entries, at most 30.
func (s *Store) MergedGlossary(ctx context.Context, seriesName string) ([]*GlossaryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, series_name, source_term, target_term, notes, created_at, updated_at
		FROM glossary_entries
		WHERE series_name = '' OR series_name = ?
		ORDER BY updated_at DESC`, seriesName)
	if err != nil {
		return nil, fmt.Errorf("failed to load glossary: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]*GlossaryEntry)
	order := make([]string, 0)
	for rows.Next() {
		e, err := scanGlossaryEntry(rows)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(e.SourceTerm)
		if prev, ok := seen[key]; ok {
			// series-specific overrides global regardless of recency
			if prev.SeriesName == "" && e.SeriesName != "" {
				seen[key] = e
			}
			continue
		}
		seen[key] = e
		order = append(order, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	merged := make([]*GlossaryEntry, 0, len(order))
	for _, key := range order {
		merged = append(merged, seen[key])
		if len(merged) == glossaryMergeLimit {
			break
		}
	}
	return merged, nil
}

func scanGlossaryEntry(row rowScanner) (*GlossaryEntry, error) {
	var e GlossaryEntry
	err := row.Scan(&e.ID, &e.SeriesName, &e.SourceTerm, &e.TargetTerm,
		&e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan glossary entry: %w", err)
	}
	return &e, nil
}
