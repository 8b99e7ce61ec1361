package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MemoryEntry is a cached translation of a single subtitle line.
type MemoryEntry struct {
	ID             int64     `json:"id"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	SourceText     string    `json:"sourceText"`
	TargetText     string    `json:"targetText"`
	HitCount       int       `json:"hitCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastUsedAt     time.Time `json:"lastUsedAt"`
}

// memoryTextHash normalizes a line before hashing so trivial whitespace
// differences still hit the cache.
func memoryTextHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.ToLower(normalized))))
}

// LookupMemory returns a cached translation for the exact normalized source
// text, bumping its hit count, or ErrNotFound.
func (s *Store) LookupMemory(ctx context.Context, sourceLang, targetLang, sourceText string) (*MemoryEntry, error) {
	hash := memoryTextHash(sourceText)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_language, target_language, source_text, target_text, hit_count, created_at, last_used_at
		FROM translation_memory
		WHERE source_language = ? AND target_language = ? AND text_hash = ?`,
		sourceLang, targetLang, hash)

	e, err := scanMemoryEntry(row)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE translation_memory SET hit_count = hit_count + 1, last_used_at = CURRENT_TIMESTAMP
		WHERE id = ?`, e.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump memory hit count: %w", err)
	}
	e.HitCount++
	return e, nil
}

// StoreMemory caches a translated line. Re-translating the same source text
// replaces the cached target.
func (s *Store) StoreMemory(ctx context.Context, sourceLang, targetLang, sourceText, targetText string) error {
	hash := memoryTextHash(sourceText)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO translation_memory (source_language, target_language, text_hash, source_text, target_text)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_language, target_language, text_hash)
		DO UPDATE SET target_text = excluded.target_text, last_used_at = CURRENT_TIMESTAMP`,
		sourceLang, targetLang, hash, sourceText, targetText)
	if err != nil {
		return fmt.Errorf("failed to store translation memory: %w", err)
	}
	return nil
}

// MemoryStats summarizes the translation memory for the settings UI.
type MemoryStats struct {
	Entries   int `json:"entries"`
	TotalHits int `json:"totalHits"`
}

// GetMemoryStats returns entry and hit counts.
func (s *Store) GetMemoryStats(ctx context.Context) (*MemoryStats, error) {
	var st MemoryStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM translation_memory`).
		Scan(&st.Entries, &st.TotalHits)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory stats: %w", err)
	}
	return &st, nil
}

// PruneMemory removes entries not used since the cutoff. Returns rows removed.
func (s *Store) PruneMemory(ctx context.Context, notUsedSince time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM translation_memory WHERE last_used_at < ?`, notUsedSince.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune translation memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearMemory drops every cached translation.
func (s *Store) ClearMemory(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory`); err != nil {
		return fmt.Errorf("failed to clear translation memory: %w", err)
	}
	return nil
}

func scanMemoryEntry(row rowScanner) (*MemoryEntry, error) {
	var e MemoryEntry
	err := row.Scan(&e.ID, &e.SourceLanguage, &e.TargetLanguage, &e.SourceText,
		&e.TargetText, &e.HitCount, &e.CreatedAt, &e.LastUsedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan memory entry: %w", err)
	}
	return &e, nil
}
