package store

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CacheKey computes the provider-cache key for a search. Languages are
// sorted so the key is order independent.
func CacheKey(filePath string, languages []string, formatFilter string) string {
	sorted := append([]string(nil), languages...)
	sort.Strings(sorted)
	raw := filePath + "|" + strings.Join(sorted, ",") + "|" + formatFilter
	return fmt.Sprintf("%x", md5.Sum([]byte(raw)))
}

// GetProviderCache returns the most recently inserted non-expired cache
// entry for the query hash, or ErrNotFound.
func (s *Store) GetProviderCache(ctx context.Context, queryHash string) (string, error) {
	var results string
	err := s.db.QueryRowContext(ctx, `
		SELECT results_json FROM provider_cache
		WHERE query_hash = ? AND expires_at > CURRENT_TIMESTAMP
		ORDER BY cached_at DESC LIMIT 1`, queryHash).Scan(&results)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read provider cache: %w", err)
	}
	return results, nil
}

// PutProviderCache stores a merged result set under the query hash.
func (s *Store) PutProviderCache(ctx context.Context, providerName, queryHash, resultsJSON string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_cache (provider_name, query_hash, results_json, expires_at)
		VALUES (?, ?, ?, ?)`, providerName, queryHash, resultsJSON, expires)
	if err != nil {
		return fmt.Errorf("failed to write provider cache: %w", err)
	}
	return nil
}

// SweepProviderCache lazily removes expired entries. Returns rows removed.
func (s *Store) SweepProviderCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_cache WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep provider cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearProviderCache drops every cache entry, expired or not.
func (s *Store) ClearProviderCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM provider_cache`); err != nil {
		return fmt.Errorf("failed to clear provider cache: %w", err)
	}
	return nil
}
