package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ProviderConfig is the persisted configuration of one subtitle provider.
type ProviderConfig struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
	Config   string `json:"config"` // provider specific JSON (credentials etc.)
}

// UpsertProvider writes a provider's configuration.
func (s *Store) UpsertProvider(ctx context.Context, p ProviderConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (name, enabled, priority, config) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET enabled = excluded.enabled,
			priority = excluded.priority, config = excluded.config`,
		p.Name, p.Enabled, p.Priority, p.Config)
	if err != nil {
		return fmt.Errorf("failed to upsert provider %s: %w", p.Name, err)
	}
	return nil
}

// GetProvider returns a provider's configuration, or ErrNotFound.
func (s *Store) GetProvider(ctx context.Context, name string) (*ProviderConfig, error) {
	var p ProviderConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT name, enabled, priority, config FROM providers WHERE name = ?`, name).
		Scan(&p.Name, &p.Enabled, &p.Priority, &p.Config)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read provider %s: %w", name, err)
	}
	return &p, nil
}

// ListProviders returns all providers by descending priority.
func (s *Store) ListProviders(ctx context.Context) ([]*ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, enabled, priority, config FROM providers ORDER BY priority DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	providers := make([]*ProviderConfig, 0)
	for rows.Next() {
		var p ProviderConfig
		if err := rows.Scan(&p.Name, &p.Enabled, &p.Priority, &p.Config); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// SetProviderEnabled toggles a provider.
func (s *Store) SetProviderEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET enabled = ? WHERE name = ?`, enabled, name)
	if err != nil {
		return fmt.Errorf("failed to toggle provider %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProvider removes a provider's configuration.
func (s *Store) DeleteProvider(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete provider %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
