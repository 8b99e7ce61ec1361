package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ForcedPreference controls how forced subtitles participate in a profile.
type ForcedPreference string

const (
	ForcedDisabled ForcedPreference = "disabled"
	ForcedPrefer   ForcedPreference = "prefer"
	ForcedRequire  ForcedPreference = "require"
)

// LanguageProfile declares which languages a library item needs and which
// translation backends to try, in order.
type LanguageProfile struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	SourceLanguage   string           `json:"sourceLanguage"`
	TargetLanguages  []string         `json:"targetLanguages"`
	FallbackChain    []string         `json:"fallbackChain"`
	ForcedPreference ForcedPreference `json:"forcedPreference"`
	IsDefault        bool             `json:"isDefault"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// CreateProfile inserts a new language profile. Duplicate names yield ErrConflict.
func (s *Store) CreateProfile(ctx context.Context, p LanguageProfile) (*LanguageProfile, error) {
	targets, _ := json.Marshal(p.TargetLanguages)
	chain, _ := json.Marshal(p.FallbackChain)
	if p.ForcedPreference == "" {
		p.ForcedPreference = ForcedDisabled
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO language_profiles (name, source_language, target_languages, fallback_chain, forced_preference, is_default)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.SourceLanguage, string(targets), string(chain), p.ForcedPreference, p.IsDefault)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	id, _ := res.LastInsertId()
	return s.GetProfile(ctx, id)
}

// UpdateProfile overwrites an existing profile.
func (s *Store) UpdateProfile(ctx context.Context, p LanguageProfile) (*LanguageProfile, error) {
	targets, _ := json.Marshal(p.TargetLanguages)
	chain, _ := json.Marshal(p.FallbackChain)

	res, err := s.db.ExecContext(ctx, `
		UPDATE language_profiles SET name = ?, source_language = ?, target_languages = ?,
			fallback_chain = ?, forced_preference = ?, is_default = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		p.Name, p.SourceLanguage, string(targets), string(chain), p.ForcedPreference, p.IsDefault, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetProfile(ctx, p.ID)
}

// GetProfile returns a profile by id.
func (s *Store) GetProfile(ctx context.Context, id int64) (*LanguageProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_language, target_languages, fallback_chain,
			forced_preference, is_default, created_at, updated_at
		FROM language_profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// GetDefaultProfile returns the profile flagged as default, or ErrNotFound.
func (s *Store) GetDefaultProfile(ctx context.Context) (*LanguageProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_language, target_languages, fallback_chain,
			forced_preference, is_default, created_at, updated_at
		FROM language_profiles WHERE is_default = 1 LIMIT 1`)
	return scanProfile(row)
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]*LanguageProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_language, target_languages, fallback_chain,
			forced_preference, is_default, created_at, updated_at
		FROM language_profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]*LanguageProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile and its assignments.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM language_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignProfile attaches a profile to a series or movie, replacing any
// existing assignment.
func (s *Store) AssignProfile(ctx context.Context, profileID int64, itemType string, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_assignments (profile_id, item_type, item_id)
		VALUES (?, ?, ?)
		ON CONFLICT (item_type, item_id) DO UPDATE SET profile_id = excluded.profile_id`,
		profileID, itemType, itemID)
	if err != nil {
		return fmt.Errorf("failed to assign profile: %w", err)
	}
	return nil
}

// GetAssignedProfile returns the profile attached to a library item, falling
// back to the default profile when no assignment exists.
func (s *Store) GetAssignedProfile(ctx context.Context, itemType string, itemID int64) (*LanguageProfile, error) {
	var profileID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id FROM profile_assignments WHERE item_type = ? AND item_id = ?`,
		itemType, itemID).Scan(&profileID)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.GetDefaultProfile(ctx)
		}
		return nil, fmt.Errorf("failed to look up profile assignment: %w", err)
	}
	return s.GetProfile(ctx, profileID)
}

func scanProfile(row rowScanner) (*LanguageProfile, error) {
	var p LanguageProfile
	var targets, chain string

	err := row.Scan(&p.ID, &p.Name, &p.SourceLanguage, &targets, &chain,
		&p.ForcedPreference, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	if err := json.Unmarshal([]byte(targets), &p.TargetLanguages); err != nil {
		p.TargetLanguages = nil
	}
	if err := json.Unmarshal([]byte(chain), &p.FallbackChain); err != nil {
		p.FallbackChain = nil
	}
	return &p, nil
}
