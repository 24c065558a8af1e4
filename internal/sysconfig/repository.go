// Package sysconfig provides access to the system_config key/value
// table holding runtime configuration shared across the control plane.
package sysconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSettingNotFound is returned when a configuration key does not exist.
var ErrSettingNotFound = errors.New("sysconfig: setting not found")

// ErrInvalidKey is returned when a configuration key is empty.
var ErrInvalidKey = errors.New("sysconfig: key is required")

// Setting is a single system configuration entry.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
}

// Repository defines the interface for system configuration operations.
type Repository interface {
	// Get retrieves a setting by key.
	// Returns ErrSettingNotFound if the key does not exist.
	Get(ctx context.Context, key string) (*Setting, error)

	// List retrieves all settings ordered by key.
	List(ctx context.Context) ([]Setting, error)

	// Set creates or updates a setting. An existing description is
	// preserved when the incoming one is empty.
	Set(ctx context.Context, setting *Setting) error
}

// SQLiteRepository stores settings in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new system configuration repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get retrieves a setting by key.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (*Setting, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT key, value, description, updated_at, updated_by FROM system_config WHERE key = ?`, key)

	setting, err := scanSetting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("querying setting: %w", err)
	}
	return setting, nil
}

// List retrieves all settings ordered by key.
func (r *SQLiteRepository) List(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value, description, updated_at, updated_by FROM system_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		settings = append(settings, *setting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}

	return settings, nil
}

// Set creates or updates a setting in a single upsert.
func (r *SQLiteRepository) Set(ctx context.Context, setting *Setting) error {
	if setting.Key == "" {
		return ErrInvalidKey
	}
	setting.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO system_config (key, value, description, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = CASE WHEN excluded.description = '' THEN system_config.description ELSE excluded.description END,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`

	_, err := r.db.ExecContext(ctx, query,
		setting.Key,
		setting.Value,
		setting.Description,
		setting.UpdatedAt.Format(time.RFC3339),
		nullableString(setting.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetting(scanner rowScanner) (*Setting, error) {
	var setting Setting
	var description, updatedBy sql.NullString
	var updatedAt string

	if err := scanner.Scan(&setting.Key, &setting.Value, &description, &updatedAt, &updatedBy); err != nil {
		return nil, err
	}

	if description.Valid {
		setting.Description = description.String
	}
	if updatedBy.Valid {
		setting.UpdatedBy = updatedBy.String
	}

	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing setting timestamp %q: %w", updatedAt, err)
	}
	setting.UpdatedAt = t

	return &setting, nil
}
