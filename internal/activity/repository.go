// Package activity provides access to the activity_log table, the
// append-only record of every command dispatched through the system.
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry represents a single dispatch recorded in the activity log.
// Entries are written once and never updated or deleted.
type Entry struct {
	ID              string         `json:"id"`
	DeviceID        string         `json:"device_id"`
	InstanceID      string         `json:"instance_id,omitempty"`
	Command         string         `json:"command"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Response        map[string]any `json:"response,omitempty"`
	Status          string         `json:"status"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Timestamp       time.Time      `json:"timestamp"`
	UserID          string         `json:"user_id,omitempty"`
}

// Dispatch outcomes recorded in an entry's Status field.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPending = "pending"
)

// Filter controls which activity entries to return.
type Filter struct {
	DeviceID string // optional: filter by device
	Command  string // optional: filter by command name
	Status   string // optional: filter by outcome (success, failed)
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated activity log results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for activity log operations.
// The log is append-only: there is no update or delete.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores activity entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new activity log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a new activity entry. The ID and Timestamp are
// generated if empty.
func (r *SQLiteRepository) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "act-" + uuid.NewString()[:8]
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	paramsJSON, err := marshalOptional(entry.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling activity parameters: %w", err)
	}
	responseJSON, err := marshalOptional(entry.Response)
	if err != nil {
		return fmt.Errorf("marshalling activity response: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, device_id, instance_id, command, parameters, response, status, execution_time_ms, timestamp, user_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID,
		nullableString(entry.InstanceID),
		entry.Command, paramsJSON, responseJSON,
		entry.Status, entry.ExecutionTimeMs,
		entry.Timestamp.Format(time.RFC3339),
		nullableString(entry.UserID),
	)
	if err != nil {
		return fmt.Errorf("inserting activity entry: %w", err)
	}

	return nil
}

// marshalOptional marshals a map to JSON, preserving nil as NULL.
func marshalOptional(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns activity entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Command != "" {
		conditions = append(conditions, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE is built from parameterised conditions only; no user input in SQL string.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM activity_log %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting activity entries: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, device_id, instance_id, command, parameters, response, status, execution_time_ms, timestamp, user_id FROM activity_log %s ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var instanceID, paramsJSON, responseJSON, userID sql.NullString
		var timestamp string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &instanceID,
			&entry.Command, &paramsJSON, &responseJSON,
			&entry.Status, &entry.ExecutionTimeMs, &timestamp, &userID); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}

		if instanceID.Valid {
			entry.InstanceID = instanceID.String
		}
		if userID.Valid {
			entry.UserID = userID.String
		}
		if paramsJSON.Valid && paramsJSON.String != "" {
			var params map[string]any
			if json.Unmarshal([]byte(paramsJSON.String), &params) == nil {
				entry.Parameters = params
			}
		}
		if responseJSON.Valid && responseJSON.String != "" {
			var response map[string]any
			if json.Unmarshal([]byte(responseJSON.String), &response) == nil {
				entry.Response = response
			}
		}

		t, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing activity timestamp %q: %w", timestamp, err)
		}
		entry.Timestamp = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
