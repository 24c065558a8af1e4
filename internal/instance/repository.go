package instance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for instance persistence operations.
type Repository interface {
	// GetByID retrieves an instance by its unique identifier.
	// Returns ErrInstanceNotFound if the instance does not exist.
	GetByID(ctx context.Context, id string) (*Instance, error)

	// List retrieves all instances.
	List(ctx context.Context) ([]Instance, error)

	// ListByDevice retrieves all instances belonging to a device.
	ListByDevice(ctx context.Context, deviceID string) ([]Instance, error)

	// Create inserts a new instance.
	// Returns ErrInstanceExists if an instance with the same ID already exists.
	Create(ctx context.Context, inst *Instance) error

	// UpdateStatus moves an instance to a new status in a single atomic
	// statement. started_at is stamped on the first entry into running;
	// stopped_at is stamped only on the first entry into stopped.
	// Returns ErrInstanceNotFound if the instance does not exist.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// Delete removes an instance by ID.
	// Returns ErrInstanceNotFound if the instance does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const instanceColumns = `id, device_id, name, type, status, parameters,
	started_at, stopped_at, created_by, created_at, updated_at`

// GetByID retrieves an instance by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM device_instances WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	inst, err := scanInstanceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("querying instance by id: %w", err)
	}
	return inst, nil
}

// List retrieves all instances in creation order.
// created_at has second granularity, so rowid breaks ties.
func (r *SQLiteRepository) List(ctx context.Context) ([]Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM device_instances ORDER BY created_at, rowid`
	return r.queryInstances(ctx, query)
}

// ListByDevice retrieves all instances belonging to a device, in creation order.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM device_instances WHERE device_id = ? ORDER BY created_at, rowid`
	return r.queryInstances(ctx, query, deviceID)
}

// Create inserts a new instance.
func (r *SQLiteRepository) Create(ctx context.Context, inst *Instance) error {
	paramsJSON, err := json.Marshal(inst.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}

	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	query := `
		INSERT INTO device_instances (
			id, device_id, name, type, status, parameters,
			started_at, stopped_at, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		inst.ID,
		inst.DeviceID,
		inst.Name,
		inst.Type,
		string(inst.Status),
		string(paramsJSON),
		nullableTime(inst.StartedAt),
		nullableTime(inst.StoppedAt),
		nullableStr(inst.CreatedBy),
		inst.CreatedAt.Format(time.RFC3339),
		inst.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrInstanceExists
		}
		return fmt.Errorf("inserting instance: %w", err)
	}

	return nil
}

// UpdateStatus moves an instance to a new status in one atomic statement.
//
// The CASE expressions make the timestamp stamping idempotent under
// concurrent dispatches: started_at is only set while NULL, and
// stopped_at is only set when the row was not already stopped, so a
// second stop applied concurrently cannot overwrite the first stamp.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		UPDATE device_instances SET
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
			stopped_at = CASE WHEN ? = 'stopped' AND status != 'stopped' THEN ? ELSE stopped_at END,
			status = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(status), now,
		string(status), now,
		string(status),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating instance status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

// Delete removes an instance by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

// queryInstances executes a query and returns a slice of instances.
func (r *SQLiteRepository) queryInstances(ctx context.Context, query string, args ...any) ([]Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		inst, err := scanInstanceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		instances = append(instances, *inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instances: %w", err)
	}

	return instances, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanInstanceRow scans a row or rows result into an Instance.
func scanInstanceRow(scanner rowScanner) (*Instance, error) {
	var inst Instance
	var status, paramsJSON string
	var startedAt, stoppedAt, createdBy sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&inst.ID,
		&inst.DeviceID,
		&inst.Name,
		&inst.Type,
		&status,
		&paramsJSON,
		&startedAt,
		&stoppedAt,
		&createdBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Status = Status(status)

	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err == nil {
			inst.StartedAt = &t
		}
	}
	if stoppedAt.Valid {
		t, err := time.Parse(time.RFC3339, stoppedAt.String)
		if err == nil {
			inst.StoppedAt = &t
		}
	}
	if createdBy.Valid {
		inst.CreatedBy = createdBy.String
	}

	var parseErr error
	inst.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	inst.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &inst.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshalling parameters: %w", err)
	}

	return &inst, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullableStr returns a sql.NullString for optional strings.
func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
