package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByType retrieves all devices of a specific type.
	ListByType(ctx context.Context, t DeviceType) ([]Device, error)

	// ListByStatus retrieves all devices with a specific status.
	ListByStatus(ctx context.Context, status Status) ([]Device, error)

	// Upsert inserts the device or merges a status report into the
	// existing row. The operation is a single atomic statement:
	// last_seen never moves backwards, and the stored name, type and
	// created_at are preserved on conflict. Fields of the report that
	// were not supplied (nil ip/mac/capabilities/configuration) leave
	// the stored values untouched.
	Upsert(ctx context.Context, d *Device, report StatusReport) (*Device, error)

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `device_id, type, name, status, last_seen, ip_address,
	mac_address, capabilities, configuration, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY device_id`
	return r.queryDevices(ctx, query)
}

// ListByType retrieves all devices of a specific type.
func (r *SQLiteRepository) ListByType(ctx context.Context, t DeviceType) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE type = ? ORDER BY device_id`
	return r.queryDevices(ctx, query, string(t))
}

// ListByStatus retrieves all devices with a specific status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE status = ? ORDER BY device_id`
	return r.queryDevices(ctx, query, string(status))
}

// Upsert inserts or merges a device row in a single atomic statement.
//
// On conflict the row keeps its name, type and created_at, takes the
// reported status, and advances last_seen only if the report is newer
// (MAX of stored and reported values). Optional report fields that are
// nil leave existing columns untouched via COALESCE.
func (r *SQLiteRepository) Upsert(ctx context.Context, d *Device, report StatusReport) (*Device, error) {
	capsJSON, err := marshalOptionalJSON(report.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshalling capabilities: %w", err)
	}
	configJSON, err := marshalOptionalJSON(report.Configuration)
	if err != nil {
		return nil, fmt.Errorf("marshalling configuration: %w", err)
	}

	now := time.Now().UTC()
	lastSeen := report.LastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}

	query := `
		INSERT INTO devices (
			device_id, type, name, status, last_seen, ip_address,
			mac_address, capabilities, configuration, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, '[]'), COALESCE(?, '{}'), ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			status = excluded.status,
			last_seen = MAX(devices.last_seen, excluded.last_seen),
			ip_address = COALESCE(excluded.ip_address, devices.ip_address),
			mac_address = COALESCE(excluded.mac_address, devices.mac_address),
			capabilities = CASE WHEN ? IS NULL THEN devices.capabilities ELSE excluded.capabilities END,
			configuration = CASE WHEN ? IS NULL THEN devices.configuration ELSE excluded.configuration END,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		d.DeviceID,
		string(d.Type),
		d.Name,
		string(report.Status),
		lastSeen.Format(time.RFC3339),
		nullableString(report.IPAddress),
		nullableString(report.MACAddress),
		capsJSON,
		configJSON,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		capsJSON,
		configJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting device: %w", err)
	}

	return r.GetByID(ctx, d.DeviceID)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE device_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var deviceType, status string
	var ipAddress, macAddress sql.NullString
	var capsJSON, configJSON string
	var lastSeen, createdAt, updatedAt string

	err := scanner.Scan(
		&d.DeviceID,
		&deviceType,
		&d.Name,
		&status,
		&lastSeen,
		&ipAddress,
		&macAddress,
		&capsJSON,
		&configJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Status = Status(status)

	if ipAddress.Valid {
		d.IPAddress = &ipAddress.String
	}
	if macAddress.Valid {
		d.MACAddress = &macAddress.String
	}

	var parseErr error
	d.LastSeen, parseErr = time.Parse(time.RFC3339, lastSeen)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", parseErr)
	}
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &d.Configuration); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	return &d, nil
}

// marshalOptionalJSON marshals v to a nullable string, preserving nil.
func marshalOptionalJSON(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if val == nil {
			return sql.NullString{}, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
