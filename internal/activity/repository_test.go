package activity

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE activity_log (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			instance_id TEXT,
			command TEXT NOT NULL,
			parameters TEXT,
			response TEXT,
			status TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL,
			user_id TEXT
		);
		CREATE INDEX idx_activity_log_device ON activity_log(device_id);
		CREATE INDEX idx_activity_log_timestamp ON activity_log(timestamp);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// appendTestEntry writes an entry with a fixed timestamp offset so
// ordering assertions are deterministic.
func appendTestEntry(t *testing.T, repo *SQLiteRepository, deviceID, command, status string, offset time.Duration) *Entry {
	t.Helper()

	entry := &Entry{
		DeviceID:  deviceID,
		Command:   command,
		Status:    status,
		Timestamp: time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC).Add(offset),
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return entry
}

func TestSQLiteRepository_AppendGeneratesFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	entry := &Entry{
		DeviceID: "keylogger-001",
		Command:  "start_keylogger",
		Status:   StatusSuccess,
		Parameters: map[string]any{
			"target": "usb0",
		},
		Response: map[string]any{
			"message_id": "msg-12345678",
		},
		ExecutionTimeMs: 42,
		UserID:          "operator",
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if entry.ID == "" {
		t.Error("Append() did not generate ID")
	}
	if entry.Timestamp.IsZero() {
		t.Error("Append() did not stamp Timestamp")
	}

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1", result.Total)
	}

	got := result.Entries[0]
	if got.Command != "start_keylogger" {
		t.Errorf("Command = %q, want start_keylogger", got.Command)
	}
	if got.Parameters["target"] != "usb0" {
		t.Errorf("Parameters[target] = %v, want usb0", got.Parameters["target"])
	}
	if got.Response["message_id"] != "msg-12345678" {
		t.Errorf("Response[message_id] = %v, want msg-12345678", got.Response["message_id"])
	}
	if got.ExecutionTimeMs != 42 {
		t.Errorf("ExecutionTimeMs = %d, want 42", got.ExecutionTimeMs)
	}
	if got.UserID != "operator" {
		t.Errorf("UserID = %q, want operator", got.UserID)
	}
}

func TestSQLiteRepository_ListFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	appendTestEntry(t, repo, "keylogger-001", "start_keylogger", StatusSuccess, 0)
	appendTestEntry(t, repo, "keylogger-001", "stop_keylogger", StatusSuccess, time.Minute)
	appendTestEntry(t, repo, "evil-twin-001", "start_ap", StatusError, 2*time.Minute)

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
	}{
		{"all", Filter{}, 3},
		{"by device", Filter{DeviceID: "keylogger-001"}, 2},
		{"by command", Filter{Command: "start_ap"}, 1},
		{"by status", Filter{Status: StatusError}, 1},
		{"device and status", Filter{DeviceID: "keylogger-001", Status: StatusError}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", result.Total, tt.wantTotal)
			}
			if len(result.Entries) != tt.wantTotal {
				t.Errorf("len(Entries) = %d, want %d", len(result.Entries), tt.wantTotal)
			}
		})
	}
}

func TestSQLiteRepository_ListOrderAndPagination(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	for i := 0; i < 5; i++ {
		appendTestEntry(t, repo, "keylogger-001", "status_check", StatusSuccess, time.Duration(i)*time.Minute)
	}

	result, err := repo.List(context.Background(), Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, want 5", result.Total)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(result.Entries))
	}

	// Most recent first.
	if !result.Entries[0].Timestamp.After(result.Entries[1].Timestamp) {
		t.Errorf("entries not ordered most recent first: %v then %v",
			result.Entries[0].Timestamp, result.Entries[1].Timestamp)
	}

	page2, err := repo.List(context.Background(), Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List() page 2 error = %v", err)
	}
	if len(page2.Entries) != 2 {
		t.Fatalf("len(page2.Entries) = %d, want 2", len(page2.Entries))
	}
	if page2.Entries[0].ID == result.Entries[0].ID {
		t.Error("pagination returned overlapping entries")
	}
}

func TestSQLiteRepository_ListEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Entries == nil {
		t.Error("List() returned nil Entries, want empty slice")
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0", result.Total)
	}
}
