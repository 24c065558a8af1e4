package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			device_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			last_seen TEXT NOT NULL,
			ip_address TEXT,
			mac_address TEXT,
			capabilities TEXT NOT NULL DEFAULT '[]',
			configuration TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX idx_devices_type ON devices(type);
		CREATE INDEX idx_devices_status ON devices(status);
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

// upsertTestDevice inserts a device via a status report and returns the stored row.
func upsertTestDevice(t *testing.T, repo *SQLiteRepository, deviceID string, report StatusReport) *Device {
	t.Helper()

	typ := InferType(deviceID)
	d, err := repo.Upsert(context.Background(), &Device{
		DeviceID: deviceID,
		Type:     typ,
		Name:     DefaultName(typ),
	}, report)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return d
}

func TestSQLiteRepository_UpsertCreates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	ip := "192.168.4.21"
	seen := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	d := upsertTestDevice(t, repo, "keylogger-001", StatusReport{
		Status:       StatusOnline,
		LastSeen:     seen,
		IPAddress:    &ip,
		Capabilities: []string{"keylogging", "exfiltration"},
	})

	if d.Type != TypeKeylogger {
		t.Errorf("Type = %v, want %v", d.Type, TypeKeylogger)
	}
	if d.Name != "Keylogger Device" {
		t.Errorf("Name = %q, want %q", d.Name, "Keylogger Device")
	}
	if d.Status != StatusOnline {
		t.Errorf("Status = %v, want %v", d.Status, StatusOnline)
	}
	if !d.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", d.LastSeen, seen)
	}
	if d.IPAddress == nil || *d.IPAddress != ip {
		t.Errorf("IPAddress = %v, want %v", d.IPAddress, ip)
	}
	if len(d.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", d.Capabilities)
	}
	if d.Configuration == nil {
		t.Error("Configuration = nil, want empty map")
	}
}

func TestSQLiteRepository_UpsertMerges(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	ip := "192.168.4.21"
	mac := "aa:bb:cc:dd:ee:ff"
	first := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	created := upsertTestDevice(t, repo, "ethernet-tap-002", StatusReport{
		Status:     StatusOnline,
		LastSeen:   first,
		IPAddress:  &ip,
		MACAddress: &mac,
	})

	t.Run("advances last_seen and status", func(t *testing.T) {
		later := first.Add(time.Minute)
		d := upsertTestDevice(t, repo, "ethernet-tap-002", StatusReport{
			Status:   StatusError,
			LastSeen: later,
		})

		if d.Status != StatusError {
			t.Errorf("Status = %v, want %v", d.Status, StatusError)
		}
		if !d.LastSeen.Equal(later) {
			t.Errorf("LastSeen = %v, want %v", d.LastSeen, later)
		}
		if !d.CreatedAt.Equal(created.CreatedAt) {
			t.Errorf("CreatedAt changed on upsert: %v != %v", d.CreatedAt, created.CreatedAt)
		}
	})

	t.Run("stale report does not regress last_seen", func(t *testing.T) {
		stale := first.Add(-time.Hour)
		d := upsertTestDevice(t, repo, "ethernet-tap-002", StatusReport{
			Status:   StatusOffline,
			LastSeen: stale,
		})

		if d.LastSeen.Before(first) {
			t.Errorf("LastSeen regressed to %v, floor was %v", d.LastSeen, first)
		}
		// Status still reflects the latest report received.
		if d.Status != StatusOffline {
			t.Errorf("Status = %v, want %v", d.Status, StatusOffline)
		}
	})

	t.Run("omitted fields are preserved", func(t *testing.T) {
		d := upsertTestDevice(t, repo, "ethernet-tap-002", StatusReport{
			Status: StatusOnline,
		})

		if d.IPAddress == nil || *d.IPAddress != ip {
			t.Errorf("IPAddress = %v, want preserved %v", d.IPAddress, ip)
		}
		if d.MACAddress == nil || *d.MACAddress != mac {
			t.Errorf("MACAddress = %v, want preserved %v", d.MACAddress, mac)
		}
	})
}

func TestSQLiteRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	upsertTestDevice(t, repo, "evil-twin-003", StatusReport{Status: StatusOnline})

	t.Run("existing device", func(t *testing.T) {
		d, err := repo.GetByID(ctx, "evil-twin-003")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if d.DeviceID != "evil-twin-003" {
			t.Errorf("DeviceID = %q, want %q", d.DeviceID, "evil-twin-003")
		}
		if d.Type != TypeEvilTwin {
			t.Errorf("Type = %v, want %v", d.Type, TypeEvilTwin)
		}
	})

	t.Run("missing device", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "keylogger-999")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	upsertTestDevice(t, repo, "keylogger-001", StatusReport{Status: StatusOnline})
	upsertTestDevice(t, repo, "keylogger-002", StatusReport{Status: StatusOffline})
	upsertTestDevice(t, repo, "evil-twin-001", StatusReport{Status: StatusError})

	t.Run("all devices", func(t *testing.T) {
		devices, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(devices) != 3 {
			t.Errorf("List() returned %d devices, want 3", len(devices))
		}
	})

	t.Run("by type", func(t *testing.T) {
		devices, err := repo.ListByType(ctx, TypeKeylogger)
		if err != nil {
			t.Fatalf("ListByType() error = %v", err)
		}
		if len(devices) != 2 {
			t.Errorf("ListByType() returned %d devices, want 2", len(devices))
		}
	})

	t.Run("by status", func(t *testing.T) {
		devices, err := repo.ListByStatus(ctx, StatusError)
		if err != nil {
			t.Fatalf("ListByStatus() error = %v", err)
		}
		if len(devices) != 1 {
			t.Errorf("ListByStatus() returned %d devices, want 1", len(devices))
		}
	})
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	upsertTestDevice(t, repo, "keylogger-001", StatusReport{Status: StatusOnline})

	if err := repo.Delete(ctx, "keylogger-001"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := repo.GetByID(ctx, "keylogger-001")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.Delete(ctx, "keylogger-001"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() missing device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		deviceID string
		want     DeviceType
	}{
		{"keylogger-001", TypeKeylogger},
		{"keystroke-injector-004", TypeKeystrokeInjector},
		{"ethernet-tap-002", TypeEthernetTap},
		{"evil-twin-003", TypeEvilTwin},
		{"raspberry-007", TypeUnknown},
		{"keylogger", TypeUnknown},
		{"", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.deviceID, func(t *testing.T) {
			if got := InferType(tt.deviceID); got != tt.want {
				t.Errorf("InferType(%q) = %v, want %v", tt.deviceID, got, tt.want)
			}
		})
	}
}

func TestDefaultName(t *testing.T) {
	tests := []struct {
		t    DeviceType
		want string
	}{
		{TypeKeylogger, "Keylogger Device"},
		{TypeEthernetTap, "Ethernet-Tap Device"},
		{TypeKeystrokeInjector, "Keystroke-Injector Device"},
		{TypeEvilTwin, "Evil-Twin Device"},
		{TypeUnknown, "Unknown Device"},
	}

	for _, tt := range tests {
		if got := DefaultName(tt.t); got != tt.want {
			t.Errorf("DefaultName(%q) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
