package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marrowsec/fleetcore/internal/activity"
	"github.com/marrowsec/fleetcore/internal/device"
	"github.com/marrowsec/fleetcore/internal/dispatch"
	"github.com/marrowsec/fleetcore/internal/infrastructure/config"
	"github.com/marrowsec/fleetcore/internal/infrastructure/logging"
	"github.com/marrowsec/fleetcore/internal/instance"
	"github.com/marrowsec/fleetcore/internal/sysconfig"
)

// stubTransport accepts every send.
type stubTransport struct{}

func (stubTransport) Send(_ context.Context, _, _, _ string, _ map[string]any) (string, error) {
	return "msg-test0001", nil
}

// testServer creates a Server over an in-memory database with a stub
// transport.
func testServer(t *testing.T) (*Server, *device.Registry) {
	t.Helper()

	db := setupTestDB(t)
	registry := device.NewRegistry(device.NewSQLiteRepository(db))
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	instances := instance.NewManager(instance.NewSQLiteRepository(db))
	activities := activity.NewSQLiteRepository(db)
	settings := sysconfig.NewSQLiteRepository(db)
	dispatcher := dispatch.NewDispatcher(registry, instances, activities, stubTransport{}, dispatch.NewCatalog())

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Registry:   registry,
		Instances:  instances,
		Dispatcher: dispatcher,
		Activities: activities,
		Settings:   settings,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(context.Background())

	return srv, registry
}

// setupTestDB creates an in-memory SQLite database with the full schema.
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
		CREATE TABLE device_instances (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'stopped',
			parameters TEXT,
			started_at TEXT,
			stopped_at TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
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
		CREATE TABLE system_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			description TEXT,
			updated_at TEXT NOT NULL,
			updated_by TEXT
		);
	`
	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// doRequest runs a request through the router and returns the recorder.
func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a recorder body into a map.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestReportStatusAndGetDevice(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/status", map[string]any{
		"status":     "online",
		"ip_address": "10.0.0.12",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/devices/keylogger-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get device = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["type"] != "keylogger" {
		t.Errorf("type = %v, want keylogger", body["type"])
	}
	if body["status"] != "online" {
		t.Errorf("status = %v, want online", body["status"])
	}
	if body["ip_address"] != "10.0.0.12" {
		t.Errorf("ip_address = %v", body["ip_address"])
	}
	// Capabilities seeded from the catalog on first contact.
	if caps, ok := body["capabilities"].([]any); !ok || len(caps) == 0 {
		t.Errorf("capabilities = %v, want catalog defaults", body["capabilities"])
	}
}

func TestReportStatusHeartbeatKeepsCapabilities(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/ethernet-tap-001/status", map[string]any{
		"status":       "online",
		"capabilities": []string{"custom_capture_mode"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// A plain heartbeat that omits capabilities must not replace the
	// announced set with catalog defaults.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/devices/ethernet-tap-001/status", map[string]any{
		"status": "online",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/devices/ethernet-tap-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get device = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	caps, ok := body["capabilities"].([]any)
	if !ok || len(caps) != 1 || caps[0] != "custom_capture_mode" {
		t.Errorf("capabilities = %v, want [custom_capture_mode]", body["capabilities"])
	}
}

func TestReportStatusInvalid(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/status", map[string]any{
		"status": "haunted",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices/ghost-001", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListDevicesFilterByType(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	ctx := context.Background()

	for _, id := range []string{"keylogger-001", "keylogger-002", "evil-twin-001"} {
		if _, err := registry.ReportStatus(ctx, id, device.StatusReport{Status: device.StatusOnline}); err != nil {
			t.Fatalf("ReportStatus(%s): %v", id, err)
		}
	}

	rec := doRequest(t, router, http.MethodGet, "/api/v1/devices?type=keylogger", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/devices", nil)
	body = decodeBody(t, rec)
	if body["count"] != float64(3) {
		t.Errorf("count = %v, want 3", body["count"])
	}
}

func TestCreateAndListInstances(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()

	// Unknown device: 404 before any instance work.
	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/ghost-001/instances", map[string]any{
		"name": "capture", "type": "capture",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("create on unknown device = %d, want 404", rec.Code)
	}

	if _, err := registry.ReportStatus(context.Background(), "ethernet-tap-001", device.StatusReport{Status: device.StatusOnline}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/devices/ethernet-tap-001/instances", map[string]any{
		"name": "Network Monitor", "type": "capture", "created_by": "operator",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create instance = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	inst, ok := body["instance"].(map[string]any)
	if !ok {
		t.Fatalf("instance missing from response: %v", body)
	}
	if inst["status"] != "stopped" {
		t.Errorf("instance status = %v, want stopped", inst["status"])
	}

	// Missing name rejected.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/devices/ethernet-tap-001/instances", map[string]any{
		"type": "capture",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without name = %d, want 400", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/devices/ethernet-tap-001/instances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list instances = %d, want 200", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestDispatchCommandEndpoint(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	ctx := context.Background()

	if _, err := registry.ReportStatus(ctx, "keylogger-001", device.StatusReport{Status: device.StatusOnline}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/commands", map[string]any{
		"command": "start_logging",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	resp, ok := body["response"].(map[string]any)
	if !ok || resp["message"] != "Keylogging started" {
		t.Errorf("response = %v", body["response"])
	}

	// Offline device: 503 device_unavailable.
	if _, err := registry.ReportStatus(ctx, "keylogger-001", device.StatusReport{Status: device.StatusOffline}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/commands", map[string]any{
		"command": "stop_logging",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("dispatch to offline = %d, want 503", rec.Code)
	}

	// Missing command: 400 validation_error.
	rec = doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/commands", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("dispatch without command = %d, want 400", rec.Code)
	}

	// Unknown instance: 404.
	if _, err := registry.ReportStatus(ctx, "keylogger-001", device.StatusReport{Status: device.StatusOnline}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}
	rec = doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/commands", map[string]any{
		"command":    "control_instance",
		"parameters": map[string]any{"instanceId": "inst-missing", "action": "stop"},
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("control unknown instance = %d, want 404", rec.Code)
	}
}

func TestActivityEndpoint(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	ctx := context.Background()

	if _, err := registry.ReportStatus(ctx, "keylogger-001", device.StatusReport{Status: device.StatusOnline}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}

	for _, cmd := range []string{"start_logging", "stop_logging"} {
		rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/keylogger-001/commands", map[string]any{"command": cmd})
		if rec.Code != http.StatusOK {
			t.Fatalf("dispatch %s = %d", cmd, rec.Code)
		}
	}

	rec := doRequest(t, router, http.MethodGet, "/api/v1/activity?device_id=keylogger-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list activity = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(2) {
		t.Errorf("total = %v, want 2", body["total"])
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/activity?limit=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestConfigEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/config/mqtt_broker_host", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing setting = %d, want 404", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPut, "/api/v1/config/mqtt_broker_host", map[string]any{
		"value": "10.0.0.5", "updated_by": "operator",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put setting = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/config/mqtt_broker_host", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get setting = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["value"] != "10.0.0.5" {
		t.Errorf("value = %v, want 10.0.0.5", body["value"])
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/config/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list settings = %d, want 200", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestDeviceTypeDetails(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	rec := doRequest(t, router, http.MethodGet, "/api/v1/device-types/evil-twin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("device type details = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if caps, ok := body["capabilities"].([]any); !ok || len(caps) == 0 {
		t.Errorf("capabilities = %v, want non-empty", body["capabilities"])
	}
	if _, ok := body["available_networks"]; !ok {
		t.Error("available_networks missing from evil-twin details")
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/device-types/toaster", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown type = %d, want 404", rec.Code)
	}
}

func TestWebSocketStatusBroadcast(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// Subscribe to device status events.
	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{EventDeviceStatusChanged}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("ack type = %q, want response", ack.Type)
	}

	// A status report should arrive as an event.
	rec := doRequest(t, router, http.MethodPost, "/api/v1/devices/evil-twin-001/status", map[string]any{
		"status": "online",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != EventDeviceStatusChanged {
		t.Errorf("event type = %q, want %s", event.EventType, EventDeviceStatusChanged)
	}
}
