package dispatch

import (
	"errors"
	"testing"

	"github.com/marrowsec/fleetcore/internal/device"
)

func TestCatalogCapabilities(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		deviceType device.DeviceType
		want       []string
	}{
		{device.TypeKeylogger, []string{"start_logging", "stop_logging", "download_logs", "clear_buffer"}},
		{device.TypeKeystrokeInjector, []string{"inject_payload", "load_script", "stop_injection", "list_payloads"}},
		{device.TypeEthernetTap, []string{"start_capture", "stop_capture", "download_pcap", "monitor_mode"}},
		{device.TypeEvilTwin, []string{"start_ap", "stop_ap", "view_clients", "deauth_clients", "clone_network"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.deviceType), func(t *testing.T) {
			got := c.Capabilities(tt.deviceType)
			if len(got) != len(tt.want) {
				t.Fatalf("Capabilities(%s) = %v, want %v", tt.deviceType, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Capabilities(%s)[%d] = %q, want %q", tt.deviceType, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCatalogDetails(t *testing.T) {
	c := NewCatalog()

	details, err := c.Details(device.TypeKeystrokeInjector)
	if err != nil {
		t.Fatalf("Details() error = %v", err)
	}
	if details["device_type"] != "keystroke-injector" {
		t.Errorf("device_type = %v", details["device_type"])
	}
	payloads, ok := details["payloads"].([]string)
	if !ok || len(payloads) == 0 {
		t.Errorf("payloads = %v, want non-empty list", details["payloads"])
	}

	details, err = c.Details(device.TypeEvilTwin)
	if err != nil {
		t.Fatalf("Details() error = %v", err)
	}
	if _, ok := details["available_networks"]; !ok {
		t.Error("evil-twin details missing available_networks")
	}

	_, err = c.Details(device.DeviceType("toaster"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Details(toaster) error = %v, want ErrValidation", err)
	}
}

func TestCatalogHandlerParams(t *testing.T) {
	c := NewCatalog()

	h, ok := c.Handler(device.TypeEthernetTap, "start_capture")
	if !ok {
		t.Fatal("Handler(ethernet-tap, start_capture) not found")
	}

	resp := h(map[string]any{"interface": "eth1"})
	if resp["interface"] != "eth1" {
		t.Errorf("interface = %v, want eth1", resp["interface"])
	}

	// Defaults apply when the parameter is absent.
	resp = h(nil)
	if resp["interface"] != "eth0" {
		t.Errorf("interface = %v, want default eth0", resp["interface"])
	}
}

func TestCatalogRegister(t *testing.T) {
	c := NewCatalog()

	c.Register(device.TypeKeylogger, "rotate_logs", func(map[string]any) map[string]any {
		return map[string]any{"message": "Logs rotated"}
	})

	if _, ok := c.Handler(device.TypeKeylogger, "rotate_logs"); !ok {
		t.Fatal("registered handler not found")
	}

	found := false
	for _, cap := range c.Capabilities(device.TypeKeylogger) {
		if cap == "rotate_logs" {
			found = true
		}
	}
	if !found {
		t.Error("registered command missing from capabilities")
	}

	// Re-registering must not duplicate the capability.
	before := len(c.Capabilities(device.TypeKeylogger))
	c.Register(device.TypeKeylogger, "rotate_logs", func(map[string]any) map[string]any {
		return map[string]any{"message": "Logs rotated"}
	})
	if got := len(c.Capabilities(device.TypeKeylogger)); got != before {
		t.Errorf("capability count = %d after re-register, want %d", got, before)
	}
}
