package dispatch

import (
	"fmt"

	"github.com/marrowsec/fleetcore/internal/device"
)

// Handler composes the acknowledgment payload for a command. Handlers
// are pure: they never touch shared state and never block.
type Handler func(params map[string]any) map[string]any

type commandKey struct {
	deviceType device.DeviceType
	command    string
}

// Catalog maps (device type, command) pairs to handlers and describes
// each device type's capabilities. A single table serves every type;
// there is no per-type dispatch path.
type Catalog struct {
	handlers     map[commandKey]Handler
	capabilities map[device.DeviceType][]string
	details      map[device.DeviceType]map[string]any
}

// Capabilities returns the command names a device type supports. The
// result is a copy; callers may keep it.
func (c *Catalog) Capabilities(t device.DeviceType) []string {
	caps := c.capabilities[t]
	if caps == nil {
		return nil
	}
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}

// Details returns the descriptive payload for a device type: its
// capabilities plus type-specific extras such as the injector payload
// library or the tap's capture interfaces.
func (c *Catalog) Details(t device.DeviceType) (map[string]any, error) {
	caps, ok := c.capabilities[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown device type %q", ErrValidation, t)
	}

	out := map[string]any{
		"device_type":  string(t),
		"capabilities": append([]string(nil), caps...),
	}
	for k, v := range c.details[t] {
		out[k] = v
	}
	return out, nil
}

// Handler returns the handler for a command on a device type.
func (c *Catalog) Handler(t device.DeviceType, command string) (Handler, bool) {
	h, ok := c.handlers[commandKey{deviceType: t, command: command}]
	return h, ok
}

// Register adds or replaces a handler and records the command in the
// type's capability list if not already present.
func (c *Catalog) Register(t device.DeviceType, command string, h Handler) {
	c.handlers[commandKey{deviceType: t, command: command}] = h

	for _, existing := range c.capabilities[t] {
		if existing == command {
			return
		}
	}
	c.capabilities[t] = append(c.capabilities[t], command)
}

// strParam reads a string parameter, falling back when absent or not a
// string.
func strParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// NewCatalog builds the default command catalog for the supported
// device types.
func NewCatalog() *Catalog {
	c := &Catalog{
		handlers:     make(map[commandKey]Handler),
		capabilities: make(map[device.DeviceType][]string),
		details:      make(map[device.DeviceType]map[string]any),
	}

	c.details[device.TypeKeystrokeInjector] = map[string]any{
		"payloads": []string{"reverse_shell.py", "credential_harvester.ps1", "keylogger.js"},
	}
	c.details[device.TypeEthernetTap] = map[string]any{
		"interfaces": []string{"eth0", "eth1", "wlan0"},
	}
	c.details[device.TypeEvilTwin] = map[string]any{
		"available_networks": []string{"Corporate_WiFi", "Guest_Network", "Home_Router"},
	}
	c.details[device.TypeKeylogger] = map[string]any{}
	c.details[device.TypeUnknown] = map[string]any{}

	c.Register(device.TypeKeylogger, "start_logging", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":     "Keylogging started",
			"buffer_size": "0 KB",
		}
	})
	c.Register(device.TypeKeylogger, "stop_logging", func(params map[string]any) map[string]any {
		return map[string]any{"message": "Keylogging stopped"}
	})
	c.Register(device.TypeKeylogger, "download_logs", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":  "Log export queued",
			"filename": strParam(params, "filename", "keylog.txt"),
		}
	})
	c.Register(device.TypeKeylogger, "clear_buffer", func(params map[string]any) map[string]any {
		return map[string]any{"message": "Buffer cleared"}
	})

	c.Register(device.TypeKeystrokeInjector, "inject_payload", func(params map[string]any) map[string]any {
		return map[string]any{
			"message": "Payload injection started",
			"payload": strParam(params, "payload", "reverse_shell.py"),
		}
	})
	c.Register(device.TypeKeystrokeInjector, "load_script", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":     "Script loaded successfully",
			"script_name": strParam(params, "script", "reverse_shell.py"),
		}
	})
	c.Register(device.TypeKeystrokeInjector, "stop_injection", func(params map[string]any) map[string]any {
		return map[string]any{"message": "Injection stopped"}
	})
	c.Register(device.TypeKeystrokeInjector, "list_payloads", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":  "Payloads listed",
			"payloads": []string{"reverse_shell.py", "credential_harvester.ps1", "keylogger.js"},
		}
	})

	c.Register(device.TypeEthernetTap, "start_capture", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":   "Packet capture started",
			"interface": strParam(params, "interface", "eth0"),
		}
	})
	c.Register(device.TypeEthernetTap, "stop_capture", func(params map[string]any) map[string]any {
		return map[string]any{"message": "Packet capture stopped"}
	})
	c.Register(device.TypeEthernetTap, "download_pcap", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":  "PCAP export queued",
			"filename": strParam(params, "filename", "capture.pcap"),
		}
	})
	c.Register(device.TypeEthernetTap, "monitor_mode", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":   "Monitor mode enabled",
			"interface": strParam(params, "interface", "wlan0"),
		}
	})

	c.Register(device.TypeEvilTwin, "start_ap", func(params map[string]any) map[string]any {
		return map[string]any{
			"message": "Evil Twin AP started",
			"ssid":    strParam(params, "ssid", "Free_WiFi"),
		}
	})
	c.Register(device.TypeEvilTwin, "stop_ap", func(params map[string]any) map[string]any {
		return map[string]any{"message": "Evil Twin AP stopped"}
	})
	c.Register(device.TypeEvilTwin, "view_clients", func(params map[string]any) map[string]any {
		return map[string]any{"message": "Connected clients listed"}
	})
	c.Register(device.TypeEvilTwin, "deauth_clients", func(params map[string]any) map[string]any {
		return map[string]any{
			"message": "Deauth initiated",
			"ssid":    strParam(params, "ssid", ""),
		}
	})
	c.Register(device.TypeEvilTwin, "clone_network", func(params map[string]any) map[string]any {
		return map[string]any{
			"message":       "Network cloned",
			"original_ssid": strParam(params, "ssid", ""),
		}
	})

	return c
}
