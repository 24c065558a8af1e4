package device

import (
	"strings"
	"time"
)

// Device represents a field device known to the registry.
// This matches the database schema in migrations/20260215_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	DeviceID string     `json:"device_id"`
	Type     DeviceType `json:"type"`
	Name     string     `json:"name"`

	// Liveness
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`

	// Network details reported by the device
	IPAddress  *string `json:"ip_address,omitempty"`
	MACAddress *string `json:"mac_address,omitempty"`

	// Capabilities and configuration
	Capabilities  []string       `json:"capabilities"`
	Configuration map[string]any `json:"configuration"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.Capabilities != nil {
		cpy.Capabilities = make([]string, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}

	cpy.Configuration = deepCopyMap(d.Configuration)

	// Pointer fields (*string) don't need deep copy
	// because strings are immutable in Go

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// DeviceType represents the kind of field device.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// Device type constants.
const (
	TypeKeylogger         DeviceType = "keylogger"
	TypeKeystrokeInjector DeviceType = "keystroke-injector"
	TypeEthernetTap       DeviceType = "ethernet-tap"
	TypeEvilTwin          DeviceType = "evil-twin"
	TypeUnknown           DeviceType = "unknown"
)

// AllTypes returns all recognised device types, excluding unknown.
func AllTypes() []DeviceType {
	return []DeviceType{
		TypeKeylogger, TypeKeystrokeInjector, TypeEthernetTap, TypeEvilTwin,
	}
}

// InferType determines the device type from its identifier.
//
// Device ids are prefixed with their type followed by a numeric suffix,
// e.g. "keylogger-001" or "ethernet-tap-002". Ids with an unrecognised
// prefix map to TypeUnknown; they are still registered so operators can
// see unexpected devices reporting in.
func InferType(deviceID string) DeviceType {
	for _, t := range AllTypes() {
		if strings.HasPrefix(deviceID, string(t)+"-") {
			return t
		}
	}
	return TypeUnknown
}

// DefaultName derives a human-readable default name for a device type.
//
// Example: "ethernet-tap" -> "Ethernet-Tap Device"
func DefaultName(t DeviceType) string {
	parts := strings.Split(string(t), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-") + " Device"
}

// Status represents the reported liveness of a device.
type Status string

// Device status constants. A device that is busy executing still
// reports online; "running" belongs to instances, not devices.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// ValidStatus reports whether s is a recognised device status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError:
		return true
	}
	return false
}

// Available reports whether a device in this status can accept commands.
func (s Status) Available() bool {
	return s == StatusOnline
}

// StatusReport is a single heartbeat from a field device.
//
// LastSeen defaults to the time of receipt when zero. Optional fields
// that are nil leave the stored value untouched on upsert.
type StatusReport struct {
	Status        Status         `json:"status"`
	LastSeen      time.Time      `json:"last_seen"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	MACAddress    *string        `json:"mac_address,omitempty"`
	Capabilities  []string       `json:"capabilities,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
}
