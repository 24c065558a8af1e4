package mqtt

import "fmt"

// Topic prefixes for the FleetCore MQTT hierarchy.
//
// Device topics use the flat scheme: fleetcore/{category}/{deviceType}/{deviceId}
// Field devices subscribe to their own command topic and publish status and
// responses back on the matching topics.
const (
	// TopicPrefix is the base for all FleetCore topics.
	TopicPrefix = "fleetcore"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "fleetcore/system"
)

// Topics provides builders for FleetCore MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("keylogger", "keylogger-001")
//	// Returns: "fleetcore/command/keylogger/keylogger-001"
type Topics struct{}

// DeviceCommand returns the topic for commands to a field device.
//
// Example: fleetcore/command/keylogger/keylogger-001
func (Topics) DeviceCommand(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceType, deviceID)
}

// DeviceStatus returns the topic for status reports from a field device.
//
// Example: fleetcore/status/ethernet-tap/ethernet-tap-002
func (Topics) DeviceStatus(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefix, deviceType, deviceID)
}

// DeviceResponse returns the topic for command responses from a field device.
//
// Example: fleetcore/response/keylogger/keylogger-001
func (Topics) DeviceResponse(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, deviceType, deviceID)
}

// SystemStatus returns the master status topic.
//
// Example: fleetcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStatus returns a pattern matching status reports from all devices.
//
// Pattern: fleetcore/status/+/+
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/status/+/+", TopicPrefix)
}

// AllDeviceResponses returns a pattern matching responses from all devices.
//
// Pattern: fleetcore/response/+/+
func (Topics) AllDeviceResponses() string {
	return fmt.Sprintf("%s/response/+/+", TopicPrefix)
}
