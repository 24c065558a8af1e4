package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandMetric records the outcome of a dispatched command.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteCommandMetric("keylogger-001", "start_keylogger", "success", 104)
func (c *Client) WriteCommandMetric(deviceID, command, status string, executionTimeMs int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_dispatch",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
			"status":    status,
		},
		map[string]interface{}{
			"execution_time_ms": executionTimeMs,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceHeartbeat records a device status report.
//
// Used to track fleet availability over time. The online field is 1
// for online/running status reports and 0 otherwise.
func (c *Client) WriteDeviceHeartbeat(deviceID, deviceType, status string) {
	if !c.IsConnected() {
		return
	}

	online := 0
	switch status {
	case "online", "running":
		online = 1
	}

	point := write.NewPoint(
		"device_heartbeat",
		map[string]string{
			"device_id": deviceID,
			"type":      deviceType,
			"status":    status,
		},
		map[string]interface{}{
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteInstanceMetric records an instance lifecycle transition.
func (c *Client) WriteInstanceMetric(deviceID, instanceID, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"instance_lifecycle",
		map[string]string{
			"device_id":   deviceID,
			"instance_id": instanceID,
			"status":      status,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
