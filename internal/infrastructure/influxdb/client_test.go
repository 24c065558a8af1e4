package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/marrowsec/fleetcore/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	c := &Client{}

	err := c.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNilClient(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestFlushWhenDisconnected(t *testing.T) {
	// Flush must be a no-op without a write API or connection.
	c := &Client{}
	c.Flush()

	if c.IsConnected() {
		t.Error("IsConnected() = true for zero client, want false")
	}
}

func TestWriteSkippedWhenDisconnected(t *testing.T) {
	// Writes on a disconnected client must not panic.
	c := &Client{}
	c.WriteCommandMetric("keylogger-001", "start_keylogger", "success", 10)
	c.WriteDeviceHeartbeat("keylogger-001", "keylogger", "online")
	c.WriteInstanceMetric("keylogger-001", "inst-abc", "running")
}
