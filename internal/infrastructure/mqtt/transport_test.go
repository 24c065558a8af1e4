package mqtt

import (
	"context"
	"testing"

	"github.com/marrowsec/fleetcore/internal/infrastructure/config"
)

// testTransportConfig returns a valid MQTT configuration for testing.
func testTransportConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fleetcore-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestCommandTransportSendCancelledContext(t *testing.T) {
	transport := NewCommandTransport(&Client{}, "master-001", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.Send(ctx, "keylogger", "keylogger-001", "status_check", nil)
	if err == nil {
		t.Fatal("Send() expected error for cancelled context, got nil")
	}
}

func TestCommandTransportSendNotConnected(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	transport := NewCommandTransport(client, "master-001", 1)

	_, err := transport.Send(context.Background(), "keylogger", "keylogger-001", "status_check", nil)
	if err == nil {
		t.Fatal("Send() expected error when client not connected, got nil")
	}
}
