package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// commandMessage is the wire format for commands published to field devices.
type commandMessage struct {
	MessageID  string         `json:"message_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
	Source     string         `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
}

// CommandTransport delivers commands to field devices over MQTT.
//
// Delivery is asynchronous: Send publishes the command to the device's
// command topic and returns a correlation id immediately. The device
// replies later on its response topic; a returned correlation id means
// the command was handed to the broker, not that the device executed it.
type CommandTransport struct {
	client *Client
	source string
	qos    byte
}

// NewCommandTransport creates a transport publishing through the given client.
// The source identifies the sender in outgoing messages (the master device id).
func NewCommandTransport(client *Client, source string, qos byte) *CommandTransport {
	return &CommandTransport{
		client: client,
		source: source,
		qos:    qos,
	}
}

// Send publishes a command to the device's command topic and returns the
// correlation id assigned to the message.
func (t *CommandTransport) Send(ctx context.Context, deviceType, deviceID, command string, params map[string]any) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if params == nil {
		params = map[string]any{}
	}

	msg := commandMessage{
		MessageID:  "msg-" + uuid.NewString()[:8],
		Command:    command,
		Parameters: params,
		Source:     t.source,
		Timestamp:  time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding command message: %w", err)
	}

	topic := Topics{}.DeviceCommand(deviceType, deviceID)
	if err := t.client.Publish(topic, payload, t.qos, false); err != nil {
		return "", err
	}

	return msg.MessageID, nil
}
