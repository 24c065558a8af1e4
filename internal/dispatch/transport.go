package dispatch

import "context"

// Transport is the channel used to deliver a command to a field device.
//
// Send is asynchronous: it returns a correlation id once the command is
// accepted for delivery, not once the device has acted on it. Device
// results arrive later on the response topic. Implementations may be
// slow and must be treated as fallible; the dispatcher never holds
// registry or instance state across a Send call.
type Transport interface {
	Send(ctx context.Context, deviceType, deviceID, command string, params map[string]any) (correlationID string, err error)
}
