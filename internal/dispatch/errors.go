package dispatch

import "errors"

var (
	// ErrValidation indicates a malformed command request, rejected
	// before any transport call is made.
	ErrValidation = errors.New("dispatch: invalid command request")

	// ErrDeviceUnavailable indicates the target device is not
	// registered or not in a status that accepts commands.
	ErrDeviceUnavailable = errors.New("dispatch: device unavailable")

	// ErrTransportFailure indicates the command could not be handed to
	// the device transport. The dispatch is logged but not retried.
	ErrTransportFailure = errors.New("dispatch: transport failure")

	// ErrUnknownInstance indicates a control_instance command named an
	// instance that does not exist.
	ErrUnknownInstance = errors.New("dispatch: unknown instance")
)
