package instance

import "errors"

// Domain errors for the instance package.
var (
	// ErrInstanceNotFound is returned when an instance ID does not exist.
	ErrInstanceNotFound = errors.New("instance: not found")

	// ErrInstanceExists is returned when creating an instance with an ID that already exists.
	ErrInstanceExists = errors.New("instance: already exists")

	// ErrInvalidInstance is returned when instance validation fails.
	ErrInvalidInstance = errors.New("instance: invalid")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("instance: invalid status")

	// ErrInvalidTransition is returned when a lifecycle transition is not allowed.
	ErrInvalidTransition = errors.New("instance: invalid transition")
)
