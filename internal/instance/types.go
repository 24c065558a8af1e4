package instance

import (
	"time"

	"github.com/google/uuid"
)

// Instance represents a unit of work running on a field device, such as
// a capture session on a keylogger or an access point on an evil twin.
type Instance struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`

	Status     Status         `json:"status"`
	Parameters map[string]any `json:"parameters"`

	// StartedAt is stamped the first time the instance enters running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// StoppedAt is stamped exactly once, on the first transition into
	// stopped. Later transitions never move it.
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Instance.
func (i *Instance) DeepCopy() *Instance {
	if i == nil {
		return nil
	}

	cpy := *i

	if i.Parameters != nil {
		cpy.Parameters = make(map[string]any, len(i.Parameters))
		for k, v := range i.Parameters {
			cpy.Parameters[k] = v
		}
	}

	if i.StartedAt != nil {
		t := *i.StartedAt
		cpy.StartedAt = &t
	}
	if i.StoppedAt != nil {
		t := *i.StoppedAt
		cpy.StoppedAt = &t
	}

	return &cpy
}

// Status represents the lifecycle state of an instance.
type Status string

// Instance status constants.
const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// ValidStatus reports whether s is a recognised instance status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusStopped, StatusRunning, StatusPaused, StatusError:
		return true
	}
	return false
}

// transitions defines the allowed lifecycle moves. New instances start
// stopped; errored instances may be restarted or acknowledged stopped.
var transitions = map[Status][]Status{
	StatusStopped: {StatusRunning},
	StatusRunning: {StatusPaused, StatusStopped, StatusError},
	StatusPaused:  {StatusRunning, StatusStopped, StatusError},
	StatusError:   {StatusRunning, StatusStopped},
}

// CanTransition reports whether an instance may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GenerateID returns a new unique instance identifier.
//
// Format: inst-xxxxxxxx (8 hex chars from a UUID)
func GenerateID() string {
	return "inst-" + uuid.NewString()[:8]
}
