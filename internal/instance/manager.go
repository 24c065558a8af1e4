package instance

import (
	"context"
	"fmt"
	"strings"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the instance lifecycle. It validates transitions against
// the lifecycle rules and delegates persistence to the Repository, whose
// atomic status update keeps the timestamp stamping race-free.
//
// All public methods are thread-safe given a thread-safe Repository.
type Manager struct {
	repo   Repository
	logger Logger
}

// NewManager creates a new instance manager.
func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Create registers a new instance for a device. New instances always
// start in the stopped state with both lifecycle timestamps unset.
func (m *Manager) Create(ctx context.Context, deviceID, name, instType string, params map[string]any, createdBy string) (*Instance, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidInstance)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInstance)
	}

	if params == nil {
		params = map[string]any{}
	}

	inst := &Instance{
		ID:         GenerateID(),
		DeviceID:   deviceID,
		Name:       name,
		Type:       instType,
		Status:     StatusStopped,
		Parameters: params,
		CreatedBy:  createdBy,
	}

	if err := m.repo.Create(ctx, inst); err != nil {
		return nil, err
	}

	m.logger.Info("instance created",
		"instance_id", inst.ID,
		"device_id", deviceID,
		"name", name,
	)
	return inst.DeepCopy(), nil
}

// Get retrieves an instance by ID.
// Returns ErrInstanceNotFound if the instance does not exist.
func (m *Manager) Get(ctx context.Context, id string) (*Instance, error) {
	return m.repo.GetByID(ctx, id)
}

// List retrieves all instances.
func (m *Manager) List(ctx context.Context) ([]Instance, error) {
	return m.repo.List(ctx)
}

// ListByDevice retrieves all instances belonging to a device.
func (m *Manager) ListByDevice(ctx context.Context, deviceID string) ([]Instance, error) {
	return m.repo.ListByDevice(ctx, deviceID)
}

// SetStatus moves an instance to a new lifecycle state.
//
// The transition is validated against the lifecycle rules
// (stopped -> running -> paused/stopped/error) before the atomic
// repository update is applied. Returns the instance as stored after
// the transition.
func (m *Manager) SetStatus(ctx context.Context, id string, status Status) (*Instance, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	current, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status == status {
		// Idempotent: re-applying the current state is a no-op.
		return current, nil
	}

	if !CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	if err := m.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}

	updated, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m.logger.Info("instance status changed",
		"instance_id", id,
		"device_id", updated.DeviceID,
		"from", current.Status,
		"to", status,
	)
	return updated, nil
}

// Delete removes an instance.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}

	m.logger.Info("instance deleted", "instance_id", id)
	return nil
}
