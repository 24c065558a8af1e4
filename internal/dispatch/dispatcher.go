// Package dispatch routes operator commands to field devices through
// the device transport, gating on device availability and recording
// every attempt in the activity log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marrowsec/fleetcore/internal/activity"
	"github.com/marrowsec/fleetcore/internal/device"
	"github.com/marrowsec/fleetcore/internal/instance"
)

// Commands with dispatcher-level semantics, shared by all device types.
const (
	// CommandStatusCheck registers or refreshes the device, so it is
	// exempt from the availability gate (first-contact path).
	CommandStatusCheck = "status_check"

	// CommandControlInstance drives the instance lifecycle uniformly
	// across device types via {instanceId, action} parameters.
	CommandControlInstance = "control_instance"
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives per-dispatch latency measurements. Implemented by
// the InfluxDB client; optional.
type Metrics interface {
	WriteCommandMetric(deviceID, command, status string, executionTimeMs int64)
}

// Request is a single command dispatch request.
type Request struct {
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type,omitempty"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
}

// Result is the outcome of a successful dispatch.
type Result struct {
	Success       bool           `json:"success"`
	DeviceID      string         `json:"device_id"`
	Command       string         `json:"command"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Response      map[string]any `json:"response,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Dispatcher validates command requests, hands them to the transport
// and records each attempt. It is the single seam where dispatch
// failures are caught, classified and logged; no dispatch leaves the
// system without an activity entry.
type Dispatcher struct {
	registry  *device.Registry
	instances *instance.Manager
	log       activity.Repository
	transport Transport
	catalog   *Catalog

	metrics Metrics
	logger  Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(registry *device.Registry, instances *instance.Manager, log activity.Repository, transport Transport, catalog *Catalog) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		instances: instances,
		log:       log,
		transport: transport,
		catalog:   catalog,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics enables per-dispatch latency metrics.
func (d *Dispatcher) SetMetrics(metrics Metrics) {
	d.metrics = metrics
}

// Catalog exposes the command catalog for capability and detail lookups.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// outcome carries the pieces of a dispatch that feed the result and
// the activity entry.
type outcome struct {
	response      map[string]any
	correlationID string
	instanceID    string
}

// Dispatch runs a command through the full pipeline: validate, gate on
// availability, send over the transport, compose the acknowledgment
// and append exactly one activity entry whatever the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	started := time.Now().UTC()

	out, err := d.execute(ctx, &req)
	elapsed := time.Since(started).Milliseconds()

	entry := &activity.Entry{
		DeviceID:        req.DeviceID,
		Command:         req.Command,
		Parameters:      req.Parameters,
		Status:          activity.StatusSuccess,
		ExecutionTimeMs: elapsed,
		UserID:          req.UserID,
	}
	if err != nil {
		entry.Status = activity.StatusError
		entry.Response = map[string]any{"error": err.Error()}
	} else {
		entry.InstanceID = out.instanceID
		entry.Response = out.response
		if out.correlationID != "" {
			entry.Response["correlation_id"] = out.correlationID
		}
	}

	if logErr := d.log.Append(ctx, entry); logErr != nil {
		// The dispatch already happened; surface the gap loudly.
		d.logger.Error("activity entry not recorded",
			"device_id", req.DeviceID,
			"command", req.Command,
			"error", logErr,
		)
	}

	if d.metrics != nil {
		d.metrics.WriteCommandMetric(req.DeviceID, req.Command, entry.Status, elapsed)
	}

	if err != nil {
		d.logger.Warn("dispatch failed",
			"device_id", req.DeviceID,
			"command", req.Command,
			"error", err,
		)
		return nil, err
	}

	d.logger.Info("command dispatched",
		"device_id", req.DeviceID,
		"command", req.Command,
		"correlation_id", out.correlationID,
		"elapsed_ms", elapsed,
	)

	return &Result{
		Success:       true,
		DeviceID:      req.DeviceID,
		Command:       req.Command,
		Message:       fmt.Sprintf("Command %s sent successfully", req.Command),
		CorrelationID: out.correlationID,
		Response:      out.response,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (d *Dispatcher) execute(ctx context.Context, req *Request) (*outcome, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("%w: command is required", ErrValidation)
	}

	deviceType := device.DeviceType(req.DeviceType)
	if req.DeviceType == "" {
		deviceType = device.InferType(req.DeviceID)
	}

	if req.Command == CommandStatusCheck {
		return d.statusCheck(ctx, req, deviceType)
	}

	// Parameter faults are rejected before anything reaches the wire.
	var ctl *controlAction
	if req.Command == CommandControlInstance {
		var err error
		ctl, err = parseControlAction(req.Parameters)
		if err != nil {
			return nil, err
		}

		inst, err := d.instances.Get(ctx, ctl.instanceID)
		if err != nil {
			if errors.Is(err, instance.ErrInstanceNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, ctl.instanceID)
			}
			return nil, err
		}
		if inst.DeviceID != req.DeviceID {
			return nil, fmt.Errorf("%w: instance %s does not belong to device %s", ErrValidation, ctl.instanceID, req.DeviceID)
		}
	}

	dev, err := d.registry.GetDevice(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: device %s is not registered", ErrDeviceUnavailable, req.DeviceID)
		}
		return nil, err
	}
	if !dev.Status.Available() {
		return nil, fmt.Errorf("%w: device %s is %s", ErrDeviceUnavailable, req.DeviceID, dev.Status)
	}

	// The transport call is the slow part; no registry or instance
	// state is held across it.
	correlationID, err := d.transport.Send(ctx, string(dev.Type), req.DeviceID, req.Command, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	out := &outcome{correlationID: correlationID}

	if ctl != nil {
		inst, err := d.instances.SetStatus(ctx, ctl.instanceID, ctl.target)
		if err != nil {
			return nil, err
		}
		out.instanceID = inst.ID
		out.response = map[string]any{
			"message":     fmt.Sprintf("Instance %s %s successful", ctl.instanceID, ctl.action),
			"instance_id": inst.ID,
			"action":      ctl.action,
			"status":      string(inst.Status),
		}
		return out, nil
	}

	if handler, ok := d.catalog.Handler(dev.Type, req.Command); ok {
		out.response = handler(req.Parameters)
	} else {
		// Permissive default: unrecognized commands are acknowledged,
		// not rejected.
		out.response = map[string]any{
			"message": fmt.Sprintf("Command %s executed", req.Command),
		}
	}
	return out, nil
}

// statusCheck is the first-contact path: it registers or refreshes the
// device instead of requiring it to exist, then reports current state.
func (d *Dispatcher) statusCheck(ctx context.Context, req *Request, deviceType device.DeviceType) (*outcome, error) {
	report := device.StatusReport{Status: device.StatusOnline}
	if _, getErr := d.registry.GetDevice(ctx, req.DeviceID); errors.Is(getErr, device.ErrDeviceNotFound) {
		// First contact: seed capabilities from the catalog. Devices
		// already registered keep what they announced themselves.
		report.Capabilities = d.catalog.Capabilities(deviceType)
	}

	dev, err := d.registry.ReportStatus(ctx, req.DeviceID, report)
	if err != nil {
		return nil, err
	}

	correlationID, err := d.transport.Send(ctx, string(dev.Type), req.DeviceID, req.Command, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	instances, err := d.instances.ListByDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	summaries := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		summaries = append(summaries, map[string]any{
			"id":     inst.ID,
			"name":   inst.Name,
			"type":   inst.Type,
			"status": string(inst.Status),
		})
	}

	return &outcome{
		correlationID: correlationID,
		response: map[string]any{
			"device_id":    dev.DeviceID,
			"status":       string(dev.Status),
			"last_seen":    dev.LastSeen.Format(time.RFC3339),
			"capabilities": dev.Capabilities,
			"instances":    summaries,
		},
	}, nil
}

// controlAction is a parsed control_instance request.
type controlAction struct {
	instanceID string
	action     string
	target     instance.Status
}

// actionTargets maps control_instance actions to lifecycle states.
var actionTargets = map[string]instance.Status{
	"start":  instance.StatusRunning,
	"stop":   instance.StatusStopped,
	"pause":  instance.StatusPaused,
	"resume": instance.StatusRunning,
}

func parseControlAction(params map[string]any) (*controlAction, error) {
	instanceID, _ := params["instanceId"].(string)
	if instanceID == "" {
		return nil, fmt.Errorf("%w: control_instance requires an instanceId parameter", ErrValidation)
	}

	action, _ := params["action"].(string)
	target, ok := actionTargets[action]
	if !ok {
		return nil, fmt.Errorf("%w: unknown control_instance action %q", ErrValidation, action)
	}

	return &controlAction{instanceID: instanceID, action: action, target: target}, nil
}
