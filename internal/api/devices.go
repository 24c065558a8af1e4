package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marrowsec/fleetcore/internal/device"
	"github.com/marrowsec/fleetcore/internal/instance"
)

// handleListDevices returns all devices, with optional query filters.
//
// Query parameters:
//   - type: filter by device type (keylogger, ethernet-tap, ...)
//   - status: filter by status (online, offline, error)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if typeStr := r.URL.Query().Get("type"); typeStr != "" {
		devices, err := s.registry.GetDevicesByType(ctx, device.DeviceType(typeStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices), "timestamp": serverTime()})
		return
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		devices, err := s.registry.GetDevicesByStatus(ctx, device.Status(statusStr))
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices), "timestamp": serverTime()})
		return
	}

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices), "timestamp": serverTime()})
}

// handleGetDevice returns a single device by ID, with its instances.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	instances, err := s.instances.ListByDevice(ctx, id)
	if err != nil {
		writeInternalError(w, "failed to list instances")
		return
	}

	writeJSON(w, http.StatusOK, deviceDetail{Device: dev, Instances: instances})
}

// deviceDetail embeds the device fields alongside its instances.
type deviceDetail struct {
	*device.Device
	Instances []instance.Instance `json:"instances"`
}

// statusReportRequest is the body of POST /devices/{id}/status.
type statusReportRequest struct {
	Status        string         `json:"status"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	MACAddress    *string        `json:"mac_address,omitempty"`
	Capabilities  []string       `json:"capabilities,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// handleReportStatus records a status report from a device. Unknown
// devices are registered on first report.
func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	report := device.StatusReport{
		Status:        device.Status(req.Status),
		IPAddress:     req.IPAddress,
		MACAddress:    req.MACAddress,
		Capabilities:  req.Capabilities,
		Configuration: req.Configuration,
	}
	if report.Capabilities == nil {
		// First contact may not announce capabilities; seed them from
		// the command catalog for the inferred type. A known device
		// keeps whatever it previously announced.
		if _, getErr := s.registry.GetDevice(r.Context(), id); errors.Is(getErr, device.ErrDeviceNotFound) {
			report.Capabilities = s.dispatcher.Catalog().Capabilities(device.InferType(id))
		}
	}

	dev, err := s.registry.ReportStatus(r.Context(), id, report)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDeviceID), errors.Is(err, device.ErrInvalidStatus):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to record status report")
		}
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(EventDeviceStatusChanged, dev)
	}

	writeJSON(w, http.StatusOK, map[string]any{"device": dev, "timestamp": serverTime()})
}

// handleDeviceStats returns device counts by type and status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleDeviceTypeDetails returns the catalog entry for a device type:
// its capabilities and type-specific extras.
func (s *Server) handleDeviceTypeDetails(w http.ResponseWriter, r *http.Request) {
	typeStr := chi.URLParam(r, "type")

	details, err := s.dispatcher.Catalog().Details(device.DeviceType(typeStr))
	if err != nil {
		writeNotFound(w, "unknown device type")
		return
	}

	devices, err := s.registry.GetDevicesByType(r.Context(), device.DeviceType(typeStr))
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	details["devices"] = devices
	details["timestamp"] = serverTime()

	writeJSON(w, http.StatusOK, details)
}

// serverTime returns the current server timestamp included alongside
// results.
func serverTime() string {
	return time.Now().UTC().Format(time.RFC3339)
}
