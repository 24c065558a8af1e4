package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marrowsec/fleetcore/internal/device"
	"github.com/marrowsec/fleetcore/internal/instance"
)

// handleListInstances returns all instances for a device.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	instances, err := s.instances.ListByDevice(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to list instances")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"instances": instances,
		"count":     len(instances),
		"timestamp": serverTime(),
	})
}

// createInstanceRequest is the body of POST /devices/{id}/instances.
type createInstanceRequest struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
}

// handleCreateInstance creates a new instance scoped to a device.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.registry.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	inst, err := s.instances.Create(r.Context(), id, req.Name, req.Type, req.Parameters, req.CreatedBy)
	if err != nil {
		if errors.Is(err, instance.ErrInvalidInstance) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to create instance")
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(EventInstanceStatusChanged, inst)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"instance": inst, "timestamp": serverTime()})
}
