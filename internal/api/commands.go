package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marrowsec/fleetcore/internal/dispatch"
	"github.com/marrowsec/fleetcore/internal/instance"
)

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	DeviceType string         `json:"device_type,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
}

// handleDispatchCommand runs a command through the dispatcher and maps
// dispatch failures to structured HTTP errors.
func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		DeviceID:   id,
		DeviceType: req.DeviceType,
		Command:    req.Command,
		Parameters: req.Parameters,
		UserID:     req.UserID,
	})
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(EventCommandDispatched, result)

		// Instance control changes state; surface it on the instance
		// channel too.
		if req.Command == dispatch.CommandControlInstance {
			s.hub.Broadcast(EventInstanceStatusChanged, result.Response)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// writeDispatchError maps dispatcher error kinds onto HTTP responses.
func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, dispatch.ErrUnknownInstance):
		writeNotFound(w, err.Error())
	case errors.Is(err, dispatch.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, dispatch.ErrTransportFailure):
		writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
	case errors.Is(err, instance.ErrInvalidTransition):
		writeConflict(w, err.Error())
	default:
		writeInternalError(w, "command dispatch failed")
	}
}
