package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marrowsec/fleetcore/internal/sysconfig"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"devices":   s.registry.GetStats(),
		"timestamp": serverTime(),
	}
	if s.mqtt != nil {
		payload["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleListConfig returns all system configuration settings.
func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeInternalError(w, "system configuration unavailable")
		return
	}

	settings, err := s.settings.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settings":  settings,
		"count":     len(settings),
		"timestamp": serverTime(),
	})
}

// handleGetConfig returns a single setting by key.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeInternalError(w, "system configuration unavailable")
		return
	}

	key := chi.URLParam(r, "key")
	setting, err := s.settings.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, sysconfig.ErrSettingNotFound) {
			writeNotFound(w, "setting not found")
			return
		}
		writeInternalError(w, "failed to get setting")
		return
	}

	writeJSON(w, http.StatusOK, setting)
}

// setConfigRequest is the body of PUT /config/{key}.
type setConfigRequest struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

// handleSetConfig creates or updates a setting.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeInternalError(w, "system configuration unavailable")
		return
	}

	key := chi.URLParam(r, "key")

	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	setting := &sysconfig.Setting{
		Key:         key,
		Value:       req.Value,
		Description: req.Description,
		UpdatedBy:   req.UpdatedBy,
	}
	if err := s.settings.Set(r.Context(), setting); err != nil {
		if errors.Is(err, sysconfig.ErrInvalidKey) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to store setting")
		return
	}

	writeJSON(w, http.StatusOK, setting)
}
