package api

import (
	"net/http"
	"strconv"

	"github.com/marrowsec/fleetcore/internal/activity"
)

// handleListActivity returns the activity log, most recent first.
//
// Query parameters:
//   - device_id: filter by device
//   - command: filter by command name
//   - status: filter by outcome (success, error, pending)
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := activity.Filter{
		DeviceID: q.Get("device_id"),
		Command:  q.Get("command"),
		Status:   q.Get("status"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeBadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			writeBadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	result, err := s.activities.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list activity")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
