package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/status", s.handleReportStatus)
				r.Get("/instances", s.handleListInstances)
				r.Post("/instances", s.handleCreateInstance)
				r.Post("/commands", s.handleDispatchCommand)
			})
		})

		// Device type catalog
		r.Get("/device-types/{type}", s.handleDeviceTypeDetails)

		// Activity log
		r.Get("/activity", s.handleListActivity)

		// System configuration
		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleListConfig)
			r.Get("/{key}", s.handleGetConfig)
			r.Put("/{key}", s.handleSetConfig)
		})

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
