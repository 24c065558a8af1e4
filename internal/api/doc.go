// Package api implements the HTTP REST API and WebSocket server for
// FleetCore.
//
// This package provides:
//   - REST endpoints for device status, instances, command dispatch,
//     activity history and system configuration
//   - WebSocket hub for real-time status and dispatch broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator consoles and the device fleet.
// Commands flow from the API through the dispatcher onto the MQTT bus;
// device status reports flow back via MQTT subscriptions and are
// broadcast to WebSocket clients.
//
// # Graceful Degradation
//
// The server operates without MQTT — reads and WebSocket connections
// work, only command delivery fails. This enables testing and partial
// operation.
package api
