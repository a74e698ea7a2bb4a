// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/events to receive run and node lifecycle
// events, optionally filtered to a single run with ?run_id=.
package websocket
