// Package websocket provides real-time module event streaming via WebSocket.
//
// Clients connect to /api/v1/events/ws. Each connection is backed by its own
// event tracker, so a client that connects late still sees the current
// state of every module before live changes.
package websocket
