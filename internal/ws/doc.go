// Package ws provides WebSocket connection handling and event routing
// for debug session clients.
//
// The package implements:
//   - Client: One WebSocket connection with a buffered outbound queue
//   - Gateway: Routes events to clients by client id (room addressing)
//   - Envelope: The {event, data} frame format on the wire
//
// Every server-to-client payload travels as its own text frame so the
// frontend can JSON.parse each message independently. A client that
// cannot keep up with its outbound queue is dropped rather than
// allowed to stall the emitters.
package ws
