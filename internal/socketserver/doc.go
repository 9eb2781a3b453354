// Package socketserver implements the daemon's Unix domain socket listener.
//
// Terminal hooks, editor integrations and the tempo CLI connect to the socket
// and exchange newline-delimited JSON messages:
//
//	{"type":"activity","request_id":"uuid","data":{"source":"terminal","project_path":"/src/api"}}\n
//
// Every request is answered with exactly one message carrying the same
// request_id: "ack", "status_response", "pong" or "error". Errors carry a
// machine-readable code (INVALID_REQUEST, INVALID_TRANSITION,
// NO_ACTIVE_SESSION, RESOLUTION_FAILED, PROJECT_ARCHIVED, STORE_UNAVAILABLE,
// INTERNAL_ERROR, BUSY).
//
// # Architecture
//
//   - Server: owns the listener, the connection limit and request dispatch
//   - Hub: tracks connected clients and broadcasts the "closed" notice on shutdown
//   - Client: one connection with a read pump that answers requests in order
//     and a write pump that serializes responses
//
// Activity signals pass the per-source rate limiter and the project resolver
// before they reach the tracker. A signal that is rate limited, targets an
// archived project or loses to a higher-priority source is still
// acknowledged, with "accepted": false and a reason. A malformed line yields an INVALID_REQUEST error
// and the connection stays open.
//
// # Security
//
// The socket file is created with mode 0600 inside the user's state
// directory, so only the owning user can send signals.
package socketserver
