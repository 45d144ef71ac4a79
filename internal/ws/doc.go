// Package ws provides WebSocket connection handling and message routing
// for realtime vow sessions.
//
// The package implements:
//   - Client: one accepted connection with its send queue and liveness clock
//   - Hub: the set of clients of one session plus that session's single writer
//   - HubManager: the registry of hubs, keyed by session ID
//   - Handler: handshake, read/write pumps, heartbeat supervision and dispatch
//   - StrokeThrottle: per-connection rate limit for stroke messages
//
// Every read-modify-write of a session's persisted state runs on the session's
// worker goroutine, so concurrent senders cannot lose each other's updates.
package ws
