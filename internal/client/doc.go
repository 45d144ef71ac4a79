// Package client is the device side of a realtime vow session: a WebSocket
// agent that keeps one connection alive with exponential-backoff reconnects
// and resynchronizes through a snapshot after every reconnect.
package client
