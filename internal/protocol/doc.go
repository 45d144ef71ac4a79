// Package protocol defines the realtime wire protocol shared by the session hub
// and the reconnecting client.
//
// Every frame is a JSON object {"type": <variant>, "payload": <object>}. The set of
// variants is closed; Decode parses each variant's payload into its own Go type and
// rejects anything that does not satisfy that variant's rules. A decoded Message never
// carries a partially valid payload.
package protocol
