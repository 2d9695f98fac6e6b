// Package sessions implements the distributed session and notification
// delivery layer for MCP servers. It splits per-session state into two
// halves: small serializable metadata persisted through a store.Store, and
// the live, non-serializable delivery channel (the Sink) owned by exactly
// one process at a time.
//
// Layers & Roles
//
//	Registry       -> composition root; metadata lifecycle + notification framing
//	StreamManager  -> owns local sinks; routes payloads to sessions anywhere in the fleet
//	Sink           -> transport-provided handle that pushes bytes to one client
//
// # Stream managers
//
// Two StreamManager implementations satisfy the identical contract:
//
//	memorystream : local map from session ID to sink; single-process deployments
//	busstream    : bus-backed; a heartbeat-refreshed TTL marker plus a shared
//	               active-session index let any process answer Has and target
//	               broadcasts, while pub/sub channels carry payloads to the
//	               process holding the sink
//
// Callers select an implementation at construction time; no conditional
// logic is needed downstream.
//
// # Delivery semantics
//
// Notifications are at-most-once and publish-and-forget. Within a session,
// payloads published by one process arrive in publish order; no ordering is
// guaranteed across distinct publisher processes racing to the same
// session. Callers needing strict ordering embed sequence numbers in their
// payloads.
package sessions
