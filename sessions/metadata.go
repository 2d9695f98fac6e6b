package sessions

import (
	"encoding/json"
	"time"
)

// SessionMetadata is the authoritative persisted representation of a
// session: only values safely representable as JSON — no function
// references, no open handles. One record exists per logical client
// session, created at handshake, mutated on every request/heartbeat, and
// deleted on explicit close or TTL expiry.
type SessionMetadata struct {
	// SessionID is opaque, generated at session creation, immutable.
	SessionID string `json:"session_id"`

	CreatedAt time.Time `json:"created_at"`
	// LastAccessedAt is updated on every request and heartbeat and drives
	// expiry.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// LogLevelThreshold suppresses log notifications below this severity.
	// Empty means no threshold was set.
	LogLevelThreshold LogLevel `json:"log_level_threshold,omitempty"`

	// ClientCapabilities is negotiated at handshake and read-only after
	// creation. Values are opaque to this layer.
	ClientCapabilities map[string]json.RawMessage `json:"client_capabilities,omitempty"`

	ProtocolVersion string `json:"protocol_version,omitempty"`

	// ProgressToken correlates outstanding long-running-operation
	// notifications to the request that started them. Nil when absent.
	ProgressToken *int64 `json:"progress_token,omitempty"`
}
