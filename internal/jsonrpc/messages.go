// Package jsonrpc provides the JSON-RPC 2.0 framing used for notification
// payloads. The delivery layer treats framed messages as opaque bytes; this
// package is only consulted at the edges, when a caller's structured
// notification is serialized and when a sink's writer decodes it.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message.
type Message []byte

// Notification is a JSON-RPC request without an ID.
type Notification struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// NewNotification frames method and params as a serialized JSON-RPC
// notification.
func NewNotification(method string, params any) (Message, error) {
	n := Notification{JSONRPCVersion: ProtocolVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		n.Params = raw
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return Message(data), nil
}

// ParseNotification decodes a serialized notification, validating the
// protocol version and that a method is present.
func ParseNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if n.JSONRPCVersion != ProtocolVersion {
		return nil, fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, n.JSONRPCVersion)
	}
	if n.Method == "" {
		return nil, fmt.Errorf("notification missing method")
	}
	return &n, nil
}
