// Package store defines the contract for persisting small, serializable
// per-session facts. Values are opaque bytes; callers own the encoding.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indicates the backing store is unreachable.
// Implementations wrap transport-level failures with this sentinel so that
// callers can distinguish "store down" from "key missing". Session creation
// treats it as fatal; touch and heartbeat paths degrade to best-effort.
var ErrStoreUnavailable = errors.New("store: backing store unavailable")

// Store is an asynchronous key-value store with per-key TTL support.
// No cross-key ordering is guaranteed; per-key writes are last-write-wins.
type Store interface {
	// Get returns the value for key, or nil if the key does not exist or
	// has expired. Errors are reserved for store failures.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with no expiry.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether key currently holds a live value.
	Has(ctx context.Context, key string) (bool, error)

	// Keys returns all live keys.
	Keys(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
