// Package bus defines the notification bus contract consumed by the
// bus-backed stream manager. A Bus combines channel-oriented pub/sub with
// conventional key-value primitives (TTL-capable) used for liveness markers.
// Implementations that additionally support set membership expose it via the
// optional SetIndex interface; callers discover it with a type assertion and
// fall back to key-pattern scanning when absent.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("bus: key not found")

// MessageHandler is invoked for each payload delivered on a subscribed
// channel. Handlers must not block for long periods; delivery to other
// channels may be serialized behind them.
type MessageHandler func(ctx context.Context, channel string, payload []byte)

// Subscription is the handle for one active channel subscription.
type Subscription interface {
	// Unsubscribe stops delivery and releases the subscription's resources.
	// It is safe to call more than once.
	Unsubscribe(ctx context.Context) error
}

// Bus is the transport contract for cross-process notification delivery.
// Payloads are opaque bytes; the bus performs no inspection or
// transformation in transit.
type Bus interface {
	// Publish sends payload to all current subscribers of channel.
	// Delivery is publish-and-forget: no receipt confirmation.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler for channel and returns a handle used to
	// cancel the subscription. Messages published by a single publisher to a
	// single channel are delivered to the handler in publish order.
	Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key currently holds a live value.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire resets key's ttl. Expiring a missing key is a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns all live keys matching a glob pattern. This is the
	// fallback path for broadcast membership and may be expensive; prefer
	// SetIndex when the implementation offers it.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases client resources. Subscriptions created from this bus
	// stop delivering after Close.
	Close() error
}

// SetIndex is an optional capability for buses whose backing store has
// native set-membership primitives. The bus-backed stream manager uses it
// to maintain the active-session index without scanning the keyspace.
type SetIndex interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}
