package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSinkClosed is returned by Sink.Enqueue after the sink has been
	// closed. Stream managers treat it as a normal disconnect race: caught,
	// logged at debug level, never propagated.
	ErrSinkClosed = errors.New("sessions: sink closed")

	// ErrSubscriptionFailure indicates a bus subscribe or unsubscribe call
	// failed. It is surfaced from Create/Delete because the session cannot
	// be correctly tracked without the subscription.
	ErrSubscriptionFailure = errors.New("sessions: bus subscription failure")

	// ErrPublishFailure indicates a bus publish failed. Send logs it
	// per-target and continues with the remaining targets.
	ErrPublishFailure = errors.New("sessions: bus publish failure")
)

// Sink is the local, non-serializable handle used to push bytes to a
// connected client. One sink exists per live push connection, owned
// exclusively by the stream manager on the process holding that connection.
// Sinks are never shared across processes and never persisted.
type Sink interface {
	// Enqueue pushes one serialized message toward the client. After Close
	// it must either no-op or return ErrSinkClosed; it must never panic.
	Enqueue(payload []byte) error

	// Close releases the underlying connection. Safe to call repeatedly.
	Close() error
}

// StreamManager routes serialized notification payloads to live sessions.
// All operations are asynchronous and may suspend at network boundaries;
// none block the process.
type StreamManager interface {
	// Create registers sink as the local delivery target for sessionID and
	// marks the session available fleet-wide. Duplicate creates for the
	// same ID are safe: the previous sink is replaced and the session is
	// resubscribed, since reconnect races can occur.
	Create(ctx context.Context, sessionID string, sink Sink) error

	// Send delivers payload to the listed sessions, or to every session
	// with an active sink anywhere in the fleet when sessionIDs is nil.
	// Delivery is publish-and-forget. Per-target failures are logged and do
	// not abort delivery to sibling targets.
	Send(ctx context.Context, sessionIDs []string, payload []byte) error

	// Delete unregisters the session: the local sink is closed if this
	// process owns it, availability is withdrawn, and a delete signal is
	// propagated so the owning process (if remote) closes its sink too.
	// Deleting an unknown or already-deleted session is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// Has reports whether any process in the fleet currently holds a live
	// sink for sessionID. For the bus-backed implementation the answer is
	// eventually consistent, bounded by the heartbeat interval.
	Has(ctx context.Context, sessionID string) (bool, error)

	// Close releases resources owned by this instance only: its local
	// sinks and its availability entries. Sessions owned by other
	// processes are left intact.
	Close(ctx context.Context) error
}
