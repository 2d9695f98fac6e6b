package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcpuse/mcp-stream-go/internal/jsonrpc"
	"github.com/mcpuse/mcp-stream-go/internal/logctx"
	"github.com/mcpuse/mcp-stream-go/store"
)

// NewSessionID returns an opaque session identifier safe for use as a
// pub/sub channel suffix and key-value key suffix.
func NewSessionID() string {
	return uuid.NewString()
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// DefaultTTL is the sliding metadata expiry window, refreshed by Touch.
	DefaultTTL time.Duration
	Logger     *slog.Logger
}

func (c *RegistryConfig) applyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 30 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry binds one metadata store and one stream manager. Request
// handlers read and write metadata through it and request notification
// delivery through it. It is safe for concurrent use.
type Registry struct {
	store   store.Store
	streams StreamManager
	ttl     time.Duration
	log     *slog.Logger
}

func NewRegistry(st store.Store, mgr StreamManager, cfg RegistryConfig) *Registry {
	cfg.applyDefaults()
	return &Registry{store: st, streams: mgr, ttl: cfg.DefaultTTL, log: cfg.Logger}
}

// CreateSession persists initial metadata and registers sink as the
// session's local delivery target. A metadata store failure here is fatal:
// the new connection is rejected rather than tracked inconsistently.
func (r *Registry) CreateSession(ctx context.Context, sessionID string, meta *SessionMetadata, sink Sink) error {
	if meta == nil {
		meta = &SessionMetadata{}
	}
	now := time.Now().UTC()
	meta.SessionID = sessionID
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.LastAccessedAt = now

	ctx = logctx.WithSession(ctx, &logctx.SessionData{SessionID: sessionID, ProtocolVersion: meta.ProtocolVersion})

	if err := r.putMetadata(ctx, meta); err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	if err := r.streams.Create(ctx, sessionID, sink); err != nil {
		// The session is not deliverable; withdraw the metadata record.
		_ = r.store.Delete(context.WithoutCancel(ctx), sessionID)
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

// CloseSession tears down the session everywhere: the stream manager closes
// the sink (locally or via the delete channel) and the metadata record is
// removed.
func (r *Registry) CloseSession(ctx context.Context, sessionID string) error {
	streamErr := r.streams.Delete(ctx, sessionID)
	storeErr := r.store.Delete(context.WithoutCancel(ctx), sessionID)
	return errors.Join(streamErr, storeErr)
}

// GetMetadata returns the session's metadata, or nil when no record
// exists. A store failure degrades to a fresh default record rather than
// failing the request: capabilities and log-level defaults are reapplied as
// if the client had just connected.
func (r *Registry) GetMetadata(ctx context.Context, sessionID string) (*SessionMetadata, error) {
	data, err := r.store.Get(ctx, sessionID)
	if err != nil {
		r.log.WarnContext(ctx, "metadata read failed, using defaults", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		return defaultMetadata(sessionID), nil
	}
	if data == nil {
		return nil, nil
	}
	var meta SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", sessionID, err)
	}
	return &meta, nil
}

// Touch updates LastAccessedAt and refreshes the metadata TTL. Store
// failures are logged and ignored: the session continues with a stale
// timestamp and eventually expires.
func (r *Registry) Touch(ctx context.Context, sessionID string) {
	meta, err := r.GetMetadata(ctx, sessionID)
	if err != nil {
		r.log.WarnContext(ctx, "touch: metadata decode failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		return
	}
	if meta == nil {
		meta = defaultMetadata(sessionID)
	}
	meta.LastAccessedAt = time.Now().UTC()
	if err := r.putMetadata(ctx, meta); err != nil {
		r.log.WarnContext(ctx, "touch: metadata write failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
}

// SetLogLevel records the minimum severity below which log notifications
// to this session are suppressed.
func (r *Registry) SetLogLevel(ctx context.Context, sessionID string, level LogLevel) error {
	if !level.Valid() {
		return fmt.Errorf("set log level for %s: unknown level %q", sessionID, level)
	}
	meta, err := r.GetMetadata(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = defaultMetadata(sessionID)
	}
	meta.LogLevelThreshold = level
	if err := r.putMetadata(ctx, meta); err != nil {
		return fmt.Errorf("set log level for %s: %w", sessionID, err)
	}
	return nil
}

// SendNotification frames method/params as a JSON-RPC notification and
// hands the serialized bytes to the stream manager. A nil sessionIDs slice
// broadcasts to every session with an active sink anywhere in the fleet.
func (r *Registry) SendNotification(ctx context.Context, sessionIDs []string, method string, params any) error {
	payload, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("frame %s: %w", method, err)
	}
	return r.streams.Send(ctx, sessionIDs, payload)
}

// ProgressParams is the payload of a notifications/progress notification.
type ProgressParams struct {
	ProgressToken int64    `json:"progressToken"`
	Progress      float64  `json:"progress"`
	Total         *float64 `json:"total,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// SendProgress emits a progress notification correlated to the session's
// outstanding progress token. Without a stored token there is nothing to
// correlate to and the call is a logged no-op.
func (r *Registry) SendProgress(ctx context.Context, sessionID string, progress float64, total *float64, message string) error {
	meta, err := r.GetMetadata(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta == nil || meta.ProgressToken == nil {
		r.log.DebugContext(ctx, "progress dropped: no outstanding token", slog.String("session_id", sessionID))
		return nil
	}
	params := ProgressParams{ProgressToken: *meta.ProgressToken, Progress: progress, Total: total, Message: message}
	return r.SendNotification(ctx, []string{sessionID}, "notifications/progress", params)
}

// LogParams is the payload of a notifications/message notification.
type LogParams struct {
	Level  LogLevel `json:"level"`
	Logger string   `json:"logger,omitempty"`
	Data   any      `json:"data"`
}

// SendLog emits a log notification unless the session's stored threshold
// suppresses the severity.
func (r *Registry) SendLog(ctx context.Context, sessionID string, level LogLevel, logger string, data any) error {
	meta, err := r.GetMetadata(ctx, sessionID)
	if err != nil {
		return err
	}
	if meta != nil && meta.LogLevelThreshold != "" && !meta.LogLevelThreshold.Allows(level) {
		return nil
	}
	params := LogParams{Level: level, Logger: logger, Data: data}
	return r.SendNotification(ctx, []string{sessionID}, "notifications/message", params)
}

func (r *Registry) putMetadata(ctx context.Context, meta *SessionMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return r.store.SetWithTTL(ctx, meta.SessionID, data, r.ttl)
}

func defaultMetadata(sessionID string) *SessionMetadata {
	now := time.Now().UTC()
	return &SessionMetadata{SessionID: sessionID, CreatedAt: now, LastAccessedAt: now}
}
