// Package logctx enriches slog records with session attributes carried on
// the context, so delivery-path logs correlate without threading loggers
// through every call site.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context-derived groups.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("protocol_version", sd.ProtocolVersion),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

// SessionData identifies the session a log record pertains to.
type SessionData struct {
	SessionID       string
	ProtocolVersion string
}

// WithSession attaches session identity to ctx for log enrichment.
func WithSession(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
