// Package memorystream is the single-process implementation of
// sessions.StreamManager. Sessions live in a local map with no bus
// involvement; it is behaviorally substitutable for the bus-backed variant
// under single-process operation.
package memorystream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mcpuse/mcp-stream-go/sessions"
)

// Config configures an in-memory stream manager.
type Config struct {
	Logger *slog.Logger
}

type Manager struct {
	mu     sync.RWMutex
	sinks  map[string]sessions.Sink
	closed bool
	log    *slog.Logger
}

func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{sinks: make(map[string]sessions.Sink), log: log}
}

func (m *Manager) Create(ctx context.Context, sessionID string, sink sessions.Sink) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("memorystream: manager closed")
	}
	prev := m.sinks[sessionID]
	m.sinks[sessionID] = sink
	m.mu.Unlock()

	// Reconnect race: the replaced sink belongs to a connection the client
	// has abandoned.
	if prev != nil && prev != sink {
		_ = prev.Close()
	}
	return nil
}

func (m *Manager) Send(ctx context.Context, sessionIDs []string, payload []byte) error {
	m.mu.RLock()
	targets := make(map[string]sessions.Sink, len(m.sinks))
	if sessionIDs == nil {
		for id, sink := range m.sinks {
			targets[id] = sink
		}
	} else {
		for _, id := range sessionIDs {
			if sink, ok := m.sinks[id]; ok {
				targets[id] = sink
			}
		}
	}
	m.mu.RUnlock()

	for id, sink := range targets {
		if err := sink.Enqueue(payload); err != nil {
			// Client disconnected concurrently with delivery; a normal race.
			m.log.DebugContext(ctx, "enqueue failed", slog.String("session_id", id), slog.String("err", err.Error()))
		}
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sink, ok := m.sinks[sessionID]
	if ok {
		delete(m.sinks, sessionID)
	}
	m.mu.Unlock()
	if ok {
		_ = sink.Close()
	}
	return nil
}

func (m *Manager) Has(ctx context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	_, ok := m.sinks[sessionID]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sinks := make([]sessions.Sink, 0, len(m.sinks))
	for _, sink := range m.sinks {
		sinks = append(sinks, sink)
	}
	m.sinks = make(map[string]sessions.Sink)
	m.mu.Unlock()

	for _, sink := range sinks {
		_ = sink.Close()
	}
	return nil
}

// Interface compliance
var _ sessions.StreamManager = (*Manager)(nil)
