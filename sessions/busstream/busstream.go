// Package busstream is the bus-backed implementation of
// sessions.StreamManager for horizontally scaled deployments. The live sink
// for a session exists on exactly one process; every other process reaches
// it by publishing to the session's bus channel. Liveness is tracked with a
// TTL marker refreshed by a per-session heartbeat, so a crashed process's
// sessions expire without explicit crash signaling.
package busstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcpuse/mcp-stream-go/bus"
	"github.com/mcpuse/mcp-stream-go/sessions"
)

// DefaultChannelPrefix namespaces every channel and key this manager uses.
const DefaultChannelPrefix = "mcp:stream:"

// DefaultHeartbeatInterval is the period between liveness refreshes. The
// TTL on the availability marker is twice this interval, which bounds how
// stale a Has answer can be.
const DefaultHeartbeatInterval = 10 * time.Second

// Config configures a bus-backed stream manager.
type Config struct {
	// Bus carries payloads and control signals between processes. Required.
	Bus bus.Bus
	// ChannelPrefix defaults to DefaultChannelPrefix.
	ChannelPrefix string
	// HeartbeatInterval defaults to DefaultHeartbeatInterval. The liveness
	// TTL is always twice this value.
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = DefaultChannelPrefix
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Manager struct {
	bus    bus.Bus
	sets   bus.SetIndex // nil when the bus lacks set-membership primitives
	prefix string
	hb     time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	local  map[string]*localSession
	closed bool
}

// localSession is the per-process state for a session whose sink lives here.
type localSession struct {
	sink   sessions.Sink
	sub    bus.Subscription
	delSub bus.Subscription
	stop   chan struct{}
	once   sync.Once
}

func (ls *localSession) stopHeartbeat() {
	ls.once.Do(func() { close(ls.stop) })
}

func New(cfg Config) (*Manager, error) {
	if cfg.Bus == nil {
		return nil, errors.New("busstream: Bus is required")
	}
	cfg.applyDefaults()
	sets, _ := cfg.Bus.(bus.SetIndex)
	return &Manager{
		bus:    cfg.Bus,
		sets:   sets,
		prefix: cfg.ChannelPrefix,
		hb:     cfg.HeartbeatInterval,
		log:    cfg.Logger,
		local:  make(map[string]*localSession),
	}, nil
}

// --- Channel and key helpers ---

func (m *Manager) channel(sessionID string) string       { return m.prefix + sessionID }
func (m *Manager) deleteChannel(sessionID string) string { return "delete:" + m.channel(sessionID) }
func (m *Manager) liveKey(sessionID string) string       { return m.prefix + "live:" + sessionID }
func (m *Manager) activeKey() string                     { return m.prefix + "active" }

func (m *Manager) livenessTTL() time.Duration { return 2 * m.hb }

// Create registers sink for sessionID on this process, subscribes to the
// session's payload and delete channels, and marks the session available
// fleet-wide with a heartbeat-refreshed TTL. A duplicate create replaces
// the previous sink and resubscribes, since reconnect races can occur.
func (m *Manager) Create(ctx context.Context, sessionID string, sink sessions.Sink) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("busstream: manager closed")
	}
	prev := m.local[sessionID]
	delete(m.local, sessionID)
	m.mu.Unlock()

	if prev != nil {
		m.teardownLocal(ctx, sessionID, prev)
	}

	ls := &localSession{sink: sink, stop: make(chan struct{})}

	sub, err := m.bus.Subscribe(ctx, m.channel(sessionID), func(ctx context.Context, _ string, payload []byte) {
		if err := sink.Enqueue(payload); err != nil {
			// Client disconnected concurrently with delivery; a normal race.
			m.log.DebugContext(ctx, "enqueue failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %v: %w", sessionID, err, sessions.ErrSubscriptionFailure)
	}
	ls.sub = sub

	delSub, err := m.bus.Subscribe(ctx, m.deleteChannel(sessionID), func(ctx context.Context, _ string, _ []byte) {
		// Remote-initiated delete: only the owning process can close the
		// sink, so run the local delete here.
		if err := m.deleteLocal(context.Background(), sessionID); err != nil {
			m.log.WarnContext(ctx, "remote delete cleanup failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
	})
	if err != nil {
		_ = sub.Unsubscribe(ctx)
		return fmt.Errorf("subscribe delete %s: %v: %w", sessionID, err, sessions.ErrSubscriptionFailure)
	}
	ls.delSub = delSub

	if err := m.bus.Set(ctx, m.liveKey(sessionID), []byte("1"), m.livenessTTL()); err != nil {
		_ = sub.Unsubscribe(ctx)
		_ = delSub.Unsubscribe(ctx)
		return fmt.Errorf("mark session %s live: %w", sessionID, err)
	}
	if m.sets != nil {
		// Heartbeat retries on failure; availability degrades until then.
		if err := m.sets.SAdd(ctx, m.activeKey(), sessionID); err != nil {
			m.log.WarnContext(ctx, "active index add failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
		if err := m.bus.Expire(ctx, m.activeKey(), m.livenessTTL()); err != nil {
			m.log.WarnContext(ctx, "active index expire failed", slog.String("err", err.Error()))
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.teardownLocal(ctx, sessionID, ls)
		return errors.New("busstream: manager closed")
	}
	// A racing create for the same id may have registered in the window
	// since the first check; its state loses and is torn down.
	stale := m.local[sessionID]
	m.local[sessionID] = ls
	m.mu.Unlock()
	if stale != nil {
		m.teardownLocal(ctx, sessionID, stale)
	}

	go m.heartbeatLoop(sessionID, ls)
	return nil
}

func (m *Manager) heartbeatLoop(sessionID string, ls *localSession) {
	ticker := time.NewTicker(m.hb)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
			m.heartbeat(sessionID)
		}
	}
}

// heartbeat refreshes the TTL on the per-session liveness marker and the
// shared active-session index. Failures are logged and retried on the next
// tick; the sink stays up since the client connection may be healthy even
// when a bus write transiently fails.
func (m *Manager) heartbeat(sessionID string) {
	ctx := context.Background()
	if err := m.bus.Set(ctx, m.liveKey(sessionID), []byte("1"), m.livenessTTL()); err != nil {
		m.log.WarnContext(ctx, "heartbeat refresh failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		return
	}
	if m.sets != nil {
		if err := m.sets.SAdd(ctx, m.activeKey(), sessionID); err != nil {
			m.log.WarnContext(ctx, "heartbeat index refresh failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
			return
		}
		if err := m.bus.Expire(ctx, m.activeKey(), m.livenessTTL()); err != nil {
			m.log.WarnContext(ctx, "heartbeat index expire failed", slog.String("err", err.Error()))
		}
	}
}

// Send publishes payload to the listed sessions' channels, or to every
// active session in the fleet when sessionIDs is nil. Publishes fan out
// concurrently; per-target failures are logged and do not abort siblings.
func (m *Manager) Send(ctx context.Context, sessionIDs []string, payload []byte) error {
	targets := sessionIDs
	if targets == nil {
		var err error
		targets, err = m.activeSessions(ctx)
		if err != nil {
			return fmt.Errorf("broadcast membership: %v: %w", err, sessions.ErrPublishFailure)
		}
	}

	var wg sync.WaitGroup
	for _, id := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.bus.Publish(ctx, m.channel(id), payload); err != nil {
				m.log.ErrorContext(ctx, "publish failed", slog.String("session_id", id), slog.String("err", err.Error()))
			}
		}(id)
	}
	wg.Wait()
	return nil
}

// activeSessions resolves broadcast membership from the shared index, or by
// scanning liveness markers when the bus lacks set primitives.
func (m *Manager) activeSessions(ctx context.Context) ([]string, error) {
	if m.sets != nil {
		return m.sets.SMembers(ctx, m.activeKey())
	}

	// O(total keys) scan; a production hazard under high session count.
	m.log.WarnContext(ctx, "bus lacks set index, falling back to key-pattern scan for broadcast")
	keyPrefix := m.prefix + "live:"
	keys, err := m.bus.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, keyPrefix))
	}
	return ids, nil
}

// Delete tears the session down fleet-wide: local cleanup if this process
// owns the sink, withdrawal from the availability index, and a signal on
// the delete channel so a remote owner closes its sink as well. Unknown or
// already-deleted sessions are a no-op.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.deleteLocal(ctx, sessionID); err != nil {
		return err
	}
	if err := m.bus.Publish(ctx, m.deleteChannel(sessionID), []byte("1")); err != nil {
		return fmt.Errorf("delete signal %s: %v: %w", sessionID, err, sessions.ErrPublishFailure)
	}
	return nil
}

// deleteLocal removes this process's state for the session and withdraws
// its availability entries. Safe to call for sessions this process does not
// own.
func (m *Manager) deleteLocal(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls := m.local[sessionID]
	delete(m.local, sessionID)
	m.mu.Unlock()

	var subErr error
	if ls != nil {
		subErr = m.teardownLocal(ctx, sessionID, ls)
	}

	c := context.WithoutCancel(ctx)
	if err := m.bus.Del(c, m.liveKey(sessionID)); err != nil {
		m.log.WarnContext(ctx, "liveness marker delete failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
	if m.sets != nil {
		if err := m.sets.SRem(c, m.activeKey(), sessionID); err != nil {
			m.log.WarnContext(ctx, "active index remove failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
	}
	return subErr
}

// teardownLocal stops the heartbeat, unsubscribes both channels, and closes
// the sink. It does not touch availability entries.
func (m *Manager) teardownLocal(ctx context.Context, sessionID string, ls *localSession) error {
	ls.stopHeartbeat()

	var errs []error
	if ls.sub != nil {
		if err := ls.sub.Unsubscribe(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %v: %w", sessionID, err, sessions.ErrSubscriptionFailure))
		}
	}
	if ls.delSub != nil {
		if err := ls.delSub.Unsubscribe(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe delete %s: %v: %w", sessionID, err, sessions.ErrSubscriptionFailure))
		}
	}
	if err := ls.sink.Close(); err != nil {
		m.log.DebugContext(ctx, "sink close failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
	return errors.Join(errs...)
}

// Has reports whether any process in the fleet holds a live sink for the
// session, answered from the availability marker rather than by probing
// peers. The answer is eventually consistent, bounded by the heartbeat
// interval.
func (m *Manager) Has(ctx context.Context, sessionID string) (bool, error) {
	return m.bus.Exists(ctx, m.liveKey(sessionID))
}

// Close releases everything this instance owns: local sinks, their
// subscriptions and heartbeats, and this instance's availability entries.
// Sessions owned by other processes are left intact.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	local := m.local
	m.local = make(map[string]*localSession)
	m.mu.Unlock()

	c := context.WithoutCancel(ctx)
	var errs []error
	for sessionID, ls := range local {
		if err := m.teardownLocal(c, sessionID, ls); err != nil {
			errs = append(errs, err)
		}
		if err := m.bus.Del(c, m.liveKey(sessionID)); err != nil {
			m.log.WarnContext(c, "liveness marker delete failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
		if m.sets != nil {
			if err := m.sets.SRem(c, m.activeKey(), sessionID); err != nil {
				m.log.WarnContext(c, "active index remove failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
			}
		}
	}
	return errors.Join(errs...)
}

// Interface compliance
var _ sessions.StreamManager = (*Manager)(nil)
