// Package memorybus provides an in-process implementation of bus.Bus for
// single-binary deployments and tests. Multiple stream manager instances in
// the same process can share one Bus, which makes the cross-instance
// behavior of the bus-backed stream manager exercisable without external
// infrastructure.
package memorybus

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/mcpuse/mcp-stream-go/bus"
)

// subscriberQueueLen bounds the per-subscription delivery queue. Delivery is
// publish-and-forget; a subscriber that cannot keep up loses messages rather
// than blocking publishers.
const subscriberQueueLen = 128

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool

	kvMu sync.Mutex
	kv   map[string]kvEntry

	setMu sync.Mutex
	sets  map[string]map[string]struct{}
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

type subscription struct {
	b       *Bus
	channel string
	queue   chan []byte
	once    sync.Once
}

func New() *Bus {
	return &Bus{
		subs: make(map[string]map[*subscription]struct{}),
		kv:   make(map[string]kvEntry),
		sets: make(map[string]map[string]struct{}),
	}
}

// --- Pub/sub ---

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	data := append([]byte(nil), payload...)

	// Enqueue under the lock so a concurrent Unsubscribe cannot close a
	// queue mid-send. Sends are non-blocking, so the lock is held briefly.
	b.mu.RLock()
	for sub := range b.subs[channel] {
		select {
		case sub.queue <- data:
		default:
			// Queue full: drop. At-most-once delivery permits this.
		}
	}
	b.mu.RUnlock()
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string, handler bus.MessageHandler) (bus.Subscription, error) {
	sub := &subscription{b: b, channel: channel, queue: make(chan []byte, subscriberQueueLen)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("memorybus: bus closed")
	}
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	// Dedicated delivery goroutine keeps per-channel FIFO order and keeps
	// handler re-entry into the bus deadlock-free.
	go func() {
		for payload := range sub.queue {
			handler(context.Background(), channel, payload)
		}
	}()

	return sub, nil
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() {
		s.b.mu.Lock()
		if set, ok := s.b.subs[s.channel]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.b.subs, s.channel)
			}
		}
		// Closed under the same lock that guards publishes, so no send can
		// race the close.
		close(s.queue)
		s.b.mu.Unlock()
	})
	return nil
}

// --- Key-value with lazy expiry ---

func (b *Bus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := kvEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	b.kvMu.Lock()
	b.kv[key] = e
	b.kvMu.Unlock()
	return nil
}

func (b *Bus) Get(ctx context.Context, key string) ([]byte, error) {
	b.kvMu.Lock()
	defer b.kvMu.Unlock()
	e, ok := b.kv[key]
	if !ok {
		return nil, bus.ErrNotFound
	}
	if e.expired() {
		delete(b.kv, key)
		return nil, bus.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (b *Bus) Del(ctx context.Context, keys ...string) error {
	b.kvMu.Lock()
	for _, k := range keys {
		delete(b.kv, k)
	}
	b.kvMu.Unlock()
	return nil
}

func (b *Bus) Exists(ctx context.Context, key string) (bool, error) {
	b.kvMu.Lock()
	defer b.kvMu.Unlock()
	e, ok := b.kv[key]
	if !ok {
		return false, nil
	}
	if e.expired() {
		delete(b.kv, key)
		return false, nil
	}
	return true, nil
}

func (b *Bus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.kvMu.Lock()
	defer b.kvMu.Unlock()
	e, ok := b.kv[key]
	if !ok || e.expired() {
		delete(b.kv, key)
		return nil
	}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	b.kv[key] = e
	return nil
}

func (b *Bus) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.kvMu.Lock()
	defer b.kvMu.Unlock()
	var keys []string
	for k, e := range b.kv {
		if e.expired() {
			delete(b.kv, k)
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// --- Set index ---

func (b *Bus) SAdd(ctx context.Context, key string, members ...string) error {
	b.setMu.Lock()
	defer b.setMu.Unlock()
	set, ok := b.sets[key]
	if !ok {
		set = make(map[string]struct{})
		b.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (b *Bus) SRem(ctx context.Context, key string, members ...string) error {
	b.setMu.Lock()
	defer b.setMu.Unlock()
	set, ok := b.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(b.sets, key)
	}
	return nil
}

func (b *Bus) SMembers(ctx context.Context, key string) ([]string, error) {
	b.setMu.Lock()
	defer b.setMu.Unlock()
	set := b.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0)
	for _, set := range b.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe(context.Background())
	}
	return nil
}

// Interface compliance
var (
	_ bus.Bus      = (*Bus)(nil)
	_ bus.SetIndex = (*Bus)(nil)
)
