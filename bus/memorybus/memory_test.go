package memorybus

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mcpuse/mcp-stream-go/bus"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var got [][]byte
	sub, err := b.Subscribe(ctx, "chan-1", func(ctx context.Context, channel string, payload []byte) {
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	for _, msg := range []string{"a", "b", "c"} {
		if err := b.Publish(ctx, "chan-1", []byte(msg)); err != nil {
			t.Fatalf("publish %s: %v", msg, err)
		}
	}
	// Unrelated channel must not leak in.
	if err := b.Publish(ctx, "chan-2", []byte("x")); err != nil {
		t.Fatalf("publish chan-2: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	// Per-publisher FIFO within a channel.
	for i, want := range []string{"a", "b", "c"} {
		if string(got[i]) != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, got[i])
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	sub, err := b.Subscribe(ctx, "chan-1", func(ctx context.Context, channel string, payload []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Safe to call twice.
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}

	if err := b.Publish(ctx, "chan-1", []byte("late")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestKeyValueTTL(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	if err := b.Set(ctx, "k1", []byte("v1"), 30*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := b.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %q", val)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := b.Get(ctx, "k1"); err != bus.ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
	exists, err := b.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected expired key to not exist")
	}
}

func TestExpireRefreshesTTL(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	if err := b.Set(ctx, "k1", []byte("v1"), 40*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if err := b.Expire(ctx, "k1", 100*time.Millisecond); err != nil {
		t.Fatalf("expire: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	exists, err := b.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected refreshed key to survive original TTL")
	}

	// Expiring a missing key is a no-op.
	if err := b.Expire(ctx, "missing", time.Second); err != nil {
		t.Fatalf("expire missing: %v", err)
	}
}

func TestKeysPatternMatch(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	for _, k := range []string{"mcp:stream:live:a", "mcp:stream:live:b", "mcp:stream:other"} {
		if err := b.Set(ctx, k, []byte("1"), 0); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	keys, err := b.Keys(ctx, "mcp:stream:live:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "mcp:stream:live:a" || keys[1] != "mcp:stream:live:b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestSetIndex(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	if err := b.SAdd(ctx, "active", "s1", "s2"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	members, err := b.SMembers(ctx, "active")
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "s1" || members[1] != "s2" {
		t.Fatalf("unexpected members: %v", members)
	}

	if err := b.SRem(ctx, "active", "s1"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	members, err = b.SMembers(ctx, "active")
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 1 || members[0] != "s2" {
		t.Fatalf("unexpected members after srem: %v", members)
	}
}
