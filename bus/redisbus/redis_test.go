package redisbus

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mcpuse/mcp-stream-go/bus"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New(Config{RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestNewPingsBothClients(t *testing.T) {
	mr := miniredis.RunT(t)
	ops := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer ops.Close()
	badSub := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer badSub.Close()

	if _, err := New(Config{Client: ops, SubClient: badSub}); err == nil {
		t.Fatal("expected construction to fail on unreachable subscriber client")
	}
}

func TestPublishSubscribe(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	sub, err := b.Subscribe(ctx, "chan-1", func(ctx context.Context, channel string, payload []byte) {
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(ctx)

	for _, msg := range []string{"a", "b"} {
		if err := b.Publish(ctx, "chan-1", []byte(msg)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestKeyValue(t *testing.T) {
	b, mr := newTestBus(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := b.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %q", val)
	}

	exists, err := b.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected key to exist")
	}

	// TTL lapse observed through the store.
	mr.FastForward(2 * time.Minute)
	if _, err := b.Get(ctx, "k1"); err != bus.ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}

	if _, err := b.Get(ctx, "missing"); err != bus.ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
	if err := b.Del(ctx, "missing"); err != nil {
		t.Fatalf("del missing: %v", err)
	}
}

func TestKeysScan(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	for _, k := range []string{"p:live:a", "p:live:b", "p:other"} {
		if err := b.Set(ctx, k, []byte("1"), 0); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	keys, err := b.Keys(ctx, "p:live:*")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "p:live:a" || keys[1] != "p:live:b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestSetIndex(t *testing.T) {
	b, _ := newTestBus(t)
	ctx := context.Background()

	if err := b.SAdd(ctx, "active", "s1", "s2"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if err := b.SRem(ctx, "active", "s2"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	members, err := b.SMembers(ctx, "active")
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 1 || members[0] != "s1" {
		t.Fatalf("unexpected members: %v", members)
	}
}
