package redisstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mcpuse/mcp-stream-go/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(Config{RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSetAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "sess-1", []byte(`{"session_id":"sess-1"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != `{"session_id":"sess-1"}` {
		t.Fatalf("unexpected value: %q", val)
	}

	val, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if val != nil {
		t.Fatalf("expected nil for missing key, got %q", val)
	}
}

func TestTTLExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "sess-1", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	has, err := s.Has(ctx, "sess-1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !has {
		t.Fatal("expected key before expiry")
	}

	mr.FastForward(2 * time.Minute)
	has, err = s.Has(ctx, "sess-1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Fatal("expected key gone after TTL")
	}
}

func TestDeleteAndKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if err := s.Set(ctx, k, []byte("1")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNewReportsUnreachableServer(t *testing.T) {
	_, err := New(Config{RedisAddr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected construction to fail")
	}
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected underlying cause in error, got %v", err)
	}
}

func TestKeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	s1, err := New(Config{RedisAddr: mr.Addr(), KeyPrefix: "a:"})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer s1.Close()
	s2, err := New(Config{RedisAddr: mr.Addr(), KeyPrefix: "b:"})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer s2.Close()

	ctx := context.Background()
	if err := s1.Set(ctx, "k", []byte("from-a")); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := s2.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != nil {
		t.Fatalf("expected prefix isolation, got %q", val)
	}
}
