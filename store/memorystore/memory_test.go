package memorystore

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	s := New(0)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %q", val)
	}

	val, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if val != nil {
		t.Fatalf("expected nil for missing key, got %q", val)
	}
}

func TestLastWriteWins(t *testing.T) {
	s := New(0)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("old")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "k1", []byte("new")); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(val) != "new" {
		t.Fatalf("expected new, got %q", val)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(10 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "k1", []byte("v1"), 30*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	has, err := s.Has(ctx, "k1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !has {
		t.Fatal("expected key before expiry")
	}

	time.Sleep(60 * time.Millisecond)
	has, err = s.Has(ctx, "k1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Fatal("expected key gone after TTL")
	}
	val, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != nil {
		t.Fatalf("expected nil after expiry, got %q", val)
	}
}

func TestDeleteAndKeys(t *testing.T) {
	s := New(0)
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte("1")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
