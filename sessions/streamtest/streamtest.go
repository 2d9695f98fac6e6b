// Package streamtest provides a reusable conformance suite for
// sessions.StreamManager implementations. Single-instance behavior is
// exercised through RunStreamManagerTests; implementations that coordinate
// across instances via a shared bus additionally run
// RunDistributedStreamManagerTests against pairs of instances.
package streamtest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mcpuse/mcp-stream-go/internal/jsonrpc"
	"github.com/mcpuse/mcp-stream-go/sessions"
)

// ManagerFactory creates a fresh StreamManager for one test.
type ManagerFactory func(t *testing.T) sessions.StreamManager

// PairFactory creates two independent StreamManager instances sharing one
// bus, standing in for two server processes.
type PairFactory func(t *testing.T) (a, b sessions.StreamManager)

// RunStreamManagerTests runs the single-instance suite against factory.
func RunStreamManagerTests(t *testing.T, factory ManagerFactory) {
	t.Run("AvailabilityRoundTrip", func(t *testing.T) { testAvailabilityRoundTrip(t, factory) })
	t.Run("TargetedDelivery", func(t *testing.T) { testTargetedDelivery(t, factory) })
	t.Run("BroadcastReachesAll", func(t *testing.T) { testBroadcastReachesAll(t, factory) })
	t.Run("IdempotentDelete", func(t *testing.T) { testIdempotentDelete(t, factory) })
	t.Run("DuplicateCreateReplacesSink", func(t *testing.T) { testDuplicateCreate(t, factory) })
	t.Run("DeleteClosesSink", func(t *testing.T) { testDeleteClosesSink(t, factory) })
}

// RunDistributedStreamManagerTests runs the cross-instance suite against
// pairs produced by factory.
func RunDistributedStreamManagerTests(t *testing.T, factory PairFactory) {
	t.Run("CrossInstanceDelivery", func(t *testing.T) { testCrossInstanceDelivery(t, factory) })
	t.Run("CrossInstanceHas", func(t *testing.T) { testCrossInstanceHas(t, factory) })
	t.Run("RemoteDeletePropagation", func(t *testing.T) { testRemoteDeletePropagation(t, factory) })
	t.Run("ScopedCleanupOnClose", func(t *testing.T) { testScopedCleanupOnClose(t, factory) })
	t.Run("CrossInstanceBroadcast", func(t *testing.T) { testCrossInstanceBroadcast(t, factory) })
}

// RecordingSink is a thread-safe Sink that captures enqueued payloads.
type RecordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (s *RecordingSink) Enqueue(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sessions.ErrSinkClosed
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *RecordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Payloads returns a snapshot of everything enqueued so far.
func (s *RecordingSink) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func (s *RecordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// waitUntil polls cond until it returns true or the deadline passes.
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func testPayload(t *testing.T, method string) []byte {
	t.Helper()
	payload, err := jsonrpc.NewNotification(method, map[string]any{"value": method})
	if err != nil {
		t.Fatalf("frame notification: %v", err)
	}
	return payload
}

// --- Single-instance tests ---

func testAvailabilityRoundTrip(t *testing.T, factory ManagerFactory) {
	m := factory(t)
	ctx := context.Background()
	defer m.Close(ctx)

	if err := m.Create(ctx, "sess-1", NewRecordingSink()); err != nil {
		t.Fatalf("create: %v", err)
	}
	has, err := m.Has(ctx, "sess-1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if !has {
		t.Fatal("expected has == true after create")
	}

	if err := m.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	has, err = m.Has(ctx, "sess-1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Fatal("expected has == false after delete")
	}
}

func testTargetedDelivery(t *testing.T, factory ManagerFactory) {
	m := factory(t)
	ctx := context.Background()
	defer m.Close(ctx)

	s1 := NewRecordingSink()
	s2 := NewRecordingSink()
	if err := m.Create(ctx, "sess-1", s1); err != nil {
		t.Fatalf("create sess-1: %v", err)
	}
	if err := m.Create(ctx, "sess-2", s2); err != nil {
		t.Fatalf("create sess-2: %v", err)
	}

	payload := testPayload(t, "notifications/progress")
	if err := m.Send(ctx, []string{"sess-1"}, payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	if !waitUntil(2*time.Second, func() bool { return len(s1.Payloads()) == 1 }) {
		t.Fatalf("expected 1 payload on sess-1, got %d", len(s1.Payloads()))
	}
	// Give a mistargeted delivery a moment to surface before asserting.
	time.Sleep(50 * time.Millisecond)
	if n := len(s2.Payloads()); n != 0 {
		t.Fatalf("expected 0 payloads on sess-2, got %d", n)
	}

	var got jsonrpc.Notification
	if err := json.Unmarshal(s1.Payloads()[0], &got); err != nil {
		t.Fatalf("unmarshal delivered payload: %v", err)
	}
	if got.Method != "notifications/progress" {
		t.Fatalf("expected method notifications/progress, got %q", got.Method)
	}
}

func testBroadcastReachesAll(t *testing.T, factory ManagerFactory) {
	m := factory(t)
	ctx := context.Background()
	defer m.Close(ctx)

	sinks := map[string]*RecordingSink{
		"sess-1": NewRecordingSink(),
		"sess-2": NewRecordingSink(),
		"sess-3": NewRecordingSink(),
	}
	for id, sink := range sinks {
		if err := m.Create(ctx, id, sink); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	payload := testPayload(t, "notifications/resources/updated")
	if err := m.Send(ctx, nil, payload); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for id, sink := range sinks {
		if !waitUntil(2*time.Second, func() bool { return len(sink.Payloads()) == 1 }) {
			t.Fatalf("expected broadcast payload on %s, got %d", id, len(sink.Payloads()))
		}
	}
}

func testIdempotentDelete(t *testing.T, factory ManagerFactory) {
	m := factory(t)
	ctx := context.Background()
	defer m.Close(ctx)

	// Never-created id.
	if err := m.Delete(ctx, "sess-unknown"); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}

	if err := m.Create(ctx, "sess-1", NewRecordingSink()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := m.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	has, err := m.Has(ctx, "sess-1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if has {
		t.Fatal("expected has == false after double delete")
	}
}

func testDuplicateCreate(t *testing.T, factory ManagerFactory) {
	m := factory(t)
	ctx := context.Background()
	defer m.Close(ctx)

	old := NewRecordingSink()
	if err := m.Create(ctx, "sess-1", old); err != nil {
		t.Fatalf("create: %v", err)
	}
	replacement := NewRecordingSink()
	if err := m.Create(ctx, "sess-1", replacement); err != nil {
		t.Fatalf("duplicate create: %v", err)
	}

	if !waitUntil(2*time.Second, old.Closed) {
		t.Fatal("expected replaced sink to be closed")
	}

	payload := testPayload(t, "notifications/message")
	if err := m.Send(ctx, []string{"sess-1"}, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return len(replacement.Payloads()) == 1 }) {
		t.Fatal("expected delivery to replacement sink")
	}
}

func testDeleteClosesSink(t *testing.T, factory ManagerFactory) {
	m := factory(t)
	ctx := context.Background()
	defer m.Close(ctx)

	sink := NewRecordingSink()
	if err := m.Create(ctx, "sess-1", sink); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !waitUntil(2*time.Second, sink.Closed) {
		t.Fatal("expected sink closed after delete")
	}
}

// --- Cross-instance tests ---

func testCrossInstanceDelivery(t *testing.T, factory PairFactory) {
	a, b := factory(t)
	ctx := context.Background()
	defer a.Close(ctx)
	defer b.Close(ctx)

	sink := NewRecordingSink()
	if err := a.Create(ctx, "sess-42", sink); err != nil {
		t.Fatalf("create on A: %v", err)
	}

	payload := testPayload(t, "notifications/progress")
	if err := b.Send(ctx, []string{"sess-42"}, payload); err != nil {
		t.Fatalf("send on B: %v", err)
	}

	if !waitUntil(2*time.Second, func() bool { return len(sink.Payloads()) == 1 }) {
		t.Fatal("expected payload published on B to reach sink held by A")
	}
}

func testCrossInstanceHas(t *testing.T, factory PairFactory) {
	a, b := factory(t)
	ctx := context.Background()
	defer a.Close(ctx)
	defer b.Close(ctx)

	if err := a.Create(ctx, "sess-1", NewRecordingSink()); err != nil {
		t.Fatalf("create on A: %v", err)
	}
	has, err := b.Has(ctx, "sess-1")
	if err != nil {
		t.Fatalf("has on B: %v", err)
	}
	if !has {
		t.Fatal("expected B to observe A's session as live")
	}
}

func testRemoteDeletePropagation(t *testing.T, factory PairFactory) {
	a, b := factory(t)
	ctx := context.Background()
	defer a.Close(ctx)
	defer b.Close(ctx)

	sink := NewRecordingSink()
	if err := a.Create(ctx, "sess-1", sink); err != nil {
		t.Fatalf("create on A: %v", err)
	}

	if err := b.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete on B: %v", err)
	}

	if !waitUntil(2*time.Second, sink.Closed) {
		t.Fatal("expected A's local sink to be closed by B's delete")
	}
	if !waitUntil(2*time.Second, func() bool {
		has, err := a.Has(ctx, "sess-1")
		return err == nil && !has
	}) {
		t.Fatal("expected has == false on A after remote delete")
	}
}

func testScopedCleanupOnClose(t *testing.T, factory PairFactory) {
	a, b := factory(t)
	ctx := context.Background()
	defer b.Close(ctx)

	if err := a.Create(ctx, "sess-a", NewRecordingSink()); err != nil {
		t.Fatalf("create on A: %v", err)
	}
	sinkB := NewRecordingSink()
	if err := b.Create(ctx, "sess-b", sinkB); err != nil {
		t.Fatalf("create on B: %v", err)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("close A: %v", err)
	}

	has, err := b.Has(ctx, "sess-a")
	if err != nil {
		t.Fatalf("has sess-a: %v", err)
	}
	if has {
		t.Fatal("expected A's session gone after A.Close")
	}
	has, err = b.Has(ctx, "sess-b")
	if err != nil {
		t.Fatalf("has sess-b: %v", err)
	}
	if !has {
		t.Fatal("expected B's session to survive A.Close")
	}
	if sinkB.Closed() {
		t.Fatal("expected B's sink to stay open after A.Close")
	}
}

func testCrossInstanceBroadcast(t *testing.T, factory PairFactory) {
	a, b := factory(t)
	ctx := context.Background()
	defer a.Close(ctx)
	defer b.Close(ctx)

	sinkA := NewRecordingSink()
	sinkB := NewRecordingSink()
	if err := a.Create(ctx, "sess-a", sinkA); err != nil {
		t.Fatalf("create on A: %v", err)
	}
	if err := b.Create(ctx, "sess-b", sinkB); err != nil {
		t.Fatalf("create on B: %v", err)
	}

	payload := testPayload(t, "notifications/resources/list_changed")
	if err := a.Send(ctx, nil, payload); err != nil {
		t.Fatalf("broadcast on A: %v", err)
	}

	if !waitUntil(2*time.Second, func() bool { return len(sinkA.Payloads()) == 1 }) {
		t.Fatal("expected broadcast to reach A's local session")
	}
	if !waitUntil(2*time.Second, func() bool { return len(sinkB.Payloads()) == 1 }) {
		t.Fatal("expected broadcast to reach B's session")
	}
}
