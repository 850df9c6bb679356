package node

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInMemorySetIfAbsent(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	if ok, err := m.TrySetWithExpiry(ctx, "k", "a", time.Minute); err != nil || !ok {
		t.Fatalf("first set: ok %v err %v", ok, err)
	}
	if ok, err := m.TrySetWithExpiry(ctx, "k", "b", time.Minute); err != nil || ok {
		t.Fatalf("second set: ok %v err %v", ok, err)
	}
	if v, ok := m.Value("k"); !ok || v != "a" {
		t.Fatalf("expected a, got %q %v", v, ok)
	}
}

func TestInMemoryExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewInMemory(WithClock(clock.Now))
	ctx := context.Background()
	_, _ = m.TrySetWithExpiry(ctx, "k", "a", 10*time.Millisecond)
	clock.Advance(9 * time.Millisecond)
	if _, ok := m.Value("k"); !ok {
		t.Fatal("key expired too early")
	}
	clock.Advance(time.Millisecond)
	if _, ok := m.Value("k"); ok {
		t.Fatal("key should have expired")
	}
	if ok, _ := m.TrySetWithExpiry(ctx, "k", "b", time.Second); !ok {
		t.Fatal("set after expiry failed")
	}
	if m.Len() != 1 {
		t.Fatalf("expected one key, got %d", m.Len())
	}
}

func TestInMemoryCompareAndDelete(t *testing.T) {
	m := NewInMemory(WithMemoryName("n1"))
	ctx := context.Background()
	_, _ = m.TrySetWithExpiry(ctx, "k", "a", time.Minute)
	if ok, _ := m.CompareAndDelete(ctx, "k", "b"); ok {
		t.Fatal("deleted with wrong value")
	}
	if v, _ := m.Value("k"); v != "a" {
		t.Fatalf("value changed to %q", v)
	}
	if ok, _ := m.CompareAndDelete(ctx, "k", "a"); !ok {
		t.Fatal("delete with matching value failed")
	}
	if m.Len() != 0 {
		t.Fatal("key still present")
	}
	if m.String() != "n1" {
		t.Fatalf("unexpected name %q", m.String())
	}
}

func TestInMemoryCancelledContext(t *testing.T) {
	m := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.TrySetWithExpiry(ctx, "k", "a", time.Second); err == nil {
		t.Fatal("expected context error")
	}
	if m.Len() != 0 {
		t.Fatal("cancelled call must not store anything")
	}
}
