package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var memoryIDs atomic.Uint64

type entry struct {
	value     string
	expiresAt time.Time
}

// InMemory implements Node using a map guarded by a mutex. It is useful for
// tests and for single process setups that still want the quorum code path.
type InMemory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
	name  string
}

// InMemoryOption configures an InMemory node.
type InMemoryOption func(*InMemory)

// WithClock replaces time.Now, letting tests move expiry forward.
func WithClock(now func() time.Time) InMemoryOption {
	return func(m *InMemory) {
		m.now = now
	}
}

// WithMemoryName sets the name reported by String.
func WithMemoryName(name string) InMemoryOption {
	return func(m *InMemory) {
		m.name = name
	}
}

// NewInMemory returns an empty in-memory node.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		items: make(map[string]entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.name == "" {
		m.name = fmt.Sprintf("memory-%d", memoryIDs.Add(1))
	}
	return m
}

// live returns the entry for key, dropping it first if it has expired.
// Callers must hold m.mu.
func (m *InMemory) live(key string) (entry, bool) {
	e, ok := m.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.items, key)
		return entry{}, false
	}
	return e, true
}

// TrySetWithExpiry implements Node.TrySetWithExpiry.
func (m *InMemory) TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = e
	return true, nil
}

// CompareAndDelete implements Node.CompareAndDelete.
func (m *InMemory) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

// Value returns the value currently stored under key.
func (m *InMemory) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.value, ok
}

// Len returns the number of live keys.
func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		if _, ok := m.live(k); ok {
			n++
		}
	}
	return n
}

// String implements Node.String.
func (m *InMemory) String() string { return m.name }
