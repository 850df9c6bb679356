package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Kind tells what happened to a lock.
type Kind uint8

const (
	KindAcquired Kind = iota + 1
	KindReleased
)

func (k Kind) String() string {
	switch k {
	case KindAcquired:
		return "acquired"
	case KindReleased:
		return "released"
	}
	return "unknown"
}

// Event announces a lock transition. It never carries the lock token.
type Event struct {
	Kind     Kind      `json:"k"`
	Resource string    `json:"r"`
	Owner    string    `json:"o,omitempty"`
	At       time.Time `json:"t"`
}

// Bus propagates lock events between coordinators so that waiters can retry
// as soon as a resource is released instead of sleeping out their backoff.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, resource string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, resource string, ch <-chan Event) error
}

type Metrics struct {
	Published uint64
	Delivered uint64
}

// subscribers keeps the local fan-out table shared by every Bus
// implementation.
type subscribers struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[string][]chan Event)}
}

func (s *subscribers) add(resource string) chan Event {
	ch := make(chan Event, 1)
	s.mu.Lock()
	s.subs[resource] = append(s.subs[resource], ch)
	s.mu.Unlock()
	return ch
}

// remove closes ch and forgets it.
func (s *subscribers) remove(resource string, ch <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans, ok := s.subs[resource]
	if !ok {
		return
	}
	for i, c := range chans {
		if c == ch {
			chans[i] = chans[len(chans)-1]
			chans = chans[:len(chans)-1]
			close(c)
			break
		}
	}
	if len(chans) == 0 {
		delete(s.subs, resource)
		return
	}
	s.subs[resource] = chans
}

func (s *subscribers) has(resource string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[resource]) > 0
}

// deliver hands ev to every local subscriber without blocking. A subscriber
// whose buffer is full already has a pending wake-up.
func (s *subscribers) deliver(ev Event) {
	s.mu.Lock()
	for _, ch := range s.subs[ev.Resource] {
		select {
		case ch <- ev:
			s.delivered.Add(1)
		default:
		}
	}
	s.mu.Unlock()
}

func (s *subscribers) metrics() Metrics {
	return Metrics{
		Published: s.published.Load(),
		Delivered: s.delivered.Load(),
	}
}

// unsubscribeOnDone removes ch once ctx is cancelled.
func unsubscribeOnDone(ctx context.Context, b Bus, resource string, ch <-chan Event) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), resource, ch)
	}()
}

// InMemoryBus is a process local implementation of Bus.
type InMemoryBus struct {
	subs *subscribers
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: newSubscribers()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.subs.published.Add(1)
	b.subs.deliver(ev)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, resource string) (<-chan Event, error) {
	ch := b.subs.add(resource)
	unsubscribeOnDone(ctx, b, resource, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, resource string, ch <-chan Event) error {
	b.subs.remove(resource, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return b.subs.metrics()
}
