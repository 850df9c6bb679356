package syncbus

import (
	"context"
	"log/slog"
	"sync"

	nats "github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "redlock.events."

// NATSBus implements Bus using core NATS subjects, one per resource.
type NATSBus struct {
	conn *nats.Conn
	subs *subscribers

	mu     sync.Mutex
	remote map[string]*nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn:   conn,
		subs:   newSubscribers(),
		remote: make(map[string]*nats.Subscription),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(natsSubjectPrefix+subjectToken(ev.Resource), data); err != nil {
		return err
	}
	b.subs.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, resource string) (<-chan Event, error) {
	ch := b.subs.add(resource)

	b.mu.Lock()
	if _, ok := b.remote[resource]; !ok {
		sub, err := b.conn.Subscribe(natsSubjectPrefix+subjectToken(resource), func(msg *nats.Msg) {
			ev, err := decodeEvent(msg.Data)
			if err != nil {
				slog.Warn("redlock: dropping malformed bus event", "subject", msg.Subject, "error", err)
				return
			}
			b.subs.deliver(ev)
		})
		if err != nil {
			b.mu.Unlock()
			b.subs.remove(resource, ch)
			return nil, err
		}
		b.remote[resource] = sub
	}
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, resource, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, resource string, ch <-chan Event) error {
	b.subs.remove(resource, ch)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs.has(resource) {
		return nil
	}
	sub, ok := b.remote[resource]
	if !ok {
		return nil
	}
	delete(b.remote, resource)
	return sub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return b.subs.metrics()
}
