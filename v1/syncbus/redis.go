package syncbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	redisBusTimeout    = 5 * time.Second
	redisChannelPrefix = "redlock:events:"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-redlock/v1/syncbus")

// RedisBus implements Bus using Redis pub/sub. One Redis subscription is kept
// per resource with at least one local subscriber.
type RedisBus struct {
	client redis.UniversalClient
	subs   *subscribers

	mu      sync.Mutex
	pubsubs map[string]*redis.PubSub
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{
		client:  client,
		subs:    newSubscribers(),
		pubsubs: make(map[string]*redis.PubSub),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	ctx, span := tracer.Start(ctx, "RedisBus.Publish", trace.WithAttributes(
		attribute.String("redlock.resource", ev.Resource),
		attribute.String("redlock.event", ev.Kind.String()),
	))
	defer span.End()

	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, redisChannelPrefix+ev.Resource, data).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	b.subs.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, resource string) (<-chan Event, error) {
	ch := b.subs.add(resource)

	b.mu.Lock()
	if _, ok := b.pubsubs[resource]; !ok {
		ps := b.client.Subscribe(context.Background(), redisChannelPrefix+resource)
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			b.mu.Unlock()
			_ = ps.Close()
			b.subs.remove(resource, ch)
			return nil, err
		}
		b.pubsubs[resource] = ps
		go b.dispatch(ps)
	}
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, resource, ch)
	return ch, nil
}

func (b *RedisBus) dispatch(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		ev, err := decodeEvent([]byte(msg.Payload))
		if err != nil {
			slog.Warn("redlock: dropping malformed bus event", "channel", msg.Channel, "error", err)
			continue
		}
		b.subs.deliver(ev)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, resource string, ch <-chan Event) error {
	b.subs.remove(resource, ch)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs.has(resource) {
		return nil
	}
	ps, ok := b.pubsubs[resource]
	if !ok {
		return nil
	}
	delete(b.pubsubs, resource)
	return ps.Close()
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return b.subs.metrics()
}

// Close drops every Redis subscription. The client itself is left open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for resource, ps := range b.pubsubs {
		_ = ps.Close()
		delete(b.pubsubs, resource)
	}
	return nil
}
