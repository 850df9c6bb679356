package syncbus

import (
	"context"
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before event")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestInMemoryBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, Event{Kind: KindReleased, Resource: "res", Owner: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := waitEvent(t, ch)
	if ev.Kind != KindReleased || ev.Owner != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}
	metrics := bus.Metrics()
	if metrics.Published != 1 || metrics.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

func TestInMemoryBusOnlyMatchingResource(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, "a")
	_ = bus.Publish(ctx, Event{Kind: KindAcquired, Resource: "b"})
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInMemoryBusFullBufferDoesNotBlock(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, "res")
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, Event{Kind: KindReleased, Resource: "res"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitEvent(t, ch)
	if m := bus.Metrics(); m.Published != 5 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestInMemoryBusContextBasedUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(subCtx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unsubscribe")
	}
	if bus.subs.has("res") {
		t.Fatal("subscription still present after context cancel")
	}
}

func TestKindString(t *testing.T) {
	if KindAcquired.String() != "acquired" || KindReleased.String() != "released" || Kind(0).String() != "unknown" {
		t.Fatal("unexpected kind names")
	}
}

func TestEventCodecRoundTrip(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	data, err := encodeEvent(Event{Kind: KindAcquired, Resource: "orders/42", Owner: "o", At: at})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := decodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Resource != "orders/42" || !ev.At.Equal(at) || ev.Kind != KindAcquired {
		t.Fatalf("unexpected event %+v", ev)
	}
	if tok := subjectToken("a.b*>"); tok == "" || tok == "a.b*>" {
		t.Fatalf("subject token not escaped: %q", tok)
	}
}
