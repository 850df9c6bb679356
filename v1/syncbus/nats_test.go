package syncbus

import (
	"context"
	"os"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func newNATSBus(t *testing.T) (*NATSBus, *nats.Conn, context.Context) {
	t.Helper()
	addr := os.Getenv("REDLOCK_TEST_NATS_ADDR")

	var conn *nats.Conn
	var s *server.Server
	var err error

	if addr != "" {
		t.Logf("TestNATSBus: using real NATS at %s", addr)
		conn, err = nats.Connect(addr)
	} else {
		s = natsserver.RunRandClientPortServer()
		conn, err = nats.Connect(s.ClientURL())
	}
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return NewNATSBus(conn), conn, context.Background()
}

func TestNATSBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus, conn, ctx := newNATSBus(t)
	ch, err := bus.Subscribe(ctx, "orders.42")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := bus.Publish(ctx, Event{Kind: KindAcquired, Resource: "orders.42"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := waitEvent(t, ch)
	if ev.Resource != "orders.42" || ev.Kind != KindAcquired {
		t.Fatalf("unexpected event %+v", ev)
	}
	if m := bus.Metrics(); m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestNATSBusUnsubscribeDropsRemote(t *testing.T) {
	bus, _, ctx := newNATSBus(t)
	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "res", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed")
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.remote["res"]; ok {
		t.Fatal("nats subscription still present")
	}
}
