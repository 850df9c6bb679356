package syncbus

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
)

func TestKafkaBusWithMocks(t *testing.T) {
	cfg := sarama.NewConfig()
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		ev, err := decodeEvent(val)
		if err != nil {
			return err
		}
		if ev.Resource != "res" || ev.Kind != KindReleased {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})
	consumer := mocks.NewConsumer(t, cfg)
	consumer.SetTopicMetadata(map[string][]int32{DefaultKafkaTopic: {0}})
	pc := consumer.ExpectConsumePartition(DefaultKafkaTopic, 0, sarama.OffsetNewest)

	bus := NewKafkaBusFrom(producer, consumer, "")
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, Event{Kind: KindReleased, Resource: "res"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	data, _ := encodeEvent(Event{Kind: KindReleased, Resource: "res"})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("not json")})
	pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("res"), Value: data})

	ev := waitEvent(t, ch)
	if ev.Resource != "res" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if m := bus.Metrics(); m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
}

func TestKafkaBusRealBroker(t *testing.T) {
	addr := os.Getenv("REDLOCK_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("REDLOCK_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}
	topic := "redlock-test-" + uuid.NewString()
	bus, err := NewKafkaBus([]string{addr}, topic, nil)
	if err != nil {
		t.Fatalf("NewKafkaBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	// first publish creates the topic on brokers with auto-create enabled
	if err := bus.Publish(ctx, Event{Kind: KindAcquired, Resource: "warmup"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ch, err := bus.Subscribe(ctx, "res")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(2 * time.Second)
	if err := bus.Publish(ctx, Event{Kind: KindReleased, Resource: "res"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}
