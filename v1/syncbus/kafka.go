package syncbus

import (
	"context"
	"log/slog"
	"sync"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic is the topic lock events are written to when none is given.
const DefaultKafkaTopic = "redlock-events"

// KafkaBus implements Bus on a single Kafka topic keyed by resource. All
// partitions are consumed once the first subscriber shows up; events for
// resources without local subscribers are dropped.
type KafkaBus struct {
	topic    string
	producer sarama.SyncProducer
	consumer sarama.Consumer
	client   sarama.Client
	subs     *subscribers

	mu        sync.Mutex
	consuming []sarama.PartitionConsumer
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, topic string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	b := NewKafkaBusFrom(producer, consumer, topic)
	b.client = client
	return b, nil
}

// NewKafkaBusFrom builds a KafkaBus on an existing producer and consumer.
func NewKafkaBusFrom(producer sarama.SyncProducer, consumer sarama.Consumer, topic string) *KafkaBus {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaBus{
		topic:    topic,
		producer: producer,
		consumer: consumer,
		subs:     newSubscribers(),
	}
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(ev.Resource),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.subs.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, resource string) (<-chan Event, error) {
	ch := b.subs.add(resource)
	if err := b.startConsuming(); err != nil {
		b.subs.remove(resource, ch)
		return nil, err
	}
	unsubscribeOnDone(ctx, b, resource, ch)
	return ch, nil
}

func (b *KafkaBus) startConsuming() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consuming != nil {
		return nil
	}
	partitions, err := b.consumer.Partitions(b.topic)
	if err != nil {
		return err
	}
	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, p := range partitions {
		pc, err := b.consumer.ConsumePartition(b.topic, p, sarama.OffsetNewest)
		if err != nil {
			for _, c := range pcs {
				_ = c.Close()
			}
			return err
		}
		pcs = append(pcs, pc)
	}
	for _, pc := range pcs {
		go b.dispatch(pc)
	}
	b.consuming = pcs
	return nil
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		ev, err := decodeEvent(msg.Value)
		if err != nil {
			slog.Warn("redlock: dropping malformed bus event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			continue
		}
		b.subs.deliver(ev)
	}
}

// Unsubscribe implements Bus.Unsubscribe. Partition consumers stay open
// until Close.
func (b *KafkaBus) Unsubscribe(ctx context.Context, resource string, ch <-chan Event) error {
	b.subs.remove(resource, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return b.subs.metrics()
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	for _, pc := range b.consuming {
		_ = pc.Close()
	}
	b.consuming = nil
	b.mu.Unlock()
	_ = b.producer.Close()
	_ = b.consumer.Close()
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
