package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const headerEventType = "event_type"

// DefaultDeliveryTimeout caps how long a record may wait for the broker,
// including metadata loads and retries.
const DefaultDeliveryTimeout = 10 * time.Second

// KafkaPublisher produces events to a single topic, keyed by purchase reference
// so events for one purchase stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type KafkaOption func(*kafkaOptions)

type kafkaOptions struct {
	clientID        string
	logger          *slog.Logger
	deliveryTimeout time.Duration
}

func WithClientID(id string) KafkaOption {
	return func(o *kafkaOptions) {
		o.clientID = id
	}
}

// WithDeliveryTimeout overrides DefaultDeliveryTimeout. Non-positive values are ignored.
func WithDeliveryTimeout(d time.Duration) KafkaOption {
	return func(o *kafkaOptions) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(o *kafkaOptions) {
		o.logger = logger
	}
}

// NewKafkaPublisher connects a producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	o := &kafkaOptions{clientID: "bundlesync", logger: slog.Default(), deliveryTimeout: DefaultDeliveryTimeout}
	for _, opt := range opts {
		opt(o)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(o.clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(o.deliveryTimeout),
		kgo.ProduceRequestTimeout(o.deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: o.logger}, nil
}

// Publish writes one event and waits for the broker acknowledgement or for ctx
// to end, whichever comes first. A record abandoned on ctx is still failed by
// the client once its delivery timeout passes.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	record, err := toRecord(p.topic, event)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		done <- err
	})
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	p.logger.DebugContext(ctx, "event published",
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", p.topic,
	)
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(p.client)
	responses, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, resp := range responses {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Ping checks broker connectivity.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close releases the underlying client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func toRecord(topic string, event Event) (*kgo.Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.PurchaseReference),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: headerEventType, Value: []byte(event.Type)},
		},
	}, nil
}

var _ Publisher = (*KafkaPublisher)(nil)
