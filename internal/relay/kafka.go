package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/pkg/log"
)

// Every room channel maps onto one topic keyed by room id, so per-room
// ordering is preserved inside a partition.
const kafkaTopic = "chat-events"

// KafkaRelay implements Relay on Apache Kafka.
type KafkaRelay struct {
	producer *kafka.Producer
	config   config.KafkaConfig
	mu       sync.Mutex
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

func NewKafkaRelay(cfg config.KafkaConfig) (*KafkaRelay, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	r := &KafkaRelay{
		producer: p,
		config:   cfg,
		doneCh:   make(chan struct{}),
	}

	go r.deliveryReportHandler()

	if err := r.ensureTopic(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to ensure kafka topic (may already exist)")
	}

	return r, nil
}

func (r *KafkaRelay) ensureTopic() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": r.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             kafkaTopic,
		NumPartitions:     8,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	for _, res := range results {
		if res.Error.Code() != kafka.ErrNoError && res.Error.Code() != kafka.ErrTopicAlreadyExists {
			l := log.L()
			l.Warn().Str("topic", res.Topic).Str("error", res.Error.String()).Msg("failed to create topic")
		}
	}
	return nil
}

func (r *KafkaRelay) deliveryReportHandler() {
	for e := range r.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			l := log.L()
			l.Error().Err(ev.TopicPartition.Error).Msg("relay delivery failed")
		}
	}
	close(r.doneCh)
}

func (r *KafkaRelay) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := kafkaTopic
	err = r.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.RoomID),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// SubscribeAll consumes the whole relay topic. Every instance uses its own
// consumer group so each one sees every event.
func (r *KafkaRelay) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumer != nil {
		r.cancel()
		r.consumer.Close()
	}

	groupID := r.config.GroupID
	if groupID == "" {
		groupID = "chat-relay"
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       r.config.Brokers,
		"group.id":                groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(kafkaTopic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", kafkaTopic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	r.consumer = c
	r.cancel = cancel

	eventCh := make(chan *Event, 100)
	go r.consumeMessages(subCtx, c, eventCh)

	return eventCh, nil
}

func (r *KafkaRelay) consumeMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event) {
	defer close(eventCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("relay: dropping undecodable event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip; late joiners recover via replay.
			}

		case kafka.Error:
			l := log.L()
			l.Error().Str("error", e.String()).Bool("fatal", e.IsFatal()).Msg("relay consumer error")
			if e.IsFatal() {
				return
			}

		default:
			// Ignore other events
		}
	}
}

func (r *KafkaRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumer != nil {
		r.cancel()
		r.consumer.Close()
		r.consumer = nil
	}

	r.producer.Flush(5000)
	r.producer.Close()
	<-r.doneCh

	return nil
}
