package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/pkg/log"
)

// RedisRelay implements Relay on Redis pub/sub.
type RedisRelay struct {
	client        *redis.Client
	subscriptions []*redis.PubSub
	mu            sync.Mutex
}

func NewRedisRelay(cfg config.RedisConfig) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRelay{client: client}, nil
}

func (r *RedisRelay) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisRelay) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.PSubscribe(ctx, channelPattern)

	r.mu.Lock()
	r.subscriptions = append(r.subscriptions, pubsub)
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go r.processMessages(ctx, pubsub, eventCh)

	return eventCh, nil
}

func (r *RedisRelay) processMessages(ctx context.Context, pubsub *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
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
		}
	}
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pubsub := range r.subscriptions {
		pubsub.Close()
	}
	r.subscriptions = nil

	return r.client.Close()
}
