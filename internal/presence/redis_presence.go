package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/pkg/log"
)

// RedisPresence keeps one Redis set of online wallets per room. Keys carry a
// TTL and are refreshed by a heartbeat loop, so a crashed instance's members
// age out on their own.
type RedisPresence struct {
	client            *redis.Client
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]struct{} // room keys this instance contributes to
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

func NewRedisPresence(cfg config.PresenceConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPresence{
		client:            client,
		prefix:            cfg.Prefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]struct{}),
	}, nil
}

func (p *RedisPresence) keyFor(roomID string) string {
	return fmt.Sprintf("%s:room:%s", p.prefix, roomID)
}

func (p *RedisPresence) Join(ctx context.Context, roomID, wallet string) error {
	key := p.keyFor(roomID)

	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, wallet)
	pipe.Expire(ctx, key, p.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}

	p.mu.Lock()
	p.managedKeys[key] = struct{}{}
	p.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldWallet, wallet).Msg("presence joined")
	return nil
}

func (p *RedisPresence) Leave(ctx context.Context, roomID, wallet string) error {
	key := p.keyFor(roomID)

	if err := p.client.SRem(ctx, key, wallet).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}

	n, err := p.client.SCard(ctx, key).Result()
	if err == nil && n == 0 {
		p.mu.Lock()
		delete(p.managedKeys, key)
		p.mu.Unlock()
	}

	l := log.L()
	l.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldWallet, wallet).Msg("presence left")
	return nil
}

func (p *RedisPresence) Online(ctx context.Context, roomID string) ([]string, error) {
	wallets, err := p.client.SMembers(ctx, p.keyFor(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return wallets, nil
}

func (p *RedisPresence) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", p.heartbeatInterval).Dur("ttl", p.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (p *RedisPresence) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshKeys(ctx)
		}
	}
}

func (p *RedisPresence) refreshKeys(ctx context.Context) {
	p.mu.RLock()
	keys := make([]string, 0, len(p.managedKeys))
	for k := range p.managedKeys {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	for _, key := range keys {
		if err := p.client.Expire(ctx, key, p.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str("key", key).Err(err).Msg("failed to refresh presence key")
		}
	}
}

func (p *RedisPresence) StopHeartbeat() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *RedisPresence) Close() error {
	p.StopHeartbeat()
	return p.client.Close()
}

// Noop is the disabled-presence implementation.
type Noop struct{}

func (Noop) Join(context.Context, string, string) error  { return nil }
func (Noop) Leave(context.Context, string, string) error { return nil }
func (Noop) Online(context.Context, string) ([]string, error) {
	return nil, nil
}
func (Noop) StartHeartbeat(context.Context) error { return nil }
func (Noop) StopHeartbeat()                       {}
func (Noop) Close() error                         { return nil }
