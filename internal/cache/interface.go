package cache

import (
	"context"
	"errors"
	"time"

	"github.com/coinpulse/chat-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// MessageCache holds recent-message pages keyed by room, shielding the store
// from replay stampedes when many sessions join a room at once.
type MessageCache interface {
	BuildKey(roomID string, limit int) string
	Get(ctx context.Context, key string) ([]domain.Message, error)
	Set(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error
	Invalidate(ctx context.Context, roomID string) error
	Close() error
}
