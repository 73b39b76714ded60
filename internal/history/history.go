// Package history serves recent-message reads for join-time replay and the
// REST history endpoint, with an optional cache in front of the store.
package history

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coinpulse/chat-service/internal/cache"
	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/internal/store"
	"github.com/coinpulse/chat-service/pkg/log"
)

type Service struct {
	store    store.Store
	cache    cache.MessageCache // nil when caching is disabled
	cacheTTL time.Duration
	sf       singleflight.Group
}

func New(st store.Store, msgCache cache.MessageCache, cacheTTL time.Duration) *Service {
	return &Service{
		store:    st,
		cache:    msgCache,
		cacheTTL: cacheTTL,
	}
}

// Recent returns up to limit persisted messages for the room, oldest to
// newest. Concurrent callers for the same room share one store read.
func (s *Service) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if s.cache == nil {
		return s.store.RecentMessages(ctx, roomID, limit)
	}

	key := s.cache.BuildKey(roomID, limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fetchWithCache(ctx, roomID, limit, key)
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]domain.Message)
	if !ok {
		return nil, errors.New("unexpected result type from singleflight")
	}
	return messages, nil
}

func (s *Service) fetchWithCache(ctx context.Context, roomID string, limit int, key string) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	cached, err := s.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("history cache read failed, falling back to store")
	}

	messages, err := s.store.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, messages, s.cacheTTL); err != nil {
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("history cache write failed")
	}
	return messages, nil
}

// Invalidate drops cached pages for the room after an append.
func (s *Service) Invalidate(ctx context.Context, roomID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, roomID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("history cache invalidation failed")
	}
}
