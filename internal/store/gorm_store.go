package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/pkg/log"
)

// GormStore implements Store on top of GORM (postgres/mysql/sqlite).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the store and migrates its tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&domain.RoomModel{}, &domain.MessageModel{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) EnsureRoom(ctx context.Context, id, creatorWallet string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	var model domain.RoomModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err == nil {
		return model.ToDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		l.Error().Err(err).Str(log.FieldRoomID, id).Msg("failed to look up room")
		return nil, err
	}

	model = domain.RoomModel{
		ID:            id,
		Name:          id,
		CreatorWallet: creatorWallet,
	}
	// Two sessions can race on first join; the conflict clause makes the
	// create-if-absent a single idempotent write.
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, id).Msg("failed to create room")
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	l.Debug().Str(log.FieldRoomID, id).Msg("room ensured")
	return model.ToDomain(), nil
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	l := log.Ctx(ctx)

	stored := *msg
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	model := domain.MessageToModel(&stored)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("failed to append message")
		return nil, err
	}

	l.Debug().
		Str(log.FieldMessageID, stored.ID).
		Str(log.FieldRoomID, stored.RoomID).
		Msg("message appended")
	return model.ToDomain(), nil
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *GormStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	if limit < 1 {
		limit = 50
	}

	// An unknown room reads as ErrRoomNotFound, not as an empty history.
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&domain.RoomModel{}).
		Where("id = ?", roomID).
		Count(&count).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to look up room")
		return nil, err
	}
	if count == 0 {
		return nil, ErrRoomNotFound
	}

	var models []domain.MessageModel
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to fetch recent messages")
		return nil, err
	}

	// Query newest-first for the index, deliver oldest-first for replay.
	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[len(models)-1-i] = *model.ToDomain()
	}
	return messages, nil
}

func (s *GormStore) UpdateBody(ctx context.Context, id, wallet, body string) (*domain.Message, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderWallet != wallet {
		return nil, ErrNotOwner
	}

	if err := s.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"body": body, "edited": true}).Error; err != nil {
		return nil, err
	}

	msg.Body = body
	msg.Edited = true
	return msg, nil
}

func (s *GormStore) SetPinned(ctx context.Context, id, wallet string, pinned bool) (*domain.Message, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderWallet != wallet {
		return nil, ErrNotOwner
	}

	if err := s.db.WithContext(ctx).
		Model(&domain.MessageModel{}).
		Where("id = ?", id).
		Update("pinned", pinned).Error; err != nil {
		return nil, err
	}

	msg.Pinned = pinned
	return msg, nil
}

func (s *GormStore) ToggleReaction(ctx context.Context, id, wallet, emoji string) (domain.ReactionMap, error) {
	var updated domain.ReactionMap

	// Read-modify-write inside one transaction so concurrent toggles on the
	// same message serialize.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.MessageModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}

		updated = model.Reactions.Toggle(emoji, wallet)
		return tx.Model(&domain.MessageModel{}).
			Where("id = ?", id).
			Update("reactions", updated).Error
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
