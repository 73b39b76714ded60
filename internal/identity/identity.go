// Package identity resolves wallet addresses to canonical user records.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/pkg/log"
)

// Resolver returns the canonical user for a wallet, creating the record on
// first sight.
type Resolver interface {
	Resolve(ctx context.Context, wallet string) (*domain.User, error)
}

// GormResolver implements Resolver against the platform user table.
type GormResolver struct {
	db *gorm.DB
}

func NewGormResolver(db *gorm.DB) (*GormResolver, error) {
	if err := db.AutoMigrate(&domain.UserModel{}); err != nil {
		return nil, err
	}
	return &GormResolver{db: db}, nil
}

func (r *GormResolver) Resolve(ctx context.Context, wallet string) (*domain.User, error) {
	if wallet == "" {
		return nil, errors.New("wallet is required")
	}

	l := log.Ctx(ctx)

	var model domain.UserModel
	err := r.db.WithContext(ctx).First(&model, "wallet = ?", wallet).Error
	if err == nil {
		return model.ToDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		l.Error().Err(err).Str(log.FieldWallet, wallet).Msg("failed to look up user")
		return nil, err
	}

	model = domain.UserModel{
		ID:       uuid.New().String(),
		Wallet:   wallet,
		Username: shortWallet(wallet),
	}
	// Two connections for the same wallet can race the first create.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldWallet, wallet).Msg("failed to create user")
		return nil, err
	}

	if err := r.db.WithContext(ctx).First(&model, "wallet = ?", wallet).Error; err != nil {
		return nil, err
	}

	l.Debug().Str(log.FieldWallet, wallet).Str(log.FieldUserID, model.ID).Msg("user resolved")
	return model.ToDomain(), nil
}

// shortWallet renders a display handle like 0x1234…abcd.
func shortWallet(wallet string) string {
	if len(wallet) <= 10 {
		return wallet
	}
	return fmt.Sprintf("%s…%s", wallet[:6], wallet[len(wallet)-4:])
}
