package store

import (
	"context"
	"errors"

	"github.com/coinpulse/chat-service/internal/domain"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotOwner        = errors.New("wallet does not own message")
)

// Store is the durable persistence gateway consumed by the chat core. Every
// call may fail independently; a failure never corrupts in-memory room state,
// it only prevents the corresponding broadcast.
type Store interface {
	// EnsureRoom returns the room with the given id, creating the durable
	// record if absent.
	EnsureRoom(ctx context.Context, id, creatorWallet string) (*domain.Room, error)

	// AppendMessage persists msg, assigning the authoritative id and
	// creation timestamp, and returns the stored record.
	AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// GetMessage returns a message by id or ErrMessageNotFound.
	GetMessage(ctx context.Context, id string) (*domain.Message, error)

	// RecentMessages returns up to limit newest messages for the room,
	// ordered oldest to newest, or ErrRoomNotFound when no such room
	// exists. Replies on join-time replay.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error)

	// UpdateBody replaces the message body and marks it edited, enforcing
	// that wallet matches the original sender (ErrNotOwner otherwise).
	UpdateBody(ctx context.Context, id, wallet, body string) (*domain.Message, error)

	// SetPinned flips the pinned flag, enforcing sender ownership.
	SetPinned(ctx context.Context, id, wallet string, pinned bool) (*domain.Message, error)

	// ToggleReaction toggles the (wallet, emoji) pair on the message's
	// reaction map and returns the updated map. The toggle is idempotent:
	// applying the same pair twice restores the previous map.
	ToggleReaction(ctx context.Context, id, wallet, emoji string) (domain.ReactionMap, error)

	Close() error
}
