package service

import (
	"context"

	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/internal/hub"
)

// ChatService executes decoded commands against the hub, the store, and the
// collaborators. One method per protocol command plus the connection
// lifecycle hooks.
type ChatService interface {
	HandleConnect(ctx context.Context, client *hub.Client) error
	HandleJoinRoom(ctx context.Context, client *hub.Client, roomID string) error
	HandleLeaveRoom(ctx context.Context, client *hub.Client, roomID string) error
	HandleSendMessage(ctx context.Context, client *hub.Client, cmd domain.SendMessageCommand) error
	HandleShareToken(ctx context.Context, client *hub.Client, cmd domain.ShareTokenCommand) error
	HandleTyping(ctx context.Context, client *hub.Client, roomID string) error
	HandleReaction(ctx context.Context, client *hub.Client, cmd domain.ReactionCommand) error
	HandleEdit(ctx context.Context, client *hub.Client, cmd domain.EditCommand) error
	HandlePin(ctx context.Context, client *hub.Client, cmd domain.PinCommand) error
	HandleDisconnect(client *hub.Client)
	Start(ctx context.Context) error
	Stop() error
}
