package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coinpulse/chat-service/internal/audit"
	"github.com/coinpulse/chat-service/internal/client"
	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/internal/history"
	"github.com/coinpulse/chat-service/internal/hub"
	"github.com/coinpulse/chat-service/internal/identity"
	"github.com/coinpulse/chat-service/internal/presence"
	"github.com/coinpulse/chat-service/internal/relay"
	"github.com/coinpulse/chat-service/internal/store"
	"github.com/coinpulse/chat-service/pkg/log"
)

type chatService struct {
	hub          *hub.Hub
	store        store.Store
	history      *history.Service
	identity     identity.Resolver
	metadata     client.MetadataResolver
	presence     presence.Presence
	relay        relay.Relay // nil for single-instance deployments
	instanceID   string
	historyLimit int
}

func NewChatService(
	h *hub.Hub,
	st store.Store,
	hist *history.Service,
	resolver identity.Resolver,
	metadata client.MetadataResolver,
	pres presence.Presence,
	rel relay.Relay,
	instanceID string,
	historyLimit int,
) ChatService {
	if historyLimit < 1 {
		historyLimit = 50
	}
	return &chatService{
		hub:          h,
		store:        st,
		history:      hist,
		identity:     resolver,
		metadata:     metadata,
		presence:     pres,
		relay:        rel,
		instanceID:   instanceID,
		historyLimit: historyLimit,
	}
}

// HandleConnect resolves the wallet to a canonical user record. Resolution
// failure does not refuse the connection; the session keeps operating on its
// wallet identity alone.
func (s *chatService) HandleConnect(ctx context.Context, c *hub.Client) error {
	user, err := s.identity.Resolve(ctx, c.Session.GetWallet())
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldWallet, c.Session.GetWallet()).Msg("identity resolution failed")
		return err
	}
	c.Session.SetIdentity(user.ID, user.Username)
	return nil
}

func (s *chatService) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "roomId is required"))
	}
	if c.Session.GetCurrentRoom() == roomID {
		return nil
	}

	if _, err := s.store.EnsureRoom(ctx, roomID, c.Session.GetWallet()); err != nil {
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodePersistence, "Failed to open room"))
		return err
	}

	messages, err := s.history.Recent(ctx, roomID, s.historyLimit)
	if err != nil {
		// Membership is in-memory only, so the join can still proceed; the
		// session just misses its replay.
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("history replay fetch failed")
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodePersistence, "History unavailable"))
		messages = nil
	}

	// The store calls above are awaited; the session may have been torn
	// down meanwhile. Never resurrect it into a room set.
	if !s.hub.Contains(c.ID) {
		return fmt.Errorf("session %s disconnected during join", c.ID)
	}

	if c.Session.IsInRoom() {
		s.leaveCurrentRoom(ctx, c)
	}

	// Replay strictly oldest to newest, to the joining session only, queued
	// before the membership add so no live broadcast can get ahead of it.
	for i := range messages {
		if err := c.SendMessage(messages[i].ToEnvelope()); err != nil {
			break
		}
	}

	// The membership add re-checks registration under the hub lock; a
	// teardown that slipped in since the Contains check above loses the race
	// here instead of leaving a ghost member behind.
	if _, ok := s.hub.Join(c, roomID); !ok {
		return fmt.Errorf("session %s disconnected during join", c.ID)
	}

	if err := s.presence.Join(ctx, roomID, c.Session.GetWallet()); err != nil {
		ctxLogger := log.Ctx(ctx)
		ctxLogger.Warn().Err(err).Msg("presence join failed")
	}

	audit.Log(ctx, audit.ActionJoinRoom, c.Session.GetWallet(), "joined "+roomID)

	notice := domain.SystemEnvelope(roomID, c.Session.GetWallet(), fmt.Sprintf("%s joined the room", c.Session.GetWallet()))
	s.fanout(ctx, roomID, notice, c.ID)
	return nil
}

func (s *chatService) HandleLeaveRoom(ctx context.Context, c *hub.Client, roomID string) error {
	current := c.Session.GetCurrentRoom()
	if current == "" || (roomID != "" && roomID != current) {
		return nil
	}
	s.leaveCurrentRoom(ctx, c)
	audit.Log(ctx, audit.ActionLeaveRoom, c.Session.GetWallet(), "left "+current)
	return nil
}

// HandleDisconnect runs the member-left cascade for every teardown path.
func (s *chatService) HandleDisconnect(c *hub.Client) {
	if !c.Session.IsInRoom() {
		return
	}
	ctx := context.Background()
	s.leaveCurrentRoom(ctx, c)
	audit.Log(ctx, audit.ActionDisconnect, c.Session.GetWallet(), "disconnected")
}

func (s *chatService) leaveCurrentRoom(ctx context.Context, c *hub.Client) {
	roomID := c.Session.GetCurrentRoom()
	if roomID == "" {
		return
	}

	s.hub.Leave(c, roomID)

	if err := s.presence.Leave(ctx, roomID, c.Session.GetWallet()); err != nil {
		ctxLogger := log.Ctx(ctx)
		ctxLogger.Warn().Err(err).Msg("presence leave failed")
	}

	notice := domain.SystemEnvelope(roomID, c.Session.GetWallet(), fmt.Sprintf("%s left the room", c.Session.GetWallet()))
	s.fanout(ctx, roomID, notice, c.ID)
}

func (s *chatService) HandleSendMessage(ctx context.Context, c *hub.Client, cmd domain.SendMessageCommand) error {
	roomID, ok := s.roomFor(c, cmd.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotInRoom, "Not in this room"))
	}
	if cmd.Message == "" {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "message is required"))
	}

	msg := &domain.Message{
		RoomID:       roomID,
		SenderID:     c.Session.GetUserID(),
		SenderWallet: c.Session.GetWallet(),
		Body:         cmd.Message,
		Type:         domain.MessageTypeText,
		ReplyTo:      cmd.ReplyTo,
	}

	stored, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		// Nothing was broadcast; the client must resend.
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodePersistence, "Failed to send message"))
		return err
	}
	s.history.Invalidate(ctx, roomID)

	audit.Log(ctx, audit.ActionSendMessage, c.Session.GetWallet(), stored.ID)

	// The sender is included: it needs the authoritative id and timestamp.
	s.fanout(ctx, roomID, stored.ToEnvelope(), "")
	return nil
}

func (s *chatService) HandleShareToken(ctx context.Context, c *hub.Client, cmd domain.ShareTokenCommand) error {
	roomID, ok := s.roomFor(c, cmd.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotInRoom, "Not in this room"))
	}
	if cmd.RefID == "" {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "refId is required"))
	}

	meta, err := s.metadata.Resolve(ctx, cmd.RefID)
	if err != nil {
		if errors.Is(err, client.ErrRefNotFound) {
			return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotFound, "Unknown token reference"))
		}
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodeInternalError, "Failed to resolve token"))
		return err
	}

	msg := &domain.Message{
		RoomID:       roomID,
		SenderID:     c.Session.GetUserID(),
		SenderWallet: c.Session.GetWallet(),
		Body:         cmd.Message,
		Type:         domain.MessageTypeTokenShare,
		Metadata:     meta,
	}

	stored, err := s.store.AppendMessage(ctx, msg)
	if err != nil {
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodePersistence, "Failed to share token"))
		return err
	}
	s.history.Invalidate(ctx, roomID)

	audit.Log(ctx, audit.ActionShareToken, c.Session.GetWallet(), stored.ID)

	s.fanout(ctx, roomID, stored.ToEnvelope(), "")
	return nil
}

// HandleTyping is purely ephemeral: no persistence, no replay, best-effort
// delivery to everyone but the sender.
func (s *chatService) HandleTyping(ctx context.Context, c *hub.Client, roomID string) error {
	roomID, ok := s.roomFor(c, roomID)
	if !ok {
		return nil
	}

	s.fanout(ctx, roomID, &domain.Envelope{
		Type:         domain.MsgTypeTyping,
		RoomID:       roomID,
		SenderID:     c.Session.GetUserID(),
		SenderWallet: c.Session.GetWallet(),
		Timestamp:    time.Now().UTC(),
	}, c.ID)
	return nil
}

func (s *chatService) HandleReaction(ctx context.Context, c *hub.Client, cmd domain.ReactionCommand) error {
	roomID, ok := s.roomFor(c, cmd.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotInRoom, "Not in this room"))
	}
	if cmd.MessageID == "" || cmd.Emoji == "" {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "messageId and emoji are required"))
	}

	updated, err := s.store.ToggleReaction(ctx, cmd.MessageID, c.Session.GetWallet(), cmd.Emoji)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotFound, "Unknown message"))
		}
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodePersistence, "Failed to update reaction"))
		return err
	}
	s.history.Invalidate(ctx, roomID)

	audit.Log(ctx, audit.ActionReaction, c.Session.GetWallet(), cmd.MessageID)

	s.fanout(ctx, roomID, &domain.Envelope{
		Type:         domain.MsgTypeReaction,
		RoomID:       roomID,
		SenderWallet: c.Session.GetWallet(),
		MessageID:    cmd.MessageID,
		Emoji:        cmd.Emoji,
		Reactions:    updated,
		Timestamp:    time.Now().UTC(),
	}, "")
	return nil
}

func (s *chatService) HandleEdit(ctx context.Context, c *hub.Client, cmd domain.EditCommand) error {
	roomID, ok := s.roomFor(c, cmd.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotInRoom, "Not in this room"))
	}
	if cmd.MessageID == "" || cmd.Message == "" {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "messageId and message are required"))
	}

	updated, err := s.store.UpdateBody(ctx, cmd.MessageID, c.Session.GetWallet(), cmd.Message)
	if err != nil {
		return s.rejectMutation(c, err, "Failed to edit message")
	}
	s.history.Invalidate(ctx, roomID)

	audit.Log(ctx, audit.ActionEdit, c.Session.GetWallet(), cmd.MessageID)

	// Broadcast under the edit type so clients patch in place instead of
	// inferring the update from a duplicate message id.
	env := updated.ToEnvelope()
	env.Type = domain.MsgTypeEdit
	s.fanout(ctx, roomID, env, "")
	return nil
}

// HandlePin applies the same ownership check as edit: only the original
// sender wallet may pin or unpin its message.
func (s *chatService) HandlePin(ctx context.Context, c *hub.Client, cmd domain.PinCommand) error {
	roomID, ok := s.roomFor(c, cmd.RoomID)
	if !ok {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotInRoom, "Not in this room"))
	}
	if cmd.MessageID == "" {
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeBadRequest, "messageId is required"))
	}

	updated, err := s.store.SetPinned(ctx, cmd.MessageID, c.Session.GetWallet(), cmd.IsPinned)
	if err != nil {
		return s.rejectMutation(c, err, "Failed to pin message")
	}
	s.history.Invalidate(ctx, roomID)

	audit.Log(ctx, audit.ActionPin, c.Session.GetWallet(), cmd.MessageID)

	env := updated.ToEnvelope()
	env.Type = domain.MsgTypePin
	pinned := updated.Pinned
	env.IsPinned = &pinned
	s.fanout(ctx, roomID, env, "")
	return nil
}

// rejectMutation maps store errors on edit/pin to targeted error frames.
// Nothing is broadcast on any of these paths.
func (s *chatService) rejectMutation(c *hub.Client, err error, persistMsg string) error {
	switch {
	case errors.Is(err, store.ErrNotOwner):
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeForbidden, "Only the sender may modify this message"))
	case errors.Is(err, store.ErrMessageNotFound):
		return c.SendMessage(domain.NewErrorFrame(domain.ErrCodeNotFound, "Unknown message"))
	default:
		c.SendMessage(domain.NewErrorFrame(domain.ErrCodePersistence, persistMsg))
		return err
	}
}

// roomFor validates that the session currently belongs to the room named by
// the command. An empty command room falls back to the session's room.
func (s *chatService) roomFor(c *hub.Client, requested string) (string, bool) {
	current := c.Session.GetCurrentRoom()
	if current == "" {
		return "", false
	}
	if requested != "" && requested != current {
		return "", false
	}
	return current, true
}

// fanout delivers to local members and, when a relay is configured,
// publishes for members hosted on other instances.
func (s *chatService) fanout(ctx context.Context, roomID string, payload interface{}, exclude string) {
	if err := s.hub.Broadcast(roomID, payload, exclude); err != nil {
		ctxLogger := log.Ctx(ctx)
		ctxLogger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("local broadcast failed")
	}

	if s.relay == nil {
		return
	}

	eventType := domain.MsgTypeSystem
	if env, ok := payload.(*domain.Envelope); ok {
		eventType = env.Type
	}
	ev, err := relay.NewEvent(eventType, roomID, s.instanceID, exclude, payload)
	if err != nil {
		ctxLogger := log.Ctx(ctx)
		ctxLogger.Error().Err(err).Msg("relay event build failed")
		return
	}
	if err := s.relay.Publish(ctx, relay.RoomChannel(roomID), ev); err != nil {
		ctxLogger := log.Ctx(ctx)
		ctxLogger.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("relay publish failed")
	}
}

func (s *chatService) Start(ctx context.Context) error {
	if err := s.presence.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to start presence heartbeat: %w", err)
	}

	if s.relay != nil {
		events, err := s.relay.SubscribeAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to relay: %w", err)
		}
		go s.relayLoop(ctx, events)
	}

	l := log.L()
	l.Info().Str(log.FieldInstance, s.instanceID).Msg("chat service started")
	return nil
}

// relayLoop pushes broadcasts from other instances to local room members.
func (s *chatService) relayLoop(ctx context.Context, events <-chan *relay.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Origin == s.instanceID {
				continue
			}
			s.hub.BroadcastRaw(ev.RoomID, ev.Payload, ev.Exclude)
		}
	}
}

func (s *chatService) Stop() error {
	s.presence.StopHeartbeat()
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			l := log.L()
			l.Error().Err(err).Msg("failed to close relay")
		}
	}
	return nil
}
