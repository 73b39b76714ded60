package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/internal/hub"
	"github.com/coinpulse/chat-service/internal/service"
	"github.com/coinpulse/chat-service/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
}

// HandleWebSocket upgrades the connection and runs the session lifecycle.
// A connection without a wallet identity is refused with a policy-violation
// close before anything is registered.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	wallet := c.Query("wallet")
	room := c.Query("room")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if wallet == "" {
		deadline := time.Now().Add(h.wsCfg.WriteWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "wallet identity required"),
			deadline)
		conn.Close()
		return
	}

	client := hub.NewClient(uuid.New().String(), wallet, h.hub, conn, h.wsCfg)
	client.OnClose = h.service.HandleDisconnect

	h.hub.Register(client)
	go client.WritePump()

	ctx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldClientID, client.ID).
		Str(log.FieldWallet, wallet).
		Logger())

	if err := h.service.HandleConnect(ctx, client); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("connect hook failed")
	}

	if room != "" {
		if err := h.service.HandleJoinRoom(ctx, client, room); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoomID, room).Msg("initial join failed")
		}
	}

	go client.ReadPump(h.handleMessage)
}

// handleMessage decodes one inbound frame into its typed command and runs
// it. Malformed or unknown frames are logged and dropped; they never close
// the session and never produce a broadcast.
func (h *WSHandler) handleMessage(c *hub.Client, message []byte) {
	ctx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldClientID, c.ID).
		Str(log.FieldWallet, c.Session.GetWallet()).
		Logger())
	l := log.Ctx(ctx)

	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		l.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var cmd domain.JoinRoomCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandleJoinRoom(ctx, c, cmd.RoomID); err != nil {
			l.Warn().Err(err).Msg("join_room failed")
		}

	case domain.MsgTypeLeaveRoom:
		var cmd domain.LeaveRoomCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandleLeaveRoom(ctx, c, cmd.RoomID); err != nil {
			l.Warn().Err(err).Msg("leave_room failed")
		}

	case domain.MsgTypeSendMessage:
		var cmd domain.SendMessageCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandleSendMessage(ctx, c, cmd); err != nil {
			l.Warn().Err(err).Msg("send_message failed")
		}

	case domain.MsgTypeShareToken:
		var cmd domain.ShareTokenCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandleShareToken(ctx, c, cmd); err != nil {
			l.Warn().Err(err).Msg("share_token failed")
		}

	case domain.MsgTypeTyping:
		var cmd domain.TypingCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			return
		}
		if err := h.service.HandleTyping(ctx, c, cmd.RoomID); err != nil {
			l.Warn().Err(err).Msg("typing failed")
		}

	case domain.MsgTypeReaction:
		var cmd domain.ReactionCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandleReaction(ctx, c, cmd); err != nil {
			l.Warn().Err(err).Msg("reaction failed")
		}

	case domain.MsgTypeEdit:
		var cmd domain.EditCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandleEdit(ctx, c, cmd); err != nil {
			l.Warn().Err(err).Msg("edit failed")
		}

	case domain.MsgTypePin:
		var cmd domain.PinCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			l.Warn().Err(err).Str(log.FieldMsgType, base.Type).Msg("dropping malformed frame")
			return
		}
		if err := h.service.HandlePin(ctx, c, cmd); err != nil {
			l.Warn().Err(err).Msg("pin failed")
		}

	default:
		// Forward-incompatible frames must never close a session.
		l.Warn().Str(log.FieldMsgType, base.Type).Msg("dropping frame with unknown type")
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
