package handler

import (
	"errors"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coinpulse/chat-service/internal/history"
	"github.com/coinpulse/chat-service/internal/hub"
	"github.com/coinpulse/chat-service/internal/presence"
	"github.com/coinpulse/chat-service/internal/store"
	"github.com/coinpulse/chat-service/pkg/log"
	"github.com/coinpulse/chat-service/pkg/response"
)

// HTTPHandler serves the read-only REST surface next to the WebSocket
// endpoint: recent history and room occupancy.
type HTTPHandler struct {
	hub      *hub.Hub
	history  *history.Service
	presence presence.Presence
	limit    int
}

func NewHTTPHandler(h *hub.Hub, hist *history.Service, pres presence.Presence, historyLimit int) *HTTPHandler {
	return &HTTPHandler{
		hub:      h,
		history:  hist,
		presence: pres,
		limit:    historyLimit,
	}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// GetMessages returns the most recent messages of a room, oldest first.
func (h *HTTPHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		response.BadRequest(c, "room id is required")
		return
	}

	limit := h.limit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	messages, err := h.history.Recent(c.Request.Context(), roomID, limit)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			response.NotFound(c, "room not found")
			return
		}
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("history lookup failed")
		response.InternalError(c, "failed to load messages")
		return
	}

	response.Success(c, gin.H{
		"roomId":   roomID,
		"messages": messages,
		"count":    len(messages),
	})
}

// GetOnline reports the wallets currently present in a room. The shared
// registry is authoritative when enabled; otherwise the local hub answers.
func (h *HTTPHandler) GetOnline(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		response.BadRequest(c, "room id is required")
		return
	}

	wallets, err := h.presence.Online(c.Request.Context(), roomID)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("presence lookup failed, falling back to local hub")
	}
	if len(wallets) == 0 {
		seen := make(map[string]struct{})
		for _, cl := range h.hub.Snapshot(roomID, "") {
			seen[cl.Session.GetWallet()] = struct{}{}
		}
		wallets = make([]string, 0, len(seen))
		for w := range seen {
			wallets = append(wallets, w)
		}
		sort.Strings(wallets)
	}

	response.Success(c, gin.H{
		"roomId":  roomID,
		"wallets": wallets,
		"count":   len(wallets),
	})
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("/:id/messages", h.GetMessages)
			rooms.GET("/:id/online", h.GetOnline)
		}
	}
}
