package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/pkg/log"
)

// Hub owns the set of live clients and the per-room membership sets. All map
// access goes through the mutex; fan-out runs on a single loop so broadcast
// order within a room matches enqueue order on this node.
type Hub struct {
	clients   map[string]*Client            // clientID -> client
	rooms     map[string]map[string]*Client // roomID -> clientID -> client
	broadcast chan *roomBroadcast
	mu        sync.RWMutex
	config    config.WebSocketConfig
}

type roomBroadcast struct {
	roomID  string
	payload []byte
	exclude string // client ID to exclude
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		broadcast: make(chan *roomBroadcast, 256),
		config:    cfg,
	}
}

// Run drains the broadcast queue until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *roomBroadcast) {
	for _, client := range h.Snapshot(msg.roomID, msg.exclude) {
		err := client.enqueue(msg.payload)
		if err == nil || err == ErrClientClosed {
			continue
		}
		// Full outbound buffer means a dead or stalled recipient. Reap it
		// and keep delivering to the rest of the room.
		l := log.L()
		l.Warn().Str(log.FieldClientID, client.ID).Msg("send buffer full, terminating client")
		go client.Terminate()
	}
}

// Register adds the client to the registry. Identity checks happen at the
// connection boundary before this is called.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldClientID, client.ID).Str(log.FieldWallet, client.Session.Wallet).Msg("client registered")
}

// Unregister removes the client from the registry and any room set. It is
// idempotent; the first call closes the outbound channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client.ID]
	if present {
		for roomID, members := range h.rooms {
			if _, ok := members[client.ID]; ok {
				delete(members, client.ID)
				if len(members) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
		delete(h.clients, client.ID)
		client.closeSend()
	}
	h.mu.Unlock()

	if present {
		l := log.L()
		l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")
	}
}

// Lookup returns the registered client for the handle, if any.
func (h *Hub) Lookup(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	return c, ok
}

// Contains reports whether the handle is still registered. Command handlers
// re-validate with this after every awaited persistence call so a disconnect
// racing an in-flight command cannot resurrect a torn-down session.
func (h *Hub) Contains(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// ForEach calls fn for every registered client. Used by the liveness sweep.
func (h *Hub) ForEach(fn func(*Client)) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		fn(c)
	}
}

// Join moves the client into roomID as one atomic step: membership in any
// previous room is removed under the same lock, so a session is never in two
// room sets at once. A client no longer in the registry is refused under the
// same lock — a teardown racing an in-flight join must not resurrect the
// session into a room set. Returns the room the client left, if any.
func (h *Hub) Join(client *Client, roomID string) (string, bool) {
	h.mu.Lock()

	if _, registered := h.clients[client.ID]; !registered {
		h.mu.Unlock()
		l := log.L()
		l.Debug().Str(log.FieldClientID, client.ID).Str(log.FieldRoomID, roomID).Msg("join refused, client no longer registered")
		return "", false
	}

	previous := client.Session.GetCurrentRoom()
	if previous != "" && previous != roomID {
		h.removeLocked(client, previous)
	}

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
	client.Session.JoinRoom(roomID)
	h.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldRoomID, roomID).Msg("client joined room")
	return previous, true
}

// Leave removes the client from the room set and clears its room pointer.
func (h *Hub) Leave(client *Client, roomID string) {
	h.mu.Lock()
	h.removeLocked(client, roomID)
	if client.Session.GetCurrentRoom() == roomID {
		client.Session.LeaveRoom()
	}
	h.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldClientID, client.ID).Str(log.FieldRoomID, roomID).Msg("client left room")
}

func (h *Hub) removeLocked(client *Client, roomID string) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Snapshot returns the room's current members, taken at call time and not
// live-updated during a broadcast. Ordered by handle for determinism.
func (h *Hub) Snapshot(roomID, exclude string) []*Client {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for id, c := range h.rooms[roomID] {
		if id == exclude {
			continue
		}
		members = append(members, c)
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// RoomSize returns the number of live members in the room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Broadcast fans the message out to the room's membership snapshot, skipping
// the excluded handle. Delivery is at-least-once for members alive at
// snapshot time; a failed send to one recipient never stalls the others.
func (h *Hub) Broadcast(roomID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.broadcast <- &roomBroadcast{
		roomID:  roomID,
		payload: data,
		exclude: exclude,
	}
	return nil
}

// BroadcastRaw fans pre-encoded bytes out to the room. Used by the relay
// path, where the payload arrives already marshaled.
func (h *Hub) BroadcastRaw(roomID string, data []byte, exclude string) {
	h.broadcast <- &roomBroadcast{
		roomID:  roomID,
		payload: data,
		exclude: exclude,
	}
}
