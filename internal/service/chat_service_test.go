package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/chat-service/internal/client"
	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/internal/history"
	"github.com/coinpulse/chat-service/internal/hub"
	"github.com/coinpulse/chat-service/internal/presence"
	"github.com/coinpulse/chat-service/internal/store"
)

// fakeStore is an in-memory Store with switchable failure modes.
type fakeStore struct {
	mu         sync.Mutex
	rooms      map[string]*domain.Room
	messages   []*domain.Message
	seq        int
	failAppend bool
	failRecent bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: make(map[string]*domain.Room)}
}

func (f *fakeStore) EnsureRoom(_ context.Context, id, creatorWallet string) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[id]; ok {
		return r, nil
	}
	r := &domain.Room{ID: id, Name: id, CreatorWallet: creatorWallet, CreatedAt: time.Now().UTC()}
	f.rooms[id] = r
	return r, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return nil, errors.New("append failed")
	}
	f.seq++
	stored := *msg
	stored.ID = fmt.Sprintf("msg-%d", f.seq)
	stored.CreatedAt = time.Now().UTC()
	f.messages = append(f.messages, &stored)
	return &stored, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeStore) RecentMessages(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRecent {
		return nil, errors.New("recent failed")
	}
	if _, ok := f.rooms[roomID]; !ok {
		return nil, store.ErrRoomNotFound
	}
	var out []domain.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) UpdateBody(_ context.Context, id, wallet, body string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			if m.SenderWallet != wallet {
				return nil, store.ErrNotOwner
			}
			m.Body = body
			m.Edited = true
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeStore) SetPinned(_ context.Context, id, wallet string, pinned bool) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			if m.SenderWallet != wallet {
				return nil, store.ErrNotOwner
			}
			m.Pinned = pinned
			cp := *m
			return &cp, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeStore) ToggleReaction(_ context.Context, id, wallet, emoji string) (domain.ReactionMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.Reactions = m.Reactions.Toggle(emoji, wallet)
			return m.Reactions.Clone(), nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, wallet string) (*domain.User, error) {
	return &domain.User{ID: "user-" + wallet, Wallet: wallet, Username: wallet}, nil
}

type fakeMetadata struct {
	tokens map[string]*domain.TokenMetadata
}

func (f *fakeMetadata) Resolve(_ context.Context, refID string) (*domain.TokenMetadata, error) {
	if meta, ok := f.tokens[refID]; ok {
		return meta, nil
	}
	return nil, client.ErrRefNotFound
}

type fixture struct {
	hub     *hub.Hub
	store   *fakeStore
	service ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}

	h := hub.NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	st := newFakeStore()
	hist := history.New(st, nil, 0)
	meta := &fakeMetadata{tokens: map[string]*domain.TokenMetadata{
		"pump-1": {RefID: "pump-1", Symbol: "PUMP", Name: "Pump Coin"},
	}}

	svc := NewChatService(h, st, hist, fakeResolver{}, meta, presence.Noop{}, nil, "test-instance", 50)
	return &fixture{hub: h, store: st, service: svc}
}

func (fx *fixture) connect(t *testing.T, id, wallet string) *hub.Client {
	t.Helper()
	cfg := config.WebSocketConfig{SendBuffer: 64, WriteWait: 10 * time.Second}
	c := hub.NewClient(id, wallet, fx.hub, nil, cfg)
	c.OnClose = fx.service.HandleDisconnect
	fx.hub.Register(c)
	require.NoError(t, fx.service.HandleConnect(context.Background(), c))
	return c
}

// frame pops one queued frame and decodes it.
func frame(t *testing.T, c *hub.Client) *domain.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

// errorFrame pops one queued frame and decodes it as an error.
func errorFrame(t *testing.T, c *hub.Client) *domain.ErrorFrame {
	t.Helper()
	select {
	case data := <-c.Send:
		var ef domain.ErrorFrame
		require.NoError(t, json.Unmarshal(data, &ef))
		require.Equal(t, domain.MsgTypeError, ef.Type)
		return &ef
	case <-time.After(time.Second):
		t.Fatalf("client %s received no error frame", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinRoomFirstMemberGetsNoReplay(t *testing.T) {
	fx := newFixture(t)
	a := fx.connect(t, "a", "0xaaa")

	require.NoError(t, fx.service.HandleJoinRoom(context.Background(), a, "general"))

	assert.Equal(t, "general", a.Session.GetCurrentRoom())
	assert.Equal(t, 1, fx.hub.RoomSize("general"))
	assertSilent(t, a)
}

func TestJoinRoomReplaysHistoryOldestFirst(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	for i := 1; i <= 3; i++ {
		require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
			RoomID: "general", Message: fmt.Sprintf("msg %d", i),
		}))
		frame(t, a) // sender's own broadcast copy
	}

	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))

	for i := 1; i <= 3; i++ {
		env := frame(t, b)
		assert.Equal(t, domain.MsgTypeSendMessage, env.Type)
		assert.Equal(t, fmt.Sprintf("msg %d", i), env.Message)
	}

	// The existing member sees the join notice; the joiner does not.
	notice := frame(t, a)
	assert.Equal(t, domain.MsgTypeSystem, notice.Type)
	assert.Equal(t, "0xbbb", notice.SenderWallet)
	assertSilent(t, b)
}

func TestJoinRoomMovesBetweenRooms(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "alpha"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "beta"))

	assert.Equal(t, "beta", a.Session.GetCurrentRoom())
	assert.Equal(t, 0, fx.hub.RoomSize("alpha"))
	assert.Equal(t, 1, fx.hub.RoomSize("beta"))
}

func TestJoinRoomIdempotentForSameRoom(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))

	assert.Equal(t, 1, fx.hub.RoomSize("general"))
	assertSilent(t, a)
}

func TestJoinRoomAbortsForTornDownSession(t *testing.T) {
	fx := newFixture(t)

	a := fx.connect(t, "a", "0xaaa")
	a.Terminate()

	err := fx.service.HandleJoinRoom(context.Background(), a, "general")
	require.Error(t, err)
	assert.Equal(t, 0, fx.hub.RoomSize("general"))
	assert.False(t, a.Session.IsInRoom())
}

func TestJoinRoomProceedsWhenReplayFails(t *testing.T) {
	fx := newFixture(t)
	fx.store.failRecent = true

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(context.Background(), a, "general"))

	ef := errorFrame(t, a)
	assert.Equal(t, domain.ErrCodePersistence, ef.Code)
	assert.Equal(t, "general", a.Session.GetCurrentRoom())
}

func TestSendMessageBroadcastIncludesSender(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))
	frame(t, a) // b's join notice

	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "hello",
	}))

	for _, c := range []*hub.Client{a, b} {
		env := frame(t, c)
		assert.Equal(t, domain.MsgTypeSendMessage, env.Type)
		assert.Equal(t, "hello", env.Message)
		assert.Equal(t, "0xaaa", env.SenderWallet)
		assert.Equal(t, "user-0xaaa", env.SenderID)
		assert.NotEmpty(t, env.MessageID, "broadcast must carry the authoritative id")
		assert.False(t, env.Timestamp.IsZero())
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	fx := newFixture(t)

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleSendMessage(context.Background(), a, domain.SendMessageCommand{
		RoomID: "general", Message: "hello",
	}))

	ef := errorFrame(t, a)
	assert.Equal(t, domain.ErrCodeNotInRoom, ef.Code)
	assert.Equal(t, 0, fx.store.count())
}

func TestSendMessageWrongRoomRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "alpha"))

	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "beta", Message: "hello",
	}))

	ef := errorFrame(t, a)
	assert.Equal(t, domain.ErrCodeNotInRoom, ef.Code)
}

func TestSendMessagePersistenceFailureSuppressesBroadcast(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))
	frame(t, a) // b's join notice

	fx.store.failAppend = true
	err := fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "hello",
	})
	require.Error(t, err)

	ef := errorFrame(t, a)
	assert.Equal(t, domain.ErrCodePersistence, ef.Code)
	assertSilent(t, b)
}

func TestShareTokenEmbedsMetadataSnapshot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))

	require.NoError(t, fx.service.HandleShareToken(ctx, a, domain.ShareTokenCommand{
		RoomID: "general", RefID: "pump-1", Message: "check this out",
	}))

	env := frame(t, a)
	assert.Equal(t, domain.MsgTypeShareToken, env.Type)
	assert.Equal(t, "check this out", env.Message)
	require.NotNil(t, env.Data)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PUMP")
}

func TestShareTokenUnknownRef(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))

	require.NoError(t, fx.service.HandleShareToken(ctx, a, domain.ShareTokenCommand{
		RoomID: "general", RefID: "nope",
	}))

	ef := errorFrame(t, a)
	assert.Equal(t, domain.ErrCodeNotFound, ef.Code)
	assert.Equal(t, 0, fx.store.count())
}

func TestTypingIsEphemeralAndExcludesSender(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))
	frame(t, a) // b's join notice

	require.NoError(t, fx.service.HandleTyping(ctx, a, "general"))

	env := frame(t, b)
	assert.Equal(t, domain.MsgTypeTyping, env.Type)
	assert.Equal(t, "0xaaa", env.SenderWallet)
	assertSilent(t, a)
	assert.Equal(t, 0, fx.store.count(), "typing must never be persisted")
}

func TestReactionToggleIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "hello",
	}))
	msgID := frame(t, a).MessageID

	react := domain.ReactionCommand{RoomID: "general", MessageID: msgID, Emoji: "👍"}

	require.NoError(t, fx.service.HandleReaction(ctx, a, react))
	env := frame(t, a)
	assert.Equal(t, domain.MsgTypeReaction, env.Type)
	assert.Equal(t, domain.ReactionMap{"👍": {"0xaaa"}}, env.Reactions)

	// Same pair again removes the reaction.
	require.NoError(t, fx.service.HandleReaction(ctx, a, react))
	env = frame(t, a)
	assert.Empty(t, env.Reactions)
}

func TestEditRejectedForNonOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))
	frame(t, a) // b's join notice

	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "original",
	}))
	msgID := frame(t, a).MessageID
	frame(t, b)

	require.NoError(t, fx.service.HandleEdit(ctx, b, domain.EditCommand{
		RoomID: "general", MessageID: msgID, Message: "hijacked",
	}))

	ef := errorFrame(t, b)
	assert.Equal(t, domain.ErrCodeForbidden, ef.Code)
	assertSilent(t, a)

	stored, err := fx.store.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, "original", stored.Body)
}

func TestEditByOwnerBroadcasts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "original",
	}))
	msgID := frame(t, a).MessageID

	require.NoError(t, fx.service.HandleEdit(ctx, a, domain.EditCommand{
		RoomID: "general", MessageID: msgID, Message: "fixed",
	}))

	env := frame(t, a)
	assert.Equal(t, domain.MsgTypeEdit, env.Type)
	assert.Equal(t, "fixed", env.Message)
	assert.True(t, env.Edited)
}

func TestPinRejectedForNonOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))
	frame(t, a) // b's join notice

	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "pin me",
	}))
	msgID := frame(t, a).MessageID
	frame(t, b)

	require.NoError(t, fx.service.HandlePin(ctx, b, domain.PinCommand{
		RoomID: "general", MessageID: msgID, IsPinned: true,
	}))
	ef := errorFrame(t, b)
	assert.Equal(t, domain.ErrCodeForbidden, ef.Code)
}

func TestPinByOwnerBroadcastsState(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleSendMessage(ctx, a, domain.SendMessageCommand{
		RoomID: "general", Message: "pin me",
	}))
	msgID := frame(t, a).MessageID

	require.NoError(t, fx.service.HandlePin(ctx, a, domain.PinCommand{
		RoomID: "general", MessageID: msgID, IsPinned: true,
	}))

	env := frame(t, a)
	assert.Equal(t, domain.MsgTypePin, env.Type)
	require.NotNil(t, env.IsPinned)
	assert.True(t, *env.IsPinned)
}

func TestDisconnectBroadcastsMemberLeft(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	b := fx.connect(t, "b", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))
	require.NoError(t, fx.service.HandleJoinRoom(ctx, b, "general"))
	frame(t, a) // b's join notice

	b.Terminate()

	env := frame(t, a)
	assert.Equal(t, domain.MsgTypeSystem, env.Type)
	assert.Equal(t, "0xbbb", env.SenderWallet)
	assert.False(t, fx.hub.Contains("b"))
	assert.Equal(t, 1, fx.hub.RoomSize("general"))
}

func TestLeaveRoomClearsMembership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.connect(t, "a", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, a, "general"))

	require.NoError(t, fx.service.HandleLeaveRoom(ctx, a, "general"))
	assert.False(t, a.Session.IsInRoom())
	assert.Equal(t, 0, fx.hub.RoomSize("general"))

	// Leaving again is a no-op.
	require.NoError(t, fx.service.HandleLeaveRoom(ctx, a, "general"))
}

// Full exchange: two sessions, replay on the second join, then a reaction
// visible to both.
func TestTwoClientConversation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	alice := fx.connect(t, "alice", "0xaaa")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, alice, "general"))
	assertSilent(t, alice)

	require.NoError(t, fx.service.HandleSendMessage(ctx, alice, domain.SendMessageCommand{
		RoomID: "general", Message: "hello",
	}))
	sent := frame(t, alice)
	require.NotEmpty(t, sent.MessageID)

	bob := fx.connect(t, "bob", "0xbbb")
	require.NoError(t, fx.service.HandleJoinRoom(ctx, bob, "general"))

	replayed := frame(t, bob)
	assert.Equal(t, sent.MessageID, replayed.MessageID)
	assert.Equal(t, "hello", replayed.Message)

	joinNotice := frame(t, alice)
	assert.Equal(t, domain.MsgTypeSystem, joinNotice.Type)

	require.NoError(t, fx.service.HandleReaction(ctx, alice, domain.ReactionCommand{
		RoomID: "general", MessageID: sent.MessageID, Emoji: "👍",
	}))

	for _, c := range []*hub.Client{alice, bob} {
		env := frame(t, c)
		assert.Equal(t, domain.MsgTypeReaction, env.Type)
		assert.Equal(t, sent.MessageID, env.MessageID)
		assert.Equal(t, domain.ReactionMap{"👍": {"0xaaa"}}, env.Reactions)
	}
}
