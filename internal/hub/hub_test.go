package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/chat-service/internal/config"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     8,
	}
}

// testClient builds a client without a live websocket. Terminate and enqueue
// are nil-Conn safe, so hub behavior is testable without a network.
func testClient(t *testing.T, h *Hub, id, wallet string) *Client {
	t.Helper()
	return NewClient(id, wallet, h, nil, testWSConfig())
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testWSConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

// receive pops one queued frame off the client's buffer or fails the test.
func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.Send:
		return data
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertNothingQueued(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterAndLookup(t *testing.T) {
	h := startHub(t)
	c := testClient(t, h, "c1", "0xaaa")

	h.Register(c)
	assert.True(t, h.Contains("c1"))

	got, ok := h.Lookup("c1")
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = h.Lookup("missing")
	assert.False(t, ok)
}

func TestUnregisterIdempotent(t *testing.T) {
	h := startHub(t)
	c := testClient(t, h, "c1", "0xaaa")

	h.Register(c)
	h.Join(c, "general")

	h.Unregister(c)
	assert.False(t, h.Contains("c1"))
	assert.Equal(t, 0, h.RoomSize("general"))

	// Second call must not panic on the closed channel.
	h.Unregister(c)

	assert.ErrorIs(t, c.enqueue([]byte("x")), ErrClientClosed)
}

func TestJoinIsAtomicMove(t *testing.T) {
	h := startHub(t)
	c := testClient(t, h, "c1", "0xaaa")
	h.Register(c)

	previous, ok := h.Join(c, "alpha")
	require.True(t, ok)
	assert.Empty(t, previous)
	assert.Equal(t, 1, h.RoomSize("alpha"))

	previous, ok = h.Join(c, "beta")
	require.True(t, ok)
	assert.Equal(t, "alpha", previous)
	assert.Equal(t, 0, h.RoomSize("alpha"))
	assert.Equal(t, 1, h.RoomSize("beta"))
	assert.Equal(t, "beta", c.Session.GetCurrentRoom())
}

func TestSnapshotExcludesAndSorts(t *testing.T) {
	h := startHub(t)
	a := testClient(t, h, "a", "0xaaa")
	b := testClient(t, h, "b", "0xbbb")
	c := testClient(t, h, "c", "0xccc")
	for _, cl := range []*Client{c, a, b} {
		h.Register(cl)
		h.Join(cl, "general")
	}

	members := h.Snapshot("general", "b")
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].ID)
	assert.Equal(t, "c", members[1].ID)
}

func TestBroadcastDeliversToRoomOnly(t *testing.T) {
	h := startHub(t)
	a := testClient(t, h, "a", "0xaaa")
	b := testClient(t, h, "b", "0xbbb")
	outsider := testClient(t, h, "x", "0xddd")
	h.Register(a)
	h.Register(b)
	h.Register(outsider)
	h.Join(a, "general")
	h.Join(b, "general")
	h.Join(outsider, "other")

	require.NoError(t, h.Broadcast("general", map[string]string{"type": "system"}, ""))

	assert.JSONEq(t, `{"type":"system"}`, string(receive(t, a)))
	assert.JSONEq(t, `{"type":"system"}`, string(receive(t, b)))
	assertNothingQueued(t, outsider)
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := startHub(t)
	a := testClient(t, h, "a", "0xaaa")
	b := testClient(t, h, "b", "0xbbb")
	h.Register(a)
	h.Register(b)
	h.Join(a, "general")
	h.Join(b, "general")

	require.NoError(t, h.Broadcast("general", map[string]string{"type": "typing"}, "a"))

	receive(t, b)
	assertNothingQueued(t, a)
}

func TestBroadcastReapsStalledClient(t *testing.T) {
	h := startHub(t)
	cfg := testWSConfig()
	cfg.SendBuffer = 1
	stalled := NewClient("stalled", "0xaaa", h, nil, cfg)
	healthy := testClient(t, h, "healthy", "0xbbb")
	h.Register(stalled)
	h.Register(healthy)
	h.Join(stalled, "general")
	h.Join(healthy, "general")

	// Fill the stalled client's buffer; nothing drains it.
	require.NoError(t, stalled.enqueue([]byte("backlog")))

	require.NoError(t, h.Broadcast("general", map[string]string{"type": "system"}, ""))

	receive(t, healthy)
	require.Eventually(t, func() bool {
		return !h.Contains("stalled")
	}, time.Second, 10*time.Millisecond, "stalled client should be reaped")
}

func TestJoinRefusedAfterTerminate(t *testing.T) {
	h := startHub(t)
	c := testClient(t, h, "c1", "0xaaa")
	h.Register(c)
	require.True(t, h.Contains("c1"))

	// Teardown lands between a registration check and the membership add.
	c.Terminate()

	_, ok := h.Join(c, "general")
	assert.False(t, ok)
	assert.Equal(t, 0, h.RoomSize("general"))

	// A later broadcast must find no ghost member to deliver to.
	require.NoError(t, h.Broadcast("general", map[string]string{"type": "system"}, ""))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.RoomSize("general"))
	assert.False(t, h.Contains("c1"))
}

func TestTerminateRunsOnCloseOnce(t *testing.T) {
	h := startHub(t)
	c := testClient(t, h, "c1", "0xaaa")
	h.Register(c)

	calls := 0
	c.OnClose = func(*Client) { calls++ }

	c.Terminate()
	c.Terminate()

	assert.Equal(t, 1, calls)
	assert.False(t, h.Contains("c1"))
}
