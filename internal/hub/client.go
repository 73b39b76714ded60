package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/internal/domain"
	"github.com/coinpulse/chat-service/pkg/log"
)

// ErrSendBufferFull is returned when a send would block on a full buffer.
var ErrSendBufferFull = errors.New("client send buffer full")

// ErrClientClosed is returned when a send races a completed teardown.
var ErrClientClosed = errors.New("client closed")

// Client is one live connection: the websocket, its session, and a bounded
// outbound buffer drained by WritePump.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session

	// OnClose runs exactly once during teardown, before the client is
	// unregistered, so the member-left cascade fires for every exit path
	// (clean close, read error, liveness reap).
	OnClose func(*Client)

	config     config.WebSocketConfig
	pending    atomic.Bool // liveness probe outstanding
	closeOnce  sync.Once
	sendMu     sync.RWMutex
	sendClosed bool
}

func NewClient(id, wallet string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, cfg.SendBuffer),
		Session: domain.NewSession(id, wallet),
		config:  cfg,
	}
}

// ReadPump reads frames until the connection dies, handing each one to
// handler. Pongs answer the liveness monitor's probes.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer c.Terminate()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		c.pending.Store(false)
		c.Session.UpdateActivity()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket read error")
			}
			break
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

// WritePump drains the Send buffer onto the wire. It exits when the buffer
// is closed by Unregister or when a write fails.
func (c *Client) WritePump() {
	defer func() {
		if c.Conn != nil {
			c.Conn.Close()
		}
	}()

	for message := range c.Send {
		c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))

		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}

	c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// SendMessage queues a frame for this client only. Non-blocking: a full
// buffer surfaces as an error instead of stalling the caller.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue pushes raw bytes onto the outbound buffer. The read lock pairs
// with closeSend so a send can never hit a closed channel.
func (c *Client) enqueue(data []byte) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.sendClosed {
		return ErrClientClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// closeSend closes the outbound buffer exactly once. Called by the hub when
// the client leaves the registry.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
	c.sendMu.Unlock()
}

// Ping sends a liveness probe control frame and marks it outstanding.
func (c *Client) Ping() error {
	c.pending.Store(true)
	if c.Conn == nil {
		return nil
	}
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait))
}

// ProbePending reports whether the last probe is still unanswered.
func (c *Client) ProbePending() bool {
	return c.pending.Load()
}

// Terminate tears the client down exactly once: the OnClose cascade runs
// (member-left notice, presence), then the client leaves the registry, then
// the socket closes. Safe to call from any goroutine, with or without a
// live connection.
func (c *Client) Terminate() {
	c.closeOnce.Do(func() {
		if c.OnClose != nil {
			c.OnClose(c)
		}
		c.Hub.Unregister(c)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}
