package ws

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftegu/internal/chat"
	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// Client is one socket connection. Its read goroutine is the only caller
// of the chat.Session methods.
type Client struct {
	id      string
	tokenID int
	user    protocol.UserSummary
	groups  []string // guarded by hub.mu
	typing  chat.TypingState
	conn    *websocket.Conn
	hub     *Hub
	send    chan *protocol.Envelope
	log     zerolog.Logger
}

func (c *Client) ID() string { return c.id }

func (c *Client) TokenUserID() int { return c.tokenID }

func (c *Client) User() protocol.UserSummary { return c.user }

func (c *Client) Bind(u protocol.UserSummary) { c.user = u }

func (c *Client) Join(group string) {
	c.hub.join(c, group)
}

func (c *Client) Groups() []string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return append([]string(nil), c.groups...)
}

func (c *Client) Typing() *chat.TypingState { return &c.typing }

func (c *Client) Send(env *protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.log.Warn().Str(log.FieldEvent, env.Type).Msg("send buffer full, dropping reply")
	}
}

// close drops the underlying connection, if there is one.
func (c *Client) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	// Handlers outlive the request; in-flight writes finish after a
	// disconnect.
	ctx := log.WithLogger(context.Background(), c.log)
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.hub.router.Disconnect(ctx, c)
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.handle(ctx, env)
	}
}

// handle isolates a panicking handler to the event that caused it.
func (c *Client) handle(ctx context.Context, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str(log.FieldEvent, env.Type).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()
	c.hub.router.Handle(ctx, c, env)
}

func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if err := json.NewEncoder(w).Encode(env); err != nil {
				c.log.Error().Err(err).Str(log.FieldEvent, env.Type).Msg("failed to encode frame")
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			return
		}
	}
}
