// Package ws is the socket transport: it upgrades authenticated requests,
// pumps frames between each connection and the chat router, and keeps the
// registry of broadcast groups the router emits to.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftegu/internal/chat"
	"github.com/4xmen/goftegu/internal/pubsub"
	"github.com/4xmen/goftegu/pkg/config"
	"github.com/4xmen/goftegu/pkg/i18n"
	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// Router consumes inbound events. Handle is called sequentially per
// connection; Disconnect once, after the connection has left its groups.
type Router interface {
	Handle(ctx context.Context, s chat.Session, env *protocol.Envelope)
	Disconnect(ctx context.Context, s chat.Session)
}

type Hub struct {
	groups     map[string]map[*Client]struct{}
	clients    map[*Client]struct{}
	broadcast  chan *pubsub.Frame
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	bus        pubsub.Bus
	router     Router
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	mu         sync.RWMutex
}

// NewHub builds a hub. With a nil bus, emits are delivered in process;
// otherwise they go through the bus and come back via Listen.
func NewHub(cfg config.WebSocketConfig, bus pubsub.Bus, allowedOrigins string) *Hub {
	cfg = withDefaults(cfg)
	return &Hub{
		groups:     make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *pubsub.Frame, cfg.SendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		bus:        bus,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log.L().With().Str("component", "ws").Logger(),
	}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return cfg
}

// checkOrigin accepts any origin for "*" or an empty list, otherwise only
// the listed ones. Requests without an Origin header are not browsers and
// pass.
func checkOrigin(allowed string) func(*http.Request) bool {
	allowed = strings.TrimSpace(allowed)
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool)
	for _, o := range strings.Split(allowed, ",") {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.TrimRight(origin, "/")]
	}
}

// SetRouter must be called before the hub accepts connections.
func (h *Hub) SetRouter(r Router) {
	h.router = r
}

// Run owns connection bookkeeping and local delivery until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			client.log.Debug().Int("total", total).Msg("connection registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for _, g := range client.groups {
					h.leave(client, g)
				}
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			client.log.Debug().Int("total", total).Msg("connection unregistered")

		case f := <-h.broadcast:
			h.deliver(f)
		}
	}
}

// Listen feeds frames from the bus into the hub. It returns immediately
// when the hub has no bus.
func (h *Hub) Listen(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Listen(ctx, func(f *pubsub.Frame) {
		select {
		case h.broadcast <- f:
		case <-h.done:
		}
	})
}

// Emit sends env to every connection in group except the one with id
// except.
func (h *Hub) Emit(ctx context.Context, group string, env *protocol.Envelope, except string) {
	f := &pubsub.Frame{Group: group, Except: except, Event: env}
	if h.bus != nil {
		err := h.bus.Publish(ctx, f)
		if err == nil {
			return
		}
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("group", group).Msg("bus publish failed, delivering locally")
	}
	select {
	case h.broadcast <- f:
	case <-h.done:
	}
}

func (h *Hub) deliver(f *pubsub.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[f.Group] {
		if c.id == f.Except {
			continue
		}
		select {
		case c.send <- f.Event:
		default:
			c.log.Warn().Str("group", f.Group).Str(log.FieldEvent, f.Event.Type).Msg("send buffer full, dropping frame")
		}
	}
}

// join is only called from c's read goroutine, so it always happens before
// that goroutine unregisters c.
func (h *Hub) join(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[group] = members
	}
	if _, ok := members[c]; ok {
		return
	}
	members[c] = struct{}{}
	c.groups = append(c.groups, group)
}

// leave expects h.mu to be held.
func (h *Hub) leave(c *Client, group string) {
	members := h.groups[group]
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// IsUserOnline reports whether userID has a bound connection on this
// instance.
func (h *Hub) IsUserOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[chat.UserGroup(userID)]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades a request that passed the auth middleware.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, ok := c.Get(log.FieldUserID)
	tokenID, _ := userID.(int)
	if !ok || tokenID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Localize(c.GetHeader("Accept-Language"), "unauthorized")})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:      id,
		tokenID: tokenID,
		conn:    conn,
		hub:     h,
		send:    make(chan *protocol.Envelope, h.cfg.SendBuffer),
		log:     h.log.With().Str(log.FieldConnID, id).Int("token_user_id", tokenID).Logger(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
