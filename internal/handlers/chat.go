package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftegu/internal/chat"
	"github.com/4xmen/goftegu/internal/models"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/config"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// ChatStore is the read side of the durable store plus the read-state
// update the REST mark-read route performs.
type ChatStore interface {
	UserExists(ctx context.Context, id int) (bool, error)
	RoomByID(ctx context.Context, id int) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	DirectHistory(ctx context.Context, a, b, skip, take int) ([]protocol.Message, error)
	RoomHistory(ctx context.Context, roomID, skip, take int) ([]protocol.Message, error)
	Conversations(ctx context.Context, userID int) ([]protocol.ConversationPreview, error)
	RoomPreviews(ctx context.Context, userID int) ([]protocol.RoomPreview, error)
	MarkRead(ctx context.Context, senderID, recipientID int) (int64, error)
	Now() time.Time
}

// Emitter delivers socket events to broadcast groups.
type Emitter interface {
	Emit(ctx context.Context, group string, env *protocol.Envelope, except string)
}

type ChatHandler struct {
	store   ChatStore
	emitter Emitter
	history config.HistoryConfig
}

// NewChatHandler builds the history routes. emitter may be nil, in which
// case the REST mark-read does not notify the peer.
func NewChatHandler(s ChatStore, emitter Emitter, history config.HistoryConfig) *ChatHandler {
	if history.DefaultPageSize <= 0 {
		history.DefaultPageSize = 30
	}
	if history.MaxPageSize < history.DefaultPageSize {
		history.MaxPageSize = history.DefaultPageSize
	}
	return &ChatHandler{store: s, emitter: emitter, history: history}
}

// page reads skip and take. Missing, negative or non-numeric values fall
// back to the defaults and take is capped.
func (h *ChatHandler) page(c *gin.Context) (skip, take int) {
	skip, err := strconv.Atoi(c.Query("skip"))
	if err != nil || skip < 0 {
		skip = 0
	}
	take, err = strconv.Atoi(c.Query("take"))
	if err != nil || take <= 0 {
		take = h.history.DefaultPageSize
	}
	if take > h.history.MaxPageSize {
		take = h.history.MaxPageSize
	}
	return skip, take
}

// DirectHistory returns one page of the caller's conversation with another
// user, newest first.
func (h *ChatHandler) DirectHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	otherID, ok := paramID(c, "otherUserId")
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	exists, err := h.store.UserExists(ctx, otherID)
	if err != nil {
		serverError(c, err, "failed to fetch messages")
		return
	}
	if !exists {
		respondError(c, http.StatusNotFound, "user not found")
		return
	}

	skip, take := h.page(c)
	messages, err := h.store.DirectHistory(ctx, userID, otherID, skip, take)
	if err != nil {
		serverError(c, err, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []protocol.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages, "skip": skip, "take": take})
}

// RoomHistory returns one page of a room the caller belongs to.
func (h *ChatHandler) RoomHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	roomID, ok := paramID(c, "roomId")
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid room id")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.RoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "room not found")
			return
		}
		serverError(c, err, "failed to fetch messages")
		return
	}
	member, err := h.store.IsMember(ctx, roomID, userID)
	if err != nil {
		serverError(c, err, "failed to fetch messages")
		return
	}
	if !member {
		respondError(c, http.StatusForbidden, "not a room member")
		return
	}

	skip, take := h.page(c)
	messages, err := h.store.RoomHistory(ctx, roomID, skip, take)
	if err != nil {
		serverError(c, err, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []protocol.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages, "skip": skip, "take": take})
}

// Conversations lists the caller's direct conversations with unseen counts.
func (h *ChatHandler) Conversations(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	conversations, err := h.store.Conversations(c.Request.Context(), userID)
	if err != nil {
		serverError(c, err, "failed to fetch conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *ChatHandler) Rooms(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	rooms, err := h.store.RoomPreviews(c.Request.Context(), userID)
	if err != nil {
		serverError(c, err, "failed to fetch rooms")
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// MarkRead marks every unread message from the other user to the caller as
// read and tells the other user's connections, like the socket mark-seen.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	otherID, ok := paramID(c, "otherUserId")
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	n, err := h.store.MarkRead(ctx, otherID, userID)
	if err != nil {
		serverError(c, err, "failed to update messages")
		return
	}

	if h.emitter != nil && n > 0 {
		env, err := protocol.NewEnvelope(protocol.EventSeen, protocol.SeenPayload{ViewerID: userID, Time: h.store.Now()})
		if err == nil {
			h.emitter.Emit(ctx, chat.UserGroup(otherID), env, "")
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "updated": n})
}
