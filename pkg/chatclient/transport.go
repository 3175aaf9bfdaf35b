package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/4xmen/goftegu/pkg/protocol"
)

const writeWait = 10 * time.Second

// Conn is a client socket to the chat server.
type Conn struct {
	ws     *websocket.Conn
	events chan *protocol.Envelope
	done   chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to wsURL with token as the token query parameter.
func Dial(ctx context.Context, wsURL, token string) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &Conn{
		ws:     ws,
		events: make(chan *protocol.Envelope, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields server frames until the connection ends. Check Err after it
// is closed.
func (c *Conn) Events() <-chan *protocol.Envelope { return c.events }

// Emit sends one event.
func (c *Conn) Emit(ctx context.Context, eventType string, payload any) error {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", eventType, err)
	}
	return nil
}

func (c *Conn) Authenticate(ctx context.Context, userID int) error {
	return c.Emit(ctx, protocol.EventAuthenticate, protocol.AuthenticatePayload{UserID: userID})
}

func (c *Conn) JoinRooms(ctx context.Context, roomIDs ...int) error {
	return c.Emit(ctx, protocol.EventJoinRooms, roomIDs)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Err reports why the connection ended, nil after a normal close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.errMu.Lock()
					c.err = err
					c.errMu.Unlock()
				}
			}
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			continue
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

// APIError is a non-2xx answer from the HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// HTTPAPI is the history and directory side of the server.
type HTTPAPI struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// History fetches one page of a conversation, newest first.
func (a *HTTPAPI) History(ctx context.Context, key ConversationKey, skip, take int) ([]protocol.Message, error) {
	path := fmt.Sprintf("/api/chat/dm/%d", key.ID)
	if key.IsRoom() {
		path = fmt.Sprintf("/api/chat/rooms/%d/messages", key.ID)
	}
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(take))

	var resp struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := a.do(ctx, http.MethodGet, path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PublicKey returns a user's current public key, empty if they have none.
func (a *HTTPAPI) PublicKey(ctx context.Context, userID int) (string, error) {
	var profile protocol.UserStatus
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d", userID), nil, &profile); err != nil {
		return "", err
	}
	return profile.PublicKey, nil
}

func (a *HTTPAPI) Conversations(ctx context.Context) ([]protocol.ConversationPreview, error) {
	var resp struct {
		Conversations []protocol.ConversationPreview `json:"conversations"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (a *HTTPAPI) Rooms(ctx context.Context) ([]protocol.RoomPreview, error) {
	var resp struct {
		Rooms []protocol.RoomPreview `json:"rooms"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chat/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, q url.Values, out any) error {
	target := strings.TrimRight(a.BaseURL, "/") + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	req.Header.Set("Accept", "application/json")

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
