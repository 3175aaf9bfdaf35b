package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

var (
	ErrNoConversation = errors.New("no conversation open")
	ErrEmptyMessage   = errors.New("message is empty")
)

// API is the request/response side of the server.
type API interface {
	KeyLookup
	History(ctx context.Context, key ConversationKey, skip, take int) ([]protocol.Message, error)
	Conversations(ctx context.Context) ([]protocol.ConversationPreview, error)
	Rooms(ctx context.Context) ([]protocol.RoomPreview, error)
}

// Emitter sends one socket event. *Conn implements it.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

type Options struct {
	Self       protocol.UserSummary
	PrivateKey string
	API        API
	Emitter    Emitter
	Cache      Cache
	PageSize   int
}

// Client is one signed-in user's view: the conversation on screen, the
// conversation list and the typing state.
type Client struct {
	self    protocol.UserSummary
	api     API
	emitter Emitter
	cache   Cache
	crypto  *Decrypter
	inbox   *Inbox
	typing  *TypingSet
	typist  *Typist
	take    int
	now     func() time.Time

	mu       sync.Mutex
	open     ConversationKey
	timeline *Timeline
	pager    *Pager
	pending  map[string]ConversationKey
}

func New(opts Options) *Client {
	take := opts.PageSize
	if take <= 0 {
		take = DefaultPageSize
	}
	c := &Client{
		self:     opts.Self,
		api:      opts.API,
		emitter:  opts.Emitter,
		cache:    opts.Cache,
		crypto:   NewDecrypter(opts.Self.ID, opts.PrivateKey, opts.API),
		inbox:    NewInbox(),
		typing:   NewTypingSet(TypingIdle),
		take:     take,
		now:      time.Now,
		timeline: NewTimeline(),
		pending:  make(map[string]ConversationKey),
	}
	c.typist = NewTypist(TypistIdle, c.emitTyping)
	return c
}

func (c *Client) Inbox() *Inbox { return c.inbox }

func (c *Client) Current() ConversationKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Entries returns the rendered list of the open conversation.
func (c *Client) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Entries()
}

// Typing returns who is typing in the open conversation.
func (c *Client) Typing() []string { return c.typing.Active() }

// SyncInbox loads the conversation and room lists.
func (c *Client) SyncInbox(ctx context.Context) error {
	convs, err := c.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch conversations: %w", err)
	}
	rooms, err := c.api.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch rooms: %w", err)
	}
	c.inbox.LoadConversations(convs, c.crypto.Preview)
	c.inbox.LoadRooms(rooms)
	return nil
}

// Open switches to key and renders it from the local cache. Call Refresh
// afterwards, usually from another goroutine, to pull the latest page.
func (c *Client) Open(ctx context.Context, key ConversationKey) error {
	c.typist.Close()

	cached, err := c.cache.List(ctx, key)
	if err != nil {
		err = fmt.Errorf("failed to read cache: %w", err)
	}
	entries := make([]Entry, 0, len(cached))
	for _, m := range cached {
		entries = append(entries, c.crypto.Entry(ctx, m))
	}

	c.mu.Lock()
	for i := range entries {
		if _, ok := c.pending[entries[i].ID()]; ok {
			entries[i].State = StatePending
		}
	}
	c.open = key
	c.timeline = NewTimeline()
	c.timeline.Merge(entries...)
	c.pager = NewPager(func(ctx context.Context, skip, take int) ([]protocol.Message, error) {
		return c.api.History(ctx, key, skip, take)
	}, c.take)
	c.mu.Unlock()

	c.typing.Clear()
	c.inbox.Open(key)
	if !key.IsRoom() {
		c.markSeen(ctx, key)
	}
	return err
}

// Refresh fetches the newest page of the open conversation and merges it into
// the cache and the rendered list.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	key, pager := c.open, c.pager
	c.mu.Unlock()
	if key.IsZero() {
		return ErrNoConversation
	}

	page, err := c.api.History(ctx, key, 0, c.take)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	pager.Refreshed(len(page), len(page) == c.take)
	c.ingest(ctx, key, page)
	return nil
}

// LoadOlder pages backward and returns how many records were added.
func (c *Client) LoadOlder(ctx context.Context) (int, error) {
	c.mu.Lock()
	key, pager := c.open, c.pager
	c.mu.Unlock()
	if key.IsZero() {
		return 0, ErrNoConversation
	}

	page, err := pager.Older(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch older messages: %w", err)
	}
	c.ingest(ctx, key, page)
	return len(page), nil
}

func (c *Client) BeginRestore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pager != nil {
		c.pager.BeginRestore()
	}
}

func (c *Client) EndRestore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pager != nil {
		c.pager.EndRestore()
	}
}

// Send renders text at once as a pending entry and emits it. Direct messages
// are encrypted to the recipient; the cache only sees the ciphertext.
func (c *Client) Send(ctx context.Context, text string) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, ErrEmptyMessage
	}
	c.typist.Sent()

	key := c.Current()
	if key.IsZero() {
		return Entry{}, ErrNoConversation
	}

	self := c.self
	tempID := uuid.NewString()
	msg := protocol.Message{
		ID:        tempID,
		SenderID:  self.ID,
		Content:   text,
		CreatedAt: c.now().UTC(),
		Sender:    &self,
		Reactions: []protocol.Reaction{},
	}

	var (
		event   string
		payload any
	)
	if key.IsRoom() {
		msg.RoomID = key.ID
		event = protocol.EventGroupSend
		payload = protocol.GroupSendPayload{SenderID: self.ID, RoomID: key.ID, Content: text, TempID: tempID}
	} else {
		ciphertext, nonce, err := c.crypto.Encrypt(ctx, key.ID, text)
		if err != nil {
			return Entry{}, err
		}
		msg.RecipientID = key.ID
		msg.Content = ciphertext
		msg.Nonce = nonce
		event = protocol.EventDMSend
		payload = protocol.DMSendPayload{SenderID: self.ID, RecipientID: key.ID, Content: ciphertext, Nonce: nonce, TempID: tempID}
	}

	entry := Entry{Message: msg, Text: text, State: StatePending}
	c.mu.Lock()
	c.pending[tempID] = key
	if c.open == key {
		c.timeline.Merge(entry)
	}
	c.mu.Unlock()

	c.put(ctx, key, &msg)
	c.inbox.Received(key, text, msg.CreatedAt, true)

	if err := c.emitter.Emit(ctx, event, payload); err != nil {
		c.fail(ctx, tempID)
		entry.State = StateFailed
		return entry, err
	}
	return entry, nil
}

// Delete removes one of the user's messages from the open conversation.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	c.mu.Lock()
	key := c.open
	e, ok := c.timeline.Get(messageID)
	if ok && e.Message.SenderID == c.self.ID {
		c.timeline.Remove(messageID)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("message %s is not in the open conversation", messageID)
	}
	if e.Message.SenderID != c.self.ID {
		return fmt.Errorf("message %s was sent by someone else", messageID)
	}
	c.evict(ctx, messageID)

	kind := protocol.KindDirect
	if key.IsRoom() {
		kind = protocol.KindGroup
	}
	return c.emitter.Emit(ctx, protocol.EventDelete, protocol.DeletePayload{UserID: c.self.ID, MessageID: messageID, MessageType: kind})
}

// React toggles emoji on a message of the open conversation. The change is
// applied when the server's reaction:update arrives.
func (c *Client) React(ctx context.Context, messageID, emoji string) error {
	key := c.Current()
	if key.IsZero() {
		return ErrNoConversation
	}
	p := protocol.ReactPayload{UserID: c.self.ID, Emoji: emoji}
	if key.IsRoom() {
		p.GroupMessageID = messageID
	} else {
		p.DirectMessageID = messageID
	}
	return c.emitter.Emit(ctx, protocol.EventReact, p)
}

// Keystroke reports local typing in the open conversation.
func (c *Client) Keystroke() { c.typist.Keystroke() }

// Close stops the local typing indicator.
func (c *Client) Close() { c.typist.Close() }

// Handle applies one server event.
func (c *Client) Handle(ctx context.Context, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.EventDMReceive:
		var m protocol.Message
		if err := env.Decode(&m); err != nil {
			return err
		}
		c.receive(ctx, m)

	case protocol.EventDMConfirm, protocol.EventGroupReceive:
		var p protocol.ConfirmPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.Message == nil {
			return fmt.Errorf("%s without message", env.Type)
		}
		c.mu.Lock()
		_, mine := c.pending[p.TempID]
		c.mu.Unlock()
		if env.Type == protocol.EventDMConfirm || (mine && p.Message.SenderID == c.self.ID) {
			c.confirm(ctx, p.TempID, *p.Message)
		} else {
			c.receive(ctx, *p.Message)
		}

	case protocol.EventDeleted:
		var id string
		if err := env.Decode(&id); err != nil {
			return err
		}
		c.mu.Lock()
		c.timeline.Remove(id)
		c.mu.Unlock()
		c.evict(ctx, id)

	case protocol.EventReactionUpdate:
		var p protocol.ReactionUpdatePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		key := c.open
		var updated *protocol.Message
		if c.timeline.ApplyReaction(p.Action, p.Reaction, p.MessageID) {
			if e, ok := c.timeline.Get(p.MessageID); ok {
				updated = &e.Message
			}
		}
		c.mu.Unlock()
		if updated != nil {
			c.put(ctx, key, updated)
		}

	case protocol.EventUserTyping, protocol.EventUserStopTyping:
		var n protocol.TypingNotice
		if err := env.Decode(&n); err != nil {
			return err
		}
		key := c.Current()
		if n.IsGroup != key.IsRoom() || n.ConversationID != key.ID {
			return nil
		}
		if env.Type == protocol.EventUserTyping {
			c.typing.Start(n.Name)
		} else {
			c.typing.Stop(n.Name)
		}

	case protocol.EventSeen:
		var p protocol.SeenPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		if !c.open.IsRoom() && c.open.ID == p.ViewerID {
			c.timeline.MarkSentRead(c.self.ID)
		}
		c.mu.Unlock()

	case protocol.EventUserStatus:
		var u protocol.UserStatus
		if err := env.Decode(&u); err != nil {
			return err
		}
		c.crypto.Forget(u.ID)
		c.inbox.Status(u)

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		l := log.Ctx(ctx)
		l.Warn().
			Str("code", p.Code).
			Str(log.FieldEvent, p.Event).
			Str("temp_id", p.TempID).
			Msg(p.Message)
		if p.TempID != "" {
			c.fail(ctx, p.TempID)
		}
	}
	return nil
}

func (c *Client) receive(ctx context.Context, m protocol.Message) {
	key := KeyOf(&m, c.self.ID)
	c.put(ctx, key, &m)
	entry := c.crypto.Entry(ctx, m)

	c.mu.Lock()
	open := c.open == key
	if open {
		c.timeline.Merge(entry)
	}
	c.mu.Unlock()

	fromSelf := m.SenderID == c.self.ID
	if open && m.Sender != nil {
		c.typing.Stop(m.Sender.Name())
	}
	c.inbox.Received(key, entry.Text, m.CreatedAt, fromSelf)
	if open && !fromSelf && !key.IsRoom() {
		c.markSeen(ctx, key)
	}
}

func (c *Client) confirm(ctx context.Context, tempID string, m protocol.Message) {
	c.mu.Lock()
	key, ok := c.pending[tempID]
	delete(c.pending, tempID)
	if !ok {
		key = KeyOf(&m, c.self.ID)
	}
	var optimistic Entry
	var had bool
	if c.open == key {
		optimistic, had = c.timeline.Get(tempID)
	}
	c.mu.Unlock()

	c.evict(ctx, tempID)
	c.put(ctx, key, &m)

	entry := Entry{Message: m, Text: optimistic.Text, State: StateSent}
	if !had {
		entry = c.crypto.Entry(ctx, m)
	}

	c.mu.Lock()
	if c.open == key {
		c.timeline.Confirm(tempID, entry)
	}
	c.mu.Unlock()

	c.inbox.Received(key, entry.Text, m.CreatedAt, true)
}

func (c *Client) fail(ctx context.Context, tempID string) {
	c.mu.Lock()
	delete(c.pending, tempID)
	c.timeline.Fail(tempID)
	c.mu.Unlock()
	c.evict(ctx, tempID)
}

func (c *Client) ingest(ctx context.Context, key ConversationKey, page []protocol.Message) {
	entries := make([]Entry, 0, len(page))
	for i := range page {
		c.put(ctx, key, &page[i])
		entries = append(entries, c.crypto.Entry(ctx, page[i]))
	}

	c.mu.Lock()
	if c.open == key {
		c.timeline.Merge(entries...)
	}
	c.mu.Unlock()
}

func (c *Client) markSeen(ctx context.Context, key ConversationKey) {
	c.inbox.Seen(key)
	err := c.emitter.Emit(ctx, protocol.EventMarkSeen, protocol.MarkSeenPayload{
		SenderID:       c.self.ID,
		ConversationID: key.ID,
		Type:           protocol.KindDirect,
	})
	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Stringer("conversation", key).Msg("failed to send mark seen")
	}
}

func (c *Client) emitTyping(typing bool) {
	key := c.Current()
	if key.IsZero() {
		return
	}
	event := protocol.EventTypingStop
	if typing {
		event = protocol.EventTypingStart
	}
	err := c.emitter.Emit(context.Background(), event, protocol.TypingPayload{
		ConversationID: key.ID,
		IsGroup:        key.IsRoom(),
		SenderName:     c.self.Name(),
	})
	if err != nil {
		l := log.L()
		l.Debug().Err(err).Str(log.FieldEvent, event).Msg("failed to send typing state")
	}
}

func (c *Client) put(ctx context.Context, key ConversationKey, m *protocol.Message) {
	if err := c.cache.Put(ctx, key, m); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("message_id", m.ID).Msg("failed to cache message")
	}
}

func (c *Client) evict(ctx context.Context, id string) {
	if err := c.cache.Delete(ctx, id); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("message_id", id).Msg("failed to evict cached message")
	}
}
