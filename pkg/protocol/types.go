package protocol

import (
	"bytes"
	"encoding/json"
	"time"
)

type UserSummary struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Name is what other participants see in typing indicators and previews.
func (u UserSummary) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// UserStatus is the presence snapshot broadcast as user:status.
type UserStatus struct {
	UserSummary
	PublicKey string     `json:"publicKey,omitempty"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

type Reaction struct {
	ID              string       `json:"id"`
	Emoji           string       `json:"emoji"`
	UserID          int          `json:"userId"`
	DirectMessageID string       `json:"directMessageId,omitempty"`
	GroupMessageID  string       `json:"groupMessageId,omitempty"`
	User            *UserSummary `json:"user,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Message is a persisted direct or room message. Exactly one of RecipientID
// and RoomID is set. Nonce is set only when Content is ciphertext.
type Message struct {
	ID              string       `json:"id"`
	SenderID        int          `json:"senderId"`
	RecipientID     int          `json:"recipientId,omitempty"`
	RoomID          int          `json:"roomId,omitempty"`
	Content         string       `json:"content"`
	Nonce           string       `json:"nonce,omitempty"`
	SenderPublicKey string       `json:"senderPublicKey,omitempty"`
	IsRead          bool         `json:"isRead"`
	CreatedAt       time.Time    `json:"createdAt"`
	Sender          *UserSummary `json:"sender,omitempty"`
	Reactions       []Reaction   `json:"reactions"`
}

func (m *Message) IsGroup() bool { return m.RoomID != 0 }

func (m *Message) Encrypted() bool { return m.Nonce != "" }

// Kind returns KindGroup or KindDirect.
func (m *Message) Kind() string {
	if m.IsGroup() {
		return KindGroup
	}
	return KindDirect
}

// Peer returns the other participant of a direct message as seen by self.
func (m *Message) Peer(self int) int {
	if m.SenderID == self {
		return m.RecipientID
	}
	return m.SenderID
}

// AuthenticatePayload accepts both {"userId": 7} and a bare 7.
type AuthenticatePayload struct {
	UserID int `json:"userId"`
}

func (p *AuthenticatePayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		return json.Unmarshal(data, &p.UserID)
	}
	type plain AuthenticatePayload
	return json.Unmarshal(data, (*plain)(p))
}

type AuthenticatedPayload struct {
	UserID int   `json:"userId"`
	Rooms  []int `json:"rooms"`
}

type DMSendPayload struct {
	SenderID    int    `json:"senderId,omitempty"`
	RecipientID int    `json:"recipientId"`
	Content     string `json:"content"`
	Nonce       string `json:"nonce,omitempty"`
	TempID      string `json:"tempId"`
}

type GroupSendPayload struct {
	SenderID int    `json:"senderId,omitempty"`
	RoomID   int    `json:"roomId"`
	Content  string `json:"content"`
	Nonce    string `json:"nonce,omitempty"`
	TempID   string `json:"tempId"`
}

// ConfirmPayload maps a client correlation id to the server record. It is the
// data of both dm:confirm and group:receive.
type ConfirmPayload struct {
	TempID  string   `json:"tempId"`
	Message *Message `json:"message"`
}

type DeletePayload struct {
	UserID      int    `json:"userId,omitempty"`
	MessageID   string `json:"messageId"`
	MessageType string `json:"messageType"`
}

type ReactPayload struct {
	UserID          int    `json:"userId,omitempty"`
	Emoji           string `json:"emoji"`
	GroupMessageID  string `json:"groupMessageId,omitempty"`
	DirectMessageID string `json:"directMessageId,omitempty"`
}

type ReactionUpdatePayload struct {
	Action    string   `json:"action"`
	Reaction  Reaction `json:"reaction"`
	MessageID string   `json:"messageId"`
}

type TypingPayload struct {
	ConversationID int    `json:"conversationId"`
	IsGroup        bool   `json:"isGroup"`
	SenderName     string `json:"senderName,omitempty"`
}

// TypingNotice is the data of user:typing and user:stopped-typing.
type TypingNotice struct {
	ConversationID int    `json:"conversationId"`
	IsGroup        bool   `json:"isGroup"`
	Name           string `json:"name"`
}

type MarkSeenPayload struct {
	SenderID       int    `json:"senderId,omitempty"`
	ConversationID int    `json:"conversationId"`
	Type           string `json:"type"`
}

type SeenPayload struct {
	ViewerID int       `json:"viewerId"`
	Time     time.Time `json:"time"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Event     string `json:"event,omitempty"`
	TempID    string `json:"tempId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// ConversationPreview is one row of a conversation list.
type ConversationPreview struct {
	UserStatus
	LastMessage          string     `json:"lastMessage,omitempty"`
	LastMessageNonce     string     `json:"lastMessageNonce,omitempty"`
	LastMessageTimestamp *time.Time `json:"lastMessageTimestamp,omitempty"`
	UnseenCount          int        `json:"unseenCount"`
}

type RoomPreview struct {
	ID                   int        `json:"id"`
	Name                 string     `json:"name"`
	LastMessage          string     `json:"lastMessage,omitempty"`
	LastMessageTimestamp *time.Time `json:"lastMessageTimestamp,omitempty"`
}
