// Package journal appends an ordered record of every persisted chat effect
// for downstream consumers. The router writes to it only after the store
// has accepted the change.
package journal

import (
	"context"
	"strconv"
	"time"

	"github.com/4xmen/goftegu/pkg/protocol"
)

const (
	KindMessageCreated  = "message.created"
	KindMessageDeleted  = "message.deleted"
	KindReactionAdded   = "reaction.added"
	KindReactionRemoved = "reaction.removed"
)

type Record struct {
	Kind      string             `json:"kind"`
	MessageID string             `json:"messageId"`
	Message   *protocol.Message  `json:"message,omitempty"`
	Reaction  *protocol.Reaction `json:"reaction,omitempty"`
	RoomID    int                `json:"roomId,omitempty"`
	// Participants of a direct conversation, lower id first.
	Users []int     `json:"users,omitempty"`
	At    time.Time `json:"at"`
}

// Key groups records of one conversation so a partitioned sink keeps their
// relative order.
func (r *Record) Key() string {
	if r.RoomID != 0 {
		return "room:" + strconv.Itoa(r.RoomID)
	}
	if len(r.Users) == 2 {
		return "dm:" + strconv.Itoa(r.Users[0]) + ":" + strconv.Itoa(r.Users[1])
	}
	return "message:" + r.MessageID
}

// ForMessage builds a record for a direct or room message.
func ForMessage(kind string, m *protocol.Message, at time.Time) *Record {
	r := &Record{Kind: kind, MessageID: m.ID, At: at}
	if kind == KindMessageCreated {
		r.Message = m
	}
	if m.IsGroup() {
		r.RoomID = m.RoomID
	} else {
		r.Users = pair(m.SenderID, m.RecipientID)
	}
	return r
}

func pair(a, b int) []int {
	if a > b {
		a, b = b, a
	}
	return []int{a, b}
}

type Journal interface {
	Append(ctx context.Context, r *Record) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Append(context.Context, *Record) error { return nil }

func (Nop) Close() error { return nil }
