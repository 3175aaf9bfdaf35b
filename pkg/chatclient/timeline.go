// Package chatclient keeps a client's view of its conversations consistent
// with the server: optimistic sends reconciled against confirms, a local
// ciphertext cache, backward pagination, typing indicators and the
// conversation list.
//
// Every merge is keyed by message id, so events that arrive out of order
// (a confirm after a later live message, a history page overlapping live
// traffic) converge to the same state.
package chatclient

import (
	"fmt"
	"slices"
	"strings"

	"github.com/4xmen/goftegu/pkg/protocol"
)

type Kind string

const (
	KindDM   Kind = "dm"
	KindRoom Kind = "room"
)

// ConversationKey names a conversation from the local user's side: the peer
// for a direct conversation, the room otherwise.
type ConversationKey struct {
	Kind Kind
	ID   int
}

func DM(userID int) ConversationKey   { return ConversationKey{Kind: KindDM, ID: userID} }
func Room(roomID int) ConversationKey { return ConversationKey{Kind: KindRoom, ID: roomID} }

func (k ConversationKey) IsZero() bool   { return k.ID == 0 }
func (k ConversationKey) IsRoom() bool   { return k.Kind == KindRoom }
func (k ConversationKey) String() string { return fmt.Sprintf("%s:%d", k.Kind, k.ID) }

// KeyOf returns the conversation m belongs to as seen by self.
func KeyOf(m *protocol.Message, self int) ConversationKey {
	if m.IsGroup() {
		return Room(m.RoomID)
	}
	return DM(m.Peer(self))
}

type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateFailed  State = "failed"
)

// Entry is one rendered message. Message is the record as received, so its
// Content is ciphertext for encrypted direct messages. Text is what the user
// sees.
type Entry struct {
	Message       protocol.Message
	Text          string
	State         State
	Undecryptable bool
}

func (e Entry) ID() string { return e.Message.ID }

// Timeline is the rendered list of one conversation, ascending by creation
// time and id. It is not safe for concurrent use.
type Timeline struct {
	entries []Entry
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) Len() int { return len(t.entries) }

// Entries returns a copy of the list in display order.
func (t *Timeline) Entries() []Entry {
	return slices.Clone(t.entries)
}

func (t *Timeline) Get(id string) (Entry, bool) {
	if i := t.find(id); i >= 0 {
		return t.entries[i], true
	}
	return Entry{}, false
}

// Merge inserts entries, replacing any entry with the same id.
func (t *Timeline) Merge(entries ...Entry) {
	for _, e := range entries {
		if i := t.find(e.ID()); i >= 0 {
			t.entries[i] = e
			continue
		}
		t.entries = append(t.entries, e)
	}
	t.sort()
}

// Confirm swaps the optimistic entry tempID for the server's record. The
// length of the list does not change when the optimistic entry is present.
// If the record already arrived by another path the optimistic entry is
// dropped instead of leaving a duplicate.
func (t *Timeline) Confirm(tempID string, e Entry) {
	i := t.find(tempID)
	if j := t.find(e.ID()); j >= 0 {
		t.entries[j] = e
		if i >= 0 && i != j {
			t.entries = slices.Delete(t.entries, i, i+1)
		}
		t.sort()
		return
	}
	if i < 0 {
		t.Merge(e)
		return
	}
	t.entries[i] = e
	t.sort()
}

// Fail flags a pending entry. It reports whether the entry exists.
func (t *Timeline) Fail(tempID string) bool {
	i := t.find(tempID)
	if i < 0 {
		return false
	}
	t.entries[i].State = StateFailed
	return true
}

func (t *Timeline) Remove(id string) bool {
	i := t.find(id)
	if i < 0 {
		return false
	}
	t.entries = slices.Delete(t.entries, i, i+1)
	return true
}

// ApplyReaction applies a reaction:update. Applying the same update twice
// has no further effect.
func (t *Timeline) ApplyReaction(action string, r protocol.Reaction, messageID string) bool {
	i := t.find(messageID)
	if i < 0 {
		return false
	}
	m := &t.entries[i].Message
	same := func(x protocol.Reaction) bool {
		if r.ID != "" && x.ID == r.ID {
			return true
		}
		return x.UserID == r.UserID && x.Emoji == r.Emoji
	}

	switch action {
	case protocol.ReactionAdded:
		if slices.ContainsFunc(m.Reactions, same) {
			return true
		}
		m.Reactions = append(slices.Clone(m.Reactions), r)
	case protocol.ReactionRemoved:
		m.Reactions = slices.DeleteFunc(slices.Clone(m.Reactions), same)
	default:
		return false
	}
	return true
}

// MarkSentRead flags every message selfID sent in this conversation as read
// and returns how many changed.
func (t *Timeline) MarkSentRead(selfID int) int {
	n := 0
	for i := range t.entries {
		m := &t.entries[i].Message
		if m.SenderID == selfID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n
}

func (t *Timeline) find(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(t.entries, func(e Entry) bool { return e.ID() == id })
}

func (t *Timeline) sort() {
	slices.SortStableFunc(t.entries, func(a, b Entry) int {
		if c := a.Message.CreatedAt.Compare(b.Message.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID(), b.ID())
	})
}
