package chatclient

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/4xmen/goftegu/pkg/protocol"
)

// Preview is one row of the conversation list.
type Preview struct {
	Key                  ConversationKey
	Title                string
	LastMessage          string
	LastMessageTimestamp *time.Time
	UnseenCount          int
	IsOnline             bool
	LastSeen             *time.Time
}

// Inbox is the conversation list with unseen counters.
type Inbox struct {
	mu       sync.Mutex
	open     ConversationKey
	previews map[ConversationKey]*Preview
}

func NewInbox() *Inbox {
	return &Inbox{previews: make(map[ConversationKey]*Preview)}
}

// LoadConversations replaces the direct conversation rows. text returns the
// display form of each row's last message.
func (in *Inbox) LoadConversations(rows []protocol.ConversationPreview, text func(protocol.ConversationPreview) string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, r := range rows {
		key := DM(r.ID)
		p := &Preview{
			Key:                  key,
			Title:                r.Name(),
			LastMessage:          text(r),
			LastMessageTimestamp: r.LastMessageTimestamp,
			UnseenCount:          r.UnseenCount,
			IsOnline:             r.IsOnline,
			LastSeen:             r.LastSeen,
		}
		if key == in.open {
			p.UnseenCount = 0
		}
		in.previews[key] = p
	}
}

func (in *Inbox) LoadRooms(rows []protocol.RoomPreview) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, r := range rows {
		key := Room(r.ID)
		p := in.get(key)
		p.Title = r.Name
		p.LastMessage = r.LastMessage
		p.LastMessageTimestamp = r.LastMessageTimestamp
	}
}

// Open marks key as the conversation on screen and clears its counter.
func (in *Inbox) Open(key ConversationKey) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.open = key
	if p, ok := in.previews[key]; ok {
		p.UnseenCount = 0
	}
}

func (in *Inbox) Seen(key ConversationKey) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if p, ok := in.previews[key]; ok {
		p.UnseenCount = 0
	}
}

// Received records a new last message. The counter grows only for messages
// from others in conversations that are not on screen.
func (in *Inbox) Received(key ConversationKey, text string, at time.Time, fromSelf bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	p := in.get(key)
	if p.LastMessageTimestamp != nil && at.Before(*p.LastMessageTimestamp) {
		return
	}
	p.LastMessage = text
	p.LastMessageTimestamp = &at
	if !fromSelf && key != in.open {
		p.UnseenCount++
	}
}

// Status applies a user:status to the matching direct conversation.
func (in *Inbox) Status(u protocol.UserStatus) {
	in.mu.Lock()
	defer in.mu.Unlock()

	p, ok := in.previews[DM(u.ID)]
	if !ok {
		return
	}
	p.IsOnline = u.IsOnline
	if u.LastSeen != nil {
		p.LastSeen = u.LastSeen
	}
	if name := u.Name(); name != "" {
		p.Title = name
	}
}

func (in *Inbox) Get(key ConversationKey) (Preview, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	p, ok := in.previews[key]
	if !ok {
		return Preview{}, false
	}
	return *p, true
}

// List returns the rows by last activity, most recent first.
func (in *Inbox) List() []Preview {
	in.mu.Lock()
	out := make([]Preview, 0, len(in.previews))
	for _, p := range in.previews {
		out = append(out, *p)
	}
	in.mu.Unlock()

	slices.SortFunc(out, func(a, b Preview) int {
		switch {
		case a.LastMessageTimestamp == nil && b.LastMessageTimestamp != nil:
			return 1
		case a.LastMessageTimestamp != nil && b.LastMessageTimestamp == nil:
			return -1
		case a.LastMessageTimestamp != nil:
			if c := b.LastMessageTimestamp.Compare(*a.LastMessageTimestamp); c != 0 {
				return c
			}
		}
		return strings.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// TotalUnseen sums the counters, for a badge.
func (in *Inbox) TotalUnseen() int {
	in.mu.Lock()
	defer in.mu.Unlock()

	n := 0
	for _, p := range in.previews {
		n += p.UnseenCount
	}
	return n
}

func (in *Inbox) get(key ConversationKey) *Preview {
	p, ok := in.previews[key]
	if !ok {
		p = &Preview{Key: key}
		in.previews[key] = p
	}
	return p
}
