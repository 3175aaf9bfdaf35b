package chat

import (
	"sort"
	"strconv"
	"strings"

	"github.com/4xmen/goftegu/pkg/protocol"
)

// Session is one socket connection as the router sees it. Its methods are
// called from the connection's read goroutine only.
type Session interface {
	ID() string
	// TokenUserID is the identity proven by the JWT presented at upgrade.
	TokenUserID() int
	// User is zero until Bind.
	User() protocol.UserSummary
	Bind(u protocol.UserSummary)
	Join(group string)
	Groups() []string
	// Send writes to this connection only.
	Send(env *protocol.Envelope)
	Typing() *TypingState
}

func UserGroup(userID int) string {
	return "user:" + strconv.Itoa(userID)
}

func RoomGroup(roomID int) string {
	return "room:" + strconv.Itoa(roomID)
}

// RoomFromGroup returns the room id of a room group name.
func RoomFromGroup(group string) (int, bool) {
	rest, ok := strings.CutPrefix(group, "room:")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// joinedRooms lists the rooms s has joined, ascending.
func joinedRooms(s Session) []int {
	rooms := []int{}
	for _, g := range s.Groups() {
		if id, ok := RoomFromGroup(g); ok {
			rooms = append(rooms, id)
		}
	}
	sort.Ints(rooms)
	return rooms
}

func roomGroups(s Session) []string {
	var groups []string
	for _, id := range joinedRooms(s) {
		groups = append(groups, RoomGroup(id))
	}
	return groups
}

func hasJoined(s Session, group string) bool {
	for _, g := range s.Groups() {
		if g == group {
			return true
		}
	}
	return false
}

type TypingKey struct {
	ConversationID int
	IsGroup        bool
}

// TypingState remembers the conversations a connection is currently typing
// in, so a dropped connection can send the matching stop notices.
type TypingState struct {
	active map[TypingKey]string
}

func (t *TypingState) Start(key TypingKey, name string) {
	if t.active == nil {
		t.active = make(map[TypingKey]string)
	}
	t.active[key] = name
}

func (t *TypingState) Stop(key TypingKey) {
	delete(t.active, key)
}

// Drain returns and forgets every active entry.
func (t *TypingState) Drain() map[TypingKey]string {
	out := t.active
	t.active = nil
	return out
}
