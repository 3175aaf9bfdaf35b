package chat

import (
	"errors"
	"testing"

	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/e2ee"
	"github.com/4xmen/goftegu/pkg/protocol"
)

func TestAuthenticateJoinsGroupsAndAnnouncesPresence(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(f.bob)
	dave := f.connect(f.dave)

	alice := &fakeSession{id: "alice-1", tokenID: f.alice}
	f.hub.attach(alice)
	f.handle(alice, protocol.EventAuthenticate, f.alice)

	replies := alice.received(protocol.EventAuthenticated)
	if len(replies) != 1 {
		t.Fatalf("got %d authenticated replies, want 1", len(replies))
	}
	got := decodeAs[protocol.AuthenticatedPayload](t, replies[0])
	if got.UserID != f.alice || len(got.Rooms) != 1 || got.Rooms[0] != f.room {
		t.Fatalf("authenticated = %+v", got)
	}
	if !hasJoined(alice, UserGroup(f.alice)) || !hasJoined(alice, RoomGroup(f.room)) {
		t.Fatalf("groups = %v", alice.Groups())
	}

	statuses := bob.received(protocol.EventUserStatus)
	if len(statuses) != 1 {
		t.Fatalf("bob got %d status events, want 1", len(statuses))
	}
	status := decodeAs[protocol.UserStatus](t, statuses[0])
	if status.ID != f.alice || !status.IsOnline {
		t.Fatalf("status = %+v", status)
	}
	if n := len(dave.received(protocol.EventUserStatus)); n != 0 {
		t.Fatalf("dave shares no room but got %d status events", n)
	}
	if n := len(alice.received(protocol.EventUserStatus)); n != 0 {
		t.Fatalf("authenticating connection got its own status %d times", n)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("token mismatch", func(t *testing.T) {
		s := &fakeSession{id: "x", tokenID: f.alice}
		f.handle(s, protocol.EventAuthenticate, protocol.AuthenticatePayload{UserID: f.bob})
		if onlyError(t, s).Code != protocol.CodeForbidden {
			t.Fatal("want forbidden")
		}
		if s.User().ID != 0 {
			t.Fatal("session was bound")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		s := &fakeSession{id: "y", tokenID: 999}
		f.handle(s, protocol.EventAuthenticate, protocol.AuthenticatePayload{UserID: 999})
		if len(s.sent) != 0 || len(s.groups) != 0 {
			t.Fatalf("unknown user: sent %d, groups %v", len(s.sent), s.groups)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		s := &fakeSession{id: "z", tokenID: f.alice}
		f.handle(s, protocol.EventAuthenticate, map[string]any{})
		if len(s.sent) != 0 || s.User().ID != 0 {
			t.Fatal("empty authenticate should be a no-op")
		}
	})

	t.Run("rebind", func(t *testing.T) {
		s := f.connect(f.alice)
		f.handle(s, protocol.EventAuthenticate, protocol.AuthenticatePayload{UserID: f.bob})
		if onlyError(t, s).Code != protocol.CodeForbidden {
			t.Fatal("want forbidden")
		}
		if s.User().ID != f.alice {
			t.Fatalf("binding changed to %d", s.User().ID)
		}
	})
}

func TestUnboundConnectionIsRejected(t *testing.T) {
	f := newFixture(t)
	s := &fakeSession{id: "anon", tokenID: f.alice}
	f.hub.attach(s)

	f.handle(s, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.bob, Content: "hi", TempID: "t1"})
	e := onlyError(t, s)
	if e.Code != protocol.CodeUnauthenticated || e.Event != protocol.EventDMSend {
		t.Fatalf("error = %+v", e)
	}
}

func TestMalformedAndUnknownEventsAreDropped(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)

	f.svc.Handle(f.ctx, alice, &protocol.Envelope{Type: protocol.EventDMSend, Data: []byte(`"not an object"`)})
	f.svc.Handle(f.ctx, alice, &protocol.Envelope{Type: protocol.EventDMSend})
	f.svc.Handle(f.ctx, alice, &protocol.Envelope{Type: "nope", Data: []byte(`{}`)})

	if len(alice.sent) != 0 {
		t.Fatalf("got %d replies, want none", len(alice.sent))
	}
}

func TestDirectSendDeliversAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx

	aliceKeys, _ := e2ee.GenerateKeyPair()
	bobKeys, _ := e2ee.GenerateKeyPair()
	if err := f.store.SetPublicKey(ctx, f.alice, aliceKeys.PublicKey); err != nil {
		t.Fatal(err)
	}
	ciphertext, nonce, err := e2ee.EncryptFor(aliceKeys.PrivateKey, bobKeys.PublicKey, "hello")
	if err != nil {
		t.Fatal(err)
	}

	alice := f.connect(f.alice)
	aliceOther := f.connect(f.alice)
	bob := f.connect(f.bob)
	carol := f.connect(f.carol)

	f.handle(alice, protocol.EventDMSend, protocol.DMSendPayload{
		SenderID:    f.alice,
		RecipientID: f.bob,
		Content:     ciphertext,
		Nonce:       nonce,
		TempID:      "temp-1",
	})

	received := bob.received(protocol.EventDMReceive)
	if len(received) != 1 {
		t.Fatalf("bob got %d dm:receive, want 1", len(received))
	}
	m := decodeAs[protocol.Message](t, received[0])

	for _, s := range []*fakeSession{alice, aliceOther} {
		confirms := s.received(protocol.EventDMConfirm)
		if len(confirms) != 1 {
			t.Fatalf("%s got %d confirms, want 1", s.id, len(confirms))
		}
		c := decodeAs[protocol.ConfirmPayload](t, confirms[0])
		if c.TempID != "temp-1" || c.Message.ID != m.ID {
			t.Fatalf("confirm = %+v", c)
		}
	}
	if len(carol.sent) != 0 {
		t.Fatal("carol saw a direct message between others")
	}
	if m.ID == "temp-1" {
		t.Fatal("temp id was used as the durable id")
	}

	stored, err := f.store.Message(ctx, protocol.KindDirect, m.ID)
	if err != nil {
		t.Fatalf("load stored message: %v", err)
	}
	if stored.Content == "hello" || stored.Nonce != nonce || stored.SenderPublicKey != aliceKeys.PublicKey {
		t.Fatalf("stored = %+v", stored)
	}
	plain, err := e2ee.DecryptFrom(bobKeys.PrivateKey, stored.SenderPublicKey, stored.Content, stored.Nonce)
	if err != nil || plain != "hello" {
		t.Fatalf("decrypt = %q, %v", plain, err)
	}
}

func TestDirectSendToSelfConfirmsOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)

	f.handle(alice, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.alice, Content: "note", TempID: "t"})

	if n := len(alice.received(protocol.EventDMReceive)); n != 0 {
		t.Fatalf("got %d dm:receive, want 0", n)
	}
	if n := len(alice.received(protocol.EventDMConfirm)); n != 1 {
		t.Fatalf("got %d dm:confirm, want 1", n)
	}
}

func TestDirectSendValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)

	tests := []struct {
		name    string
		payload protocol.DMSendPayload
		code    string
	}{
		{"unknown recipient", protocol.DMSendPayload{RecipientID: 4242, Content: "x", TempID: "t1"}, protocol.CodeNotFound},
		{"missing recipient", protocol.DMSendPayload{Content: "x", TempID: "t2"}, protocol.CodeInvalid},
		{"blank content", protocol.DMSendPayload{RecipientID: f.bob, Content: "  ", TempID: "t3"}, protocol.CodeInvalid},
		{"bad nonce", protocol.DMSendPayload{RecipientID: f.bob, Content: "x", Nonce: "c2hvcnQ=", TempID: "t4"}, protocol.CodeInvalid},
		{"spoofed sender", protocol.DMSendPayload{SenderID: f.bob, RecipientID: f.carol, Content: "x", TempID: "t5"}, protocol.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.reset()
			f.handle(alice, protocol.EventDMSend, tt.payload)
			e := onlyError(t, alice)
			if e.Code != tt.code || e.TempID != tt.payload.TempID {
				t.Fatalf("error = %+v, want code %s", e, tt.code)
			}
			if n := len(alice.received(protocol.EventDMConfirm)); n != 0 {
				t.Fatalf("rejected send was confirmed %d times", n)
			}
		})
	}
}

func TestPersistFailureIsReportedToOriginOnly(t *testing.T) {
	f := newFixture(t)
	f.svc = f.service(failingStore{f.store})

	alice := f.connect(f.alice)
	aliceOther := f.connect(f.alice)
	bob := f.connect(f.bob)

	f.handle(alice, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.bob, Content: "hi", TempID: "temp-9"})

	if n := len(bob.received(protocol.EventDMReceive)); n != 1 {
		t.Fatalf("bob got %d dm:receive, want 1", n)
	}
	e := onlyError(t, alice)
	if e.Code != protocol.CodePersistFailed || e.TempID != "temp-9" || e.MessageID == "" {
		t.Fatalf("error = %+v", e)
	}
	if n := len(aliceOther.received(protocol.EventError)); n != 0 {
		t.Fatalf("other connection got %d errors", n)
	}

	f.handle(alice, protocol.EventGroupSend, protocol.GroupSendPayload{RoomID: f.room, Content: "hi all", TempID: "temp-10"})
	errs := alice.received(protocol.EventError)
	if last := decodeAs[protocol.ErrorPayload](t, errs[len(errs)-1]); last.TempID != "temp-10" || last.Code != protocol.CodePersistFailed {
		t.Fatalf("group error = %+v", last)
	}
}

func TestGroupSendReachesMembersOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	bob := f.connect(f.bob)
	carol := f.connect(f.carol)
	dave := f.connect(f.dave)

	f.handle(alice, protocol.EventGroupSend, protocol.GroupSendPayload{SenderID: f.alice, RoomID: f.room, Content: "hi all", TempID: "g1"})

	for _, s := range []*fakeSession{alice, bob, carol} {
		got := s.received(protocol.EventGroupReceive)
		if len(got) != 1 {
			t.Fatalf("%s got %d group:receive, want 1", s.id, len(got))
		}
		c := decodeAs[protocol.ConfirmPayload](t, got[0])
		if c.TempID != "g1" || c.Message.RoomID != f.room || c.Message.Content != "hi all" {
			t.Fatalf("group:receive = %+v", c)
		}
	}
	if len(dave.sent) != 0 {
		t.Fatal("non member received a room message")
	}

	history, err := f.store.RoomHistory(f.ctx, f.room, 0, 30)
	if err != nil || len(history) != 1 {
		t.Fatalf("room history = %d, %v", len(history), err)
	}
}

func TestGroupSendRejections(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	dave := f.connect(f.dave)

	f.handle(dave, protocol.EventGroupSend, protocol.GroupSendPayload{RoomID: f.room, Content: "let me in", TempID: "d1"})
	if e := onlyError(t, dave); e.Code != protocol.CodeForbidden || e.TempID != "d1" {
		t.Fatalf("non member error = %+v", e)
	}

	f.handle(alice, protocol.EventGroupSend, protocol.GroupSendPayload{RoomID: f.room, Content: "x", Nonce: "bm9uY2U=", TempID: "a1"})
	if e := onlyError(t, alice); e.Code != protocol.CodeInvalid {
		t.Fatalf("nonce error = %+v", e)
	}
	if n := len(alice.received(protocol.EventGroupReceive)); n != 0 {
		t.Fatalf("rejected send was broadcast %d times", n)
	}
}

func TestHandlerErrorsMatchSentinels(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	dave := f.connect(f.dave)
	send := f.svc.handlers[protocol.EventGroupSend]

	tests := []struct {
		name string
		s    *fakeSession
		env  *protocol.Envelope
		want error
	}{
		{"non member", dave, f.envelope(protocol.EventGroupSend, protocol.GroupSendPayload{RoomID: f.room, Content: "x", TempID: "d1"}), ErrForbidden},
		{"nonce on group", alice, f.envelope(protocol.EventGroupSend, protocol.GroupSendPayload{RoomID: f.room, Content: "x", Nonce: "bm9uY2U=", TempID: "a1"}), ErrInvalidEvent},
		{"malformed payload", alice, &protocol.Envelope{Type: protocol.EventGroupSend, Data: []byte(`"not an object"`)}, ErrInvalidEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := send(f.ctx, tt.s, tt.env)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if err := reject(protocol.CodeNotFound, "gone"); errors.Is(err, ErrForbidden) || errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("not_found matched a sentinel: %v", err)
	}
}

func TestDeleteRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	bob := f.connect(f.bob)

	f.handle(alice, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.bob, Content: "oops", TempID: "t"})
	m := decodeAs[protocol.Message](t, bob.received(protocol.EventDMReceive)[0])
	alice.reset()
	bob.reset()

	f.handle(bob, protocol.EventDelete, protocol.DeletePayload{MessageID: m.ID, MessageType: protocol.KindDirect})
	if e := onlyError(t, bob); e.Code != protocol.CodeForbidden || e.MessageID != m.ID {
		t.Fatalf("error = %+v", e)
	}
	if n := len(alice.received(protocol.EventDeleted)) + len(bob.received(protocol.EventDeleted)); n != 0 {
		t.Fatalf("got %d message:deleted after a refused delete", n)
	}
	if _, err := f.store.Message(f.ctx, protocol.KindDirect, m.ID); err != nil {
		t.Fatalf("message changed by refused delete: %v", err)
	}

	f.handle(alice, protocol.EventDelete, protocol.DeletePayload{UserID: f.alice, MessageID: m.ID, MessageType: protocol.KindDirect})
	for _, s := range []*fakeSession{alice, bob} {
		got := s.received(protocol.EventDeleted)
		if len(got) != 1 || decodeAs[string](t, got[0]) != m.ID {
			t.Fatalf("%s message:deleted = %v", s.id, got)
		}
	}
	if _, err := f.store.Message(f.ctx, protocol.KindDirect, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("after delete err = %v, want ErrNotFound", err)
	}

	alice.reset()
	f.handle(alice, protocol.EventDelete, protocol.DeletePayload{MessageID: m.ID, MessageType: protocol.KindDirect})
	if e := onlyError(t, alice); e.Code != protocol.CodeNotFound {
		t.Fatalf("second delete error = %+v", e)
	}
}

func TestDeleteRoomMessageBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	carol := f.connect(f.carol)

	f.handle(alice, protocol.EventGroupSend, protocol.GroupSendPayload{RoomID: f.room, Content: "x", TempID: "g"})
	m := decodeAs[protocol.ConfirmPayload](t, carol.received(protocol.EventGroupReceive)[0]).Message

	f.handle(alice, protocol.EventDelete, protocol.DeletePayload{MessageID: m.ID, MessageType: protocol.KindGroup})
	if n := len(carol.received(protocol.EventDeleted)); n != 1 {
		t.Fatalf("carol got %d message:deleted, want 1", n)
	}
}

func TestToggleReactionTwiceRestoresSet(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	bob := f.connect(f.bob)
	dave := f.connect(f.dave)

	f.handle(alice, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.bob, Content: "x", TempID: "t"})
	m := decodeAs[protocol.Message](t, bob.received(protocol.EventDMReceive)[0])

	react := protocol.ReactPayload{Emoji: "👍", DirectMessageID: m.ID}
	f.handle(bob, protocol.EventReact, react)
	f.handle(bob, protocol.EventReact, react)

	for _, s := range []*fakeSession{alice, bob} {
		updates := s.received(protocol.EventReactionUpdate)
		if len(updates) != 2 {
			t.Fatalf("%s got %d updates, want 2", s.id, len(updates))
		}
		first := decodeAs[protocol.ReactionUpdatePayload](t, updates[0])
		second := decodeAs[protocol.ReactionUpdatePayload](t, updates[1])
		if first.Action != protocol.ReactionAdded || second.Action != protocol.ReactionRemoved {
			t.Fatalf("actions = %s, %s", first.Action, second.Action)
		}
		if first.MessageID != m.ID || first.Reaction.ID != second.Reaction.ID || first.Reaction.User == nil {
			t.Fatalf("updates = %+v / %+v", first, second)
		}
	}

	stored, err := f.store.Message(f.ctx, protocol.KindDirect, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Reactions) != 0 {
		t.Fatalf("reactions after two toggles = %v", stored.Reactions)
	}

	f.handle(dave, protocol.EventReact, react)
	if e := onlyError(t, dave); e.Code != protocol.CodeForbidden {
		t.Fatalf("outsider error = %+v", e)
	}
}

func TestToggleReactionValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)

	tests := []struct {
		name    string
		payload protocol.ReactPayload
		code    string
	}{
		{"no target", protocol.ReactPayload{Emoji: "🔥"}, protocol.CodeInvalid},
		{"two targets", protocol.ReactPayload{Emoji: "🔥", DirectMessageID: "a", GroupMessageID: "b"}, protocol.CodeInvalid},
		{"no emoji", protocol.ReactPayload{GroupMessageID: "b"}, protocol.CodeInvalid},
		{"missing message", protocol.ReactPayload{Emoji: "🔥", GroupMessageID: "missing"}, protocol.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.reset()
			f.handle(alice, protocol.EventReact, tt.payload)
			if e := onlyError(t, alice); e.Code != tt.code {
				t.Fatalf("code = %s, want %s", e.Code, tt.code)
			}
		})
	}
}

func TestTypingRelay(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	bob := f.connect(f.bob)
	dave := f.connect(f.dave)

	f.handle(alice, protocol.EventTypingStart, protocol.TypingPayload{ConversationID: f.room, IsGroup: true})
	got := bob.received(protocol.EventUserTyping)
	if len(got) != 1 {
		t.Fatalf("bob got %d typing events, want 1", len(got))
	}
	notice := decodeAs[protocol.TypingNotice](t, got[0])
	if notice.ConversationID != f.room || !notice.IsGroup || notice.Name != "Alice" {
		t.Fatalf("notice = %+v", notice)
	}
	if n := len(alice.received(protocol.EventUserTyping)); n != 0 {
		t.Fatal("typist received its own notice")
	}

	f.handle(alice, protocol.EventTypingStart, protocol.TypingPayload{ConversationID: f.dave, SenderName: "A."})
	got = dave.received(protocol.EventUserTyping)
	if len(got) != 1 {
		t.Fatalf("dave got %d typing events, want 1", len(got))
	}
	if notice := decodeAs[protocol.TypingNotice](t, got[0]); notice.ConversationID != f.alice || notice.Name != "A." {
		t.Fatalf("direct notice = %+v", notice)
	}

	f.handle(dave, protocol.EventTypingStart, protocol.TypingPayload{ConversationID: f.room, IsGroup: true})
	if e := onlyError(t, dave); e.Code != protocol.CodeForbidden {
		t.Fatalf("outsider typing error = %+v", e)
	}

	f.handle(alice, protocol.EventTypingStop, protocol.TypingPayload{ConversationID: f.room, IsGroup: true})
	if n := len(bob.received(protocol.EventUserStopTyping)); n != 1 {
		t.Fatalf("bob got %d stop events, want 1", n)
	}
	if active := alice.Typing().Drain(); len(active) != 1 {
		t.Fatalf("active typing = %v, want only the direct conversation", active)
	}
}

func TestDisconnectClearsTypingAndAnnouncesOffline(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	bob := f.connect(f.bob)
	dave := f.connect(f.dave)

	f.handle(alice, protocol.EventTypingStart, protocol.TypingPayload{ConversationID: f.room, IsGroup: true})
	bob.reset()

	f.disconnect(alice)

	if n := len(bob.received(protocol.EventUserStopTyping)); n != 1 {
		t.Fatalf("bob got %d stop events, want 1", n)
	}
	statuses := bob.received(protocol.EventUserStatus)
	if len(statuses) != 1 {
		t.Fatalf("bob got %d status events, want 1", len(statuses))
	}
	status := decodeAs[protocol.UserStatus](t, statuses[0])
	if status.ID != f.alice || status.IsOnline || status.LastSeen == nil {
		t.Fatalf("status = %+v", status)
	}
	if len(dave.sent) != 0 {
		t.Fatal("user sharing no room saw the disconnect")
	}

	u, err := f.store.UserByID(f.ctx, f.alice)
	if err != nil {
		t.Fatal(err)
	}
	if u.IsOnline || u.LastSeen == nil {
		t.Fatalf("stored presence = online %v, last seen %v", u.IsOnline, u.LastSeen)
	}
}

func TestMarkSeen(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(f.alice)
	bob := f.connect(f.bob)

	f.handle(bob, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.alice, Content: "one", TempID: "1"})
	f.handle(bob, protocol.EventDMSend, protocol.DMSendPayload{RecipientID: f.alice, Content: "two", TempID: "2"})
	bob.reset()

	f.handle(alice, protocol.EventMarkSeen, protocol.MarkSeenPayload{SenderID: f.alice, ConversationID: f.bob, Type: protocol.KindDirect})

	seen := bob.received(protocol.EventSeen)
	if len(seen) != 1 {
		t.Fatalf("bob got %d seen events, want 1", len(seen))
	}
	if p := decodeAs[protocol.SeenPayload](t, seen[0]); p.ViewerID != f.alice || p.Time.IsZero() {
		t.Fatalf("seen = %+v", p)
	}

	history, err := f.store.DirectHistory(f.ctx, f.alice, f.bob, 0, 30)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range history {
		if !m.IsRead {
			t.Fatalf("message %s still unread", m.ID)
		}
	}

	alice.reset()
	bob.reset()
	f.handle(alice, protocol.EventMarkSeen, protocol.MarkSeenPayload{ConversationID: f.room, Type: protocol.KindGroup})
	if len(bob.sent) != 0 || len(alice.sent) != 0 {
		t.Fatal("room mark seen should be ignored")
	}
}

func TestJoinRoomsOnlyJoinsMemberships(t *testing.T) {
	f := newFixture(t)
	dave := f.connect(f.dave)

	other, err := f.store.CreateRoom(f.ctx, "side", f.dave)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.AddMember(f.ctx, other, f.dave); err != nil {
		t.Fatal(err)
	}

	f.handle(dave, protocol.EventJoinRooms, []int{f.room, other})

	replies := dave.received(protocol.EventAuthenticated)
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	got := decodeAs[protocol.AuthenticatedPayload](t, replies[0])
	if len(got.Rooms) != 1 || got.Rooms[0] != other {
		t.Fatalf("rooms = %v, want [%d]", got.Rooms, other)
	}
	if hasJoined(dave, RoomGroup(f.room)) {
		t.Fatal("joined a room without membership")
	}
}
