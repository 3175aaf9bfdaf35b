package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/4xmen/goftegu/internal/db"
	"github.com/4xmen/goftegu/internal/directory"
	"github.com/4xmen/goftegu/internal/models"
	"github.com/4xmen/goftegu/internal/presence"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/protocol"
)

type fakeSession struct {
	id      string
	tokenID int
	user    protocol.UserSummary
	groups  []string
	typing  TypingState

	mu   sync.Mutex
	sent []*protocol.Envelope
}

func (s *fakeSession) ID() string                  { return s.id }
func (s *fakeSession) TokenUserID() int            { return s.tokenID }
func (s *fakeSession) User() protocol.UserSummary  { return s.user }
func (s *fakeSession) Bind(u protocol.UserSummary) { s.user = u }
func (s *fakeSession) Groups() []string            { return s.groups }
func (s *fakeSession) Typing() *TypingState        { return &s.typing }

func (s *fakeSession) Join(group string) {
	if !hasJoined(s, group) {
		s.groups = append(s.groups, group)
	}
}

func (s *fakeSession) Send(env *protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
}

func (s *fakeSession) received(eventType string) []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range s.sent {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// fakeHub delivers to every attached session that has joined the group.
type fakeHub struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (h *fakeHub) attach(s *fakeSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, s)
}

func (h *fakeHub) detach(s *fakeSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, other := range h.sessions {
		if other == s {
			h.sessions = append(h.sessions[:i], h.sessions[i+1:]...)
			return
		}
	}
}

func (h *fakeHub) Emit(_ context.Context, group string, env *protocol.Envelope, except string) {
	h.mu.Lock()
	targets := append([]*fakeSession(nil), h.sessions...)
	h.mu.Unlock()
	for _, s := range targets {
		if s.id != except && hasJoined(s, group) {
			s.Send(env)
		}
	}
}

// failingStore rejects every message write.
type failingStore struct {
	*store.Store
}

var errDiskFull = errors.New("disk full")

func (failingStore) SaveDirect(context.Context, *protocol.Message) error { return errDiskFull }

func (failingStore) SaveGroup(context.Context, *protocol.Message) error { return errDiskFull }

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	hub   *fakeHub
	svc   *Service

	alice, bob, carol, dave int
	room                    int
	conns                   int
}

// newFixture seeds four users and one room holding alice, bob and carol.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{t: t, ctx: context.Background(), store: store.New(database), hub: &fakeHub{}}
	f.alice = f.user("alice", "Alice")
	f.bob = f.user("bob", "")
	f.carol = f.user("carol", "")
	f.dave = f.user("dave", "")

	f.room, err = f.store.CreateRoom(f.ctx, "general", f.alice)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, id := range []int{f.alice, f.bob, f.carol} {
		if err := f.store.AddMember(f.ctx, f.room, id); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	f.svc = f.service(f.store)
	return f
}

func (f *fixture) service(st Store) *Service {
	dir := directory.New(f.store)
	tracker := presence.NewTracker(f.store, dir, f.hub)
	return NewService(dir, st, tracker, f.hub, nil)
}

func (f *fixture) user(username, displayName string) int {
	f.t.Helper()
	u := &models.User{Username: username, PasswordHash: "hash"}
	if displayName != "" {
		u.DisplayName = &displayName
	}
	id, err := f.store.CreateUser(f.ctx, u)
	if err != nil {
		f.t.Fatalf("create user %s: %v", username, err)
	}
	return id
}

// connect opens an authenticated connection for userID and clears what it
// received while binding.
func (f *fixture) connect(userID int) *fakeSession {
	f.t.Helper()
	f.conns++
	s := &fakeSession{id: fmt.Sprintf("conn-%d", f.conns), tokenID: userID}
	f.hub.attach(s)
	f.svc.Handle(f.ctx, s, f.envelope(protocol.EventAuthenticate, protocol.AuthenticatePayload{UserID: userID}))
	if s.User().ID != userID {
		f.t.Fatalf("connection for user %d was not bound", userID)
	}
	s.reset()
	return s
}

func (f *fixture) disconnect(s *fakeSession) {
	f.hub.detach(s)
	f.svc.Disconnect(f.ctx, s)
}

func (f *fixture) envelope(eventType string, payload any) *protocol.Envelope {
	f.t.Helper()
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		f.t.Fatalf("envelope %s: %v", eventType, err)
	}
	return env
}

func (f *fixture) handle(s *fakeSession, eventType string, payload any) {
	f.svc.Handle(f.ctx, s, f.envelope(eventType, payload))
}

func decodeAs[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return v
}

// onlyError returns the single error event s received.
func onlyError(t *testing.T, s *fakeSession) protocol.ErrorPayload {
	t.Helper()
	errs := s.received(protocol.EventError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
	return decodeAs[protocol.ErrorPayload](t, errs[0])
}
