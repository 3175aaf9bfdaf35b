package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/4xmen/goftegu/pkg/protocol"
)

type fakeStore struct {
	online map[int]bool
	seen   map[int]time.Time
	err    error
}

func (s *fakeStore) SetPresence(_ context.Context, userID int, online bool, at time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.online[userID] = online
	if !online {
		s.seen[userID] = at
	}
	return nil
}

type storeProfiles struct{ s *fakeStore }

func (p storeProfiles) Lookup(_ context.Context, id int) (*protocol.UserStatus, error) {
	st := &protocol.UserStatus{UserSummary: protocol.UserSummary{ID: id, Username: "u"}, IsOnline: p.s.online[id]}
	if at, ok := p.s.seen[id]; ok {
		st.LastSeen = &at
	}
	return st, nil
}

type emitted struct {
	group, except string
	env           *protocol.Envelope
}

type recorder struct {
	mu  sync.Mutex
	out []emitted
}

func (r *recorder) Emit(_ context.Context, group string, env *protocol.Envelope, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, emitted{group, except, env})
}

func TestOfflineBroadcastsToSharedRooms(t *testing.T) {
	st := &fakeStore{online: map[int]bool{}, seen: map[int]time.Time{}}
	rec := &recorder{}
	tr := NewTracker(st, storeProfiles{st}, rec)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	ctx := context.Background()
	tr.Online(ctx, 7, []string{"room:1", "room:2"}, "c1")
	if !st.online[7] {
		t.Fatal("user not marked online")
	}
	tr.Offline(ctx, 7, []string{"room:1", "room:2"}, "c1")

	if st.online[7] || !st.seen[7].Equal(now) {
		t.Fatalf("offline state = %v, %v", st.online[7], st.seen[7])
	}
	if len(rec.out) != 4 {
		t.Fatalf("emitted %d events, want 4", len(rec.out))
	}

	last := rec.out[3]
	if last.group != "room:2" || last.except != "c1" || last.env.Type != protocol.EventUserStatus {
		t.Fatalf("last emission = %+v", last)
	}
	var status protocol.UserStatus
	if err := last.env.Decode(&status); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if status.IsOnline || status.LastSeen == nil || !status.LastSeen.Equal(now) {
		t.Fatalf("status = %+v", status)
	}
}

func TestNoRoomsNoBroadcast(t *testing.T) {
	st := &fakeStore{online: map[int]bool{}, seen: map[int]time.Time{}}
	rec := &recorder{}
	NewTracker(st, storeProfiles{st}, rec).Offline(context.Background(), 3, nil, "c")
	if len(rec.out) != 0 {
		t.Fatalf("emitted %d events for a user without rooms", len(rec.out))
	}
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	st := &fakeStore{err: errors.New("db down")}
	rec := &recorder{}
	NewTracker(st, storeProfiles{st}, rec).Offline(context.Background(), 3, []string{"room:1"}, "c")
	if len(rec.out) != 0 {
		t.Fatalf("emitted %d events after a failed write", len(rec.out))
	}
}
