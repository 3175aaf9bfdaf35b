// Package presence records online state and last-seen in the durable store
// and announces changes to the rooms a user shares with others.
//
// Every update is a single-row idempotent write scoped to one user; the last
// write wins. Failures are logged and never returned: presence must not
// block a connection from binding or tearing down.
package presence

import (
	"context"
	"time"

	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

type Store interface {
	SetPresence(ctx context.Context, userID int, online bool, at time.Time) error
}

type Profiles interface {
	Lookup(ctx context.Context, id int) (*protocol.UserStatus, error)
}

type Emitter interface {
	Emit(ctx context.Context, group string, env *protocol.Envelope, except string)
}

type Tracker struct {
	store    Store
	profiles Profiles
	emitter  Emitter
	now      func() time.Time
}

func NewTracker(store Store, profiles Profiles, emitter Emitter) *Tracker {
	return &Tracker{
		store:    store,
		profiles: profiles,
		emitter:  emitter,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Online marks userID online and sends the snapshot to groups, skipping the
// connection that triggered the change.
func (t *Tracker) Online(ctx context.Context, userID int, groups []string, connID string) {
	t.update(ctx, userID, true, groups, connID)
}

// Offline marks userID offline with last-seen now. groups are the room
// groups the closing connection had joined.
func (t *Tracker) Offline(ctx context.Context, userID int, groups []string, connID string) {
	t.update(ctx, userID, false, groups, connID)
}

func (t *Tracker) update(ctx context.Context, userID int, online bool, groups []string, connID string) {
	l := log.Ctx(ctx)
	at := t.now()

	if err := t.store.SetPresence(ctx, userID, online, at); err != nil {
		l.Warn().Err(err).Int(log.FieldUserID, userID).Bool("online", online).Msg("presence update failed")
		return
	}

	status, err := t.profiles.Lookup(ctx, userID)
	if err != nil {
		l.Warn().Err(err).Int(log.FieldUserID, userID).Msg("presence snapshot lookup failed")
		status = &protocol.UserStatus{UserSummary: protocol.UserSummary{ID: userID}, IsOnline: online}
		if !online {
			status.LastSeen = &at
		}
	}

	if len(groups) == 0 {
		return
	}
	env, err := protocol.NewEnvelope(protocol.EventUserStatus, status)
	if err != nil {
		l.Error().Err(err).Msg("failed to encode user status")
		return
	}
	for _, g := range groups {
		t.emitter.Emit(ctx, g, env, connID)
	}
}
