package chat

import (
	"context"
	"errors"

	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// authenticate binds s to a user, joins the user's private group and one
// group per room membership, then announces the user online to those rooms.
//
// An empty or unknown id is ignored without a reply. An id other than the one
// proven by the connection's token is rejected, and so is rebinding a bound
// connection to someone else.
func (svc *Service) authenticate(ctx context.Context, s Session, env *protocol.Envelope) error {
	var p protocol.AuthenticatePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.UserID <= 0 {
		logger(ctx).Debug().Msg("ignoring authenticate without a user id")
		return nil
	}

	if bound := s.User().ID; bound != 0 {
		if bound != p.UserID {
			return reject(protocol.CodeForbidden, "connection is already bound to another user")
		}
		svc.reply(ctx, s, protocol.EventAuthenticated, protocol.AuthenticatedPayload{UserID: bound, Rooms: joinedRooms(s)})
		return nil
	}
	if p.UserID != s.TokenUserID() {
		return reject(protocol.CodeForbidden, "user id does not match token")
	}

	user, err := svc.dir.Lookup(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger(ctx).Debug().Int("claimed_user_id", p.UserID).Msg("ignoring authenticate for unknown user")
			return nil
		}
		return err
	}

	rooms, err := svc.dir.Rooms(ctx, user.ID)
	if err != nil {
		logger(ctx).Warn().Err(err).Msg("failed to load room memberships")
	}

	s.Bind(user.UserSummary)
	s.Join(UserGroup(user.ID))
	for _, id := range rooms {
		s.Join(RoomGroup(id))
	}

	svc.reply(ctx, s, protocol.EventAuthenticated, protocol.AuthenticatedPayload{UserID: user.ID, Rooms: joinedRooms(s)})
	svc.presence.Online(ctx, user.ID, roomGroups(s), s.ID())
	return nil
}

// joinRooms adds room groups to a bound session. Rooms the store does not
// list the user in are skipped.
func (svc *Service) joinRooms(ctx context.Context, s Session, env *protocol.Envelope) error {
	var ids []int
	if err := decode(env, &ids); err != nil {
		return err
	}

	self := s.User().ID
	for _, id := range ids {
		group := RoomGroup(id)
		if id <= 0 || hasJoined(s, group) {
			continue
		}
		ok, err := svc.dir.IsMember(ctx, id, self)
		if err != nil {
			logger(ctx).Warn().Err(err).Int("room_id", id).Msg("membership check failed")
			continue
		}
		if !ok {
			logger(ctx).Debug().Int("room_id", id).Msg("skipping room without membership")
			continue
		}
		s.Join(group)
	}

	svc.reply(ctx, s, protocol.EventAuthenticated, protocol.AuthenticatedPayload{UserID: self, Rooms: joinedRooms(s)})
	return nil
}

// Disconnect runs once when a connection closes: pending typing indicators
// are cleared and the user is marked offline in the rooms the connection had
// joined. It must be called after the connection has left its groups.
func (svc *Service) Disconnect(ctx context.Context, s Session) {
	user := s.User()
	if user.ID == 0 {
		return
	}

	for key, name := range s.Typing().Drain() {
		svc.emitTyping(ctx, s, protocol.EventUserStopTyping, key, name)
	}

	svc.presence.Offline(ctx, user.ID, roomGroups(s), s.ID())
}
