package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/4xmen/goftegu/internal/journal"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// loadMessage maps store failures to the error reported to the requester.
func (svc *Service) loadMessage(ctx context.Context, kind, id string) (*protocol.Message, error) {
	m, err := svc.store.Message(ctx, kind, id)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, reject(protocol.CodeNotFound, "message not found").withMessage(id)
	}
	logger(ctx).Error().Err(err).Str(log.FieldMessageID, id).Msg("failed to load message")
	return nil, reject(protocol.CodePersistFailed, "message could not be loaded").withMessage(id)
}

// deleteMessage hard-deletes a message owned by the requester. Anyone else
// gets forbidden and nothing is broadcast.
func (svc *Service) deleteMessage(ctx context.Context, s Session, env *protocol.Envelope) error {
	var p protocol.DeletePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if e := checkActor(s, p.UserID); e != nil {
		return e.withMessage(p.MessageID)
	}
	if p.MessageID == "" {
		return reject(protocol.CodeInvalid, "messageId is required")
	}
	if p.MessageType != protocol.KindDirect && p.MessageType != protocol.KindGroup {
		return reject(protocol.CodeInvalid, "messageType must be %q or %q", protocol.KindDirect, protocol.KindGroup).withMessage(p.MessageID)
	}

	m, err := svc.loadMessage(ctx, p.MessageType, p.MessageID)
	if err != nil {
		return err
	}
	if m.SenderID != s.User().ID {
		return reject(protocol.CodeForbidden, "only the sender may delete a message").withMessage(m.ID)
	}

	if err := svc.store.DeleteMessage(ctx, p.MessageType, m.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject(protocol.CodeNotFound, "message not found").withMessage(m.ID)
		}
		logger(ctx).Error().Err(err).Str(log.FieldMessageID, m.ID).Msg("failed to delete message")
		return reject(protocol.CodePersistFailed, "message was not deleted").withMessage(m.ID)
	}

	if m.IsGroup() {
		svc.emit(ctx, RoomGroup(m.RoomID), protocol.EventDeleted, m.ID, "")
	} else {
		svc.emitUsers(ctx, protocol.EventDeleted, m.ID, m.SenderID, m.RecipientID)
	}
	svc.record(ctx, journal.ForMessage(journal.KindMessageDeleted, m, svc.store.Now()))
	return nil
}

func (svc *Service) toggleReaction(ctx context.Context, s Session, env *protocol.Envelope) error {
	var p protocol.ReactPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if e := checkActor(s, p.UserID); e != nil {
		return e
	}
	if (p.DirectMessageID == "") == (p.GroupMessageID == "") {
		return reject(protocol.CodeInvalid, "exactly one of directMessageId and groupMessageId is required")
	}
	if strings.TrimSpace(p.Emoji) == "" {
		return reject(protocol.CodeInvalid, "emoji is required")
	}

	kind, id := protocol.KindDirect, p.DirectMessageID
	if p.GroupMessageID != "" {
		kind, id = protocol.KindGroup, p.GroupMessageID
	}
	m, err := svc.loadMessage(ctx, kind, id)
	if err != nil {
		return err
	}

	user := s.User()
	if err := svc.checkParticipant(ctx, m, user.ID); err != nil {
		return err
	}

	action, r, err := svc.store.ToggleReaction(ctx, protocol.Reaction{
		Emoji:           p.Emoji,
		UserID:          user.ID,
		DirectMessageID: p.DirectMessageID,
		GroupMessageID:  p.GroupMessageID,
	})
	if err != nil {
		logger(ctx).Error().Err(err).Str(log.FieldMessageID, id).Msg("failed to toggle reaction")
		return reject(protocol.CodePersistFailed, "reaction was not saved").withMessage(id)
	}
	r.User = &user

	update := protocol.ReactionUpdatePayload{Action: action, Reaction: r, MessageID: m.ID}
	if m.IsGroup() {
		svc.emit(ctx, RoomGroup(m.RoomID), protocol.EventReactionUpdate, update, "")
	} else {
		svc.emitUsers(ctx, protocol.EventReactionUpdate, update, m.SenderID, m.RecipientID)
	}

	rec := journal.ForMessage(journal.KindReactionAdded, m, r.CreatedAt)
	if action == protocol.ReactionRemoved {
		rec.Kind = journal.KindReactionRemoved
		rec.At = svc.store.Now()
	}
	rec.Reaction = &r
	svc.record(ctx, rec)
	return nil
}

// checkParticipant allows the two ends of a direct message and the members
// of a room.
func (svc *Service) checkParticipant(ctx context.Context, m *protocol.Message, userID int) error {
	if !m.IsGroup() {
		if userID == m.SenderID || userID == m.RecipientID {
			return nil
		}
		return reject(protocol.CodeForbidden, "not a participant of this conversation").withMessage(m.ID)
	}
	ok, err := svc.dir.IsMember(ctx, m.RoomID, userID)
	if err != nil {
		logger(ctx).Error().Err(err).Int(log.FieldRoomID, m.RoomID).Msg("membership check failed")
		return reject(protocol.CodePersistFailed, "membership could not be checked").withMessage(m.ID)
	}
	if !ok {
		return reject(protocol.CodeForbidden, "not a member of room %d", m.RoomID).withMessage(m.ID)
	}
	return nil
}

// markSeen tells the other participant of a direct conversation that the
// viewer has read it, then marks their messages read. Rooms have no seen
// state.
func (svc *Service) markSeen(ctx context.Context, s Session, env *protocol.Envelope) error {
	var p protocol.MarkSeenPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if e := checkActor(s, p.SenderID); e != nil {
		return e
	}
	if p.Type != protocol.KindDirect {
		logger(ctx).Debug().Str("type", p.Type).Msg("ignoring mark seen for non direct conversation")
		return nil
	}
	if p.ConversationID <= 0 {
		return reject(protocol.CodeInvalid, "conversationId is required")
	}

	viewer := s.User().ID
	svc.emit(ctx, UserGroup(p.ConversationID), protocol.EventSeen, protocol.SeenPayload{
		ViewerID: viewer,
		Time:     svc.store.Now(),
	}, "")

	n, err := svc.store.MarkRead(ctx, p.ConversationID, viewer)
	if err != nil {
		logger(ctx).Error().Err(err).Int("peer_id", p.ConversationID).Msg("failed to mark messages read")
		return nil
	}
	logger(ctx).Debug().Int64("updated", n).Int("peer_id", p.ConversationID).Msg("marked messages read")
	return nil
}
