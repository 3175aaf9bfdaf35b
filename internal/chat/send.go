package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/4xmen/goftegu/internal/journal"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/e2ee"
	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

func (svc *Service) sendDirect(ctx context.Context, s Session, env *protocol.Envelope) error {
	var p protocol.DMSendPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if e := checkActor(s, p.SenderID); e != nil {
		return e.withTemp(p.TempID)
	}
	switch {
	case p.TempID == "":
		return reject(protocol.CodeInvalid, "tempId is required")
	case p.RecipientID <= 0:
		return reject(protocol.CodeInvalid, "recipientId is required").withTemp(p.TempID)
	case strings.TrimSpace(p.Content) == "":
		return reject(protocol.CodeInvalid, "content is required").withTemp(p.TempID)
	case p.Nonce != "" && !e2ee.ValidNonce(p.Nonce):
		return reject(protocol.CodeInvalid, "nonce must be 24 base64 encoded bytes").withTemp(p.TempID)
	}

	if _, err := svc.dir.Lookup(ctx, p.RecipientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject(protocol.CodeNotFound, "recipient not found").withTemp(p.TempID)
		}
		logger(ctx).Error().Err(err).Int("recipient_id", p.RecipientID).Msg("recipient lookup failed")
		return reject(protocol.CodePersistFailed, "message was not sent").withTemp(p.TempID)
	}

	sender := s.User()
	// The sender's key at send time, so the message stays readable after
	// the sender rotates keys.
	var senderKey string
	if me, err := svc.dir.Lookup(ctx, sender.ID); err == nil {
		senderKey = me.PublicKey
		sender = me.UserSummary
	} else {
		logger(ctx).Warn().Err(err).Msg("sender key lookup failed")
	}

	m := &protocol.Message{
		ID:              svc.store.NewMessageID(),
		SenderID:        sender.ID,
		RecipientID:     p.RecipientID,
		Content:         p.Content,
		Nonce:           p.Nonce,
		SenderPublicKey: senderKey,
		CreatedAt:       svc.store.Now(),
		Sender:          &sender,
		Reactions:       []protocol.Reaction{},
	}

	if m.RecipientID != m.SenderID {
		svc.emit(ctx, UserGroup(m.RecipientID), protocol.EventDMReceive, m, "")
	}
	svc.emit(ctx, UserGroup(m.SenderID), protocol.EventDMConfirm, protocol.ConfirmPayload{TempID: p.TempID, Message: m}, "")

	if err := svc.store.SaveDirect(ctx, m); err != nil {
		logger(ctx).Error().Err(err).Str(log.FieldMessageID, m.ID).Msg("failed to persist direct message")
		return reject(protocol.CodePersistFailed, "message was not saved").withTemp(p.TempID).withMessage(m.ID)
	}
	svc.record(ctx, journal.ForMessage(journal.KindMessageCreated, m, m.CreatedAt))
	return nil
}

// sendGroup relays a room message to every connection in the room group,
// the sender's included. Room messages are plaintext by policy, so a nonce
// is refused.
func (svc *Service) sendGroup(ctx context.Context, s Session, env *protocol.Envelope) error {
	var p protocol.GroupSendPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if e := checkActor(s, p.SenderID); e != nil {
		return e.withTemp(p.TempID)
	}
	switch {
	case p.TempID == "":
		return reject(protocol.CodeInvalid, "tempId is required")
	case p.RoomID <= 0:
		return reject(protocol.CodeInvalid, "roomId is required").withTemp(p.TempID)
	case strings.TrimSpace(p.Content) == "":
		return reject(protocol.CodeInvalid, "content is required").withTemp(p.TempID)
	case p.Nonce != "":
		return reject(protocol.CodeInvalid, "room messages are not encrypted").withTemp(p.TempID)
	}

	group := RoomGroup(p.RoomID)
	if !hasJoined(s, group) {
		return reject(protocol.CodeForbidden, "not a member of room %d", p.RoomID).withTemp(p.TempID)
	}

	sender := s.User()
	m := &protocol.Message{
		ID:        svc.store.NewMessageID(),
		SenderID:  sender.ID,
		RoomID:    p.RoomID,
		Content:   p.Content,
		CreatedAt: svc.store.Now(),
		Sender:    &sender,
		Reactions: []protocol.Reaction{},
	}

	svc.emit(ctx, group, protocol.EventGroupReceive, protocol.ConfirmPayload{TempID: p.TempID, Message: m}, "")

	if err := svc.store.SaveGroup(ctx, m); err != nil {
		logger(ctx).Error().Err(err).Str(log.FieldMessageID, m.ID).Msg("failed to persist group message")
		return reject(protocol.CodePersistFailed, "message was not saved").withTemp(p.TempID).withMessage(m.ID)
	}
	svc.record(ctx, journal.ForMessage(journal.KindMessageCreated, m, m.CreatedAt))
	return nil
}
