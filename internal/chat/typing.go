package chat

import (
	"context"

	"github.com/4xmen/goftegu/pkg/protocol"
)

func (svc *Service) typingStart(ctx context.Context, s Session, env *protocol.Envelope) error {
	return svc.typing(ctx, s, env, true)
}

func (svc *Service) typingStop(ctx context.Context, s Session, env *protocol.Envelope) error {
	return svc.typing(ctx, s, env, false)
}

func (svc *Service) typing(ctx context.Context, s Session, env *protocol.Envelope, start bool) error {
	var p protocol.TypingPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.ConversationID <= 0 {
		return reject(protocol.CodeInvalid, "conversationId is required")
	}
	if p.IsGroup && !hasJoined(s, RoomGroup(p.ConversationID)) {
		return reject(protocol.CodeForbidden, "not a member of room %d", p.ConversationID)
	}

	name := p.SenderName
	if name == "" {
		name = s.User().Name()
	}
	key := TypingKey{ConversationID: p.ConversationID, IsGroup: p.IsGroup}

	eventType := protocol.EventUserStopTyping
	if start {
		s.Typing().Start(key, name)
		eventType = protocol.EventUserTyping
	} else {
		s.Typing().Stop(key)
	}
	svc.emitTyping(ctx, s, eventType, key, name)
	return nil
}

// emitTyping relays a typing notice. Room notices go to the room minus the
// typing connection; direct notices go to the peer and name the typist's
// user id as the conversation.
func (svc *Service) emitTyping(ctx context.Context, s Session, eventType string, key TypingKey, name string) {
	if key.IsGroup {
		svc.emit(ctx, RoomGroup(key.ConversationID), eventType, protocol.TypingNotice{
			ConversationID: key.ConversationID,
			IsGroup:        true,
			Name:           name,
		}, s.ID())
		return
	}
	svc.emit(ctx, UserGroup(key.ConversationID), eventType, protocol.TypingNotice{
		ConversationID: s.User().ID,
		Name:           name,
	}, "")
}
