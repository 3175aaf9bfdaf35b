// Package chat routes inbound socket events: it binds sessions to users,
// relays sends, deletes, reactions, typing and read receipts to broadcast
// groups, and persists what must survive.
//
// Sends are broadcast before they are persisted. A failed write is reported
// to the originating connection as an error event carrying the client's
// tempId, so the optimistic copy can be flagged.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/4xmen/goftegu/internal/journal"
	"github.com/4xmen/goftegu/pkg/log"
	"github.com/4xmen/goftegu/pkg/protocol"
)

var (
	ErrForbidden    = errors.New("chat: forbidden")
	ErrInvalidEvent = errors.New("chat: invalid event")
)

type Directory interface {
	Lookup(ctx context.Context, id int) (*protocol.UserStatus, error)
	Rooms(ctx context.Context, userID int) ([]int, error)
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
}

type Store interface {
	NewMessageID() string
	Now() time.Time
	SaveDirect(ctx context.Context, m *protocol.Message) error
	SaveGroup(ctx context.Context, m *protocol.Message) error
	Message(ctx context.Context, kind, id string) (*protocol.Message, error)
	DeleteMessage(ctx context.Context, kind, id string) error
	ToggleReaction(ctx context.Context, r protocol.Reaction) (string, protocol.Reaction, error)
	MarkRead(ctx context.Context, senderID, recipientID int) (int64, error)
}

type Presence interface {
	Online(ctx context.Context, userID int, groups []string, connID string)
	Offline(ctx context.Context, userID int, groups []string, connID string)
}

type Emitter interface {
	Emit(ctx context.Context, group string, env *protocol.Envelope, except string)
}

type Service struct {
	dir      Directory
	store    Store
	presence Presence
	emitter  Emitter
	journal  journal.Journal

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, s Session, env *protocol.Envelope) error

func NewService(dir Directory, store Store, presence Presence, emitter Emitter, j journal.Journal) *Service {
	if j == nil {
		j = journal.Nop{}
	}
	svc := &Service{
		dir:      dir,
		store:    store,
		presence: presence,
		emitter:  emitter,
		journal:  j,
	}
	svc.handlers = map[string]handlerFunc{
		protocol.EventAuthenticate: svc.authenticate,
		protocol.EventJoinRooms:    svc.joinRooms,
		protocol.EventDMSend:       svc.sendDirect,
		protocol.EventGroupSend:    svc.sendGroup,
		protocol.EventDelete:       svc.deleteMessage,
		protocol.EventReact:        svc.toggleReaction,
		protocol.EventTypingStart:  svc.typingStart,
		protocol.EventTypingStop:   svc.typingStop,
		protocol.EventMarkSeen:     svc.markSeen,
	}
	return svc
}

// eventError is a rejection reported back to the requesting connection.
type eventError struct {
	code      string
	msg       string
	tempID    string
	messageID string
}

func (e *eventError) Error() string { return e.code + ": " + e.msg }

func (e *eventError) Unwrap() error {
	switch e.code {
	case protocol.CodeForbidden:
		return ErrForbidden
	case protocol.CodeInvalid:
		return ErrInvalidEvent
	}
	return nil
}

func reject(code, format string, args ...any) *eventError {
	return &eventError{code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *eventError) withTemp(id string) *eventError {
	e.tempID = id
	return e
}

func (e *eventError) withMessage(id string) *eventError {
	e.messageID = id
	return e
}

// malformedError marks payloads that could not be decoded at all. They are
// dropped without a reply.
type malformedError struct{ err error }

func (e malformedError) Error() string { return e.err.Error() }

func (e malformedError) Unwrap() error { return ErrInvalidEvent }

func decode(env *protocol.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return malformedError{err}
	}
	return nil
}

// Handle processes one inbound event for s. Events are handled in the order
// a connection submits them; Handle never returns an error because every
// failure is either reported to s or logged.
func (svc *Service) Handle(ctx context.Context, s Session, env *protocol.Envelope) {
	l := log.Ctx(ctx).With().Str(log.FieldEvent, env.Type).Logger()
	if id := s.User().ID; id != 0 {
		l = l.With().Int(log.FieldUserID, id).Logger()
	}
	ctx = log.WithLogger(ctx, l)

	h, ok := svc.handlers[env.Type]
	if !ok {
		l.Debug().Msg("dropping unknown event")
		return
	}
	if env.Type != protocol.EventAuthenticate && s.User().ID == 0 {
		svc.fail(ctx, s, env.Type, reject(protocol.CodeUnauthenticated, "authenticate first"))
		return
	}

	err := h(ctx, s, env)
	if err == nil {
		return
	}

	var (
		evErr     *eventError
		malformed malformedError
	)
	switch {
	case errors.As(err, &evErr):
		svc.fail(ctx, s, env.Type, evErr)
	case errors.As(err, &malformed):
		l.Debug().Err(err).Msg("dropping malformed event")
	default:
		l.Error().Err(err).Msg("event handler failed")
	}
}

func (svc *Service) fail(ctx context.Context, s Session, event string, e *eventError) {
	l := log.Ctx(ctx)
	l.Debug().Str("code", e.code).Str("reason", e.msg).Msg("event rejected")
	svc.reply(ctx, s, protocol.EventError, protocol.ErrorPayload{
		Code:      e.code,
		Message:   e.msg,
		Event:     event,
		TempID:    e.tempID,
		MessageID: e.messageID,
	})
}

func (svc *Service) reply(ctx context.Context, s Session, eventType string, payload any) {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to encode reply")
		return
	}
	s.Send(env)
}

func (svc *Service) emit(ctx context.Context, group, eventType string, payload any, except string) {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("group", group).Msg("failed to encode event")
		return
	}
	svc.emitter.Emit(ctx, group, env, except)
}

// emitUsers sends one event to each distinct user group.
func (svc *Service) emitUsers(ctx context.Context, eventType string, payload any, userIDs ...int) {
	seen := make(map[int]bool, len(userIDs))
	for _, id := range userIDs {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		svc.emit(ctx, UserGroup(id), eventType, payload, "")
	}
}

func (svc *Service) record(ctx context.Context, r *journal.Record) {
	if err := svc.journal.Append(ctx, r); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("kind", r.Kind).Str(log.FieldMessageID, r.MessageID).Msg("journal append failed")
	}
}

// checkActor rejects payloads that name a user other than the bound one.
// Zero means the field was omitted.
func checkActor(s Session, claimed int) *eventError {
	if claimed != 0 && claimed != s.User().ID {
		return reject(protocol.CodeForbidden, "user id does not match session")
	}
	return nil
}

func logger(ctx context.Context) *zerolog.Logger {
	l := log.Ctx(ctx)
	return &l
}
