// Package protocol defines the JSON frames exchanged over the chat socket.
//
// Every frame is an Envelope: {"type": "<event>", "data": <payload>}.
package protocol

// Client to server events.
const (
	EventAuthenticate = "authenticate"
	EventJoinRooms    = "join:rooms"
	EventDMSend       = "dm:send"
	EventGroupSend    = "group:send"
	EventDelete       = "message:delete"
	EventReact        = "reaction:toggle"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
	EventMarkSeen     = "conversation:mark_seen"
)

// Server to client events.
const (
	EventAuthenticated  = "authenticated"
	EventDMReceive      = "dm:receive"
	EventDMConfirm      = "dm:confirm"
	EventGroupReceive   = "group:receive"
	EventDeleted        = "message:deleted"
	EventReactionUpdate = "reaction:update"
	EventUserTyping     = "user:typing"
	EventUserStopTyping = "user:stopped-typing"
	EventSeen           = "conversation:seen"
	EventUserStatus     = "user:status"
	EventError          = "error"
)

// Message kinds carried by message:delete and conversation:mark_seen.
const (
	KindDirect = "dm"
	KindGroup  = "group"
)

// Reaction actions carried by reaction:update.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// Error codes carried by the error event.
const (
	CodePersistFailed   = "persist_failed"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeInvalid         = "invalid"
	CodeUnauthenticated = "unauthenticated"
)
