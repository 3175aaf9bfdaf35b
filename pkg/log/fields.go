package log

const serviceName = "goftegu"

const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Keys shared with the gin context (see handlers.AuthMiddleware).
	FieldUserID   = "user_id"
	FieldUsername = "username"

	FieldConnID    = "conn_id"
	FieldEvent     = "event"
	FieldMessageID = "message_id"
	FieldRoomID    = "room_id"
)
