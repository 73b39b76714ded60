package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID = "user_id"
	FieldWallet = "wallet"

	// Chat
	FieldClientID  = "client_id"
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldMsgType   = "msg_type"

	// Service
	FieldService  = "service"
	FieldInstance = "instance_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
