package audit

import (
	"context"

	"github.com/coinpulse/chat-service/pkg/log"
)

// Audit actions for chat-service.
const (
	ActionJoinRoom    = "chat.join_room"
	ActionLeaveRoom   = "chat.leave_room"
	ActionSendMessage = "chat.send_message"
	ActionShareToken  = "chat.share_token"
	ActionReaction    = "chat.reaction"
	ActionEdit        = "chat.edit"
	ActionPin         = "chat.pin"
	ActionDisconnect  = "chat.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, wallet string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldWallet, wallet).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, wallet string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldWallet, wallet).
		Str(FieldDetail, detail).
		Msg(msg)
}
