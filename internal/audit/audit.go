package audit

import (
	"context"

	"github.com/openclass/support-chat/pkg/log"
)

// Audit actions for the support-chat service.
const (
	ActionConnect     = "support.connect"
	ActionAuthFailed  = "support.auth_failed"
	ActionCreateRoom  = "support.create_room"
	ActionJoinRoom    = "support.join_room"
	ActionLeaveRoom   = "support.leave_room"
	ActionSendMessage = "support.send_message"
	ActionCloseRoom   = "support.close_room"
	ActionDisconnect  = "support.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
