package credflow

import (
	"context"

	"github.com/MrEthical07/credflow/internal/audit"
	"github.com/google/uuid"
)

const (
	auditEventSignupRequested        = "signup_requested"
	auditEventSignupVerified         = "signup_verified"
	auditEventSignupRejected         = "signup_rejected"
	auditEventSigninSuccess          = "signin_success"
	auditEventSigninFailure          = "signin_failure"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshRejected        = "refresh_rejected"
	auditEventSignout                = "signout"
	auditEventResetRequested         = "password_reset_requested"
	auditEventResetOTPVerified       = "password_reset_otp_verified"
	auditEventResetOTPRejected       = "password_reset_otp_rejected"
	auditEventResetCompleted         = "password_reset_completed"
	auditEventResetRejected          = "password_reset_rejected"
	auditEventPasswordChanged        = "password_changed"
	auditEventPasswordChangeRejected = "password_change_rejected"
	auditEventBlacklist              = "blacklist"
	auditEventBlacklistAll           = "blacklist_all"
)

// emitAudit records the outcome of a flow. err is reduced to its Kind so
// store messages and secrets never reach the sink.
func (e *Engine) emitAudit(ctx context.Context, eventType, userID, email string, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        ClientIPFromContext(ctx),
		Success:   err == nil,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Enqueue(ctx, event)
}

// finish records metrics and, when eventOK/eventFail are set, an audit event.
func (e *Engine) finish(ctx context.Context, flow, eventOK, eventFail, userID, email string, err error) {
	e.record(flow, err)

	eventType := eventOK
	if err != nil {
		eventType = eventFail
	}
	if eventType != "" {
		e.emitAudit(ctx, eventType, userID, email, err, nil)
	}
}
