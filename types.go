package credflow

import (
	"io"
	"time"

	"github.com/MrEthical07/credflow/internal/audit"
	"github.com/MrEthical07/credflow/jwt"
	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/userstore"
	"go.uber.org/zap"
)

type (
	// UserCredential is the credential record the flows read and write.
	UserCredential = userstore.Credential
	// UserStore persists credentials. See [userstore.Store].
	UserStore = userstore.Store

	// Notification is a transactional email request.
	Notification = notify.Message
	// Notifier delivers notifications. Calls happen off the request path.
	Notifier = notify.Sender

	// AuditEvent is an audit record.
	AuditEvent = audit.Event
	// AuditSink receives audit events. Calls happen off the request path.
	AuditSink = audit.Sink

	// AccessClaims is the parsed payload of an access token.
	AccessClaims = jwt.AccessClaims
)

// NewZapAuditSink returns a sink that logs each event under the "audit"
// logger. The builder uses it when auditing is enabled without a sink.
func NewZapAuditSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}

// NewJSONAuditSink returns a sink that writes each event as one JSON line
// to w.
func NewJSONAuditSink(w io.Writer, logger *zap.Logger) AuditSink {
	return audit.NewJSONSink(w, logger)
}

// TokenPair is returned by Signin and Refresh. Delivering the tokens to the
// client (cookies, headers) is up to the caller.
type TokenPair struct {
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ResetChallenge is returned by RequestReset. OTP, ResetToken and Link are
// populated only when Reset.DebugEcho is enabled.
type ResetChallenge struct {
	ExpiresAt  time.Time
	OTP        string
	ResetToken string
	Link       string
}

// VerifiedReset is returned by VerifyOTP. The reset token is echoed for the
// final ResetPassword call.
type VerifiedReset struct {
	Email      string
	ResetToken string
}
