package credflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/credflow/internal/audit"
	"github.com/MrEthical07/credflow/internal/outbox"
	"github.com/MrEthical07/credflow/jwt"
	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/password"
	"github.com/MrEthical07/credflow/session"
	"github.com/MrEthical07/credflow/userstore"
	"go.uber.org/zap"
)

// Engine runs the credential lifecycle flows: signup with email
// verification, sign-in, refresh rotation, sign-out, password reset,
// password change and session revocation.
//
// All server-side state lives in Redis (refresh-token hashes, pending reset
// codes, reset grants) and in the UserStore. An Engine is safe for
// concurrent use.
type Engine struct {
	config   Config
	users    UserStore
	sessions *session.Store
	hasher   *password.Argon2
	codec    *jwt.Codec
	notifier *outbox.Dispatcher[notify.Message]
	audit    *outbox.Dispatcher[audit.Event]
	metrics  *Metrics
	stats    *flowCounter
	logger   *zap.Logger
	now      func() time.Time
}

// Close drains pending notifications and audit events. The Engine must not
// be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifier.Close()
	e.audit.Close()
}

// Health pings Redis.
func (e *Engine) Health(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := e.sessions.Ping(ctx); err != nil {
		return storeError(err)
	}
	return nil
}

func (e *Engine) NotificationsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notifier.Dropped()
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the flow outcome counters and outbox drop counts.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Flows:                e.stats.snapshot(),
		NotificationsDropped: e.notifier.Dropped(),
		AuditDropped:         e.audit.Dropped(),
	}
}

// ValidateAccess parses an access token for the boundary layer.
func (e *Engine) ValidateAccess(token string) (*AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.codec.ParseAccess(token)
	if err != nil {
		return nil, tokenError(err)
	}
	return claims, nil
}

func (e *Engine) record(flow string, err error) {
	e.metrics.observe(flow, err)
	e.stats.add(flow, err)
}

func (e *Engine) send(ctx context.Context, msg notify.Message) {
	e.notifier.Enqueue(ctx, msg)
}

func (e *Engine) checkPassword(pw string) error {
	if len(pw) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPasswordPolicy, e.config.Password.MinLength)
	}
	if len(pw) > e.config.Password.MaxBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrPasswordPolicy, e.config.Password.MaxBytes)
	}
	return nil
}

func (e *Engine) hashPassword(pw string) (string, error) {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return "", fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}
	return hash, nil
}

// verifyPassword treats an unreadable stored hash as an internal error, not a
// mismatch.
func (e *Engine) verifyPassword(pw, hash string) (bool, error) {
	ok, err := e.hasher.Verify(pw, hash)
	if err != nil {
		if errors.Is(err, password.ErrSecretTooLong) {
			return false, nil
		}
		return false, fmt.Errorf("%w: verify password: %v", ErrInternal, err)
	}
	return ok, nil
}

// revokeSession drops the refresh session after a credential change. The
// password is already persisted, so a failure is logged rather than returned.
func (e *Engine) revokeSession(ctx context.Context, op, userID string) {
	if !e.config.Password.RevokeSessionsOnChange {
		return
	}
	if err := e.sessions.Delete(ctx, e.sessions.RefreshKey(userID)); err != nil {
		e.logger.Warn("session revocation failed",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

func withToken(base, token string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

func storeError(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// userLookupError maps a userstore lookup failure, returning notFound for a
// missing credential.
func userLookupError(err, notFound error) error {
	if errors.Is(err, userstore.ErrNotFound) {
		return notFound
	}
	return storeError(err)
}

func tokenError(err error) error {
	if errors.Is(err, jwt.ErrExpiredToken) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}
