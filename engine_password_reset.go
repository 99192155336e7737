package credflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/otp"
	"github.com/MrEthical07/credflow/session"
	"github.com/MrEthical07/credflow/userstore"
	"go.uber.org/zap"
)

// RequestReset starts a password reset for email. It stores a numeric OTP
// under the email, issues a reset token bound to the email and user id, and
// emails both. A pending reset authorization for the email is discarded.
func (e *Engine) RequestReset(ctx context.Context, email string) (challenge ResetChallenge, err error) {
	if e == nil {
		return ResetChallenge{}, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	var userID string
	defer func() {
		e.finish(ctx, flowRequestReset, auditEventResetRequested, auditEventResetRejected, userID, email, err)
	}()

	if !validEmail(email) {
		return ResetChallenge{}, ErrBadRequest
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return ResetChallenge{}, userLookupError(err, ErrUserNotFound)
	}
	if user.Deleted {
		return ResetChallenge{}, ErrUserNotFound
	}
	userID = user.ID

	code, err := otp.Generate(otp.Numeric(e.config.Reset.OTPLength))
	if err != nil {
		return ResetChallenge{}, fmt.Errorf("%w: generate otp: %v", ErrInternal, err)
	}
	token, _, err := e.codec.IssueReset(email, user.ID)
	if err != nil {
		return ResetChallenge{}, fmt.Errorf("%w: issue reset token: %v", ErrInternal, err)
	}

	if err := e.sessions.Set(ctx, e.sessions.OTPKey(email), code, e.config.Reset.OTPTTL); err != nil {
		return ResetChallenge{}, storeError(err)
	}
	if err := e.sessions.Delete(ctx, e.sessions.ResetGrantKey(email)); err != nil {
		return ResetChallenge{}, storeError(err)
	}

	link := withToken(e.config.Reset.ResetURL, token)
	e.send(ctx, notify.Message{
		To:       email,
		Subject:  "Reset your password",
		Template: notify.TemplatePasswordReset,
		Context: map[string]string{
			"email":      email,
			"otp":        code,
			"link":       link,
			"token":      token,
			"expires_in": strconv.Itoa(int(e.config.Reset.OTPTTL / time.Second)),
		},
	})

	challenge = ResetChallenge{ExpiresAt: e.now().Add(e.config.Reset.OTPTTL)}
	if e.config.Reset.DebugEcho {
		challenge.OTP = code
		challenge.ResetToken = token
		challenge.Link = link
	}
	return challenge, nil
}

// VerifyOTP checks code against the pending OTP of the reset token's email.
// The OTP is consumed by every attempt, matching or not. On a match the
// reset flow of this token is authorized for [Engine.ResetPassword].
func (e *Engine) VerifyOTP(ctx context.Context, code, resetToken string) (verified VerifiedReset, err error) {
	if e == nil {
		return VerifiedReset{}, ErrEngineNotReady
	}
	var email, userID string
	defer func() {
		e.finish(ctx, flowVerifyOTP, auditEventResetOTPVerified, auditEventResetOTPRejected, userID, email, err)
	}()

	claims, err := e.codec.ParseReset(resetToken)
	if err != nil {
		return VerifiedReset{}, tokenError(err)
	}
	email = normalizeEmail(claims.Email)
	userID = claims.UserID

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil || user.Deleted || user.ID != claims.UserID {
		e.discardOTP(ctx, email)
		if err != nil && !errors.Is(err, userstore.ErrNotFound) {
			return VerifiedReset{}, storeError(err)
		}
		return VerifiedReset{}, ErrUserNotFound
	}

	stored, err := e.sessions.Take(ctx, e.sessions.OTPKey(email))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return VerifiedReset{}, ErrOTPExpired
		}
		return VerifiedReset{}, storeError(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return VerifiedReset{}, ErrInvalidOTP
	}

	// The grant lives as long as the reset token it is bound to.
	ttl := claims.ExpiresAt.Time.Sub(e.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := e.sessions.Set(ctx, e.sessions.ResetGrantKey(email), claims.ID, ttl); err != nil {
		return VerifiedReset{}, storeError(err)
	}

	return VerifiedReset{Email: email, ResetToken: resetToken}, nil
}

// ResetPassword sets a new password for a reset flow authorized by
// [Engine.VerifyOTP]. email must match the email inside resetToken. The
// authorization is single-use.
func (e *Engine) ResetPassword(ctx context.Context, email, newPassword, resetToken string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	var userID string
	defer func() {
		e.finish(ctx, flowResetPassword, auditEventResetCompleted, auditEventResetRejected, userID, email, err)
	}()

	if !validEmail(email) {
		return ErrBadRequest
	}
	if err := e.checkPassword(newPassword); err != nil {
		return err
	}

	grantKey := e.sessions.ResetGrantKey(email)
	grant, err := e.sessions.Get(ctx, grantKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrResetSessionExpired
		}
		return storeError(err)
	}

	claims, err := e.codec.ParseReset(resetToken)
	if err != nil {
		return tokenError(err)
	}
	if normalizeEmail(claims.Email) != email {
		return ErrResetEmailMismatch
	}
	if subtle.ConstantTimeCompare([]byte(grant), []byte(claims.ID)) != 1 {
		return ErrResetSessionExpired
	}
	userID = claims.UserID

	user, err := e.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return userLookupError(err, ErrUserNotFound)
	}
	if user.Deleted || normalizeEmail(user.Email) != email {
		return ErrUserNotFound
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := e.sessions.DeleteIf(ctx, grantKey, claims.ID); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrValueMismatch) {
			return ErrResetSessionExpired
		}
		return storeError(err)
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return userLookupError(err, ErrUserNotFound)
	}

	e.revokeSession(ctx, flowResetPassword, user.ID)
	e.send(ctx, notify.Message{
		To:       email,
		Subject:  "Your password was reset",
		Template: notify.TemplatePasswordResetDone,
		Context:  map[string]string{"email": email},
	})

	return nil
}

// discardOTP removes a pending OTP on a failing verify path. The caller's
// error takes priority, so a cleanup failure is only logged.
func (e *Engine) discardOTP(ctx context.Context, email string) {
	if err := e.sessions.Delete(ctx, e.sessions.OTPKey(email)); err != nil {
		e.logger.Warn("otp cleanup failed", zap.String("op", flowVerifyOTP), zap.Error(err))
	}
}
