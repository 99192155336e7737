package credflow

import (
	"errors"
	"strings"

	"github.com/MrEthical07/credflow/jwt"
)

// Kind is the stable failure class of an engine error. Boundary layers map
// it to transport status codes.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindInvalidToken
	KindExpiredToken
	KindBadRequest
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpiredToken:
		return "expired_token"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

var (
	// ErrBadRequest is returned for missing or malformed input.
	ErrBadRequest = errors.New("bad request")
	// ErrPasswordPolicy is returned when a new password is too short or too long.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrAccountExists is returned when a credential already uses the email.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned when no credential matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnauthorized is returned when the caller supplied no usable credential proof.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAccountDeleted is returned for soft-deleted credentials.
	ErrAccountDeleted = errors.New("account deleted")
	// ErrInvalidCredentials is returned on a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshInvalid covers missing sessions, rotated tokens and lost rotation races.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrInvalidOTP is returned when the supplied reset code does not match.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrOTPExpired is returned when no reset code is pending for the email.
	ErrOTPExpired = errors.New("otp expired or already used")
	// ErrResetSessionExpired is returned when a reset was not authorized by a
	// verified code, or the authorization was already used.
	ErrResetSessionExpired = errors.New("password reset session expired")
	// ErrResetEmailMismatch is returned when the reset token belongs to another email.
	ErrResetEmailMismatch = errors.New("password reset email mismatch")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrTokenInvalid is returned for malformed, tampered or wrong-purpose tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrStoreUnavailable wraps session or credential store failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInternal wraps hashing and signing failures.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrBadRequest, KindBadRequest},
	{ErrPasswordPolicy, KindBadRequest},
	{ErrPasswordReuse, KindBadRequest},
	{ErrAccountExists, KindConflict},
	{ErrUserNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrAccountDeleted, KindUnauthorized},
	{ErrInvalidCredentials, KindForbidden},
	{ErrRefreshInvalid, KindForbidden},
	{ErrInvalidOTP, KindForbidden},
	{ErrOTPExpired, KindForbidden},
	{ErrResetSessionExpired, KindForbidden},
	{ErrResetEmailMismatch, KindForbidden},
	{ErrTokenExpired, KindExpiredToken},
	{jwt.ErrExpiredToken, KindExpiredToken},
	{ErrTokenInvalid, KindInvalidToken},
	{jwt.ErrInvalidToken, KindInvalidToken},
	{ErrStoreUnavailable, KindInternal},
	{ErrInternal, KindInternal},
}

// KindOf classifies err. Unknown errors are KindInternal; nil is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// UnresolvedEmailsError is returned by Blacklist when some emails match no
// credential. Nothing is revoked when it is returned.
type UnresolvedEmailsError struct {
	Emails []string
}

func (e *UnresolvedEmailsError) Error() string {
	return "user not found: " + strings.Join(e.Emails, ", ")
}

func (e *UnresolvedEmailsError) Unwrap() error {
	return ErrUserNotFound
}
