package credflow

import (
	"context"

	"github.com/MrEthical07/credflow/notify"
)

// ChangePassword replaces the password of an authenticated user after
// checking the current one. A new password equal to the current one fails
// with ErrPasswordReuse before anything is written. With
// Password.RevokeSessionsOnChange the refresh session is dropped.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	var email string
	defer func() {
		e.finish(ctx, flowChangePassword, auditEventPasswordChanged, auditEventPasswordChangeRejected, userID, email, err)
	}()

	if userID == "" || oldPassword == "" {
		return ErrUnauthorized
	}
	if err := e.checkPassword(newPassword); err != nil {
		return err
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return userLookupError(err, ErrUnauthorized)
	}
	email = user.Email
	if user.Deleted {
		return ErrAccountDeleted
	}

	ok, err := e.verifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	same, err := e.verifyPassword(newPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if same {
		return ErrPasswordReuse
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return userLookupError(err, ErrUnauthorized)
	}

	e.revokeSession(ctx, flowChangePassword, user.ID)
	e.send(ctx, notify.Message{
		To:       user.Email,
		Subject:  "Your password was changed",
		Template: notify.TemplatePasswordChanged,
		Context:  map[string]string{"email": user.Email},
	})

	return nil
}
